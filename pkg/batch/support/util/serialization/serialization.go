// Package serialization provides utilities for serializing and deserializing data structures
// persisted by the engine, such as submission parameters, execution contexts, and record payloads.
package serialization

import (
	"encoding/json"

	config "github.com/tigerroll/swell/pkg/batch/core/config"
	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
)

// GetMaskedSubmissionParametersMap creates a copy of submission parameters and masks
// sensitive keys based on configuration.
func GetMaskedSubmissionParametersMap(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}

	maskedParams := make(map[string]interface{}, len(params))
	for k, v := range params {
		maskedParams[k] = v
	}

	maskedKeys := config.GetMaskedParameterKeys()
	for _, key := range maskedKeys {
		if _, ok := maskedParams[key]; ok {
			maskedParams[key] = "********"
		}
	}
	return maskedParams
}

// MaskedPayloadCopy returns a copy of a transformed record payload with the given
// sensitive fields replaced by a fixed mask. Used when payloads reach logs or
// audit events so encrypted or PII field values never appear in clear text.
func MaskedPayloadCopy(payload map[string]string, sensitiveFields map[string]bool) map[string]string {
	if len(payload) == 0 {
		return map[string]string{}
	}

	masked := make(map[string]string, len(payload))
	for k, v := range payload {
		if sensitiveFields[k] {
			masked[k] = "********"
		} else {
			masked[k] = v
		}
	}
	return masked
}

// MarshalExecutionContext serializes an ExecutionContext map into a JSON byte slice.
func MarshalExecutionContext(ctx map[string]interface{}) ([]byte, error) {
	module := "serialization"

	if ctx == nil {
		logger.Debugf("ExecutionContext is nil. Returning empty JSON object.")
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		logger.Errorf("Failed to serialize ExecutionContext: %v", err)
		return nil, exception.NewBatchError(module, "Failed to serialize ExecutionContext", err, false, false)
	}
	return data, nil
}

// UnmarshalExecutionContext deserializes a JSON byte slice into an ExecutionContext map.
func UnmarshalExecutionContext(data []byte, ctx *map[string]interface{}) error {
	module := "serialization"

	if *ctx == nil {
		*ctx = make(map[string]interface{})
	} else {
		for k := range *ctx {
			delete(*ctx, k)
		}
	}

	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		logger.Debugf("ExecutionContext is nil or empty data. Created/cleared empty ExecutionContext.")
		return nil
	}

	err := json.Unmarshal(data, ctx)
	if err != nil {
		logger.Errorf("Failed to deserialize ExecutionContext: %v", err)
		return exception.NewBatchError(module, "Failed to deserialize ExecutionContext", err, false, false)
	}
	return nil
}

// MarshalSubmissionParameters serializes a submission parameter map into a JSON byte slice,
// masking sensitive keys as configured.
func MarshalSubmissionParameters(params map[string]interface{}) ([]byte, error) {
	module := "serialization"

	maskedParams := GetMaskedSubmissionParametersMap(params)

	if len(maskedParams) == 0 {
		logger.Debugf("Submission parameters are empty. Returning empty JSON object.")
		return []byte("{}"), nil
	}

	data, err := json.Marshal(maskedParams)
	if err != nil {
		logger.Errorf("Failed to serialize submission parameters: %v", err)
		return nil, exception.NewBatchError(module, "Failed to serialize submission parameters", err, false, false)
	}
	return data, nil
}

// UnmarshalSubmissionParameters deserializes a JSON byte slice into a submission parameter map.
func UnmarshalSubmissionParameters(data []byte, params *map[string]interface{}) error {
	module := "serialization"

	if len(data) == 0 || string(data) == "null" {
		*params = make(map[string]interface{})
		return nil
	}

	if *params == nil {
		*params = make(map[string]interface{})
	} else {
		for k := range *params {
			delete(*params, k)
		}
	}

	err := json.Unmarshal(data, params)
	if err != nil {
		logger.Errorf("Failed to deserialize submission parameters: %v", err)
		return exception.NewBatchError(module, "Failed to deserialize submission parameters", err, false, false)
	}
	return nil
}

// MarshalPayload serializes a transformed record payload into a JSON byte slice.
func MarshalPayload(payload map[string]string) ([]byte, error) {
	module := "serialization"

	if payload == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("Failed to serialize payload: %v", err)
		return nil, exception.NewBatchError(module, "Failed to serialize payload", err, false, false)
	}
	return data, nil
}

// UnmarshalPayload deserializes a JSON byte slice into a transformed record payload.
func UnmarshalPayload(data []byte, payload *map[string]string) error {
	module := "serialization"

	if *payload == nil {
		*payload = make(map[string]string)
	} else {
		for k := range *payload {
			delete(*payload, k)
		}
	}

	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		return nil
	}

	err := json.Unmarshal(data, payload)
	if err != nil {
		logger.Errorf("Failed to deserialize payload: %v", err)
		return exception.NewBatchError(module, "Failed to deserialize payload", err, false, false)
	}
	return nil
}

// MarshalFailures serializes a slice of failure messages (strings) into a JSON byte slice.
func MarshalFailures(failures []string) ([]byte, error) {
	module := "serialization"

	if failures == nil {
		logger.Debugf("Failures is nil. Returning empty JSON array.")
		return []byte("[]"), nil
	}

	data, err := json.Marshal(failures)
	if err != nil {
		logger.Errorf("Failed to serialize Failures: %v", err)
		return nil, exception.NewBatchError(module, "Failed to serialize Failures", err, false, false)
	}
	return data, nil
}

// UnmarshalFailures deserializes a JSON byte slice into a slice of failure messages (strings).
func UnmarshalFailures(data []byte, msgs *[]string) error {
	module := "serialization"

	if len(data) == 0 || string(data) == "null" {
		*msgs = []string{}
		return nil
	}

	err := json.Unmarshal(data, msgs)
	if err != nil {
		logger.Errorf("Failed to deserialize Failures: %v", err)
		return exception.NewBatchError(module, "Failed to deserialize Failures", err, false, false)
	}

	return nil
}
