package rulebook

import (
	"fmt"
	"strings"
	"time"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// compiledRule is one field mapping rule with its transformation resolved to a
// closure at compile time.
type compiledRule struct {
	rule      model.FieldMappingRule
	transform func(value string) (string, error)
}

// SourceField returns the input field the rule reads.
func (r *compiledRule) SourceField() string {
	if r.rule.SourceField != "" {
		return r.rule.SourceField
	}
	return r.rule.FieldName
}

// TargetField returns the output field the rule writes.
func (r *compiledRule) TargetField() string {
	if r.rule.TargetField != "" {
		return r.rule.TargetField
	}
	return r.rule.FieldName
}

// EncryptionLevel returns the protection level required for the transformed value.
func (r *compiledRule) EncryptionLevel() model.EncryptionLevel {
	if r.rule.EncryptionLevel == "" {
		return model.EncryptionNone
	}
	return r.rule.EncryptionLevel
}

// ValidationRequired reports whether an absent source value fails validation.
func (r *compiledRule) ValidationRequired() bool {
	return r.rule.ValidationRequired
}

// PIIClassification returns the rule's PII class.
func (r *compiledRule) PIIClassification() string {
	return r.rule.PIIClassification
}

// Apply runs the compiled transformation.
func (r *compiledRule) Apply(value string) (string, error) {
	return r.transform(value)
}

// property reads one kind-specific setting with a fallback.
func property(rule model.FieldMappingRule, key, fallback string) string {
	if v, ok := rule.Properties[key]; ok && v != "" {
		return v
	}
	return fallback
}

// compileRule resolves one rule's transformation type into a closure.
// The set of types is closed; an unknown type fails compilation, never a record.
func compileRule(rule model.FieldMappingRule) (*compiledRule, error) {
	var transform func(string) (string, error)

	switch rule.TransformationType {
	case model.TransformPassThrough, "":
		transform = func(value string) (string, error) {
			return value, nil
		}

	case model.TransformPadLeft:
		width := rule.Length
		if width <= 0 {
			return nil, fmt.Errorf("PAD_LEFT rule '%s' requires a positive length, got %d", rule.FieldName, width)
		}
		padChar := property(rule, "padChar", "0")
		if len(padChar) != 1 {
			return nil, fmt.Errorf("PAD_LEFT rule '%s' requires a single padChar, got %q", rule.FieldName, padChar)
		}
		transform = func(value string) (string, error) {
			if len(value) >= width {
				return value, nil
			}
			return strings.Repeat(padChar, width-len(value)) + value, nil
		}

	case model.TransformPadRight:
		width := rule.Length
		if width <= 0 {
			return nil, fmt.Errorf("PAD_RIGHT rule '%s' requires a positive length, got %d", rule.FieldName, width)
		}
		padChar := property(rule, "padChar", " ")
		if len(padChar) != 1 {
			return nil, fmt.Errorf("PAD_RIGHT rule '%s' requires a single padChar, got %q", rule.FieldName, padChar)
		}
		transform = func(value string) (string, error) {
			if len(value) >= width {
				return value, nil
			}
			return value + strings.Repeat(padChar, width-len(value)), nil
		}

	case model.TransformFormatDate:
		inputLayout := property(rule, "inputLayout", "2006-01-02")
		outputLayout := property(rule, "outputLayout", "20060102")
		transform = func(value string) (string, error) {
			t, err := time.Parse(inputLayout, value)
			if err != nil {
				return "", fmt.Errorf("value %q does not match date layout %q: %w", value, inputLayout, err)
			}
			return t.Format(outputLayout), nil
		}

	case model.TransformDefault:
		defaultValue := rule.DefaultValue
		transform = func(value string) (string, error) {
			if value == "" {
				return defaultValue, nil
			}
			return value, nil
		}

	default:
		return nil, fmt.Errorf("unsupported transformation type '%s' for rule '%s'", rule.TransformationType, rule.FieldName)
	}

	return &compiledRule{rule: rule, transform: transform}, nil
}
