package model

import (
	"context"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/swell/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/swell/pkg/batch/support/util/logger"
	"github.com/tigerroll/swell/pkg/batch/support/util/serialization"

	"github.com/google/uuid"
)

// IdempotencyStatus represents the lifecycle state of an idempotency record.
type IdempotencyStatus string

const (
	IdempotencyStatusNew        IdempotencyStatus = "NEW"
	IdempotencyStatusInProgress IdempotencyStatus = "IN_PROGRESS"
	IdempotencyStatusCompleted  IdempotencyStatus = "COMPLETED"
	IdempotencyStatusFailed     IdempotencyStatus = "FAILED"
	IdempotencyStatusExpired    IdempotencyStatus = "EXPIRED"
)

// String returns the string representation of the IdempotencyStatus.
func (s IdempotencyStatus) String() string {
	return string(s)
}

// IsTerminal checks whether the status can never leave on its own.
// Only COMPLETED is truly terminal; FAILED and EXPIRED remain claimable.
func (s IdempotencyStatus) IsTerminal() bool {
	return s == IdempotencyStatusCompleted
}

// isValidIdempotencyTransition checks if the state transition for an IdempotencyRecord is valid.
func isValidIdempotencyTransition(current, next IdempotencyStatus) bool {
	switch current {
	case IdempotencyStatusNew:
		// NEW can be claimed, or expired if the claimer died between insert and claim.
		return next == IdempotencyStatusInProgress || next == IdempotencyStatusExpired
	case IdempotencyStatusInProgress:
		return next == IdempotencyStatusCompleted || next == IdempotencyStatusFailed || next == IdempotencyStatusExpired
	case IdempotencyStatusFailed:
		// A failed key re-enters IN_PROGRESS while its retry budget lasts.
		return next == IdempotencyStatusInProgress
	case IdempotencyStatusExpired:
		return next == IdempotencyStatusInProgress
	case IdempotencyStatusCompleted:
		return false
	default:
		return false
	}
}

// ExecutionStatus represents the state of a batch execution or partition run.
type ExecutionStatus string

const (
	BatchStatusStarting  ExecutionStatus = "STARTING"
	BatchStatusStarted   ExecutionStatus = "STARTED"
	BatchStatusStopping  ExecutionStatus = "STOPPING"
	BatchStatusStopped   ExecutionStatus = "STOPPED"
	BatchStatusCompleted ExecutionStatus = "COMPLETED"
	BatchStatusFailed    ExecutionStatus = "FAILED"
	BatchStatusAbandoned ExecutionStatus = "ABANDONED"
	BatchStatusUnknown   ExecutionStatus = "UNKNOWN"
)

// String returns the string representation of the ExecutionStatus.
func (s ExecutionStatus) String() string {
	return string(s)
}

// IsFinished checks if the ExecutionStatus represents a finished state.
func (s ExecutionStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// ToExitStatus converts the ExecutionStatus to its corresponding ExitStatus.
func (s ExecutionStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus represents the detailed status upon execution completion.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	// ExitStatusNoOp marks an execution that short-circuited because no active
	// transaction types produced partitions.
	ExitStatusNoOp ExitStatus = "NO_OP"
)

// String returns the ExitStatus as a string.
func (s ExitStatus) String() string {
	return string(s)
}

// OutcomeStatus classifies the result of one processed record.
type OutcomeStatus string

const (
	OutcomeSuccess         OutcomeStatus = "SUCCESS"
	OutcomeValidationError OutcomeStatus = "VALIDATION_ERROR"
	OutcomeFailure         OutcomeStatus = "FAILURE"
)

// String returns the string representation of the OutcomeStatus.
func (s OutcomeStatus) String() string {
	return string(s)
}

// MergeState represents the lifecycle state of a merge session.
type MergeState string

const (
	MergeStateOpen       MergeState = "OPEN"
	MergeStateFinalizing MergeState = "FINALIZING"
	MergeStateComplete   MergeState = "COMPLETE"
	// MergeStatePartial marks a session finalized by its timeout watchdog before
	// every partition arrived.
	MergeStatePartial MergeState = "PARTIAL"
)

// AdmitVerdict is the outcome class of an idempotency admission attempt.
type AdmitVerdict string

const (
	AdmitProceed          AdmitVerdict = "PROCEED"
	AdmitCached           AdmitVerdict = "CACHED"
	AdmitRejectInProgress AdmitVerdict = "REJECT_IN_PROGRESS"
	AdmitRejectMaxRetries AdmitVerdict = "REJECT_MAX_RETRIES"
)

// Lease is the time-bounded ownership token handed to the worker that wins an admission.
type Lease struct {
	Key         string
	Owner       string
	ExecutionID string
	ExpiresAt   time.Time
}

// AdmitDecision is the full result of IdempotencyCoordinator.Admit.
// Exactly one of Lease or CachedResult is populated, depending on the verdict.
type AdmitDecision struct {
	Verdict      AdmitVerdict
	Lease        *Lease
	CachedResult []byte
	// RandomFallback is set when the admitted key was generated from the random
	// fallback discriminator, which waives deduplication for this submission.
	RandomFallback bool
}

// ExecutionContext is a key-value store for sharing state across an execution's pipeline stages.
type ExecutionContext map[string]interface{}

// Value implements the `driver.Valuer` interface, converting the ExecutionContext to a JSON string.
func (ec ExecutionContext) Value() (driver.Value, error) {
	if ec == nil {
		return "{}", nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to an ExecutionContext.
func (ec *ExecutionContext) Scan(value interface{}) error {
	if value == nil {
		*ec = make(ExecutionContext)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ExecutionContext: %T", value)
	}

	if len(b) == 0 {
		*ec = make(ExecutionContext)
		return nil
	}

	if err := json.Unmarshal(b, ec); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
	}
	return nil
}

// NewExecutionContext creates a new empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Put sets a value in the ExecutionContext with the specified key and value.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get retrieves the value for the specified key. Returns nil and false if the value does not exist.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	val, ok := ec[key]
	return val, ok
}

// GetString retrieves the value for the specified key as a string.
func (ec ExecutionContext) GetString(key string) (string, bool) {
	val, ok := ec[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt retrieves the value for the specified key as an int.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	val, ok := ec[key]
	if !ok {
		return 0, false
	}
	// Numbers unmarshaled from JSON arrive as float64.
	if i, ok := val.(int); ok {
		return i, true
	}
	if f, ok := val.(float64); ok {
		return int(f), true
	}
	return 0, false
}

// GetBool retrieves the value for the specified key as a bool.
func (ec ExecutionContext) GetBool(key string) (bool, bool) {
	val, ok := ec[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// GetFloat64 retrieves the value for the specified key as a float64.
func (ec ExecutionContext) GetFloat64(key string) (float64, bool) {
	val, ok := ec[key]
	if !ok {
		return 0.0, false
	}
	f, ok := val.(float64)
	return f, ok
}

// Copy creates a shallow copy of the ExecutionContext.
func (ec ExecutionContext) Copy() ExecutionContext {
	newEC := make(ExecutionContext, len(ec))
	for k, v := range ec {
		newEC[k] = v
	}
	return newEC
}

// GetNested retrieves a nested value using a dot-separated key.
// Example: "partitions.p0001.processed"
func (ec ExecutionContext) GetNested(key string) (interface{}, bool) {
	parts := strings.Split(key, ".")

	// The whole dotted string may itself be a top-level key.
	if val, ok := ec.Get(key); ok {
		return val, true
	}

	var currentMap interface{} = ec
	var ok bool = true

	for i, part := range parts {
		if !ok {
			return nil, false
		}

		var nextMap map[string]interface{}
		if m, isEC := currentMap.(ExecutionContext); isEC {
			nextMap = m
		} else if m, isMap := currentMap.(map[string]interface{}); isMap {
			nextMap = m
		} else {
			return nil, false
		}

		currentMap, ok = nextMap[part]
		if !ok {
			return nil, false
		}

		if i < len(parts)-1 {
			if _, isMap := currentMap.(ExecutionContext); !isMap {
				if _, isMap := currentMap.(map[string]interface{}); !isMap {
					return nil, false
				}
			}
		}
	}
	return currentMap, ok
}

// PutNested sets a value in the ExecutionContext using a nested key. Intermediate maps are created if they do not exist.
func (ec ExecutionContext) PutNested(key string, value interface{}) {
	parts := strings.Split(key, ".")
	currentMap := ec

	for i, part := range parts {
		if i == len(parts)-1 {
			currentMap[part] = value
		} else {
			nextMapVal, ok := currentMap[part]
			var nextMap ExecutionContext
			if !ok {
				nextMap = NewExecutionContext()
				currentMap[part] = nextMap
			} else {
				if m, isEC := nextMapVal.(ExecutionContext); isEC {
					nextMap = m
				} else if m, isMap := nextMapVal.(map[string]interface{}); isMap {
					nextMap = ExecutionContext(m)
				} else {
					logger.Warnf("ExecutionContext.PutNested: Overwriting existing non-map value at path '%s'.", strings.Join(parts[:i+1], "."))
					nextMap = NewExecutionContext()
					currentMap[part] = nextMap
				}
			}
			currentMap = nextMap
		}
	}
}

// Remove removes the specified key from the ExecutionContext.
func (ec ExecutionContext) Remove(key string) {
	delete(ec, key)
}

// SubmissionParameters holds the free-form parameters of one batch submission.
type SubmissionParameters struct {
	Params map[string]interface{}
}

// NewSubmissionParameters creates a new instance of SubmissionParameters.
func NewSubmissionParameters() SubmissionParameters {
	return SubmissionParameters{
		Params: make(map[string]interface{}),
	}
}

// Value implements the `driver.Valuer` interface, converting SubmissionParameters to a JSON string.
func (sp SubmissionParameters) Value() (driver.Value, error) {
	if sp.Params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(sp.Params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to SubmissionParameters.
func (sp *SubmissionParameters) Scan(value interface{}) error {
	if value == nil {
		sp.Params = make(map[string]interface{})
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for SubmissionParameters: %T", value)
	}

	if len(b) == 0 {
		sp.Params = make(map[string]interface{})
		return nil
	}

	if err := json.Unmarshal(b, &sp.Params); err != nil {
		return fmt.Errorf("failed to unmarshal SubmissionParameters JSON: %w", err)
	}
	return nil
}

// Put sets a value in SubmissionParameters with the specified key and value.
func (sp SubmissionParameters) Put(key string, value interface{}) {
	sp.Params[key] = value
}

// Get retrieves the value for the specified key. Returns nil if the value does not exist.
func (sp SubmissionParameters) Get(key string) interface{} {
	val, ok := sp.Params[key]
	if !ok {
		return nil
	}
	return val
}

// GetString retrieves the value for the specified key as a string.
func (sp SubmissionParameters) GetString(key string) (string, bool) {
	val, ok := sp.Params[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt retrieves the value for the specified key as an int.
func (sp SubmissionParameters) GetInt(key string) (int, bool) {
	val, ok := sp.Params[key]
	if !ok {
		return 0, false
	}
	if i, ok := val.(int); ok {
		return i, true
	}
	if f, ok := val.(float64); ok {
		return int(f), true
	}
	return 0, false
}

// Equal compares if two SubmissionParameters are equal.
func (sp SubmissionParameters) Equal(other SubmissionParameters) bool {
	return reflect.DeepEqual(sp.Params, other.Params)
}

// Hash calculates the hash value of SubmissionParameters. It converts parameters
// to a canonical JSON string before hashing so the hash is independent of map order.
func (sp SubmissionParameters) Hash() (string, error) {
	normalizedJSON, err := sp.toCanonicalJSON()
	if err != nil {
		return "", exception.NewBatchError("submission_parameters", "Failed to marshal SubmissionParameters to canonical JSON for hash calculation", err, false, false)
	}

	hasher := sha256.New()
	hasher.Write([]byte(normalizedJSON))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// toCanonicalJSON converts SubmissionParameters to a canonical JSON string with sorted keys.
func (sp SubmissionParameters) toCanonicalJSON() (string, error) {
	var marshalCanonical func(interface{}) ([]byte, error)
	marshalCanonical = func(val interface{}) ([]byte, error) {
		if m, ok := val.(map[string]interface{}); ok {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			var sb strings.Builder
			sb.WriteString("{")
			for i, k := range keys {
				v := m[k]
				keyBytes, err := json.Marshal(k)
				if err != nil {
					return nil, err
				}
				valBytes, err := marshalCanonical(v)
				if err != nil {
					return nil, err
				}
				sb.Write(keyBytes)
				sb.WriteString(":")
				sb.Write(valBytes)
				if i < len(keys)-1 {
					sb.WriteString(",")
				}
			}
			sb.WriteString("}")
			return []byte(sb.String()), nil
		}
		return json.Marshal(val)
	}

	jsonBytes, err := marshalCanonical(sp.Params)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// String returns the string representation of SubmissionParameters. Sensitive information is masked.
func (sp SubmissionParameters) String() string {
	maskedParams := serialization.GetMaskedSubmissionParametersMap(sp.Params)

	data, err := json.Marshal(maskedParams)
	if err != nil {
		return fmt.Sprintf("{[ERROR: Failed to marshal masked parameters: %v]}", err)
	}

	return string(data)
}

// FailureList holds a list of error messages.
type FailureList []string

// Value implements the `driver.Valuer` interface, converting FailureList to a JSON string.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	if value == nil {
		*fl = make(FailureList, 0)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}

	if len(b) == 0 {
		*fl = make(FailureList, 0)
		return nil
	}

	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

// IdempotencyRecord is the durable admission record for one idempotency key.
// It is created on first submission and mutated only by the coordinator.
type IdempotencyRecord struct {
	Key            string
	CorrelationID  string
	Status         IdempotencyStatus
	RetryCount     int
	CachedResult   []byte
	LeaseOwner     string
	ExecutionID    string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int
}

// NewIdempotencyRecord creates a new IdempotencyRecord in the NEW state.
func NewIdempotencyRecord(key, correlationID string) *IdempotencyRecord {
	now := time.Now()
	return &IdempotencyRecord{
		Key:           key,
		CorrelationID: correlationID,
		Status:        IdempotencyStatusNew,
		RetryCount:    0,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       0,
	}
}

// TransitionTo safely transitions the state of the IdempotencyRecord.
func (r *IdempotencyRecord) TransitionTo(newStatus IdempotencyStatus) error {
	if !isValidIdempotencyTransition(r.Status, newStatus) {
		return fmt.Errorf("IdempotencyRecord (key: %s): Invalid state transition: %s -> %s", r.Key, r.Status, newStatus)
	}
	r.Status = newStatus
	r.UpdatedAt = time.Now()
	return nil
}

// CanRetry reports whether a FAILED record may re-enter IN_PROGRESS under the given budget.
func (r *IdempotencyRecord) CanRetry(maxRetries int) bool {
	return r.Status == IdempotencyStatusFailed && r.RetryCount < maxRetries
}

// HasLiveLease reports whether the record holds an unexpired lease at the given instant.
func (r *IdempotencyRecord) HasLiveLease(now time.Time) bool {
	return r.Status == IdempotencyStatusInProgress && r.LeaseExpiresAt != nil && r.LeaseExpiresAt.After(now)
}

// MarkInProgress claims the record for the given owner with a lease of the given duration.
func (r *IdempotencyRecord) MarkInProgress(owner, executionID string, leaseDuration time.Duration) error {
	if err := r.TransitionTo(IdempotencyStatusInProgress); err != nil {
		return err
	}
	expiry := time.Now().Add(leaseDuration)
	r.LeaseOwner = owner
	r.ExecutionID = executionID
	r.LeaseExpiresAt = &expiry
	return nil
}

// MarkCompleted closes the record with a cached result for later duplicate submissions.
func (r *IdempotencyRecord) MarkCompleted(result []byte) error {
	if err := r.TransitionTo(IdempotencyStatusCompleted); err != nil {
		return err
	}
	r.CachedResult = result
	r.LeaseOwner = ""
	r.LeaseExpiresAt = nil
	return nil
}

// MarkFailed closes the record's current attempt, consuming one unit of retry budget.
func (r *IdempotencyRecord) MarkFailed() error {
	if err := r.TransitionTo(IdempotencyStatusFailed); err != nil {
		return err
	}
	r.RetryCount++
	r.LeaseOwner = ""
	r.LeaseExpiresAt = nil
	return nil
}

// MarkExpired reclaims the record after its lease lapsed.
func (r *IdempotencyRecord) MarkExpired() error {
	if err := r.TransitionTo(IdempotencyStatusExpired); err != nil {
		return err
	}
	r.LeaseOwner = ""
	r.LeaseExpiresAt = nil
	return nil
}

// BatchExecution is a structure representing a single pipeline run of one admitted submission.
type BatchExecution struct {
	ID               string
	JobName          string
	SourceSystem     string
	IdempotencyKey   string
	CorrelationID    string
	BusinessDate     string
	Parameters       SubmissionParameters
	StartTime        time.Time
	EndTime          *time.Time
	Status           ExecutionStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	ExecutionContext ExecutionContext
	CurrentPhase     string
	CancelFunc       context.CancelFunc
}

// NewBatchExecution creates a new instance of BatchExecution.
func NewBatchExecution(jobName, sourceSystem, idempotencyKey, correlationID string, params SubmissionParameters) *BatchExecution {
	now := time.Now()
	return &BatchExecution{
		ID:               NewID(),
		JobName:          jobName,
		SourceSystem:     sourceSystem,
		IdempotencyKey:   idempotencyKey,
		CorrelationID:    correlationID,
		Parameters:       params,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         make(FailureList, 0),
		CreateTime:       now,
		LastUpdated:      now,
		ExecutionContext: NewExecutionContext(),
		CurrentPhase:     "",
		CancelFunc:       nil,
	}
}

// isValidExecutionTransition checks if the state transition for BatchExecution is valid.
func isValidExecutionTransition(current, next ExecutionStatus) bool {
	switch current {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusFailed || next == BatchStatusStopped || next == BatchStatusCompleted || next == BatchStatusAbandoned
	case BatchStatusStarted:
		return next == BatchStatusStopping || next == BatchStatusCompleted || next == BatchStatusFailed || next == BatchStatusAbandoned
	case BatchStatusStopping:
		return next == BatchStatusStopped || next == BatchStatusFailed || next == BatchStatusAbandoned
	case BatchStatusFailed, BatchStatusStopped:
		// Operator intervention only: a failed or stopped execution may be abandoned.
		return next == BatchStatusAbandoned
	case BatchStatusCompleted, BatchStatusAbandoned:
		return false
	default:
		return false
	}
}

// TransitionTo safely transitions the state of BatchExecution. Note: Fields other
// than Status and LastUpdated must be set separately by the caller.
func (be *BatchExecution) TransitionTo(newStatus ExecutionStatus) error {
	if !isValidExecutionTransition(be.Status, newStatus) {
		return fmt.Errorf("BatchExecution (ID: %s): Invalid state transition: %s -> %s", be.ID, be.Status, newStatus)
	}
	be.Status = newStatus
	return nil
}

// MarkAsStarted updates the BatchExecution status to STARTED.
func (be *BatchExecution) MarkAsStarted() {
	if err := be.TransitionTo(BatchStatusStarted); err != nil {
		logger.Warnf("Could not update BatchExecution (ID: %s) status to STARTED: %v", be.ID, err)
		be.Status = BatchStatusStarted
	}
	be.LastUpdated = time.Now()
}

// MarkAsCompleted updates the BatchExecution status to COMPLETED.
func (be *BatchExecution) MarkAsCompleted() {
	if err := be.TransitionTo(BatchStatusCompleted); err != nil {
		logger.Warnf("Could not update BatchExecution (ID: %s) status to COMPLETED: %v", be.ID, err)
		be.Status = BatchStatusCompleted
	}
	be.ExitStatus = ExitStatusCompleted
	now := time.Now()
	be.EndTime = &now
	be.LastUpdated = now
}

// MarkAsNoOp completes the BatchExecution with the NO_OP exit status, used when
// partition planning produced an empty plan.
func (be *BatchExecution) MarkAsNoOp() {
	if err := be.TransitionTo(BatchStatusCompleted); err != nil {
		logger.Warnf("Could not update BatchExecution (ID: %s) status to COMPLETED: %v", be.ID, err)
		be.Status = BatchStatusCompleted
	}
	be.ExitStatus = ExitStatusNoOp
	now := time.Now()
	be.EndTime = &now
	be.LastUpdated = now
}

// MarkAsFailed updates the BatchExecution status to FAILED and adds error information.
func (be *BatchExecution) MarkAsFailed(err error) {
	if terr := be.TransitionTo(BatchStatusFailed); terr != nil {
		logger.Warnf("Could not update BatchExecution (ID: %s) status to FAILED: %v", be.ID, terr)
		be.Status = BatchStatusFailed
	}
	be.ExitStatus = ExitStatusFailed
	now := time.Now()
	be.EndTime = &now
	be.LastUpdated = now
	if err != nil {
		be.AddFailureException(err)
	}
}

// MarkAsStopped updates the BatchExecution status to STOPPED.
func (be *BatchExecution) MarkAsStopped() {
	if err := be.TransitionTo(BatchStatusStopped); err != nil {
		logger.Warnf("Could not update BatchExecution (ID: %s) status to STOPPED: %v", be.ID, err)
		be.Status = BatchStatusStopped
	}
	be.ExitStatus = ExitStatusStopped
	now := time.Now()
	be.EndTime = &now
	be.LastUpdated = now
}

// MarkAsAbandoned updates the BatchExecution status to ABANDONED.
func (be *BatchExecution) MarkAsAbandoned() {
	if err := be.TransitionTo(BatchStatusAbandoned); err != nil {
		logger.Warnf("Could not update BatchExecution (ID: %s) status to ABANDONED: %v", be.ID, err)
		be.Status = BatchStatusAbandoned
	}
	be.ExitStatus = ExitStatusAbandoned
	now := time.Now()
	be.EndTime = &now
	be.LastUpdated = now
}

// AddFailureException adds error information to BatchExecution. It avoids adding duplicate errors.
func (be *BatchExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	errMsg := exception.ExtractErrorMessage(err)

	for _, existingErr := range be.Failures {
		if existingErr == errMsg {
			logger.Debugf("Skipped adding duplicate error '%s' to BatchExecution (ID: %s).", errMsg, be.ID)
			return
		}
	}

	be.Failures = append(be.Failures, errMsg)
	be.LastUpdated = time.Now()
}

// EncryptionLevel classifies how a field value must be protected before staging.
type EncryptionLevel string

const (
	EncryptionNone EncryptionLevel = "NONE"
	EncryptionHigh EncryptionLevel = "HIGH"
	// EncryptionCritical additionally binds the execution id into the ciphertext
	// as associated data.
	EncryptionCritical EncryptionLevel = "CRITICAL"
)

// TransformationType names one member of the closed set of field transformation kinds.
type TransformationType string

const (
	TransformPassThrough TransformationType = "PASS_THROUGH"
	TransformPadLeft     TransformationType = "PAD_LEFT"
	TransformPadRight    TransformationType = "PAD_RIGHT"
	TransformFormatDate  TransformationType = "FORMAT_DATE"
	TransformDefault     TransformationType = "DEFAULT"
)

// TransactionTypeDefinition is one active transaction category with its
// partition-level concurrency settings, supplied by the rule source.
type TransactionTypeDefinition struct {
	TransactionType   string  `yaml:"transactionType"`
	ProcessingOrder   int     `yaml:"processingOrder"`
	ThreadCount       int     `yaml:"threadCount"`
	ChunkSize         int     `yaml:"chunkSize"`
	IsolationLevel    string  `yaml:"isolationLevel"`
	TimeoutSeconds    int     `yaml:"timeoutSeconds"`
	ComplianceLevel   string  `yaml:"complianceLevel"`
	ErrorThresholdPct float64 `yaml:"errorThresholdPct"`
	Active            bool    `yaml:"active"`
}

// FieldMappingRule is one per-field transformation rule, supplied by the rule
// source and compiled once at configuration load.
type FieldMappingRule struct {
	FieldName          string             `yaml:"fieldName"`
	SourceField        string             `yaml:"sourceField"`
	TargetField        string             `yaml:"targetField"`
	TargetPosition     int                `yaml:"targetPosition"`
	Length             int                `yaml:"length"`
	TransformationType TransformationType `yaml:"transformationType"`
	DefaultValue       string             `yaml:"defaultValue"`
	EncryptionLevel    EncryptionLevel    `yaml:"encryptionLevel"`
	PIIClassification  string             `yaml:"piiClassification"`
	ValidationRequired bool               `yaml:"validationRequired"`
	// Properties carries kind-specific settings such as padChar, inputLayout
	// and outputLayout, decoded during rule compilation.
	Properties map[string]string `yaml:"properties"`
}

// Partition is an independently schedulable slice of an execution's record set,
// scoped to one transaction type.
type Partition struct {
	PartitionID       string
	ExecutionID       string
	TransactionType   string
	ProcessingOrder   int
	ThreadCount       int
	ChunkSize         int
	IsolationLevel    string
	TimeoutSeconds    int
	ErrorThresholdPct float64
	ComplianceLevel   string
}

// PartitionIDFor derives the deterministic partition id for a processing order
// and transaction type. The zero-padded order prefix makes lexical partition id
// order equal configured processing order.
func PartitionIDFor(processingOrder int, transactionType string) string {
	return fmt.Sprintf("p%04d-%s", processingOrder, transactionType)
}

// NewPartition creates a Partition for one execution from a transaction-type definition.
func NewPartition(executionID string, def TransactionTypeDefinition) *Partition {
	return &Partition{
		PartitionID:       PartitionIDFor(def.ProcessingOrder, def.TransactionType),
		ExecutionID:       executionID,
		TransactionType:   def.TransactionType,
		ProcessingOrder:   def.ProcessingOrder,
		ThreadCount:       def.ThreadCount,
		ChunkSize:         def.ChunkSize,
		IsolationLevel:    def.IsolationLevel,
		TimeoutSeconds:    def.TimeoutSeconds,
		ErrorThresholdPct: def.ErrorThresholdPct,
		ComplianceLevel:   def.ComplianceLevel,
	}
}

// SourceRecord is one raw input record before transformation.
type SourceRecord struct {
	RecordID        string
	TransactionType string
	Fields          map[string]string
}

// RecordOutcome is the contained result of transforming one record.
type RecordOutcome struct {
	RecordID string
	Status   OutcomeStatus
	// TransformedPayload holds target fields after mapping; values of encrypted
	// fields are ciphertext, never plaintext.
	TransformedPayload map[string]string
	ErrorDetail        string
	ProcessingTimeMs   int64
	// DispatchIndex is the pre-dispatch sequence inside the partition, assigned
	// before fan-out so ordering is restorable regardless of completion order.
	DispatchIndex int
}

// PartitionMetrics aggregates the counters of one processed partition.
type PartitionMetrics struct {
	TotalCount           int
	SuccessCount         int
	ValidationErrorCount int
	FailureCount         int
	DurationMs           int64
	ThroughputPerSec     float64
}

// ErrorCount returns the number of non-success outcomes.
func (m PartitionMetrics) ErrorCount() int {
	return m.ValidationErrorCount + m.FailureCount
}

// ErrorRatePct returns the percentage of non-success outcomes.
func (m PartitionMetrics) ErrorRatePct() float64 {
	if m.TotalCount == 0 {
		return 0
	}
	return float64(m.ErrorCount()) / float64(m.TotalCount) * 100.0
}

// PartitionResult carries one partition's ordered outcomes and aggregate metrics.
type PartitionResult struct {
	PartitionID     string
	ExecutionID     string
	TransactionType string
	// IsolationLevel is carried from the partition so the merger can apply it
	// to this partition's staging write.
	IsolationLevel string
	Status         ExecutionStatus
	// Outcomes are ordered by DispatchIndex.
	Outcomes      []RecordOutcome
	Metrics       PartitionMetrics
	FailureReason string
	TimedOut      bool
}

// MergeSession is the transient accumulator awaiting all partitions of one
// execution. Its methods are safe for concurrent use; the lock is per session,
// never shared across executions.
type MergeSession struct {
	SessionID              string
	ExecutionID            string
	ExpectedPartitionCount int
	CreatedAt              time.Time
	Deadline               time.Time

	mu        sync.Mutex
	received  map[string]*PartitionResult
	state     MergeState
	completed bool
}

// NewMergeSession creates a MergeSession expecting the given number of partitions.
func NewMergeSession(executionID string, expectedPartitionCount int, timeout time.Duration) *MergeSession {
	now := time.Now()
	return &MergeSession{
		SessionID:              NewID(),
		ExecutionID:            executionID,
		ExpectedPartitionCount: expectedPartitionCount,
		CreatedAt:              now,
		Deadline:               now.Add(timeout),
		received:               make(map[string]*PartitionResult),
		state:                  MergeStateOpen,
	}
}

// Accept records one partition result. Duplicate submissions for an already
// recorded partitionId are reported as not accepted without double-counting.
// The second return value is true when the session just reached its expected count.
func (ms *MergeSession) Accept(result *PartitionResult) (accepted bool, complete bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.state != MergeStateOpen {
		return false, false
	}
	if _, dup := ms.received[result.PartitionID]; dup {
		return false, len(ms.received) == ms.ExpectedPartitionCount
	}
	ms.received[result.PartitionID] = result
	return true, len(ms.received) == ms.ExpectedPartitionCount
}

// TryBeginFinalize atomically flips the session into FINALIZING. Only the first
// caller wins; every later caller observes false. This is what guarantees that
// completion triggers exactly one finalize.
func (ms *MergeSession) TryBeginFinalize() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.state != MergeStateOpen {
		return false
	}
	ms.state = MergeStateFinalizing
	return true
}

// MarkFinalized records the terminal state of the session (COMPLETE or PARTIAL).
func (ms *MergeSession) MarkFinalized(state MergeState) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.state = state
	ms.completed = true
}

// State returns the session's current lifecycle state.
func (ms *MergeSession) State() MergeState {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state
}

// Missed reports whether the session closed without this partition's result.
// A missed partition's outcomes were never staged.
func (ms *MergeSession) Missed(partitionID string) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.state == MergeStateOpen {
		return false
	}
	_, ok := ms.received[partitionID]
	return !ok
}

// IsCompleted reports whether finalize has run.
func (ms *MergeSession) IsCompleted() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.completed
}

// ReceivedCount returns the number of distinct partitions recorded so far.
func (ms *MergeSession) ReceivedCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.received)
}

// SnapshotResults returns the recorded results ordered by ascending partitionId.
// The deterministic order fixes global sequence number assignment at finalize.
func (ms *MergeSession) SnapshotResults() []*PartitionResult {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ids := make([]string, 0, len(ms.received))
	for id := range ms.received {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]*PartitionResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, ms.received[id])
	}
	return results
}

// PayloadMap holds the transformed target fields of a staged record.
type PayloadMap map[string]string

// Value implements the `driver.Valuer` interface, converting the PayloadMap to a JSON string.
func (pm PayloadMap) Value() (driver.Value, error) {
	if pm == nil {
		return "{}", nil
	}
	data, err := json.Marshal(pm)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to a PayloadMap.
func (pm *PayloadMap) Scan(value interface{}) error {
	if value == nil {
		*pm = make(PayloadMap)
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for PayloadMap: %T", value)
	}

	if len(b) == 0 {
		*pm = make(PayloadMap)
		return nil
	}

	if err := json.Unmarshal(b, pm); err != nil {
		return fmt.Errorf("failed to unmarshal PayloadMap JSON: %w", err)
	}
	return nil
}

// StagingRecord is the durable, sequence-numbered output of one processed input record.
type StagingRecord struct {
	ExecutionID       string
	TransactionTypeID string
	SequenceNumber    int64
	RecordID          string
	Payload           PayloadMap
	ProcessingStatus  OutcomeStatus
	CorrelationID     string
	CreatedAt         time.Time
}

// AuditEventType names one engine lifecycle transition recorded in the audit trail.
type AuditEventType string

const (
	AuditExecutionStarted AuditEventType = "EXECUTION_STARTED"
	AuditExecutionEnded   AuditEventType = "EXECUTION_ENDED"
	AuditAdmitDecision    AuditEventType = "ADMIT_DECISION"
	AuditPartitionStart   AuditEventType = "PARTITION_START"
	AuditPartitionEnd     AuditEventType = "PARTITION_END"
	AuditRecordFailure    AuditEventType = "RECORD_FAILURE"
	AuditSessionFinalize  AuditEventType = "SESSION_FINALIZE"
	AuditAlertRaised      AuditEventType = "ALERT_RAISED"
	AuditLeaseExpired     AuditEventType = "LEASE_EXPIRED"
)

// AuditEvent is one structured lifecycle event emitted by the pipeline.
type AuditEvent struct {
	ID            string
	ExecutionID   string
	CorrelationID string
	EventType     AuditEventType
	Success       bool
	Timestamp     time.Time
	Detail        ExecutionContext
}

// NewAuditEvent creates an AuditEvent stamped with the current time.
func NewAuditEvent(executionID, correlationID string, eventType AuditEventType, success bool) *AuditEvent {
	return &AuditEvent{
		ID:            NewID(),
		ExecutionID:   executionID,
		CorrelationID: correlationID,
		EventType:     eventType,
		Success:       success,
		Timestamp:     time.Now(),
		Detail:        NewExecutionContext(),
	}
}

// WithDetail sets one detail attribute and returns the event for chaining.
func (e *AuditEvent) WithDetail(key string, value interface{}) *AuditEvent {
	e.Detail.Put(key, value)
	return e
}

// TransactionProcessedEvent is one processed record as observed by the
// performance monitor. Producers publish it fire-and-forget; a full buffer
// drops the event rather than blocking the pipeline.
type TransactionProcessedEvent struct {
	ExecutionID      string
	TransactionType  string
	Status           OutcomeStatus
	ProcessingTimeMs int64
}

// AlertSeverity grades a raised performance alert.
type AlertSeverity string

const (
	AlertSeverityWarning  AlertSeverity = "WARNING"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is one threshold violation observed by the performance monitor.
type Alert struct {
	Name        string
	Severity    AlertSeverity
	Message     string
	MetricValue float64
	Threshold   float64
	RaisedAt    time.Time
}

// SystemMetrics captures process-level resource readings for one snapshot.
type SystemMetrics struct {
	HeapAllocBytes    uint64
	HeapSysBytes      uint64
	NumGoroutine      int
	NumGC             uint32
	PoolSaturationPct float64
}

// BusinessMetrics captures pipeline KPIs for one snapshot.
type BusinessMetrics struct {
	ProcessedTotal      int64
	FailedTotal         int64
	ThroughputPerMin    float64
	SuccessRatePct      float64
	SLACompliancePct    float64
	AvgProcessingTimeMs float64
}

// PerformanceSnapshot is the dashboard view of system metrics, business KPIs
// and currently active alerts.
type PerformanceSnapshot struct {
	CollectedAt  time.Time
	System       SystemMetrics
	Business     BusinessMetrics
	ActiveAlerts []Alert
}

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}
