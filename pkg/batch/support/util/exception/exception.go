// Package exception provides custom error types and error handling utilities for the Swell batch engine.
// It standardizes errors that occur during batch processing, allowing them to be categorized
// based on retry and containment policies.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
)

// errorRegistry maps error names referenced in configuration to concrete Go error instances.
// It holds error instances (singletons) for comparison using errors.Is.
var errorRegistry = make(map[string]error)

// registryMutex protects access to errorRegistry.
var registryMutex sync.RWMutex

// RegisterErrorType registers an error type in the registry.
// Registered error types are referenced by name in retry policies and by the
// IsErrorOfType function, and are used for error classification.
//
// name: A unique identifier for the error type.
// prototype: An instance of the error to be registered. Used for comparison with errors.Is.
//
// If prototype is nil or name is empty, this function will panic.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("Error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("Cannot register nil prototype for name: %s", name))
	}

	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered checks if the specified error type name is registered in the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// BatchError is a custom error type that occurs during batch processing.
// It holds the module where the error occurred, a message, the wrapped original error,
// and flags indicating whether it is retryable or skippable.
type BatchError struct {
	// Module indicates the module where the error occurred (e.g., "coordinator", "processor", "merger").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error is skippable.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewBatchError creates a new BatchError instance.
// module: The module where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// isSkippable: Whether this error is skippable.
// isRetryable: Whether this error is retryable.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  stackTrace,
	}
}

// NewBatchErrorf creates a new BatchError instance using a format string.
// Optional flags and an error are extracted from the end of the variadic arguments 'a'
// in the order: [isSkippable bool], [isRetryable bool], [originalErr error].
// The remaining arguments are used for fmt.Sprintf.
//
// Order of optional arguments (from the end):
// 1. [originalErr error]
// 2. [isRetryable bool]
// 3. [isSkippable bool]
//
// Example:
// NewBatchErrorf("processor", "Failed to transform record: %s", "rec-123", true, true, io.EOF)
// -> message: "Failed to transform record: rec-123", isSkippable: true, isRetryable: true, originalErr: io.EOF
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}

	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}

	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	message := fmt.Sprintf(format, args...)

	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	stackTrace := string(buf[:n])

	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  stackTrace,
	}
}

// Error type names used in configuration and by classification helpers.
const (
	OptimisticLockingFailureException = "OptimisticLockingFailureException"
	ConcurrentExecutionConflictName   = "ConcurrentExecutionConflict"
	RetryBudgetExhaustedName          = "RetryBudgetExhausted"
	PartitionConfigurationMissingName = "PartitionConfigurationMissing"
	RecordValidationErrorName         = "RecordValidationError"
	RecordProcessingFailureName       = "RecordProcessingFailure"
	PartitionErrorThresholdName       = "PartitionErrorThresholdExceeded"
	MergeIntegrityViolationName       = "MergeIntegrityViolation"
	SessionTimeoutName                = "SessionTimeout"
)

// Sentinel errors for the engine's failure taxonomy. Call sites wrap these
// through BatchError so both errors.Is and the name registry can classify them.
var (
	// ErrOptimisticLockingFailure indicates a guarded update lost a version race.
	ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)
	// ErrConcurrentExecutionConflict indicates another worker currently holds the idempotency key.
	ErrConcurrentExecutionConflict = errors.New(ConcurrentExecutionConflictName)
	// ErrRetryBudgetExhausted indicates a key has failed maxRetries times and needs intervention.
	ErrRetryBudgetExhausted = errors.New(RetryBudgetExhaustedName)
	// ErrPartitionConfigurationMissing indicates no active transaction-type definitions were found.
	ErrPartitionConfigurationMissing = errors.New(PartitionConfigurationMissingName)
	// ErrRecordValidation indicates a per-record validation failure, contained in the partition result.
	ErrRecordValidation = errors.New(RecordValidationErrorName)
	// ErrRecordProcessingFailure indicates a per-record transformation fault, contained in the partition result.
	ErrRecordProcessingFailure = errors.New(RecordProcessingFailureName)
	// ErrPartitionErrorThresholdExceeded indicates a partition's error rate crossed its configured threshold.
	ErrPartitionErrorThresholdExceeded = errors.New(PartitionErrorThresholdName)
	// ErrMergeIntegrityViolation indicates a staged-count mismatch at finalize. Always fatal.
	ErrMergeIntegrityViolation = errors.New(MergeIntegrityViolationName)
	// ErrSessionTimeout indicates a merge session finalized partially after its deadline.
	ErrSessionTimeout = errors.New(SessionTimeoutName)
)

// NewOptimisticLockingFailureException creates a BatchError indicating an optimistic locking failure.
// This error is neither retryable nor skippable.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	var errToWrap error
	if originalErr != nil {
		errToWrap = errors.Join(ErrOptimisticLockingFailure, originalErr)
	} else {
		errToWrap = ErrOptimisticLockingFailure
	}

	return NewBatchError(module, message, errToWrap, false, false)
}

// NewMergeIntegrityViolation creates the fatal BatchError raised when staged and
// processed counts diverge at finalize. Never retryable, never skippable.
func NewMergeIntegrityViolation(module, message string) *BatchError {
	return NewBatchError(module, message, ErrMergeIntegrityViolation, false, false)
}

// Error implements the error interface.
// It returns the error's module, message, and the string representation of the original error.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError determines if the given error is of type BatchError.
func IsBatchError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*BatchError)
	return ok
}

// IsTemporary determines if an error is temporary (e.g., network error, temporary DB connection issue).
// This function is used by retry logic.
// If it's a BatchError, its IsRetryable flag takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := err.(*BatchError); ok {
		return be.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

// IsFatal determines if an error is fatal (cannot be retried or skipped).
// If it's a BatchError, its flags take precedence.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := err.(*BatchError); ok {
		return !be.IsRetryable() && !be.IsSkippable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "invalid argument") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "data corruption")
}

// IsErrorOfType checks if an error matches a specified type name (string).
// errorTypeName can be a Go error type name (e.g., "*net.OpError", "io.EOF") or a substring of an error message.
// It checks in order: registered sentinel errors (errors.Is), substring of error message, and type name comparison using reflection.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil {
		return false
	}

	registryMutex.RLock()
	targetError, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()

	if ok {
		if errors.Is(err, targetError) {
			return true
		}
	}

	currentErr := err
	for currentErr != nil {
		if strings.Contains(currentErr.Error(), errorTypeName) {
			return true
		}

		errType := reflect.TypeOf(currentErr)
		if errType != nil {
			if errType.String() == errorTypeName || (errType.Kind() == reflect.Ptr && errType.Elem().String() == errorTypeName) {
				return true
			}
		}

		currentErr = errors.Unwrap(currentErr)
	}

	return false
}

func init() {
	// Register sentinel errors so that errors.Is can detect them by constant name.
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType(ConcurrentExecutionConflictName, ErrConcurrentExecutionConflict)
	RegisterErrorType(RetryBudgetExhaustedName, ErrRetryBudgetExhausted)
	RegisterErrorType(PartitionConfigurationMissingName, ErrPartitionConfigurationMissing)
	RegisterErrorType(RecordValidationErrorName, ErrRecordValidation)
	RegisterErrorType(RecordProcessingFailureName, ErrRecordProcessingFailure)
	RegisterErrorType(PartitionErrorThresholdName, ErrPartitionErrorThresholdExceeded)
	RegisterErrorType(MergeIntegrityViolationName, ErrMergeIntegrityViolation)
	RegisterErrorType(SessionTimeoutName, ErrSessionTimeout)

	// Common error names usable in retry policy configuration.
	RegisterErrorType("io.EOF", errors.New("io.EOF"))
	RegisterErrorType("net.OpError", errors.New("net.OpError"))
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
}

// IsOptimisticLockingFailure determines if an error indicates an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// IsConcurrentExecutionConflict determines if an error indicates a lost admit race.
func IsConcurrentExecutionConflict(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConcurrentExecutionConflict)
}

// IsRetryBudgetExhausted determines if an error indicates the retry budget is spent.
func IsRetryBudgetExhausted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRetryBudgetExhausted)
}

// IsMergeIntegrityViolation determines if an error is the fatal merge count mismatch.
func IsMergeIntegrityViolation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrMergeIntegrityViolation)
}

// ExtractErrorMessage extracts the error message string from an error.
// For BatchError, it returns the cleaner Message field.
// Otherwise, it returns the standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := err.(*BatchError); ok {
		return be.Message
	}
	return err.Error()
}
