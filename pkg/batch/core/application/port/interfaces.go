// Package port defines the core interfaces (ports) for the batch engine.
// These interfaces abstract the engine's collaborators and lifecycle hooks,
// allowing for flexible implementation and testing.
package port

import (
	"context"

	model "github.com/tigerroll/swell/pkg/batch/core/domain/model"
)

// CompiledRule is one field mapping rule compiled into an executable form.
// Compilation happens once when the rulebook loads, never per record.
type CompiledRule interface {
	// SourceField returns the name of the input field the rule reads.
	SourceField() string
	// TargetField returns the name of the output field the rule writes.
	TargetField() string
	// EncryptionLevel returns the protection level required for the transformed value.
	EncryptionLevel() model.EncryptionLevel
	// ValidationRequired reports whether a missing or empty source value is a
	// validation error rather than an acceptable blank.
	ValidationRequired() bool
	// PIIClassification returns the rule's PII class, used by masking helpers.
	PIIClassification() string
	// Apply transforms one source value into its target representation.
	//
	// Returns:
	//   string: The transformed value, before any encryption.
	//   error: An error if the value cannot be transformed (e.g., an unparsable date).
	Apply(value string) (string, error)
}

// RuleSet is one immutable, compiled view of the rulebook.
type RuleSet interface {
	// ActiveDefinitions returns the active transaction-type definitions ordered
	// by processingOrder.
	ActiveDefinitions() []model.TransactionTypeDefinition
	// Definition returns the definition for the given transaction type, active
	// or not. The second return value is false when the type is unknown.
	Definition(transactionType string) (model.TransactionTypeDefinition, bool)
	// RulesFor returns the compiled field rules for the given transaction type.
	// The second return value is false when the type has no rules.
	RulesFor(transactionType string) ([]CompiledRule, bool)
	// Version returns an opaque identifier of the loaded rulebook revision,
	// recorded in audit events for traceability.
	Version() string
}

// RuleSource is the narrow read interface onto the rulebook collaborator.
// The engine never writes through it; configuration authoring is out of scope.
type RuleSource interface {
	// Load returns the current compiled rule set, serving from cache while the
	// cached copy is fresh.
	Load(ctx context.Context) (RuleSet, error)
	// Invalidate drops the cached rule set so the next Load recompiles.
	// It is the notification hook for external configuration changes.
	Invalidate()
}

// FieldCipher protects field values whose rules demand encryption.
type FieldCipher interface {
	// EncryptField encrypts one plaintext value at the given level.
	//
	// Parameters:
	//   executionID: Bound into the ciphertext as associated data for
	//                CRITICAL fields; ignored for HIGH.
	//
	// Returns:
	//   string: An encoded ciphertext safe for storage in a payload map.
	EncryptField(plaintext string, level model.EncryptionLevel, executionID string) (string, error)
	// DecryptField reverses EncryptField. The level and executionID must match
	// the values used at encryption time.
	DecryptField(ciphertext string, level model.EncryptionLevel, executionID string) (string, error)
}

// ExecutionListener is an interface for handling execution lifecycle events.
type ExecutionListener interface {
	// BeforeExecution is called just before the pipeline starts for an execution.
	BeforeExecution(ctx context.Context, execution *model.BatchExecution)
	// AfterExecution is called after the pipeline finishes (regardless of outcome).
	AfterExecution(ctx context.Context, execution *model.BatchExecution)
}

// AdmitListener is an interface for observing idempotency admission decisions.
type AdmitListener interface {
	// OnAdmitDecision is called after every admission attempt with its verdict.
	OnAdmitDecision(ctx context.Context, key string, correlationID string, decision *model.AdmitDecision)
}

// PartitionListener is an interface for handling partition lifecycle events.
type PartitionListener interface {
	// BeforePartition is called just before a partition's worker pool starts.
	BeforePartition(ctx context.Context, partition *model.Partition)
	// AfterPartition is called after a partition completes with its result.
	AfterPartition(ctx context.Context, result *model.PartitionResult)
}

// RecordFailureListener is an interface for observing contained record-level faults.
type RecordFailureListener interface {
	// OnRecordFailure is called for each record whose outcome is not SUCCESS.
	// The outcome's payload is already masked; no plaintext of protected
	// fields reaches listeners.
	OnRecordFailure(ctx context.Context, partition *model.Partition, outcome model.RecordOutcome)
}

// MergeListener is an interface for observing merge session finalization.
type MergeListener interface {
	// OnSessionFinalized is called exactly once per session after finalize,
	// with the terminal state (COMPLETE or PARTIAL) and the staged record count.
	OnSessionFinalized(ctx context.Context, executionID string, sessionID string, state model.MergeState, stagedCount int)
}

// AlertListener is an interface for observing raised performance alerts.
type AlertListener interface {
	// OnAlert is called when the monitor raises a threshold violation.
	OnAlert(ctx context.Context, executionID string, alert model.Alert)
}
