package repository

// StoreRepository is the interface for persisting and managing the engine-owned
// store: idempotency records, batch executions, staged output and the audit
// trail. It embeds multiple smaller repository interfaces to separate concerns.
type StoreRepository interface {
	IdempotencyRepository // Definition in idempotency.go
	ExecutionRepository   // Definition in execution.go
	StagingRepository     // Definition in staging.go
	AuditRepository       // Definition in audit.go

	// Close releases resources (such as database connections) used by the repository.
	Close() error
}
