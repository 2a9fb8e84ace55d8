// Package memerr defines the error taxonomy shared by every membank
// component. Callers match with errors.Is; messages added at wrap sites
// carry the remediation command where one exists.
package memerr

import "errors"

var (
	// ErrValidation marks bad user input. Never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrStoreBusy is returned when another process holds the record
	// store's write lock. Callers may retry with backoff.
	ErrStoreBusy = errors.New("record store busy")

	// ErrIndexWrite and ErrIndexRead mark failures of the derived vector
	// index. The record store is never corrupted by these; `membank rebuild`
	// repairs the index from the source of truth.
	ErrIndexWrite = errors.New("vector index write failed")
	ErrIndexRead  = errors.New("vector index read failed")

	// ErrDimensionMismatch means the active embedding provider produces
	// vectors of a different dimension than the project was created with.
	// Reconfigure the provider and run `membank rebuild`.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrDecryption marks a sync export that could not be decrypted
	// (wrong or missing key, corrupted blob). Pull is a no-op.
	ErrDecryption = errors.New("sync export decryption failed")

	// ErrConflict is returned when push or pull detects divergent
	// revisions. Resolution is operator-driven (--force).
	ErrConflict = errors.New("sync conflict detected")

	// ErrMigrationVerification aborts a migration run, leaving the data
	// at the last successfully verified version.
	ErrMigrationVerification = errors.New("migration verification failed")

	// ErrNotFound and ErrAlreadyRolledBack are idempotency guards.
	ErrNotFound          = errors.New("not found")
	ErrAlreadyRolledBack = errors.New("consolidation already rolled back")
)
