package datastore

import "errors"

var (
	// ErrInvalidFormat indicates that an identifier or request value violates a storage bound.
	ErrInvalidFormat = errors.New("datastore: invalid format")
	// ErrPrecondition indicates that a write intent failed validation against current model state.
	ErrPrecondition = errors.New("datastore: precondition failed")
	// ErrModelDoesNotExist indicates a single-model lookup against an absent fqid.
	ErrModelDoesNotExist = errors.New("datastore: model does not exist")
	// ErrProgramming indicates a caller defect, not a recoverable runtime condition.
	ErrProgramming = errors.New("datastore: programming error")
	// ErrMigrationSetup indicates a migration constructed without a valid target index.
	ErrMigrationSetup = errors.New("datastore: migration setup error")
)
