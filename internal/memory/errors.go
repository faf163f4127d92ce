package memory

import "errors"

var (
	// ErrMemoryNotFound means the id does not exist in the tenant's namespace.
	ErrMemoryNotFound = errors.New("memory not found")

	// ErrOwnershipMismatch means the record belongs to another tenant. It is
	// security relevant and never retried.
	ErrOwnershipMismatch = errors.New("memory is owned by another tenant")

	ErrInvalidRecord     = errors.New("invalid memory record")
	ErrInvalidMemoryType = errors.New("invalid memory type")

	// ErrReservedFilterKey rejects caller filters on tenant fields.
	ErrReservedFilterKey = errors.New("filter key is reserved")

	ErrInvalidDocument = errors.New("invalid document")
)
