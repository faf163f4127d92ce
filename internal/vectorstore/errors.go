package vectorstore

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexNotFound means the index has not been provisioned. It is an
	// operator error and is never retried.
	ErrIndexNotFound = errors.New("vector index not found")

	// ErrNamespaceNotFound means nothing was ever written to the namespace.
	// Read paths treat it as an empty result.
	ErrNamespaceNotFound = errors.New("namespace not found")

	ErrInvalidTenant     = errors.New("invalid tenant")
	ErrInvalidNamespace  = errors.New("invalid namespace")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrBatchTooLarge     = errors.New("batch exceeds provider limit")
	ErrMetadataNotFlat   = errors.New("metadata is not flat")
	ErrMetadataTooLarge  = errors.New("metadata exceeds size limit")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrInvalidRecord     = errors.New("invalid record")
)

// IndexNotFoundError reports a missing index together with the command
// that provisions it.
type IndexNotFoundError struct {
	Index     string
	Dimension int
	Metric    string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("vector index %q not found; create it with: %s", e.Index, e.Command())
}

// Command is the operator command that creates the missing index.
func (e *IndexNotFoundError) Command() string {
	return fmt.Sprintf("memctl index create --name %s --dimension %d --metric %s", e.Index, e.Dimension, e.Metric)
}

func (e *IndexNotFoundError) Unwrap() error { return ErrIndexNotFound }
