package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Backend lifecycle errors.
var (
	ErrNotAttached     = errors.New("backend is not attached")
	ErrAlreadyAttached = errors.New("backend is already attached")
)

// IndexingError wraps a storage failure during an index write with the item
// and index it concerns, so callers can retry or log meaningfully. Index
// writes are idempotent; retrying the same item is always safe.
type IndexingError struct {
	ItemID uuid.UUID
	Index  string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *IndexingError) Error() string {
	if e.Index == "" {
		return fmt.Sprintf("indexing item %s: %s: %v", e.ItemID, e.Op, e.Err)
	}
	return fmt.Sprintf("indexing item %s in %s: %s: %v", e.ItemID, e.Index, e.Op, e.Err)
}

// Unwrap returns the underlying storage error.
func (e *IndexingError) Unwrap() error { return e.Err }
