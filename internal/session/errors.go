package session

import (
	"fmt"
	"slices"
	"strings"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

// PartialWriteError reports the sessions a WriteMany call could not reach.
type PartialWriteError struct {
	Failed map[schema.SessionID]error
}

func (e *PartialWriteError) Error() string {
	ids := e.IDs()
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("session %d: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("write failed for %d session(s): %s", len(ids), strings.Join(parts, "; "))
}

// IDs returns the failed session ids in ascending order.
func (e *PartialWriteError) IDs() []schema.SessionID {
	ids := make([]schema.SessionID, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Unwrap exposes each underlying error to errors.Is and errors.As.
func (e *PartialWriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, id := range e.IDs() {
		errs = append(errs, e.Failed[id])
	}
	return errs
}
