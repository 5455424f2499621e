package writebatch

import (
	"errors"
	"fmt"
)

var (
	// ErrWriterClosed is returned when Write is called after Close
	ErrWriterClosed = errors.New("batched writer is closed")

	// ErrNoTargets is returned when a writer has nothing to write to
	ErrNoTargets = errors.New("batched writer has no partitions or hosts")

	// ErrPlacement is returned when the router picks a partition that has no slot
	ErrPlacement = errors.New("placement out of range")
)

// FatalError reports a transport failure that aborted the writer. The slot's
// session has been closed and its accounting finalized.
type FatalError struct {
	Slot int
	URI  string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("slot %d aborted at %s: %v", e.Slot, e.URI, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
