package finalization

import "fmt"

var (
	// ErrFinalizationTimeout is returned when a policy's timeout elapses
	// before the wait completes.
	ErrFinalizationTimeout = fmt.Errorf("timeout waiting for finalization")

	ErrInvalidPolicy = fmt.Errorf("invalid finalization policy")
)
