package destination

import (
	"github.com/samber/oops"
)

var (
	// ErrNotRunning is returned by operations submitted before Start or
	// after Stop.
	ErrNotRunning = oops.Errorf("destination engine is not running")

	// ErrInvalidTarget is returned for lookups against the zero hash.
	ErrInvalidTarget = oops.Errorf("invalid destination target hash")

	// ErrQueueFull is returned when the engine cannot accept a
	// submission without blocking the caller.
	ErrQueueFull = oops.Errorf("destination engine work queue is full")

	// ErrNoStreamingDestination is returned when a streaming operation
	// needs a streaming handler that was never registered.
	ErrNoStreamingDestination = oops.Errorf("no streaming destination registered")
)
