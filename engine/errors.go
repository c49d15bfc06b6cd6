package engine

import "errors"

// Admission-time errors. These are returned synchronously from Submit and
// never cause a request to enter the queue.
var (
	ErrUnknownTenant   = errors.New("engine: unknown tenant")
	ErrRateLimited     = errors.New("engine: rate limited")
	ErrInvalidPriority = errors.New("engine: priority_bid out of range [1,10]")
	ErrInvalidTokens   = errors.New("engine: tokens_requested must be in (0, kv_max]")
)

// Dispatch/lifecycle errors surfaced on a request's completion handle.
var (
	// ErrShutdown resolves pending handles when the scheduler is stopped
	// with requests still queued or in flight.
	ErrShutdown = errors.New("engine: scheduler shut down")
	// ErrInternal resolves pending handles when an invariant violation is
	// caught at the worker loop boundary. It indicates an implementation
	// bug, not a client or capacity error.
	ErrInternal = errors.New("engine: internal invariant violation")
)
