package engine

import "fmt"

// RequestState tracks where a Request sits in its lifecycle.
type RequestState string

const (
	StateQueued     RequestState = "queued"
	StateDispatched RequestState = "dispatched"
	StateResolved   RequestState = "resolved"
)

// Result is delivered on a Request's completion handle when its batch
// finishes successfully.
type Result struct {
	TokensProduced int
	LatencySeconds float64
	BatchSize      int
	QueueWaitSec   float64
}

// Outcome is the value resolved onto a completion handle: either a Result or
// an error (ErrShutdown, ErrInternal, or a backend-specific failure). Exactly
// one of Result/Err is meaningful; Err == nil means success.
type Outcome struct {
	Result Result
	Err    error
}

// completionHandle is a one-shot signal fulfilled exactly once by the
// scheduler. Requests own their handle; it is safe for exactly one goroutine
// to send and exactly one to receive.
type completionHandle chan Outcome

func newCompletionHandle() completionHandle {
	return make(completionHandle, 1)
}

// Request models a single admitted unit of work moving through the engine.
// A Request is immutable after construction except for State, which the
// scheduler updates as it moves through the pipeline.
type Request struct {
	ID       string
	TenantID string
	Prompt   string // opaque; never inspected by the core, see doc.go
	// TraceID correlates this request's log lines across admission,
	// queueing, and dispatch; it plays no role in scheduling.
	TraceID         string
	TokensRequested int
	PriorityBid     int
	ArrivalTime     int64 // nanoseconds, per Clock

	State RequestState

	// seq is assigned by the PriorityQueue at push time and used as the
	// deterministic tiebreaker in effective-priority comparisons.
	seq int64

	handle completionHandle
}

func (r *Request) String() string {
	return fmt.Sprintf("Request{id=%s tenant=%s tokens=%d bid=%d state=%s}",
		r.ID, r.TenantID, r.TokensRequested, r.PriorityBid, r.State)
}

// Wait blocks until the request's batch resolves and returns the outcome.
// Callers that want a timeout should race this against their own
// context.Context — the core does not implement per-request deadlines
// (see SPEC_FULL.md §5).
func (r *Request) Wait() Outcome {
	return <-r.handle
}

// resolve fulfills the completion handle exactly once. Calling it twice on
// the same request is a programmer error and panics, matching the teacher's
// convention of panicking on invariant violations rather than silently
// ignoring them (see sim.NewPriorityPolicy).
func (r *Request) resolve(o Outcome) {
	if r.State == StateResolved {
		panic(fmt.Sprintf("engine: request %s resolved more than once", r.ID))
	}
	select {
	case r.handle <- o:
		r.State = StateResolved
	default:
		panic(fmt.Sprintf("engine: request %s resolved more than once", r.ID))
	}
}
