// Engine wires the six components into the external API surface
// SPEC_FULL.md §6 specifies: Submit, TenantStatus, MetricsSnapshot, plus the
// Start/Stop lifecycle the out-of-scope HTTP ingress collaborator drives.

package engine

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Engine is the multi-tenant admission and scheduling core. Construct one
// with New, call Start to begin dispatching, and Submit to admit work.
type Engine struct {
	registry *TenantRegistry
	queue    *PriorityQueue
	entropy  *ArrivalEntropyMeter
	builder  *BatchBuilder
	backend  GPUBackend
	metrics  *Metrics
	sched    *Scheduler
	clock    Clock
	kvMax    int

	nextSeq uint64
}

// New constructs an Engine from cfg (see DefaultConfig) and registers the
// tenants cfg bootstraps. A nil clock uses RealClock; tests inject a
// ManualClock to make the aging and entropy scenarios reproducible
// (SPEC_FULL.md §9.3).
func New(cfg Config, clock Clock) *Engine {
	if clock == nil {
		clock = RealClock{}
	}

	registry := NewTenantRegistry()
	queue := NewPriorityQueue(cfg.Alpha, cfg.MaxBatch)
	entropyMeter := NewArrivalEntropyMeter(cfg.EntropyWindow)
	builder := NewBatchBuilder(cfg.MaxBatch, cfg.KVMax)
	backend := NewSimulatedGPUBackend(cfg.PrefillRate, cfg.DecodeBase, cfg.KVMax, cfg.MaxBatch)
	metrics := NewMetrics(clock)

	wBase := time.Duration(cfg.WBaseMillis * float64(time.Millisecond))
	wMin := time.Duration(WMinMillis) * time.Millisecond
	sched := NewScheduler(queue, entropyMeter, builder, backend, metrics, clock, wBase, wMin, cfg.Tau)

	e := &Engine{
		registry: registry,
		queue:    queue,
		entropy:  entropyMeter,
		builder:  builder,
		backend:  backend,
		metrics:  metrics,
		sched:    sched,
		clock:    clock,
		kvMax:    cfg.KVMax,
	}
	now := clock.Now()
	for _, t := range cfg.Tenants {
		registry.Register(t.ID, t.Rate, t.BurstCap, now)
	}
	return e
}

// Start launches the worker loop in its own goroutine. Start must be called
// at most once per Engine.
func (e *Engine) Start() {
	go e.sched.Run()
}

// Stop signals the worker to shut down, draining any still-queued requests
// with ErrShutdown, and blocks until it has stopped. In-flight batches are
// allowed to complete first (SPEC_FULL.md §5).
func (e *Engine) Stop() {
	e.sched.Stop()
}

// RegisterTenant adds or replaces tenantID's token bucket. Loading tenant
// configuration from an external source is out of scope (SPEC_FULL.md §1);
// this is the mutation primitive whatever does that loading calls.
func (e *Engine) RegisterTenant(tenantID string, rate, burstCap float64) {
	e.registry.Register(tenantID, rate, burstCap, e.clock.Now())
}

// Submit admits a request and, on success, enqueues it for dispatch. The
// returned *Request's Wait method blocks until the scheduler resolves it.
// Validation and admission errors are returned synchronously and the
// request never touches the queue, per SPEC_FULL.md §7.
func (e *Engine) Submit(tenantID, prompt string, tokensRequested, priorityBid int) (*Request, error) {
	if priorityBid < 1 || priorityBid > 10 {
		return nil, fmt.Errorf("engine: priority_bid %d out of range: %w", priorityBid, ErrInvalidPriority)
	}
	if tokensRequested <= 0 || tokensRequested > e.kvMax {
		return nil, fmt.Errorf("engine: tokens_requested %d out of range: %w", tokensRequested, ErrInvalidTokens)
	}

	now := e.clock.Now()
	switch e.registry.Admit(tenantID, float64(tokensRequested), now) {
	case RejectedUnknownTenant:
		return nil, fmt.Errorf("engine: tenant %q: %w", tenantID, ErrUnknownTenant)
	case RejectedRateLimit:
		return nil, fmt.Errorf("engine: tenant %q: %w", tenantID, ErrRateLimited)
	}

	seq := atomic.AddUint64(&e.nextSeq, 1)
	req := &Request{
		ID:              fmt.Sprintf("req-%d", seq),
		TenantID:        tenantID,
		Prompt:          prompt,
		TraceID:         fmt.Sprintf("%s-%d", tenantID, now),
		TokensRequested: tokensRequested,
		PriorityBid:     priorityBid,
		ArrivalTime:     now,
		State:           StateQueued,
		handle:          newCompletionHandle(),
	}

	// Arrival is recorded for entropy before the push so the window the
	// scheduler wakes on next already reflects this arrival.
	e.entropy.Record(now)
	e.queue.Push(req, now)
	logrus.Debugf("engine: admitted %s", req)
	return req, nil
}

// TenantStatus reports tenantID's current bucket state after applying any
// pending refill.
func (e *Engine) TenantStatus(tenantID string) (TenantSnapshot, error) {
	snap, ok := e.registry.Snapshot(tenantID, e.clock.Now())
	if !ok {
		return TenantSnapshot{}, fmt.Errorf("engine: tenant %q: %w", tenantID, ErrUnknownTenant)
	}
	return snap, nil
}

// MetricsSnapshot reports the engine-wide derived metrics of SPEC_FULL.md §6.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot(e.queue.Len())
}

// QueueDepth reports the number of requests currently waiting to be
// dispatched.
func (e *Engine) QueueDepth() int {
	return e.queue.Len()
}

// IsAdmissionError reports whether err is one of the synchronous admission
// errors Submit can return, as opposed to a dispatch-time failure resolved
// on a request's completion handle.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrUnknownTenant) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrInvalidPriority) ||
		errors.Is(err, ErrInvalidTokens)
}
