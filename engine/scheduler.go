// The worker loop: homeostatic window adaptation, queue drain, batch
// dispatch. The largest and most load-bearing component (SPEC_FULL.md §2).
//
// Grounded in the teacher's Simulator event loop (sim/simulator.go) in
// shape -- a single driving loop that computes a step duration, advances,
// forms a batch, and steps the backend -- generalized from the teacher's
// virtual discrete-event clock to a real-wall-clock sleep/await cycle, since
// this engine serves live concurrent ingress rather than replaying a
// pre-generated workload.

package engine

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AdaptiveWindow computes w_adaptive = clamp(wBase*exp(-H/tau), wMin, wBase)
// per SPEC_FULL.md §4.5. It is a pure function, independently of Scheduler,
// so the window-shaping property (monotonic non-increasing in H) is
// directly testable.
func AdaptiveWindow(entropy float64, wBase, wMin time.Duration, tau float64) time.Duration {
	w := float64(wBase) * math.Exp(-entropy/tau)
	if w > float64(wBase) {
		w = float64(wBase)
	}
	if w < float64(wMin) {
		w = float64(wMin)
	}
	return time.Duration(w)
}

// Scheduler is the single worker goroutine that drains the PriorityQueue
// through the BatchBuilder and dispatches to a GPUBackend. Per
// SPEC_FULL.md §5 it is the sole popper; everything it touches besides the
// queue, entropy meter, and metrics (all independently synchronized) is
// exclusively its own -- in particular gpuState carries no lock.
type Scheduler struct {
	queue   *PriorityQueue
	entropy *ArrivalEntropyMeter
	builder *BatchBuilder
	backend GPUBackend
	metrics *Metrics
	clock   Clock

	wBase time.Duration
	wMin  time.Duration
	tau   float64

	gpuState GPUState

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// NewScheduler wires the components a HomeostaticScheduler needs. wBase/wMin
// are durations (SPEC_FULL.md's W_BASE/1ms floor); tau is the entropy decay
// constant.
func NewScheduler(queue *PriorityQueue, entropy *ArrivalEntropyMeter, builder *BatchBuilder, backend GPUBackend, metrics *Metrics, clock Clock, wBase, wMin time.Duration, tau float64) *Scheduler {
	return &Scheduler{
		queue:   queue,
		entropy: entropy,
		builder: builder,
		backend: backend,
		metrics: metrics,
		clock:   clock,
		wBase:   wBase,
		wMin:    wMin,
		tau:     tau,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run executes the worker loop until Stop is called. It is meant to be
// invoked as `go scheduler.Run()`; Stop blocks until the loop has drained
// the queue and returned.
func (s *Scheduler) Run() {
	defer close(s.stopped)
	logrus.Infof("engine: scheduler started (w_base=%s, tau=%.2f)", s.wBase, s.tau)
	for {
		h := s.entropy.Entropy()
		w := AdaptiveWindow(h, s.wBase, s.wMin, s.tau)
		s.metrics.recordWindow(h, w)

		timer := time.NewTimer(w)
		select {
		case <-s.stopCh:
			timer.Stop()
			s.drainOnShutdown()
			return
		case <-timer.C:
		}

		if s.queue.Len() == 0 {
			continue
		}

		now := s.clock.Now()
		batch := s.builder.Build(s.queue, s.gpuState.KVUsedTokens, now)
		if len(batch.Requests) == 0 {
			// Either the queue is empty, or its head is head-of-line
			// blocked on KV budget (§4.4) -- the next iteration's window
			// gives it another chance once the GPU is idle again.
			logrus.Warnf("engine: queue head blocked on KV budget (kv_used=%d, queue_depth=%d)", s.gpuState.KVUsedTokens, s.queue.Len())
			continue
		}
		s.dispatch(batch, now)
	}
}

// Stop signals the worker to shut down and waits for it to drain the queue
// and return. In-flight batches run to completion (SPEC_FULL.md §5); only
// requests still waiting in the queue are resolved with ErrShutdown.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.stopped
}

// dispatch runs one batch to completion and resolves every request's
// completion handle. An invariant violation anywhere in this path (a
// recovered panic) resolves the whole batch with ErrInternal rather than
// crashing the worker goroutine, per SPEC_FULL.md §7.
func (s *Scheduler) dispatch(batch *Batch, now int64) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("engine: invariant violation dispatching batch of %d: %v", len(batch.Requests), r)
			for _, req := range batch.Requests {
				s.metrics.recordFailure(req.TenantID)
				req.resolve(Outcome{Err: ErrInternal})
			}
		}
	}()

	total := batch.TotalTokens()
	s.gpuState.KVUsedTokens += total
	// Released on every exit path, including a recovered panic from Run.
	defer func() { s.gpuState.KVUsedTokens -= total }()
	s.gpuState.BusyUntil = now
	for _, req := range batch.Requests {
		req.State = StateDispatched
	}
	logrus.Debugf("engine: dispatching batch size=%d tokens=%d kv_used=%d", len(batch.Requests), total, s.gpuState.KVUsedTokens)

	result, err := s.backend.Run(batch, now)

	if err != nil {
		logrus.Warnf("engine: batch dispatch failed: %v", err)
		for _, req := range batch.Requests {
			s.metrics.recordFailure(req.TenantID)
			req.resolve(Outcome{Err: err})
		}
		return
	}

	s.metrics.recordBatch(batch, result)
	for _, req := range batch.Requests {
		queueWaitSec := float64(now-req.ArrivalTime) / float64(time.Second)
		req.resolve(Outcome{Result: Result{
			TokensProduced: req.TokensRequested,
			LatencySeconds: result.WallTimeSeconds,
			BatchSize:      result.BatchSize,
			QueueWaitSec:   queueWaitSec,
		}})
	}
}

// drainOnShutdown resolves every request still waiting in the queue with
// ErrShutdown. Called only after Stop has closed stopCh and no further
// pushes are expected to matter to the caller shutting the engine down.
func (s *Scheduler) drainOnShutdown() {
	now := s.clock.Now()
	drained := 0
	for {
		req := s.queue.Pop(now)
		if req == nil {
			break
		}
		req.resolve(Outcome{Err: ErrShutdown})
		drained++
	}
	if drained > 0 {
		logrus.Infof("engine: shutdown drained %d queued request(s) with ErrShutdown", drained)
	}
}
