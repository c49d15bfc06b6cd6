// The modeled GPU dispatch backend: deterministic prefill/decode timing and
// KV-cache accounting for a dispatched Batch.
//
// Grounded in the teacher's LatencyModel extension point (sim/latency_model.go):
// a small interface with a factory-registered implementation, generalized
// here from per-token step timing against a discrete-event clock to
// per-batch wall-clock timing against a real one. SimulatedGPUBackend plays
// the role the teacher's BlackboxLatencyModel/RooflineLatencyModel play --
// the shipped model, swappable for a real backend that satisfies the same
// interface (SPEC_FULL.md §4.6).

package engine

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// BatchResult reports a dispatched batch's simulated timing and KV cost. The
// scheduler derives each request's resolved Result from it.
type BatchResult struct {
	WallTimeSeconds  float64
	PrefillSeconds   float64
	MaxDecodeSeconds float64
	BatchSize        int
	KVTokensUsed     int
}

// GPUBackend executes a Batch and reports timing. The shipped implementation
// is SimulatedGPUBackend; any real backend honoring this contract (timing
// model aside) may be substituted without scheduler changes.
type GPUBackend interface {
	// Run executes batch and blocks until it completes, returning the
	// timing/cost the scheduler needs to resolve each request's completion
	// handle. now is the dispatch time per the injected Clock.
	Run(batch *Batch, now int64) (BatchResult, error)
}

// GPUState tracks the simulated GPU's resource usage. It is owned
// exclusively by the scheduler's worker goroutine -- SPEC_FULL.md §5 is
// explicit that nothing else may mutate it -- so it carries no lock.
type GPUState struct {
	KVUsedTokens int
	BusyUntil    int64
}

// SimulatedGPUBackend implements the deterministic prefill/decode timing
// model of SPEC_FULL.md §4.6. It is a standalone value, not a requester of
// the scheduler's GPUState: its own KV bookkeeping exists only so
// Snapshot can report utilization for callers that want it outside the
// scheduler loop (e.g. a status endpoint), and is intentionally
// independent of the scheduler's authoritative GPUState.
type SimulatedGPUBackend struct {
	mu    sync.Mutex
	state GPUState

	prefillRateTokensPerSec float64
	decodeBaseTokensPerSec  float64
	kvMax                   int
	maxBatch                int
}

// NewSimulatedGPUBackend creates a backend using the given prefill rate
// (tokens/sec, PrefillRateTokensPerSec by default), decode base rate
// (tokens/sec at batch size 1, DecodeBaseTokensPerSec by default), and the
// kv_max/max_batch limits a correctly-built Batch must respect.
func NewSimulatedGPUBackend(prefillRateTokensPerSec, decodeBaseTokensPerSec float64, kvMax, maxBatch int) *SimulatedGPUBackend {
	return &SimulatedGPUBackend{
		prefillRateTokensPerSec: prefillRateTokensPerSec,
		decodeBaseTokensPerSec:  decodeBaseTokensPerSec,
		kvMax:                   kvMax,
		maxBatch:                maxBatch,
	}
}

// Run computes the batch's prefill/decode timing, occupies the modeled KV
// cache for the computed wall time, and returns the result. Oversize batches
// are a builder bug, not a backend concern (SPEC_FULL.md §4.6): Run panics
// rather than silently truncating, matching the teacher's
// panic-on-programmer-error convention (sim.NewAdmissionPolicy).
func (g *SimulatedGPUBackend) Run(batch *Batch, now int64) (BatchResult, error) {
	if batch == nil || len(batch.Requests) == 0 {
		return BatchResult{}, nil
	}

	total := batch.TotalTokens()
	if total > g.kvMax {
		panic(fmt.Sprintf("engine: GPUBackend received oversize batch (%d tokens > kv_max %d)", total, g.kvMax))
	}
	if len(batch.Requests) > g.maxBatch {
		panic(fmt.Sprintf("engine: GPUBackend received oversize batch (%d requests > max_batch %d)", len(batch.Requests), g.maxBatch))
	}

	maxInput := 0
	for _, r := range batch.Requests {
		if r.TokensRequested > maxInput {
			maxInput = r.TokensRequested
		}
	}
	prefillSeconds := float64(maxInput) / g.prefillRateTokensPerSec

	perItemRate := g.decodeBaseTokensPerSec * (0.4 + 0.6*math.Sqrt(float64(len(batch.Requests))))
	maxDecodeSeconds := 0.0
	for _, r := range batch.Requests {
		d := float64(r.TokensRequested) / perItemRate
		if d > maxDecodeSeconds {
			maxDecodeSeconds = d
		}
	}

	wallTime := prefillSeconds + maxDecodeSeconds
	dur := time.Duration(wallTime * float64(time.Second))

	g.mu.Lock()
	g.state.KVUsedTokens += total
	g.state.BusyUntil = now + dur.Nanoseconds()
	g.mu.Unlock()

	// The modeled GPU genuinely occupies wall-clock time while "executing";
	// a real backend replaces this sleep with an actual inference call.
	time.Sleep(dur)

	g.mu.Lock()
	g.state.KVUsedTokens -= total
	g.mu.Unlock()

	return BatchResult{
		WallTimeSeconds:  wallTime,
		PrefillSeconds:   prefillSeconds,
		MaxDecodeSeconds: maxDecodeSeconds,
		BatchSize:        len(batch.Requests),
		KVTokensUsed:     total,
	}, nil
}

// Snapshot reports the backend's own KV bookkeeping, for observability
// callers that run alongside the scheduler rather than inside it.
func (g *SimulatedGPUBackend) Snapshot() GPUState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
