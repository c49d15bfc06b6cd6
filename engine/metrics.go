// Engine-wide metrics: throughput, GPU utilization, cost, Jain's fairness,
// and dispatcher window/entropy state, per SPEC_FULL.md §6.
//
// Grounded in the teacher's Metrics aggregator (sim/metrics.go), which
// accumulates running totals under a single struct and exposes a Print/
// snapshot method rather than computing derived statistics inline at the
// call site that needs them. The percentile helper is ported from the
// teacher's hand-rolled CalculatePercentile (sim/metrics_utils.go) to
// gonum/stat + gonum/floats now that gonum is a direct dependency rather
// than an indirect one (SPEC_FULL.md §10).

package engine

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MetricsSnapshot is the point-in-time metrics view exposed to the
// observability collaborator (SPEC_FULL.md §6's metrics_snapshot output),
// enriched with latency percentiles the distilled spec doesn't name but
// the teacher's dashboards (sim/metrics.go's Print) expect.
type MetricsSnapshot struct {
	ThroughputTPS     float64
	GPUUtilization    float64
	CostPerMToken     float64
	JainFairness      float64
	CurrentEntropy    float64
	CurrentWindowMs   float64
	QueueDepth        int
	LatencyP50Seconds float64
	LatencyP99Seconds float64
	FailuresByTenant  map[string]int
}

// Metrics accumulates running totals for the lifetime of an Engine. All
// fields are guarded by mu; reads happen from whatever goroutine calls
// Snapshot (e.g. an HTTP metrics handler) while writes happen from the
// scheduler's worker goroutine.
type Metrics struct {
	mu sync.Mutex

	clock     Clock
	startTime int64

	totalTokensProduced float64
	gpuBusyNanos        int64
	perTenantTokens     map[string]float64
	failuresByTenant    map[string]int
	batchLatencies      []float64

	currentEntropy  float64
	currentWindowMs float64
}

// NewMetrics creates a Metrics that measures wall time from now, per clock.
func NewMetrics(clock Clock) *Metrics {
	return &Metrics{
		clock:            clock,
		startTime:        clock.Now(),
		perTenantTokens:  make(map[string]float64),
		failuresByTenant: make(map[string]int),
	}
}

// recordWindow records the entropy and resulting adaptive window computed
// at the start of a scheduler iteration (SPEC_FULL.md §4.5 step 1-2).
func (m *Metrics) recordWindow(h float64, w time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentEntropy = h
	m.currentWindowMs = float64(w) / float64(time.Millisecond)
}

// recordBatch folds a successfully dispatched batch's cost and timing into
// the running totals used by the derived metric formulas.
func (m *Metrics) recordBatch(batch *Batch, result BatchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gpuBusyNanos += int64(result.WallTimeSeconds * float64(time.Second))
	m.batchLatencies = append(m.batchLatencies, result.WallTimeSeconds)
	for _, r := range batch.Requests {
		m.totalTokensProduced += float64(r.TokensRequested)
		m.perTenantTokens[r.TenantID] += float64(r.TokensRequested)
	}
}

// recordFailure counts a dispatch failure against tenantID. Dispatch
// failures affect metrics but never refill the tenant's bucket
// (SPEC_FULL.md §7's propagation policy).
func (m *Metrics) recordFailure(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failuresByTenant[tenantID]++
}

// Snapshot computes the derived metric formulas from SPEC_FULL.md §6 against
// the accumulated totals. queueDepth is supplied by the caller since the
// queue is not owned by Metrics.
func (m *Metrics) Snapshot(queueDepth int) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallTime := float64(m.clock.Now()-m.startTime) / float64(time.Second)

	var throughput float64
	if wallTime > 0 {
		throughput = m.totalTokensProduced / wallTime
	}

	var gpuUtil float64
	if wallTime > 0 {
		gpuUtil = (float64(m.gpuBusyNanos) / float64(time.Second)) / wallTime
	}

	var costPerMToken float64
	if throughput > 0 {
		costPerMToken = (3.00 / 3600) / throughput * 1_000_000
	}

	tokensPerTenant := make([]float64, 0, len(m.perTenantTokens))
	for _, v := range m.perTenantTokens {
		tokensPerTenant = append(tokensPerTenant, v)
	}

	failures := make(map[string]int, len(m.failuresByTenant))
	for k, v := range m.failuresByTenant {
		failures[k] = v
	}

	p50, p99 := latencyPercentiles(m.batchLatencies)

	return MetricsSnapshot{
		ThroughputTPS:     throughput,
		GPUUtilization:    gpuUtil,
		CostPerMToken:     costPerMToken,
		JainFairness:      jainFairness(tokensPerTenant),
		CurrentEntropy:    m.currentEntropy,
		CurrentWindowMs:   m.currentWindowMs,
		QueueDepth:        queueDepth,
		LatencyP50Seconds: p50,
		LatencyP99Seconds: p99,
		FailuresByTenant:  failures,
	}
}

// jainFairness computes (Sum xi)^2 / (n * Sum xi^2) per SPEC_FULL.md §6.
// Returns 0 when there is no data to measure, rather than NaN.
func jainFairness(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := floats.Sum(xs)
	var sumSq float64
	for _, x := range xs {
		sumSq += x * x
	}
	if sumSq == 0 {
		return 0
	}
	return (sum * sum) / (float64(len(xs)) * sumSq)
}

// latencyPercentiles returns the p50/p99 of recorded per-batch wall times.
// gonum/stat.Quantile requires its input sorted ascending; floats.Sort does
// that in place over a defensive copy so the caller's slice order (append
// order, i.e. dispatch order) is left untouched.
func latencyPercentiles(samples []float64) (p50, p99 float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), samples...)
	floats.Sort(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil),
		stat.Quantile(0.99, stat.Empirical, sorted, nil)
}
