package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchBuilder_EmptyQueueGivesEmptyBatch(t *testing.T) {
	q := NewPriorityQueue(1.0, MaxBatch)
	bb := NewBatchBuilder(MaxBatch, KVMax)
	batch := bb.Build(q, 0, 0)
	assert.Empty(t, batch.Requests)
}

// TestBatchBuilder_S6KVCacheBound matches SPEC_FULL.md §8 S6: 20 requests of
// 2000 tokens each, bid=5; a single batch holds at most
// floor(32768/2000)=16 (also capped by MaxBatch), leaving 4 behind.
func TestBatchBuilder_S6KVCacheBound(t *testing.T) {
	q := NewPriorityQueue(1.0, MaxBatch)
	for i := 0; i < 20; i++ {
		req := newTestRequest(idFor(i), 5, 0)
		req.TokensRequested = 2000
		q.Push(req, 0)
	}

	bb := NewBatchBuilder(MaxBatch, KVMax)
	batch := bb.Build(q, 0, 0)

	assert.Len(t, batch.Requests, 16)
	assert.LessOrEqual(t, batch.TotalTokens(), KVMax)
	assert.Equal(t, 4, q.Len())
}

func TestBatchBuilder_OversizedRequestBlocksHeadOfLine(t *testing.T) {
	q := NewPriorityQueue(1.0, MaxBatch)
	big := newTestRequest("big", 5, 0)
	big.TokensRequested = 100
	small := newTestRequest("small", 5, 0)
	small.TokensRequested = 10
	q.Push(big, 0)
	q.Push(small, 0)

	bb := NewBatchBuilder(MaxBatch, KVMax)
	// Budget only fits the small request, but big is at the head.
	batch := bb.Build(q, KVMax-50, 0)

	assert.Empty(t, batch.Requests, "an oversized head-of-line request must block rather than be skipped")
	assert.Equal(t, 2, q.Len())
}

func TestBatchBuilder_StopsAtMaxBatch(t *testing.T) {
	q := NewPriorityQueue(1.0, MaxBatch)
	for i := 0; i < MaxBatch+5; i++ {
		q.Push(newTestRequest(idFor(i), 5, 0), 0)
	}
	bb := NewBatchBuilder(MaxBatch, KVMax)
	batch := bb.Build(q, 0, 0)
	assert.Len(t, batch.Requests, MaxBatch)
	assert.Equal(t, 5, q.Len())
}

// TestBatchBuilder_BatchBudget is SPEC_FULL.md §8 invariant 5: for every
// dispatched batch, sum(tokens_requested) <= KVMax and size <= MaxBatch,
// across randomized queue contents and KV budgets already in use.
func TestBatchBuilder_BatchBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	bb := NewBatchBuilder(MaxBatch, KVMax)

	for trial := 0; trial < 50; trial++ {
		q := NewPriorityQueue(1.0, MaxBatch)
		n := rng.Intn(40)
		for i := 0; i < n; i++ {
			req := newTestRequest(idFor(i), 1+rng.Intn(10), 0)
			req.TokensRequested = 1 + rng.Intn(4000)
			q.Push(req, 0)
		}
		kvUsed := rng.Intn(KVMax)

		batch := bb.Build(q, kvUsed, 0)
		assert.LessOrEqual(t, len(batch.Requests), MaxBatch)
		assert.LessOrEqual(t, batch.TotalTokens(), KVMax-kvUsed)
	}
}
