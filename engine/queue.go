// The lazy-aged priority queue requests wait in once admitted.
//
// Grounded in the teacher's EventQueue (sim/simulator.go), which implements
// container/heap.Interface over a concrete ordering key; generalized here
// from "order by event timestamp" to "order by static bid, lazily rescanned
// for time-dependent aging at pop time" per SPEC_FULL.md §4.3. The aging
// formula itself is grounded in sim/priority.go's SLOBasedPriority, which
// adds an age*weight term to a base score — here inverted into an
// effective-priority *key* (smaller sorts first) rather than a score.

package engine

import (
	"container/heap"
	"sync"
)

// rescanWidthFactor sets rescanWidth = maxBatch*rescanWidthFactor (K in
// SPEC_FULL.md §4.3, option (b)): enough depth for the aging term to reorder
// past a full batch's worth of same-or-lower-bid neighbors while keeping Pop
// O(K).
const rescanWidthFactor = 4

// heapEntry is one request's slot in the underlying static-priority heap.
type heapEntry struct {
	negBasePriority int   // -priority_bid; smaller sorts first
	arrivalTime     int64 // copied from the request for aging recomputation
	seq             int64 // monotonic tiebreaker assigned at push
	request         *Request
}

// staticHeap orders entries by (negBasePriority, seq) ascending — i.e. by
// priority_bid descending, then by arrival order. It never reflects aging;
// aging is applied only at Pop time over the rescan window.
type staticHeap []*heapEntry

func (h staticHeap) Len() int { return len(h) }
func (h staticHeap) Less(i, j int) bool {
	if h[i].negBasePriority != h[j].negBasePriority {
		return h[i].negBasePriority < h[j].negBasePriority
	}
	return h[i].seq < h[j].seq
}
func (h staticHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *staticHeap) Push(x any)   { *h = append(*h, x.(*heapEntry)) }
func (h *staticHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// PriorityQueue is a min-ordered, lazily-aged queue of admitted requests.
// All mutations are serialized by a single mutex: the worker is the sole
// popper, but many ingress goroutines push concurrently (SPEC_FULL.md §5).
type PriorityQueue struct {
	mu          sync.Mutex
	h           staticHeap
	alpha       float64 // aging coefficient, priority-units per second
	nextSeq     int64
	rescanWidth int
}

// NewPriorityQueue creates an empty queue with the given aging coefficient
// alpha (SPEC_FULL.md §4.3; default 1.0) and a rescan width derived from
// maxBatch (SPEC_FULL.md §6's max_batch override).
func NewPriorityQueue(alpha float64, maxBatch int) *PriorityQueue {
	return &PriorityQueue{alpha: alpha, rescanWidth: maxBatch * rescanWidthFactor}
}

// Push inserts req with a fresh monotonic seq, ordered initially by its
// static priority_bid alone.
func (q *PriorityQueue) Push(req *Request, now int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextSeq++
	entry := &heapEntry{
		negBasePriority: -req.PriorityBid,
		arrivalTime:     req.ArrivalTime,
		seq:             q.nextSeq,
		request:         req,
	}
	req.seq = entry.seq
	req.State = StateQueued
	heap.Push(&q.h, entry)
	_ = now // arrival_time is already on req; now is accepted for API symmetry with Pop/Peek
}

// effectiveKey computes P_eff(entry, now) = -(priority_bid + alpha*age).
// Smaller sorts first, matching SPEC_FULL.md §4.3.
func (q *PriorityQueue) effectiveKey(e *heapEntry, now int64) float64 {
	priorityBid := float64(-e.negBasePriority)
	ageSeconds := float64(now-e.arrivalTime) / 1e9
	return -(priorityBid + q.alpha*ageSeconds)
}

// bestCandidate pops up to rescanWidth entries off the static heap, finds
// the one with the minimum effective priority at now (ties broken by seq),
// and returns it along with the full candidate set so the caller can decide
// whether to restore all of them (Peek) or all but the winner (Pop). Caller
// must hold q.mu.
func (q *PriorityQueue) bestCandidate(now int64) (winnerIdx int, candidates []*heapEntry) {
	width := q.rescanWidth
	if width > len(q.h) {
		width = len(q.h)
	}
	candidates = make([]*heapEntry, 0, width)
	for i := 0; i < width; i++ {
		candidates = append(candidates, heap.Pop(&q.h).(*heapEntry))
	}

	winnerIdx = 0
	bestKey := q.effectiveKey(candidates[0], now)
	for i := 1; i < len(candidates); i++ {
		key := q.effectiveKey(candidates[i], now)
		if key < bestKey || (key == bestKey && candidates[i].seq < candidates[winnerIdx].seq) {
			winnerIdx, bestKey = i, key
		}
	}
	return winnerIdx, candidates
}

// Pop removes and returns the entry with the minimum effective priority at
// now, breaking ties by seq. It recomputes aging over up to rescanWidth
// candidates ordered by static priority (see rescanWidth), per the lazy
// monotonicity option (b) in SPEC_FULL.md §4.3. Returns nil if empty.
func (q *PriorityQueue) Pop(now int64) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}

	winnerIdx, candidates := q.bestCandidate(now)
	for i, c := range candidates {
		if i != winnerIdx {
			heap.Push(&q.h, c)
		}
	}
	return candidates[winnerIdx].request
}

// Peek returns the same entry Pop(now) would return, without removing it or
// disturbing seq ordering.
func (q *PriorityQueue) Peek(now int64) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}

	winnerIdx, candidates := q.bestCandidate(now)
	winner := candidates[winnerIdx]
	for _, c := range candidates {
		heap.Push(&q.h, c)
	}
	return winner.request
}

// Len reports the number of requests currently queued.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
