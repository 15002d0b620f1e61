package transfer

import (
	"container/heap"
	"math/rand"
	"time"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
)

// retryItem is a pending retry, scheduled for re-attempt at dueAt.
type retryItem struct {
	record     *download.Record
	attemptNum int
	dueAt      time.Time
}

// retryHeap is a min-heap keyed by dueAt: the next record due for
// re-attempt is always at the root.
type retryHeap []*retryItem

func (h retryHeap) Len() int            { return len(h) }
func (h retryHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h retryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x interface{}) { *h = append(*h, x.(*retryItem)) }
func (h *retryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newRetryHeap() *retryHeap {
	h := &retryHeap{}
	heap.Init(h)
	return h
}

func (h *retryHeap) push(item *retryItem) { heap.Push(h, item) }

// peekDue returns the head item's due time without popping, or the zero
// time if the heap is empty.
func (h *retryHeap) peekDue() (time.Time, bool) {
	if h.Len() == 0 {
		return time.Time{}, false
	}
	return (*h)[0].dueAt, true
}

// popDue pops and returns the head item if it is due at or before now.
func (h *retryHeap) popDue(now time.Time) *retryItem {
	if h.Len() == 0 {
		return nil
	}
	if (*h)[0].dueAt.After(now) {
		return nil
	}
	return heap.Pop(h).(*retryItem)
}

// backoff computes the delay before retryNum's attempt: base 100ms *
// 2^(retryNum-1), jittered by a uniform factor in [0.7, 1.2), capped at 5s.
// If the server specified a positive Retry-After, it is used verbatim; the
// caller aborts the retry outright before calling backoff at all if that
// value exceeds maxRetryAfter, rather than silently shortening it here.
func backoff(retryNum int, serverRetryAfter time.Duration, rng *rand.Rand) time.Duration {
	if serverRetryAfter > 0 {
		return serverRetryAfter
	}

	shift := retryNum - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 20 { // guard against absurd exponent overflow
		shift = 20
	}
	base := float64(backoffBase) * float64(uint64(1)<<uint(shift))

	jitter := 0.7 + rng.Float64()*(1.2-0.7)
	d := time.Duration(base * jitter)
	if d > backoffCap {
		d = backoffCap
	}
	if d < 0 {
		d = backoffCap
	}
	return d
}
