// Package ratelimit implements the token-bucket rate limiter that governs
// HTTP request start rate. The bookkeeping is exact integer
// arithmetic (floor(rate_per_ms * elapsed_ms) minus tokens already
// recorded), not a continuously-draining approximation, so repeated Refill
// calls in a tight scheduler loop never double-credit tokens. No library in
// the example pack implements this exact "generated so far" accounting
// (golang.org/x/time/rate uses a different, continuous model), so this is a
// small hand-rolled stdlib-only type, grounded on
// xssnick-tonutils-storage-provider's own time.Now()/time.Since()-based
// bookkeeping idiom (internal/service/worker.go's
// lastTxAt/lastDownloadPercentUpdateAt fields).
package ratelimit

import "time"

// Bucket is a refillable token bucket capped at a burst size.
type Bucket struct {
	ratePerSecond int
	burstSize     int

	startTime      time.Time
	generatedSoFar int64
	bucket         int64

	now func() time.Time
}

// DefaultBurstSize returns max(rate/10, 5), capped at maxParallel.
func DefaultBurstSize(ratePerSecond, maxParallel int) int {
	burst := ratePerSecond / 10
	if burst < 5 {
		burst = 5
	}
	if burst > maxParallel {
		burst = maxParallel
	}
	return burst
}

// New creates a bucket. ratePerSecond == 0 means unlimited: GetToken always
// succeeds. burstSize <= 0 is replaced with DefaultBurstSize(ratePerSecond, maxParallel).
func New(ratePerSecond, burstSize, maxParallel int) *Bucket {
	if burstSize <= 0 {
		burstSize = DefaultBurstSize(ratePerSecond, maxParallel)
	}
	now := time.Now()
	return &Bucket{
		ratePerSecond: ratePerSecond,
		burstSize:     burstSize,
		startTime:     now,
		bucket:        0,
		now:           time.Now,
	}
}

// Refill computes the integer tokens that would have been generated by now
// at ratePerSecond, minus tokens already recorded as generated, and adds
// the difference to the bucket, capped at burstSize.
func (b *Bucket) Refill() {
	if b.ratePerSecond == 0 {
		return
	}

	elapsedMs := b.now().Sub(b.startTime).Milliseconds()
	if elapsedMs < 0 {
		elapsedMs = 0
	}

	// floor(rate_per_ms * elapsed_ms) computed as exact integer math:
	// rate_per_ms = ratePerSecond / 1000, so this is
	// floor(ratePerSecond * elapsedMs / 1000).
	totalGenerated := int64(b.ratePerSecond) * elapsedMs / 1000

	newTokens := totalGenerated - b.generatedSoFar
	if newTokens <= 0 {
		return
	}
	b.generatedSoFar = totalGenerated

	b.bucket += newTokens
	if b.bucket > int64(b.burstSize) {
		b.bucket = int64(b.burstSize)
	}
}

// GetToken returns true and decrements the bucket if a token is available.
// When ratePerSecond is 0 (unlimited), it always returns true.
func (b *Bucket) GetToken() bool {
	if b.ratePerSecond == 0 {
		return true
	}
	if b.bucket > 0 {
		b.bucket--
		return true
	}
	return false
}

// Available reports the current bucket level, for tests and diagnostics.
func (b *Bucket) Available() int64 {
	if b.ratePerSecond == 0 {
		return -1
	}
	return b.bucket
}
