package transfer

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"time"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
	"github.com/beyond-all-reason/pr-downloader/internal/iopool"
	"github.com/beyond-all-reason/pr-downloader/internal/ratelimit"
)

// errBatchAborted is Run's return value when it exits early because some
// record's outcome set the batch's abort flag, as distinct from the ctx
// itself having been canceled by the caller.
var errBatchAborted = errors.New("transfer: batch aborted after a non-retryable record failure")

// Run drives every record in records to completion (finished or failed),
// bounded by opts.MaxParallel in-flight attempts at once and gated by the
// engine's rate limiter. It returns nil once every record has reached a
// terminal state. Any record that fails for a non-retryable reason, that
// exhausts its retry budget, or whose server-supplied Retry-After exceeds
// maxRetryAfter sets the batch's shared abort flag: every other in-flight
// and pending record is then canceled and marked failed too, and Run
// returns a non-nil error (ctx.Err() if the caller canceled ctx itself,
// errBatchAborted otherwise).
//
// The scheduling shape replaces the original's curl-multi-handle polling
// loop with a goroutine-per-attempt fan-in: each in-flight attempt runs on
// its own goroutine and reports exactly one attemptResult on done, while
// this loop owns all shared state (the retry heap, the rate bucket, the
// I/O pool) single-threaded, so none of it needs its own lock.
func (e *Engine) Run(ctx context.Context, records []*download.Record, opts RunOptions) error {
	if len(records) == 0 {
		return nil
	}
	maxParallel := opts.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}

	pool := iopool.New(ioPoolSize(len(records), runtime.NumCPU()), ioQueueSlotsPerItem)
	defer pool.Finish()

	bucket := ratelimit.New(e.rate, 0, maxParallel)
	rng := rand.New(rand.NewSource(1)) //nolint:gosec // jitter only, not security sensitive

	pending := make([]*download.Record, len(records))
	copy(pending, records)
	rng.Shuffle(len(pending), func(i, j int) { pending[i], pending[j] = pending[j], pending[i] })

	retries := newRetryHeap()
	done := make(chan attemptResult, maxParallel)
	inFlight := 0
	aborted := false
	ab := &abortFlag{}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startAttempt := func(rec *download.Record, attemptNum int) {
		inFlight++
		st := newStrand(pool)
		go runAttempt(runCtx, e, ab, rec, attemptNum, st, done)
	}

	for {
		if !aborted && (ctx.Err() != nil || ab.Load()) {
			aborted = true
			ab.Store(true)
			cancel()
		}

		bucket.Refill()

		for !aborted && retries.Len() > 0 && inFlight < maxParallel {
			dueAt, ok := retries.peekDue()
			if !ok || dueAt.After(time.Now()) {
				break
			}
			if !bucket.GetToken() {
				break
			}
			item := retries.popDue(time.Now())
			if item == nil {
				break
			}
			startAttempt(item.record, item.attemptNum)
		}

		for !aborted && len(pending) > 0 && inFlight < maxParallel {
			if !bucket.GetToken() {
				break
			}
			rec := pending[0]
			pending = pending[1:]
			startAttempt(rec, 1)
		}

		if inFlight == 0 && (aborted || (len(pending) == 0 && retries.Len() == 0)) {
			break
		}

		wait := pollTimeout
		if dueAt, ok := retries.peekDue(); ok {
			if d := time.Until(dueAt); d < wait && d > 0 {
				wait = d
			}
		}
		timer := time.NewTimer(wait)
		select {
		case res := <-done:
			timer.Stop()
			inFlight--
			e.handleResult(res, retries, rng, ab)
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}

		pool.PullResults()
	}

	pool.PullResults()

	if aborted {
		for _, rec := range pending {
			rec.MarkFailed()
		}
		for retries.Len() > 0 {
			item := retries.popDue(time.Now().Add(24 * time.Hour))
			item.record.MarkFailed()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return errBatchAborted
	}
	return nil
}

// handleResult folds one attempt's outcome into the record's terminal
// state, re-enqueues it on the retry heap, or — for any outcome that isn't
// a plain retry — sets ab so Run's next loop iteration cancels every other
// in-flight and pending record in this batch.
func (e *Engine) handleResult(res attemptResult, retries *retryHeap, rng *rand.Rand, ab *abortFlag) {
	switch res.outcome {
	case outcomeFinished:
		res.record.MarkFinished()
	case outcomeFailed:
		res.record.MarkFailed()
		ab.Store(true)
		e.log.Warn().
			Str("record", res.record.Name).
			Int("attempt", res.attemptNum).
			Err(res.err).
			Msg("transfer failed permanently")
	case outcomeRetry:
		if res.retryAfter > maxRetryAfter {
			res.record.MarkFailed()
			ab.Store(true)
			e.log.Warn().
				Str("record", res.record.Name).
				Int("attempt", res.attemptNum).
				Dur("retry_after", res.retryAfter).
				Err(res.err).
				Msg("transfer aborted: server retry-after exceeds cap")
			return
		}
		if res.attemptNum >= maxRetries {
			res.record.MarkFailed()
			ab.Store(true)
			e.log.Warn().
				Str("record", res.record.Name).
				Int("attempt", res.attemptNum).
				Err(res.err).
				Msg("transfer exhausted retries")
			return
		}
		// The next attempt, attemptNum+1, is retry number attemptNum.
		wait := backoff(res.attemptNum, res.retryAfter, rng)
		retries.push(&retryItem{
			record:     res.record,
			attemptNum: res.attemptNum + 1,
			dueAt:      time.Now().Add(wait),
		})
		e.log.Debug().
			Str("record", res.record.Name).
			Int("attempt", res.attemptNum).
			Dur("backoff", wait).
			Err(res.err).
			Msg("transfer scheduled for retry")
	}
}

