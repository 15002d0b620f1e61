package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
)

func newTestRNG() *rand.Rand {
	return rand.New(rand.NewSource(1)) //nolint:gosec // deterministic test seed
}

func testEngine(t *testing.T, fs afero.Fs, ratePerSecond int) *Engine {
	t.Helper()
	return New(Options{
		Client:        http.DefaultClient,
		Fs:            fs,
		Logger:        zerolog.Nop(),
		RatePerSecond: ratePerSecond,
	})
}

func TestRunDownloadsAndVerifiesHash(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")
	digest := md5.Sum(body)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	rec := download.NewHTTPRecord("/out/fox.bin", "fox", download.CategoryHTTP, []string{server.URL})
	rec.SetExpectedHash(hashchain.Digest(digest))

	e := testEngine(t, fs, 0)
	if err := e.Run(context.Background(), []*download.Record{rec}, RunOptions{MaxParallel: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rec.State() != download.StateFinished {
		t.Fatalf("state = %v, want finished", rec.State())
	}
	got, err := afero.ReadFile(fs, "/out/fox.bin")
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("content mismatch: got %q", got)
	}
	if exists, _ := afero.Exists(fs, "/out/fox.bin.tmp"); exists {
		t.Fatal("tmp file left behind after commit")
	}
}

func TestRunRetriesOnServerErrorThenSucceeds(t *testing.T) {
	body := []byte("retry me")
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(body)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	rec := download.NewHTTPRecord("/out/retry.bin", "retry", download.CategoryHTTP, []string{server.URL})

	e := testEngine(t, fs, 0)
	if err := e.Run(context.Background(), []*download.Record{rec}, RunOptions{MaxParallel: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.State() != download.StateFinished {
		t.Fatalf("state = %v, want finished after retries", rec.State())
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 calls, got %d", calls.Load())
	}
}

func TestRunFailsOutrightOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	rec := download.NewHTTPRecord("/out/missing.bin", "missing", download.CategoryHTTP, []string{server.URL})

	e := testEngine(t, fs, 0)
	if err := e.Run(context.Background(), []*download.Record{rec}, RunOptions{MaxParallel: 1}); !errors.Is(err, errBatchAborted) {
		t.Fatalf("Run: got %v, want errBatchAborted (a non-retryable failure aborts the batch)", err)
	}
	if rec.State() != download.StateFailed {
		t.Fatalf("state = %v, want failed", rec.State())
	}
}

func TestRunHonorsNotModified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("cached body"))
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	cached := []byte("cached body")
	_ = afero.WriteFile(fs, "/out/cached.bin", cached, 0o644)
	cachedDigest := md5.Sum(cached)
	_ = afero.WriteFile(fs, "/out/cached.bin.etag", []byte(hex.EncodeToString(cachedDigest[:])+`:"v1"`), 0o644)

	rec := download.NewHTTPRecord("/out/cached.bin", "cached", download.CategoryHTTP, []string{server.URL})
	rec.UseETags = true

	e := testEngine(t, fs, 0)
	if err := e.Run(context.Background(), []*download.Record{rec}, RunOptions{MaxParallel: 1}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.State() != download.StateFinished {
		t.Fatalf("state = %v, want finished", rec.State())
	}
	got, err := afero.ReadFile(fs, "/out/cached.bin")
	if err != nil || string(got) != "cached body" {
		t.Fatalf("existing cached file should be left untouched: %v %q", err, got)
	}
}

// TestHandleResultExhaustsRetries exercises the attemptNum >= maxRetries
// branch directly, without waiting out real backoff sleeps the way an
// end-to-end run against an always-failing server would.
func TestHandleResultExhaustsRetries(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := download.NewHTTPRecord("/out/dead.bin", "dead", download.CategoryHTTP, []string{"http://example.invalid"})
	rec.MarkDownloading()

	e := testEngine(t, fs, 0)
	retries := newRetryHeap()
	rng := newTestRNG()

	ab := &abortFlag{}
	e.handleResult(attemptResult{record: rec, attemptNum: maxRetries, outcome: outcomeRetry}, retries, rng, ab)
	if !ab.Load() {
		t.Fatalf("exhausting retries should set the batch abort flag")
	}

	if rec.State() != download.StateFailed {
		t.Fatalf("state = %v, want failed once retries are exhausted", rec.State())
	}
	if retries.Len() != 0 {
		t.Fatalf("exhausted record should not be re-enqueued, got %d pending", retries.Len())
	}
}

func TestRunMultipleRecordsAllTerminate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	fs := afero.NewMemMapFs()
	var records []*download.Record
	for i := 0; i < 12; i++ {
		records = append(records, download.NewHTTPRecord(fmt.Sprintf("/out/f%d.bin", i), "f", download.CategoryHTTP, []string{server.URL}))
	}

	e := testEngine(t, fs, 0)
	if err := e.Run(context.Background(), records, RunOptions{MaxParallel: 4}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, rec := range records {
		if rec.State() != download.StateFinished {
			t.Fatalf("record %s: state = %v, want finished", rec.Name, rec.State())
		}
	}
}

// TestRunAbortsRemainingRecordsOnNonRetryableFailure exercises the batch
// abort cascade: one record's 404 is fatal outright, and that failure must
// cancel a sibling record that was still streaming, rather than letting it
// run to completion on its own.
func TestRunAbortsRemainingRecordsOnNonRetryableFailure(t *testing.T) {
	unblock := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		flusher, _ := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for {
			_, _ = w.Write([]byte("x"))
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-unblock:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	defer server.Close()
	defer close(unblock)

	fs := afero.NewMemMapFs()
	bad := download.NewHTTPRecord("/out/bad.bin", "bad", download.CategoryHTTP, []string{server.URL + "/bad"})
	slow := download.NewHTTPRecord("/out/slow.bin", "slow", download.CategoryHTTP, []string{server.URL + "/slow"})

	e := testEngine(t, fs, 0)
	if err := e.Run(context.Background(), []*download.Record{bad, slow}, RunOptions{MaxParallel: 2}); !errors.Is(err, errBatchAborted) {
		t.Fatalf("Run: got %v, want errBatchAborted", err)
	}
	if bad.State() != download.StateFailed {
		t.Fatalf("bad record: state = %v, want failed", bad.State())
	}
	if slow.State() != download.StateFailed {
		t.Fatalf("slow record: state = %v, want failed — it should have been canceled by bad's abort, not left to finish", slow.State())
	}
}

func TestRunAbortsOnContextCancel(t *testing.T) {
	unblock := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 3; i++ {
			_, _ = w.Write([]byte("x"))
			if flusher != nil {
				flusher.Flush()
			}
			select {
			case <-unblock:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}))
	defer server.Close()
	defer close(unblock)

	fs := afero.NewMemMapFs()
	rec := download.NewHTTPRecord("/out/slow.bin", "slow", download.CategoryHTTP, []string{server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(5*time.Millisecond, cancel)

	e := testEngine(t, fs, 0)
	err := e.Run(ctx, []*download.Record{rec}, RunOptions{MaxParallel: 1})
	if err == nil {
		t.Fatal("expected Run to return the cancellation error")
	}
	if rec.State() == download.StateNone {
		t.Fatalf("record should have left StateNone, got %v", rec.State())
	}
}
