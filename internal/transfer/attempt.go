package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
	"github.com/beyond-all-reason/pr-downloader/internal/stagedfile"
)

// errStrandFailed is the sentinel finalize reports when a prior chunk write
// on the same strand already latched a failure; the attempt's real error
// was already delivered by that earlier write, so this value is never
// surfaced to the caller.
var errStrandFailed = errors.New("transfer: strand already failed")

// runAttempt drives one HTTP request/response cycle for rec and reports
// exactly one attemptResult on done. It never blocks the engine's scheduler
// loop: its only synchronization point with the rest of the engine is
// st's strand, whose Result closures are run from Engine.Run's
// pool.PullResults() calls. ab is this batch's shared abort flag: the read
// loop polls it directly so a batch abort latched by some other record's
// outcome ends this attempt at the next chunk rather than waiting on ctx
// cancellation to reach the transport.
func runAttempt(ctx context.Context, e *Engine, ab *abortFlag, rec *download.Record, attemptNum int, st *strand, done chan<- attemptResult) {
	rec.AttemptID = uuid.New()
	log := e.log.With().Str("record", rec.Name).Int("attempt", attemptNum).Logger()

	if attemptNum == 1 {
		rec.MarkDownloading()
	}

	mirror, err := pickMirror(rec, attemptNum)
	if err != nil {
		done <- attemptResult{record: rec, attemptNum: attemptNum, outcome: outcomeFailed, err: download.Wrap(download.KindNoMirrors, err)}
		return
	}

	// attemptCtx is canceled by the stall watchdog below if the response
	// body goes quiet for lowSpeedWindow, standing in for curl's
	// low-speed abort timers; net/http has no per-read idle deadline of
	// its own to hook into.
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, mirror, nil)
	if err != nil {
		done <- attemptResult{record: rec, attemptNum: attemptNum, outcome: outcomeFailed, err: download.Wrap(download.KindParseError, err)}
		return
	}
	applyRequestHeaders(req, rec, attemptNum, e.fs)

	stall := time.AfterFunc(lowSpeedWindow, cancelAttempt)
	defer stall.Stop()

	resp, err := e.client.Do(req)
	if err != nil {
		cerr := classifyTransportError(err)
		done <- attemptResult{record: rec, attemptNum: attemptNum, outcome: retryableOutcome(cerr), err: cerr}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		log.Debug().Msg("not modified, keeping cached copy")
		done <- attemptResult{record: rec, attemptNum: attemptNum, outcome: outcomeFinished}
		return
	}

	if resp.StatusCode >= 400 {
		cerr := classifyStatus(resp.StatusCode)
		outcome := retryableOutcome(cerr)
		if outcome == outcomeRetry {
			cerr.RetryAfter = parseRetryAfterSeconds(resp.Header.Get("Retry-After"))
		}
		done <- attemptResult{
			record: rec, attemptNum: attemptNum, outcome: outcome, err: cerr,
			retryAfter: time.Duration(cerr.RetryAfter) * time.Second,
		}
		return
	}

	// etag, if non-empty, is written only once the staged file has been
	// committed: writing it any earlier would point the next run's
	// If-None-Match at content that may never land (hash mismatch, write
	// error, batch abort), poisoning that run's conditional request.
	etag := ""
	if rec.UseETags {
		etag = resp.Header.Get("ETag")
	}

	file, err := stagedfile.Open(e.fs, rec.Name)
	if err != nil {
		done <- attemptResult{record: rec, attemptNum: attemptNum, outcome: outcomeFailed, err: download.Wrap(download.KindIoWrite, err)}
		return
	}
	rec.SetFile(file)

	// RunningHash is a property of how the record was constructed
	// (NewHTTPRecord vs. NewRapidPoolRecord), never inferred here from
	// Category: a game downloaded through the search-service HTTP path
	// carries CategoryGame too, but its body is plain bytes verified against
	// a plain MD5, not a gzip-composite pool object.
	hash := rec.RunningHash

	doneCh := make(chan error, 2)
	received := int64(0)

	buf := make([]byte, chunkBufferSize)
	readErr := error(nil)
readLoop:
	for {
		if ab.Load() {
			readErr = context.Canceled
			break readLoop
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			stall.Reset(lowSpeedWindow)
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			received += int64(n)
			progress := received
			st.submit(func() error {
				ok, werr := file.Write(chunk)
				if !ok {
					if werr == nil {
						werr = io.ErrShortWrite
					}
					return download.Wrap(download.KindIoWrite, werr)
				}
				hash.Update(chunk)
				rec.SetProgress(progress)
				return nil
			}, func(werr error) { doneCh <- werr })
		}
		if rerr != nil {
			if rerr != io.EOF {
				readErr = rerr
			}
			break readLoop
		}
		select {
		case werr := <-doneCh:
			_ = file.Close(true)
			cerr := asDownloadError(werr, download.KindIoWrite)
			done <- attemptResult{record: rec, attemptNum: attemptNum, outcome: retryableOutcome(cerr), err: cerr}
			return
		default:
		}
	}

	if readErr != nil {
		_ = file.Close(true)
		cerr := classifyTransportError(readErr)
		done <- attemptResult{record: rec, attemptNum: attemptNum, outcome: retryableOutcome(cerr), err: cerr}
		return
	}

	st.finalize(func() error {
		hash.Final()
		if !rec.HashMatches() {
			_ = file.Close(true)
			return download.Wrap(download.KindHashMismatch, fmt.Errorf("hash mismatch for %s: got %s", rec.Name, hash.Digest()))
		}
		if cerr := file.Close(false); cerr != nil {
			return download.Wrap(download.KindIoRename, cerr)
		}
		if etag != "" {
			_ = writeETag(e.fs, rec.Name, etag)
		}
		if rec.WriteChecksumSidecar {
			_ = writeChecksumSidecar(e.fs, rec.Name, hash.Digest())
		}
		return nil
	}, func(ferr error) { doneCh <- ferr })

	if ferr := <-doneCh; ferr != nil && !errors.Is(ferr, errStrandFailed) {
		done <- attemptResult{record: rec, attemptNum: attemptNum, outcome: outcomeFailed, err: ferr}
		return
	} else if ferr != nil {
		// errStrandFailed: the real error was already reported by the chunk
		// write whose failure latched the strand; nothing further to report.
		return
	}

	done <- attemptResult{record: rec, attemptNum: attemptNum, outcome: outcomeFinished}
}

// pickMirror chooses a mirror uniformly at random on every attempt,
// including retries: nothing here tracks which mirror a previous attempt
// used. rand.Intn draws from the package-level global source, which is
// safe to call from the many concurrent runAttempt goroutines a batch runs
// at once.
func pickMirror(rec *download.Record, attemptNum int) (string, error) {
	if len(rec.Mirrors) == 0 {
		return "", fmt.Errorf("no mirrors for %s", rec.Name)
	}
	return rec.Mirrors[rand.Intn(len(rec.Mirrors))], nil
}

func applyRequestHeaders(req *http.Request, rec *download.Record, attemptNum int, fs afero.Fs) {
	req.Header.Set("X-Prd-Retry-Num", strconv.Itoa(attemptNum-1))
	if rec.NoCache {
		req.Header.Set("Cache-Control", "no-cache")
	}
	if rec.UseETags {
		if etag, ok := readETag(fs, rec.Name); ok {
			req.Header.Set("If-None-Match", etag)
		}
	}
}

func parseRetryAfterSeconds(v string) int {
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
