package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/sdp"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/streamer"
	"github.com/beyond-all-reason/pr-downloader/internal/transfer"
)

// runRapidPipeline fetches every selected rapid candidate's package. One
// package failing does not abort the others; the first error is returned
// so Start can still report overall failure.
func (r *Resolver) runRapidPipeline(ctx context.Context, candidates []Candidate) error {
	var firstErr error
	for _, c := range candidates {
		if err := r.fetchRapidPackage(ctx, c); err != nil {
			r.log.Error().Err(err).Str("tag", c.rapid.entry.Tag).Msg("rapid package failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// fetchRapidPackage fetches one candidate's SDP descriptor (if not already
// cached locally), then pulls every pool object it still needs, preferring
// the streamer protocol over the batch-HTTP fallback per UseStreamer.
func (r *Resolver) fetchRapidPackage(ctx context.Context, c Candidate) error {
	entry := c.rapid.entry
	repoURL := c.rapid.repoURL
	springDir := r.cfg.SpringDir

	descPath := sdp.DescriptorPath(springDir, entry.MD5)
	file, err := sdp.ParseFile(r.fs, descPath)
	if err != nil {
		mirror := strings.TrimRight(repoURL, "/") + "/packages/" + entry.MD5.String() + ".sdp"
		rec := download.NewHTTPRecord(descPath, entry.Tag, download.CategoryNone, []string{mirror})
		if runErr := r.engine.Run(ctx, []*download.Record{rec}, transfer.RunOptions{MaxParallel: 1}); runErr != nil {
			return fmt.Errorf("resolver: fetch sdp for %s: %w", entry.Tag, runErr)
		}
		file, err = sdp.ParseFile(r.fs, descPath)
		if err != nil {
			return fmt.Errorf("resolver: parse sdp for %s: %w", entry.Tag, err)
		}
	}

	var wanted []int
	for i, e := range file.Entries {
		needs, err := e.NeedsFetch(r.fs, springDir)
		if err != nil {
			return err
		}
		if needs {
			wanted = append(wanted, i)
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	if r.cfg.UseStreamer {
		if err := streamer.Fetch(ctx, r.http, r.fs, repoURL, springDir, file, wanted); err == nil {
			return nil
		}
		r.log.Warn().Str("tag", entry.Tag).Msg("streamer fetch failed, falling back to batch HTTP")
	}

	batchEntries := make([]sdp.Entry, 0, len(wanted))
	for _, idx := range wanted {
		batchEntries = append(batchEntries, file.Entries[idx])
	}
	records := streamer.BatchRecords(repoURL, springDir, batchEntries)
	if len(records) == 0 {
		return nil
	}
	return r.engine.Run(ctx, records, transfer.RunOptions{MaxParallel: streamer.BatchParallelism})
}
