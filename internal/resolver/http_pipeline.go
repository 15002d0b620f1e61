package resolver

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
	"github.com/beyond-all-reason/pr-downloader/internal/transfer"
)

// buildHTTPRecords turns every HTTP-sourced candidate into a Download
// record, wiring up its expected hash and checksum sidecar the way
// original_source's maps/games downloads always do.
func (r *Resolver) buildHTTPRecords(candidates []Candidate) ([]*download.Record, error) {
	var recs []*download.Record
	for _, c := range candidates {
		res := c.http
		if res == nil {
			continue
		}

		category := categoryFor(res.Category)
		name := filepath.Join(r.cfg.SpringDir, subdirFor(res.Category), sanitizeFilename(res.Filename))

		rec := download.NewHTTPRecord(name, res.SpringName, category, res.Mirrors)
		rec.Depends = res.Depends
		rec.WriteChecksumSidecar = true
		if category == download.CategoryEnginePlatform {
			rec.PlatformSlug = res.Category
		}
		if res.Size > 0 {
			rec.Size = res.Size
		}
		if res.MD5 != "" {
			digest, ok := hashchain.ParseDigest(res.MD5)
			if !ok {
				return nil, fmt.Errorf("resolver: invalid md5 %q for %s", res.MD5, res.SpringName)
			}
			rec.SetExpectedHash(digest)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// runHTTPPipeline drives records to completion, running engine downloads at
// MaxParallel=1 (a single engine archive is large enough that parallel
// mirrors fight over the same connection budget for no benefit) and
// everything else at the configured parallelism.
func (r *Resolver) runHTTPPipeline(ctx context.Context, records []*download.Record) error {
	var engineRecs, otherRecs []*download.Record
	for _, rec := range records {
		if rec.Category == download.CategoryEngine || rec.Category == download.CategoryEnginePlatform {
			engineRecs = append(engineRecs, rec)
		} else {
			otherRecs = append(otherRecs, rec)
		}
	}

	var firstErr error
	if len(otherRecs) > 0 {
		if err := r.engine.Run(ctx, otherRecs, transfer.RunOptions{MaxParallel: r.cfg.MaxParallelDownloads}); err != nil {
			firstErr = err
		}
	}
	if len(engineRecs) > 0 {
		if err := r.engine.Run(ctx, engineRecs, transfer.RunOptions{MaxParallel: 1}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// extractEngines hands every finished engine archive to the configured
// Extractor, into a directory named after the archive with its extension
// stripped.
func (r *Resolver) extractEngines(ctx context.Context, records []*download.Record) error {
	var firstErr error
	for _, rec := range records {
		if rec.Category != download.CategoryEngine && rec.Category != download.CategoryEnginePlatform {
			continue
		}
		if rec.State() != download.StateFinished {
			continue
		}
		destDir := rec.Name[:len(rec.Name)-len(filepath.Ext(rec.Name))]
		if err := r.extractor.Extract(ctx, rec.Name, destDir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("resolver: extract %s: %w", rec.Name, err)
		}
	}
	return firstErr
}
