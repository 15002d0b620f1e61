package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
)

// Start runs the full pipeline over every candidate Add selected and
// returns the process exit code to use: ExitNothingToDo if nothing was
// selected, ExitDependencyNotFound or ExitInsufficientDisk if a
// precondition fails before any transfer starts, ExitDownloadFailed if any
// selected record never reaches StateFinished, else ExitSuccess.
func (r *Resolver) Start(ctx context.Context) (int, error) {
	r.mu.Lock()
	selected := make([]Candidate, 0, len(r.selected))
	for id := range r.selected {
		selected = append(selected, r.candidates[id])
	}
	r.mu.Unlock()

	if len(selected) == 0 {
		return ExitNothingToDo, nil
	}

	if !r.disableFetchDepends {
		expanded, err := r.expandDependencies(ctx, selected)
		if err != nil {
			if errors.Is(err, errDependencyNotFound) {
				return ExitDependencyNotFound, err
			}
			return ExitDownloadFailed, err
		}
		selected = expanded
	}

	var totalSize int64
	for _, c := range selected {
		totalSize += c.Size
	}
	enough, err := hasEnoughDiskSpace(r.cfg.SpringDir, totalSize)
	if err != nil {
		return ExitDownloadFailed, err
	}
	if !enough {
		return ExitInsufficientDisk, fmt.Errorf("resolver: insufficient disk space at %s", r.cfg.SpringDir)
	}

	var rapidCandidates, httpCandidates []Candidate
	for _, c := range selected {
		if c.rapid != nil {
			rapidCandidates = append(rapidCandidates, c)
		} else {
			httpCandidates = append(httpCandidates, c)
		}
	}

	failed := false

	if err := r.runRapidPipeline(ctx, rapidCandidates); err != nil {
		r.log.Error().Err(err).Msg("rapid pipeline failed")
		failed = true
	}

	records, err := r.buildHTTPRecords(httpCandidates)
	if err != nil {
		return ExitDownloadFailed, err
	}
	if err := r.runHTTPPipeline(ctx, records); err != nil {
		r.log.Error().Err(err).Msg("http pipeline failed")
		failed = true
	}
	for _, rec := range records {
		if rec.State() != download.StateFinished {
			failed = true
		}
	}

	if err := r.extractEngines(ctx, records); err != nil {
		r.log.Error().Err(err).Msg("engine extraction failed")
		failed = true
	}

	if failed {
		return ExitDownloadFailed, fmt.Errorf("resolver: one or more records did not finish")
	}
	return ExitSuccess, nil
}
