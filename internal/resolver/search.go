package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/repo"
	"github.com/beyond-all-reason/pr-downloader/internal/search"
	"github.com/beyond-all-reason/pr-downloader/internal/transfer"
)

// Search resolves items against whichever providers can serve their
// category, appending newly discovered candidates and returning how many
// were found. The rapid and HTTP lookups run concurrently, grounded on
// digitalentity-juren-cluster's errgroup.WithContext fan-out in
// swarm/node/node.go's Run.
func (r *Resolver) Search(ctx context.Context, items []Item) (int, error) {
	resolved := make([]Item, len(items))
	for i, it := range items {
		resolved[i] = it
		if resolved[i].Category == "engine" {
			resolved[i].Category = search.PlatformEngineCategory()
		}
	}

	var rapidItems, httpItems []Item
	for _, it := range resolved {
		if isRapidCapable(it.Category) {
			rapidItems = append(rapidItems, it)
		}
		if isHTTPCapable(it.Category) {
			httpItems = append(httpItems, it)
		}
	}

	var rapidFound, httpFound []Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := r.searchRapid(gctx, rapidItems)
		if err != nil {
			return err
		}
		rapidFound = found
		return nil
	})
	g.Go(func() error {
		found, err := r.searchHTTP(gctx, httpItems)
		if err != nil {
			return err
		}
		httpFound = found
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range append(rapidFound, httpFound...) {
		c.ID = len(r.candidates)
		r.candidates = append(r.candidates, c)
		n++
	}
	return n, nil
}

// isRapidCapable reports whether category can be served by the rapid
// provider: games, and untyped/wildcard terms that might resolve to a game.
func isRapidCapable(category string) bool {
	return category == "" || category == "*" || category == "game"
}

// isHTTPCapable reports whether category can be served by the generic
// search service: maps, games (as the HTTP fallback), and any
// platform-specific engine.
func isHTTPCapable(category string) bool {
	return category == "map" || category == "game" || strings.HasPrefix(category, "engine-")
}

func (r *Resolver) searchHTTP(ctx context.Context, items []Item) ([]Candidate, error) {
	var out []Candidate
	for _, it := range items {
		results, err := r.searchCli.Search(ctx, it.Category, it.Name)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			out = append(out, Candidate{
				Category: res.Category,
				Name:     res.SpringName,
				Size:     res.Size,
				Depends:  res.Depends,
				http:     &res,
			})
		}
	}
	return out, nil
}

func (r *Resolver) searchRapid(ctx context.Context, items []Item) ([]Candidate, error) {
	if len(items) == 0 {
		return nil, nil
	}
	master, err := r.fetchMaster(ctx)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, it := range items {
		tag, name := repo.SplitTag(it.Name)
		for _, m := range repo.SelectRepos(master, tag) {
			versions, err := r.versionsFor(ctx, m)
			if err != nil {
				return nil, err
			}
			for _, v := range versions {
				if !repo.Matches(name, v) {
					continue
				}
				out = append(out, Candidate{
					Category: "game",
					Name:     v.DescriptiveName,
					Depends:  v.Depends,
					rapid:    &rapidCandidate{repoURL: m.URL, entry: v},
				})
			}
		}
	}
	return out, nil
}

// fetchMaster returns the parsed repo master, refetching it through the
// transfer engine first if the cached copy is stale or missing.
func (r *Resolver) fetchMaster(ctx context.Context) ([]repo.MasterEntry, error) {
	rec := repo.MasterRecord(r.cfg.SpringDir, r.cfg.RepoMasterURL)
	needs, err := repo.NeedsRefetch(r.fs, rec.Name, time.Now())
	if err != nil {
		return nil, err
	}
	if needs {
		if err := r.engine.Run(ctx, []*download.Record{rec}, transfer.RunOptions{MaxParallel: 1}); err != nil {
			return nil, fmt.Errorf("resolver: fetch repo master: %w", err)
		}
	}

	f, err := r.fs.Open(rec.Name)
	if err != nil {
		return nil, fmt.Errorf("resolver: open repo master %s: %w", rec.Name, err)
	}
	defer f.Close()
	return repo.ParseMaster(f)
}

// versionsFor returns m's parsed versions file, preferring the Index cache
// whenever the on-disk copy is still fresh and refetching through the
// transfer engine otherwise, backfilling the cache once parsed.
func (r *Resolver) versionsFor(ctx context.Context, m repo.MasterEntry) ([]repo.VersionEntry, error) {
	rec := repo.VersionsRecord(r.cfg.SpringDir, m)
	needs, err := repo.NeedsRefetch(r.fs, rec.Name, time.Now())
	if err != nil {
		return nil, err
	}
	if !needs && r.index != nil {
		if cached, ok, err := r.index.Versions(m.URL); err == nil && ok {
			return cached, nil
		}
	}

	if needs {
		if err := r.engine.Run(ctx, []*download.Record{rec}, transfer.RunOptions{MaxParallel: 1}); err != nil {
			return nil, fmt.Errorf("resolver: fetch versions for %s: %w", m.ShortName, err)
		}
	}

	f, err := r.fs.Open(rec.Name)
	if err != nil {
		return nil, fmt.Errorf("resolver: open versions file for %s: %w", m.ShortName, err)
	}
	defer f.Close()

	entries, err := repo.ParseVersions(m.URL, f)
	if err != nil {
		return nil, err
	}
	if r.index != nil {
		_ = r.index.PutVersions(m.URL, entries)
	}
	return entries, nil
}
