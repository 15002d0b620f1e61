package repo

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/beyond-all-reason/pr-downloader/internal/cache"
)

// Index caches parsed master/versions entries across process runs, keyed
// by repo URL, so a resolver that already has a fresh local copy of a
// versions file doesn't re-parse its gzip stream on every search. A miss
// is not an error: the caller falls back to ParseVersions/ParseMaster and
// then backfills the cache via Put.
type Index struct {
	store *cache.Store
}

func NewIndex(store *cache.Store) *Index { return &Index{store: store} }

func versionsKey(repoURL string) string { return "versions:" + repoURL }

const masterKey = "master"

// Versions returns the cached parse of repoURL's versions file, if any.
func (idx *Index) Versions(repoURL string) ([]VersionEntry, bool, error) {
	raw, err := idx.store.Get(versionsKey(repoURL))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repo: read cached versions for %s: %w", repoURL, err)
	}
	var entries []VersionEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("repo: decode cached versions for %s: %w", repoURL, err)
	}
	return entries, true, nil
}

// PutVersions caches entries for repoURL, replacing whatever was cached
// before.
func (idx *Index) PutVersions(repoURL string, entries []VersionEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("repo: encode versions for %s: %w", repoURL, err)
	}
	return idx.store.Put(versionsKey(repoURL), raw)
}

// Master returns the cached parse of the repo master, if any.
func (idx *Index) Master() ([]MasterEntry, bool, error) {
	raw, err := idx.store.Get(masterKey)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repo: read cached master: %w", err)
	}
	var entries []MasterEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("repo: decode cached master: %w", err)
	}
	return entries, true, nil
}

// PutMaster caches the repo master's parsed entries.
func (idx *Index) PutMaster(entries []MasterEntry) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("repo: encode master: %w", err)
	}
	return idx.store.Put(masterKey, raw)
}
