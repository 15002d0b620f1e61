// Package repo parses the rapid package index: the repo master (a gzipped
// list of named repositories) and each repository's versions file (a
// gzipped list of packages, by tag, MD5, dependencies and descriptive
// name). Fetching itself goes through the transfer engine like any other
// Download record; this package only builds the records to fetch and
// parses what comes back, plus the age/ETag cache-gating decision that
// decides whether a refetch is needed at all. Grounded on
// xssnick-tonutils-storage-provider's pkg/storage bag-list refresh idiom
// (a cached local copy re-validated against a remote source only past a
// staleness threshold) and
// original_source/src/Downloader/Rapid/Repo.cpp's "already downloaded file,
// repo master rarely changes" cache-gate comment.
package repo

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
)

// MasterEntry is one rapid repository named by the repo master file.
type MasterEntry struct {
	ShortName string
	URL       string
}

// VersionEntry is one package named by a repo's versions file.
type VersionEntry struct {
	Tag             string
	MD5             hashchain.Digest
	Depends         []string
	DescriptiveName string
	RepoURL         string
}

// RecheckInterval is how long a locally cached repo master or versions file
// is trusted before it is considered stale and refetched, mirroring
// xssnick-tonutils-storage-provider's own "rarely changes" cache-gate for
// its bag list.
const RecheckInterval = time.Hour

// ParseMaster reads the repo master format: one gzipped line per repo,
// `<shortname>,<url>[,...]`; any fields after the second are ignored.
// Blank lines are skipped.
func ParseMaster(r io.Reader) ([]MasterEntry, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("repo: open master gzip stream: %w", err)
	}
	defer zr.Close()

	var entries []MasterEntry
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, ",", 3)
		if len(fields) < 2 {
			return nil, fmt.Errorf("repo: invalid master line %q", line)
		}
		entries = append(entries, MasterEntry{ShortName: fields[0], URL: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("repo: scan master: %w", err)
	}
	return entries, nil
}

// ParseVersions reads one repo's versions format: one gzipped line per
// package, `<tag>,<md5>,<deps_pipe_separated>,<descriptive_name>`. The
// descriptive name is everything after the third comma, so it may itself
// contain commas.
func ParseVersions(repoURL string, r io.Reader) ([]VersionEntry, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("repo: open versions gzip stream: %w", err)
	}
	defer zr.Close()

	var entries []VersionEntry
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, ",", 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("repo: invalid versions line %q", line)
		}
		digest, ok := hashchain.ParseDigest(fields[1])
		if !ok {
			return nil, fmt.Errorf("repo: invalid md5 in versions line %q", line)
		}
		var deps []string
		if fields[2] != "" {
			deps = strings.Split(fields[2], "|")
		}
		entries = append(entries, VersionEntry{
			Tag:             fields[0],
			MD5:             digest,
			Depends:         deps,
			DescriptiveName: fields[3],
			RepoURL:         repoURL,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("repo: scan versions: %w", err)
	}
	return entries, nil
}

// NeedsRefetch reports whether the cached file at path should be refetched:
// true if it is missing, or older than RecheckInterval.
func NeedsRefetch(fs afero.Fs, path string, now time.Time) (bool, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return true, nil
	}
	return now.Sub(info.ModTime()) >= RecheckInterval, nil
}

// Matches reports whether a user-supplied name selects entry, per the
// rapid matching rule: exact shortname, exact descriptive name, or the
// wildcard "*" (including the empty string).
func Matches(name string, entry VersionEntry) bool {
	if name == "" || name == "*" {
		return true
	}
	return name == entry.Tag || name == entry.DescriptiveName
}

// SelectRepos narrows master to only the repos named by tag, or returns
// master unchanged if tag is empty (no "<tag>:" prefix was present in the
// search term).
func SelectRepos(master []MasterEntry, tag string) []MasterEntry {
	if tag == "" {
		return master
	}
	var out []MasterEntry
	for _, m := range master {
		if m.ShortName == tag {
			out = append(out, m)
		}
	}
	return out
}

// SplitTag extracts a leading "<tag>:" prefix from a search term, if
// present, returning the tag and the remaining name.
func SplitTag(term string) (tag, name string) {
	if idx := strings.IndexByte(term, ':'); idx >= 0 {
		return term[:idx], term[idx+1:]
	}
	return "", term
}
