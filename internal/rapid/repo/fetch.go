package repo

import (
	"net/url"
	"path"
	"strings"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
)

// MasterRecord builds the Download record that refetches the repo master,
// matching original_source's noCache/useETags pair for files that change
// rarely but must never serve stale data once they do change.
func MasterRecord(springDir, masterURL string) *download.Record {
	name := springDir + "/rapid/" + sanitizeURLPath(masterURL)
	rec := download.NewHTTPRecord(name, masterURL, download.CategoryNone, []string{masterURL})
	rec.NoCache = true
	rec.UseETags = true
	return rec
}

// VersionsRecord builds the Download record that refetches one repo's
// versions file.
func VersionsRecord(springDir string, repo MasterEntry) *download.Record {
	versionsURL := strings.TrimRight(repo.URL, "/") + "/versions.gz"
	name := springDir + "/rapid/" + sanitizeURLPath(repo.URL) + "/versions.gz"
	rec := download.NewHTTPRecord(name, versionsURL, download.CategoryNone, []string{versionsURL})
	rec.NoCache = true
	rec.UseETags = true
	return rec
}

// sanitizeURLPath turns a repo URL into a filesystem-safe path component,
// mirroring xssnick-tonutils-storage-provider's filename-sanitization
// idiom of replacing path-hostile characters rather than hashing the URL
// away entirely (so the cache directory stays human-inspectable).
func sanitizeURLPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return sanitize(rawURL)
	}
	return sanitize(u.Host + u.Path)
}

func sanitize(s string) string {
	s = path.Clean("/" + s)[1:]
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', ':', '?', '"', '<', '>', '|':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
