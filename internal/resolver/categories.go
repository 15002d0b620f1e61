package resolver

import (
	"strings"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
)

// categoryFor maps a search result's string category onto the Download
// record's Category enum.
func categoryFor(itemCategory string) download.Category {
	switch {
	case itemCategory == "map":
		return download.CategoryMap
	case itemCategory == "game":
		return download.CategoryGame
	case itemCategory == "engine":
		return download.CategoryEngine
	case strings.HasPrefix(itemCategory, "engine-"):
		return download.CategoryEnginePlatform
	default:
		return download.CategoryNone
	}
}

// subdirFor picks the destination subdirectory under SpringDir for a
// search result's category.
func subdirFor(category string) string {
	switch {
	case strings.HasPrefix(category, "map"):
		return "maps"
	case strings.HasPrefix(category, "game"):
		return "games"
	case strings.HasPrefix(category, "engine"):
		return "engine"
	default:
		return "other"
	}
}

// sanitizeFilename replaces every path-hostile character with "_". Unlike
// repo's own URL-path sanitizer, it also replaces "/": a destination
// filename has no directory structure of its own worth preserving.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '\\', '/', ':', '?', '"', '<', '>', '|':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
