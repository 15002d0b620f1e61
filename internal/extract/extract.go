// Package extract defines the interface the resolver calls after an
// engine archive has finished downloading. Real 7z/zip extraction is out
// of scope; Noop is the only body shipped, standing in for a future
// platform-specific extractor the CLI would wire in its place.
package extract

import "context"

// Extractor unpacks archivePath into destDir.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// Noop is an Extractor that does nothing and always succeeds, used when no
// real extraction backend is configured.
type Noop struct{}

func (Noop) Extract(ctx context.Context, archivePath, destDir string) error {
	return nil
}
