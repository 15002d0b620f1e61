package repo

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/sdp"
)

// BrokenEntry names a pool object whose on-disk gzip-MD5 no longer matches
// the MD5 declared by the SDP descriptor that named it.
type BrokenEntry struct {
	Descriptor string
	Name       string
	MD5        string
}

// ValidatePool walks every "*.sdp" descriptor under poolRoot/packages and,
// for each entry whose pool object exists on disk, recomputes the
// decompressed MD5 and reports any mismatch. It never deletes a pool object:
// the decision to re-download a broken pool object belongs to the resolver,
// not this audit. A descriptor that fails its own self-consistency check is
// deleted by sdp.ParseFile and skipped.
func ValidatePool(fs afero.Fs, poolRoot string) ([]BrokenEntry, error) {
	packagesDir := filepath.Join(poolRoot, "packages")

	if exists, err := afero.DirExists(fs, packagesDir); err != nil {
		return nil, fmt.Errorf("repo: stat %s: %w", packagesDir, err)
	} else if !exists {
		return nil, nil
	}

	var broken []BrokenEntry
	err := afero.Walk(fs, packagesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".sdp" {
			return nil
		}

		file, parseErr := sdp.ParseFile(fs, path)
		if parseErr != nil {
			// A descriptor that fails its own self-consistency check is
			// already deleted by ParseFile; nothing further to validate.
			return nil
		}

		for _, e := range file.Entries {
			poolPath := sdp.PoolPath(poolRoot, e.MD5)
			exists, statErr := afero.Exists(fs, poolPath)
			if statErr != nil {
				return statErr
			}
			if !exists {
				continue
			}
			got, hashErr := gzipMD5(fs, poolPath)
			if hashErr != nil {
				return hashErr
			}
			if !got.Equal(e.MD5) {
				broken = append(broken, BrokenEntry{Descriptor: path, Name: e.Name, MD5: e.MD5.String()})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repo: validate pool under %s: %w", poolRoot, err)
	}
	return broken, nil
}

// gzipMD5 inflates the gzip file at path and returns the MD5 of the
// decompressed bytes, the same check the gzip-composite hash chain performs
// during a live transfer, but run here against a file already at rest.
func gzipMD5(fs afero.Fs, path string) (hashchain.Digest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return hashchain.Digest{}, fmt.Errorf("repo: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return hashchain.Digest{}, fmt.Errorf("repo: open gzip stream %s: %w", path, err)
	}
	defer zr.Close()

	h := md5.New()
	if _, err := io.Copy(h, zr); err != nil {
		return hashchain.Digest{}, fmt.Errorf("repo: inflate %s: %w", path, err)
	}

	var d hashchain.Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}
