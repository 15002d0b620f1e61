// Package stagedfile implements the staged file writer: writes go to
// <path>.tmp, which is atomically renamed onto <path> only on a successful
// Close(false); any other outcome discards the tmp file and never touches
// the final path. Grounded on xssnick-tonutils-storage-provider's direct
// os.* filesystem calls (internal/db/leveldb, config) generalized over an
// afero.Fs so tests never touch a real disk.
package stagedfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const tmpSuffix = ".tmp"

// File is a write-only handle to a staged file. It is not safe for
// concurrent use; callers serialize writes through the I/O pool's strand
// semantics instead.
type File struct {
	fs        afero.Fs
	finalPath string
	tmpPath   string
	handle    afero.File
	closed    bool
}

// Open creates the parent directories of finalPath and opens
// <finalPath>.tmp for writing, truncating any leftover tmp file from a
// previous, discarded run.
func Open(fs afero.Fs, finalPath string) (*File, error) {
	dir := filepath.Dir(finalPath)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("stagedfile: create parent dir %s: %w", dir, err)
	}

	tmpPath := finalPath + tmpSuffix
	handle, err := fs.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("stagedfile: create %s: %w", tmpPath, err)
	}

	return &File{
		fs:        fs,
		finalPath: finalPath,
		tmpPath:   tmpPath,
		handle:    handle,
	}, nil
}

// Write appends buf to the tmp file. It returns false (with the underlying
// error) on a short write or any write error, so callers can treat any
// falsy result the same way regardless of cause.
func (f *File) Write(buf []byte) (bool, error) {
	n, err := f.handle.Write(buf)
	if err != nil {
		return false, fmt.Errorf("stagedfile: write %s: %w", f.tmpPath, err)
	}
	if n != len(buf) {
		return false, fmt.Errorf("stagedfile: short write to %s (%d of %d bytes)", f.tmpPath, n, len(buf))
	}
	return true, nil
}

// Close closes the handle. If discard is true, the tmp file is deleted and
// the final path is never touched. Otherwise, any existing final file is
// removed and the tmp file is renamed onto the final path.
//
// A failed Write leaves the File in a state where Close(true) is always
// the correct recovery: Close never touches the final path on any failure
// path.
func (f *File) Close(discard bool) error {
	if f.closed {
		return nil
	}
	f.closed = true

	closeErr := f.handle.Close()

	if discard {
		_ = f.fs.Remove(f.tmpPath)
		return closeErr
	}

	if closeErr != nil {
		_ = f.fs.Remove(f.tmpPath)
		return fmt.Errorf("stagedfile: close %s: %w", f.tmpPath, closeErr)
	}

	_ = f.fs.Remove(f.finalPath)
	if err := f.fs.Rename(f.tmpPath, f.finalPath); err != nil {
		_ = f.fs.Remove(f.tmpPath)
		return fmt.Errorf("stagedfile: rename %s to %s: %w", f.tmpPath, f.finalPath, err)
	}
	return nil
}

// FinalPath returns the destination path this staged file commits to.
func (f *File) FinalPath() string { return f.finalPath }

// TmpPath returns the path of the temporary file being written.
func (f *File) TmpPath() string { return f.tmpPath }

// DiscardStale removes a leftover <path>.tmp file without opening it for
// writing, used when recovering a record left in any non-finished terminal
// state from a previous run.
func DiscardStale(fs afero.Fs, finalPath string) error {
	tmpPath := finalPath + tmpSuffix
	exists, err := afero.Exists(fs, tmpPath)
	if err != nil {
		return fmt.Errorf("stagedfile: stat %s: %w", tmpPath, err)
	}
	if !exists {
		return nil
	}
	if err := fs.Remove(tmpPath); err != nil {
		return fmt.Errorf("stagedfile: remove %s: %w", tmpPath, err)
	}
	return nil
}
