package sdp

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// ValidateSDP reports whether the descriptor at path is self-consistent,
// deleting it if not. It never returns a non-nil error for a mismatch —
// that case is reported as (false, nil) — only for I/O failures unrelated
// to the consistency check itself.
func ValidateSDP(fs afero.Fs, path string) (bool, error) {
	_, err := ParseFile(fs, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrInconsistent) {
		return false, nil
	}
	return false, err
}

// DumpSDP writes one "name\tmd5\tcrc32\tsize" line per entry to w, in the
// descriptor's on-disk order. path is not deleted regardless of outcome;
// callers that also want delete-on-mismatch semantics should call
// ValidateSDP first.
func DumpSDP(fs afero.Fs, path string, w io.Writer) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("sdp: open %s: %w", path, err)
	}
	defer f.Close()

	parsed, err := Parse(path, f)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, e := range parsed.Entries {
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%08x\t%d\n", e.Name, e.MD5, e.CRC32, e.Size); err != nil {
			return fmt.Errorf("sdp: write dump line for %s: %w", e.Name, err)
		}
	}
	return bw.Flush()
}
