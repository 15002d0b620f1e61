package transfer

import (
	"crypto/md5"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
)

const (
	etagSuffix     = ".etag"
	checksumSuffix = ".md5.gz"
)

// readETag returns the cached ETag for finalPath, if one was recorded by a
// prior successful transfer and finalPath's current contents still match
// the MD5 recorded alongside it. Grounded on original_source's
// Downloader/Http/ETag.cpp getETag: the sidecar line is
// "<md5_of_final>:<etag>", and the cached ETag is only trusted when the
// leading hash still matches the file on disk, so a final file replaced or
// corrupted out from under the sidecar never produces a false 304.
func readETag(fs afero.Fs, finalPath string) (string, bool) {
	data, err := afero.ReadFile(fs, finalPath+etagSuffix)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(data))
	want, etag, ok := strings.Cut(line, ":")
	if !ok || want == "" || etag == "" {
		return "", false
	}
	got, err := hashFile(fs, finalPath)
	if err != nil || got.String() != want {
		return "", false
	}
	return etag, true
}

// writeETag records the response ETag alongside finalPath as
// "<md5_of_final>:<etag>", mirroring ETag.cpp's setETag. Called only after
// finalPath has been committed, so the hash taken here is always of the
// bytes the caller actually has on disk.
func writeETag(fs afero.Fs, finalPath, etag string) error {
	digest, err := hashFile(fs, finalPath)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, finalPath+etagSuffix, []byte(digest.String()+":"+etag), 0o644)
}

// writeChecksumSidecar writes a gzip-compressed "<finalpath>.md5.gz" sidecar
// whose single line is "<md5_hex>  <basename>\n" — the two-space-separated
// format md5sum itself emits, gzipped the way every other rapid/HTTP
// artifact in this tree is stored.
func writeChecksumSidecar(fs afero.Fs, finalPath string, digest hashchain.Digest) error {
	f, err := fs.Create(finalPath + checksumSuffix)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(f)
	line := digest.String() + "  " + filepath.Base(finalPath) + "\n"
	if _, err := zw.Write([]byte(line)); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// hashFile computes the plain MD5 of path's current on-disk contents.
func hashFile(fs afero.Fs, path string) (hashchain.Digest, error) {
	f, err := fs.Open(path)
	if err != nil {
		return hashchain.Digest{}, err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return hashchain.Digest{}, err
	}
	d, _ := hashchain.ParseDigestBytes(h.Sum(nil))
	return d, nil
}
