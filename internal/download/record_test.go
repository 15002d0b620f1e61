package download

import (
	"bytes"
	"crypto/md5"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
)

// TestNewHTTPRecordVerifiesPlainMD5 covers the search-service HTTP path: a
// game downloaded this way still carries CategoryGame, but its body on the
// wire is plain bytes, not gzip, so it must verify against a plain MD5.
func TestNewHTTPRecordVerifiesPlainMD5(t *testing.T) {
	body := []byte("plain http body")
	want := md5.Sum(body)

	rec := NewHTTPRecord("/out/game.sdz", "some game", CategoryGame, []string{"http://example.invalid"})
	rec.SetExpectedHash(hashchain.Digest(want))

	rec.RunningHash.Update(body)
	rec.RunningHash.Final()

	if !rec.HashMatches() {
		t.Fatalf("plain HTTP record should verify against a plain MD5 of its body")
	}
}

// TestNewRapidPoolRecordVerifiesGzipComposite covers a rapid pool object
// fetched over the batch-HTTP fallback: the body on the wire is gzip, and
// expected is the MD5 of the decompressed content.
func TestNewRapidPoolRecordVerifiesGzipComposite(t *testing.T) {
	plain := []byte("pool object contents")
	want := hashchain.NewMD5()
	want.Update(plain)
	want.Final()

	rec := NewRapidPoolRecord("/out/pool/ab/cdef.gz", "pool entry", []string{"http://example.invalid"}, want.Digest(), 21)

	compressed := gzipBytes(t, plain)
	rec.RunningHash.Update(compressed)
	rec.RunningHash.Final()

	if !rec.HashMatches() {
		t.Fatalf("rapid pool record should verify the gzip-decompressed body, not the compressed bytes")
	}
}

func gzipBytes(t *testing.T, plain []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}
