package hashchain

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestMD5ChainMatchesKnownDigest(t *testing.T) {
	c := NewMD5()
	c.Update([]byte("hello "))
	c.Update([]byte("world"))
	c.Final()

	want := MustParseDigest("5eb63bbbe01eeed093cb22bb8f5acdc3")
	if got := c.Digest(); !got.Equal(want) {
		t.Fatalf("digest = %s, want %s", got, want)
	}
}

func TestMD5ChainUpdateAfterFinalIsNoop(t *testing.T) {
	c := NewMD5()
	c.Update([]byte("hello world"))
	c.Final()
	before := c.Digest()

	c.Update([]byte("more data"))
	if got := c.Digest(); !got.Equal(before) {
		t.Fatalf("digest changed after Final: got %s, want %s", got, before)
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

func TestGzipChainVerifiesDecompressedMD5(t *testing.T) {
	plain := []byte("the quick brown fox jumps over the lazy dog")
	compressed := gzipBytes(t, plain)

	want := NewMD5()
	want.Update(plain)
	want.Final()

	c := NewGzip()
	// Feed the compressed bytes in arbitrary small chunks to exercise the
	// streaming inflate path.
	for i := 0; i < len(compressed); i += 3 {
		end := i + 3
		if end > len(compressed) {
			end = len(compressed)
		}
		c.Update(compressed[i:end])
	}
	c.Final()

	if c.Errored() {
		t.Fatalf("unexpected error in gzip chain")
	}
	if got := c.Digest(); !got.Equal(want.Digest()) {
		t.Fatalf("digest = %s, want %s", got, want.Digest())
	}
}

func TestGzipChainLatchesErrorOnCorruptStream(t *testing.T) {
	corrupt := []byte{0x1f, 0x8b, 0x00, 0x00, 0xff, 0xff, 0xff}

	c := NewGzip()
	c.Update(corrupt)
	c.Final()

	if !c.Errored() {
		t.Fatalf("expected error to latch on corrupt gzip stream")
	}
	if got := c.Digest(); got != ErrorDigest {
		t.Fatalf("digest = %s, want all-ones sentinel", got)
	}

	// Update after latching must remain a no-op, not panic or block.
	c.Update([]byte("more"))
	if got := c.Digest(); got != ErrorDigest {
		t.Fatalf("digest changed after latch: %s", got)
	}
}

func TestGzipChainLatchesErrorOnTruncatedStream(t *testing.T) {
	plain := make([]byte, 4096)
	for i := range plain {
		plain[i] = byte(i)
	}
	compressed := gzipBytes(t, plain)

	c := NewGzip()
	// Only feed half the compressed stream, so the trailer (and therefore
	// end-of-stream) is never reached.
	c.Update(compressed[:len(compressed)/2])
	c.Final()

	if !c.Errored() {
		t.Fatalf("expected error to latch when end-of-stream is not reached")
	}
}
