package hashchain

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// writerFunc adapts a func([]byte) to io.Writer so the inner MD5Chain's
// Update can sit on the receiving end of io.Copy.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// GzipChain is the composite "gzip-then-MD5" hash: Update feeds compressed
// bytes into an incremental inflate; the decompressed output streams into
// an inner MD5Chain. It verifies the on-disk gzipped bytes of a pool object
// against the uncompressed content's MD5 without ever materializing the
// decompressed bytes on disk.
//
// Any inflate error (bad gzip header/dictionary/data/trailer) latches
// errored=true: subsequent Update calls become no-ops and Digest returns
// ErrorDigest. Final also latches errored if the inflate stream never
// reached its end (a short/truncated gzip stream).
type GzipChain struct {
	inner *MD5Chain

	pw   *io.PipeWriter
	pr   *io.PipeReader
	done chan error

	errored   bool
	finalized bool
	digest    Digest
}

func NewGzip() *GzipChain {
	pr, pw := io.Pipe()
	c := &GzipChain{
		inner: NewMD5(),
		pr:    pr,
		pw:    pw,
		done:  make(chan error, 1),
	}
	go c.inflate()
	return c
}

func (c *GzipChain) inflate() {
	zr, err := gzip.NewReader(c.pr)
	if err != nil {
		c.pr.CloseWithError(err)
		c.done <- err
		return
	}
	_, err = io.Copy(writerFunc(func(p []byte) (int, error) {
		c.inner.Update(p)
		return len(p), nil
	}), zr)
	if err != nil {
		c.pr.CloseWithError(err)
		c.done <- err
		return
	}
	c.done <- nil
}

func (c *GzipChain) Update(p []byte) {
	if c.errored || c.finalized {
		return
	}
	if _, err := c.pw.Write(p); err != nil {
		c.errored = true
	}
}

func (c *GzipChain) Final() {
	if c.finalized {
		return
	}
	c.finalized = true

	_ = c.pw.Close()
	if err := <-c.done; err != nil {
		c.errored = true
	}

	if c.errored {
		c.digest = ErrorDigest
		return
	}

	c.inner.Final()
	c.digest = c.inner.Digest()
}

func (c *GzipChain) Digest() Digest {
	if c.errored {
		return ErrorDigest
	}
	return c.digest
}

func (c *GzipChain) String() string { return c.Digest().String() }

func (c *GzipChain) Errored() bool { return c.errored }
