package streamer

import (
	"encoding/binary"
	"fmt"

	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/sdp"
	"github.com/beyond-all-reason/pr-downloader/internal/stagedfile"
)

type demuxState int

const (
	stateNeedLength demuxState = iota
	stateWriting
	stateDone
)

// Demuxer is the byte-driven state machine that splits a streamer
// response body into its constituent pool files. Chunk boundaries from the
// transport are arbitrary, including splits inside the 4-byte length
// prefix, so Feed must tolerate being called with any slicing of the
// stream.
type Demuxer struct {
	fs       afero.Fs
	poolRoot string
	entries  []sdp.Entry
	idx      int

	state     demuxState
	lenBuf    []byte
	remaining uint32
	file      *stagedfile.File
	hash      hashchain.Chain
}

// NewDemuxer builds a demuxer for entries, in the exact order they were
// requested in the bitset: the server replies in SDP order restricted to
// requested files, so entries must already be in that order.
func NewDemuxer(fs afero.Fs, poolRoot string, entries []sdp.Entry) *Demuxer {
	d := &Demuxer{fs: fs, poolRoot: poolRoot, entries: entries}
	if len(entries) == 0 {
		d.state = stateDone
	}
	return d
}

// Done reports whether every requested entry has been written and
// verified.
func (d *Demuxer) Done() bool { return d.state == stateDone }

// Remaining returns how many requested entries have not yet been written.
func (d *Demuxer) Remaining() int { return len(d.entries) - d.idx }

// Feed advances the state machine with the next slice of response bytes.
// It may be called any number of times with arbitrarily small or large
// slices; the only requirement is that slices are fed in stream order.
func (d *Demuxer) Feed(p []byte) error {
	for len(p) > 0 {
		switch d.state {
		case stateNeedLength:
			need := 4 - len(d.lenBuf)
			n := min(need, len(p))
			d.lenBuf = append(d.lenBuf, p[:n]...)
			p = p[n:]
			if len(d.lenBuf) < 4 {
				continue
			}
			length := binary.BigEndian.Uint32(d.lenBuf)
			d.lenBuf = d.lenBuf[:0]
			if err := d.openNext(length); err != nil {
				return err
			}
			d.state = stateWriting

		case stateWriting:
			n := min(int(d.remaining), len(p))
			chunk := p[:n]
			if ok, werr := d.file.Write(chunk); !ok {
				_ = d.file.Close(true)
				return fmt.Errorf("streamer: write pool object for %s: %w", d.entries[d.idx].Name, werr)
			}
			d.hash.Update(chunk)
			d.remaining -= uint32(n)
			p = p[n:]
			if d.remaining > 0 {
				continue
			}
			if err := d.closeCurrent(); err != nil {
				return err
			}
			d.idx++
			if d.idx >= len(d.entries) {
				d.state = stateDone
			} else {
				d.state = stateNeedLength
			}

		case stateDone:
			return fmt.Errorf("streamer: unexpected trailing bytes after the last requested entry")
		}
	}
	return nil
}

func (d *Demuxer) openNext(length uint32) error {
	entry := d.entries[d.idx]
	f, err := stagedfile.Open(d.fs, sdp.PoolPath(d.poolRoot, entry.MD5))
	if err != nil {
		return fmt.Errorf("streamer: open pool object for %s: %w", entry.Name, err)
	}
	d.file = f
	d.hash = hashchain.NewGzip()
	d.remaining = length
	return nil
}

// closeCurrent validates the just-written pool object's gzip-MD5 against
// the SDP entry's declared MD5, deleting the file on mismatch rather than
// leaving a corrupt pool object behind.
func (d *Demuxer) closeCurrent() error {
	entry := d.entries[d.idx]
	d.hash.Final()
	if !d.hash.Digest().Equal(entry.MD5) {
		_ = d.file.Close(true)
		return fmt.Errorf("streamer: pool object for %s: hash mismatch (got %s, want %s)", entry.Name, d.hash.Digest(), entry.MD5)
	}
	if err := d.file.Close(false); err != nil {
		return fmt.Errorf("streamer: commit pool object for %s: %w", entry.Name, err)
	}
	return nil
}
