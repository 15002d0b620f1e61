// Package sdp parses rapid package descriptors: gzipped binary record
// streams naming every file in a package by MD5, CRC32 and decompressed
// size. A descriptor's own filename embeds an MD5 that must equal the MD5
// of the concatenation of each entry's name-hash and file-hash, in file
// order; a descriptor failing that check is corrupt and the caller deletes
// it rather than trusting any of its entries. Grounded on
// xssnick-tonutils-storage-provider's pkg/storage bag-info parsing (reading
// a fixed binary record layout from a streaming reader and validating a
// contained hash before trusting the rest) and klauspost/compress/gzip for
// the transport-level compression.
package sdp

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
)

// Entry is one file named by a package descriptor.
type Entry struct {
	Name  string
	MD5   hashchain.Digest
	CRC32 uint32
	Size  uint32
}

// File is a parsed, self-consistency-checked descriptor.
type File struct {
	MD5     hashchain.Digest // the descriptor's own identity, from its filename
	Entries []Entry
}

// ErrInconsistent is returned when the filename's embedded MD5 does not
// match the MD5 of the entry list. Callers that want delete-on-mismatch
// semantics should follow a failed Parse with Delete.
var ErrInconsistent = fmt.Errorf("sdp: descriptor MD5 does not match its entries")

// Parse reads a gzipped descriptor from r and checks it for self-consistency
// against the MD5 embedded in path's filename (the hex string before
// ".sdp"). It accumulates every entry before checking consistency, matching
// the streaming record format: length:u8, name[length], md5[16], crc32[4]
// (little-endian), size[4] (big-endian).
func Parse(path string, r io.Reader) (*File, error) {
	wantMD5, err := md5FromFilename(path)
	if err != nil {
		return nil, err
	}

	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("sdp: open gzip stream: %w", err)
	}
	defer zr.Close()

	entries, err := decodeEntries(zr)
	if err != nil {
		return nil, err
	}

	got := consistencyDigest(entries)
	if !got.Equal(wantMD5) {
		return nil, ErrInconsistent
	}

	return &File{MD5: wantMD5, Entries: entries}, nil
}

// decodeEntries reads the record stream to EOF, returning every entry in
// file order. A truncated record (EOF mid-field) is an error; EOF exactly
// at a record boundary ends the stream normally.
func decodeEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	for {
		var nameLen [1]byte
		if _, err := io.ReadFull(r, nameLen[:]); err != nil {
			if err == io.EOF {
				return entries, nil
			}
			return nil, fmt.Errorf("sdp: read name length: %w", err)
		}

		name := make([]byte, nameLen[0])
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("sdp: read name: %w", err)
		}

		var md5Buf [16]byte
		if _, err := io.ReadFull(r, md5Buf[:]); err != nil {
			return nil, fmt.Errorf("sdp: read md5: %w", err)
		}

		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			return nil, fmt.Errorf("sdp: read crc32: %w", err)
		}

		var sizeBuf [4]byte
		if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
			return nil, fmt.Errorf("sdp: read size: %w", err)
		}

		entries = append(entries, Entry{
			Name:  string(name),
			MD5:   hashchain.Digest(md5Buf),
			CRC32: binary.LittleEndian.Uint32(crcBuf[:]),
			Size:  binary.BigEndian.Uint32(sizeBuf[:]),
		})
	}
}

// consistencyDigest computes MD5(concat_i(MD5(name_i) || md5_i)) over the
// entry list in file order, the self-consistency check a descriptor's
// filename MD5 must equal.
func consistencyDigest(entries []Entry) hashchain.Digest {
	h := md5.New()
	for _, e := range entries {
		nameSum := md5.Sum([]byte(e.Name))
		h.Write(nameSum[:])
		h.Write(e.MD5.Bytes())
	}
	var d hashchain.Digest
	copy(d[:], h.Sum(nil))
	return d
}

// md5FromFilename extracts and decodes the hex MD5 embedded in path's base
// name (everything before ".sdp").
func md5FromFilename(path string) (hashchain.Digest, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	d, ok := hashchain.ParseDigest(base)
	if !ok {
		return hashchain.Digest{}, fmt.Errorf("sdp: filename %q does not embed a valid MD5", path)
	}
	return d, nil
}

// Delete removes a descriptor that failed Parse, matching the
// delete-on-mismatch semantics a corrupt descriptor requires.
func Delete(fs afero.Fs, path string) error {
	return fs.Remove(path)
}

// ParseFile opens path on fs, parses it, and deletes it on any parse
// failure (including a self-consistency mismatch) before returning the
// error, so callers never have to remember the delete step themselves.
func ParseFile(fs afero.Fs, path string) (*File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sdp: open %s: %w", path, err)
	}
	defer f.Close()

	parsed, err := Parse(path, f)
	if err != nil {
		_ = Delete(fs, path)
		return nil, err
	}
	return parsed, nil
}

// NeedsFetch reports whether entry's pool object is missing from poolRoot,
// consulting only the pool listing (never re-verifying the hash of a file
// that is already present — that is the transfer engine's job once fetch
// is actually attempted).
func (e Entry) NeedsFetch(fs afero.Fs, poolRoot string) (bool, error) {
	exists, err := afero.Exists(fs, PoolPath(poolRoot, e.MD5))
	if err != nil {
		return false, fmt.Errorf("sdp: stat pool entry for %s: %w", e.Name, err)
	}
	return !exists, nil
}

// PoolPath computes the content-addressed location of a pool object: a file
// with MD5 hex "XYrest" lives at <root>/pool/XY/rest.gz.
func PoolPath(poolRoot string, md5 hashchain.Digest) string {
	hex := md5.String()
	return filepath.Join(poolRoot, "pool", hex[:2], hex[2:]+".gz")
}

// DescriptorPath computes where a package descriptor itself is stored:
// <springRoot>/packages/<md5>.sdp.
func DescriptorPath(springRoot string, md5 hashchain.Digest) string {
	return filepath.Join(springRoot, "packages", md5.String()+".sdp")
}

// Build serializes entries into the gzipped record stream format Parse
// reads back, for tests and for any future descriptor-writing path. It does
// not itself verify self-consistency; callers that want a descriptor whose
// filename MD5 is valid should name the file with Build's return digest.
func Build(entries []Entry) ([]byte, hashchain.Digest, error) {
	var plain bytes.Buffer
	for _, e := range entries {
		if len(e.Name) > 255 {
			return nil, hashchain.Digest{}, fmt.Errorf("sdp: entry name %q exceeds 255 bytes", e.Name)
		}
		plain.WriteByte(byte(len(e.Name)))
		plain.WriteString(e.Name)
		plain.Write(e.MD5.Bytes())
		var crcBuf [4]byte
		binary.LittleEndian.PutUint32(crcBuf[:], e.CRC32)
		plain.Write(crcBuf[:])
		var sizeBuf [4]byte
		binary.BigEndian.PutUint32(sizeBuf[:], e.Size)
		plain.Write(sizeBuf[:])
	}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(plain.Bytes()); err != nil {
		return nil, hashchain.Digest{}, fmt.Errorf("sdp: gzip entries: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, hashchain.Digest{}, fmt.Errorf("sdp: close gzip writer: %w", err)
	}

	return gz.Bytes(), consistencyDigest(entries), nil
}
