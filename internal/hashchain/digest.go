// Package hashchain implements the MD5 hash chains used to verify
// downloaded bytes: a plain incremental MD5, and a composite
// "gzip-then-MD5" chain that inflates a stream on the fly and feeds the
// decompressed bytes into an inner MD5, used to verify gzipped pool objects
// without ever writing the decompressed bytes to disk.
package hashchain

import (
	"encoding/hex"
	"fmt"
)

// MarshalJSON encodes a Digest as its hex string, so structures that embed
// one (e.g. a cached VersionEntry) serialize the way every other digest in
// this codebase is already printed and compared.
func (d Digest) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON accepts the hex string form MarshalJSON produces.
func (d *Digest) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("hashchain: invalid digest JSON %s", b)
	}
	parsed, ok := ParseDigest(string(b[1 : len(b)-1]))
	if !ok {
		return fmt.Errorf("hashchain: invalid digest JSON %s", b)
	}
	*d = parsed
	return nil
}

// Digest is a 16-byte MD5-sized digest value: the fixed-size result of a
// Chain, or a value parsed from a hex string (e.g. an SDP entry's md5 or a
// Download record's expected_hash).
type Digest [16]byte

// ErrorDigest is the all-ones sentinel returned by a Chain whose inflate
// stream latched an error. Every byte is 0xFF.
var ErrorDigest = func() Digest {
	var d Digest
	for i := range d {
		d[i] = 0xFF
	}
	return d
}()

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) Equal(other Digest) bool {
	return d == other
}

func (d Digest) Bytes() []byte {
	b := make([]byte, len(d))
	copy(b, d[:])
	return b
}

// ParseDigest accepts either a 32-character hex string or 16 raw bytes
// (passed as a string) and returns the decoded digest. Reports false if
// neither form matches, mirroring CMD5::Set's hexOrRaw acceptance.
func ParseDigest(s string) (Digest, bool) {
	var d Digest
	switch len(s) {
	case 32:
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != 16 {
			return d, false
		}
		copy(d[:], b)
		return d, true
	case 16:
		copy(d[:], s)
		return d, true
	default:
		return d, false
	}
}

// ParseDigestBytes is the raw-bytes counterpart of ParseDigest, for sites
// that already hold a []byte rather than a string (e.g. an SDP record's
// embedded md5 field).
func ParseDigestBytes(b []byte) (Digest, bool) {
	var d Digest
	if len(b) != 16 {
		return d, false
	}
	copy(d[:], b)
	return d, true
}

// MustParseDigest panics on malformed input; for use with compile-time
// constants in tests.
func MustParseDigest(s string) Digest {
	d, ok := ParseDigest(s)
	if !ok {
		panic(fmt.Sprintf("hashchain: invalid digest %q", s))
	}
	return d
}
