package sdp

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
)

func sampleEntries() []Entry {
	return []Entry{
		{Name: "a", MD5: hashchain.MustParseDigest("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), CRC32: 0x1, Size: 3},
		{Name: "b", MD5: hashchain.MustParseDigest("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), CRC32: 0x2, Size: 0},
		{Name: "cc", MD5: hashchain.MustParseDigest("cccccccccccccccccccccccccccccccc"), CRC32: 0x3, Size: 1024},
	}
}

func writeDescriptor(t *testing.T, fs afero.Fs, dir string, entries []Entry) string {
	t.Helper()
	gz, digest, err := Build(entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	path := dir + "/" + digest.String() + ".sdp"
	if err := afero.WriteFile(fs, path, gz, 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	return path
}

func TestParseRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	entries := sampleEntries()
	path := writeDescriptor(t, fs, "/packages", entries)

	parsed, err := ParseFile(fs, path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(parsed.Entries) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(parsed.Entries), len(entries))
	}
	for i, e := range entries {
		got := parsed.Entries[i]
		if got.Name != e.Name || !got.MD5.Equal(e.MD5) || got.CRC32 != e.CRC32 || got.Size != e.Size {
			t.Fatalf("entry %d = %+v, want %+v", i, got, e)
		}
	}
}

func TestParseRejectsAndDeletesOnFlippedFilenameByte(t *testing.T) {
	fs := afero.NewMemMapFs()
	entries := sampleEntries()
	gz, digest, err := Build(entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	flipped := digest
	flipped[0] ^= 0x01
	badPath := "/packages/" + flipped.String() + ".sdp"
	if err := afero.WriteFile(fs, badPath, gz, 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	_, err = ParseFile(fs, badPath)
	if err == nil {
		t.Fatal("expected parse to fail on mismatched filename MD5")
	}
	if exists, _ := afero.Exists(fs, badPath); exists {
		t.Fatal("corrupt descriptor should have been deleted")
	}
}

func TestValidateSDPReportsMismatchWithoutError(t *testing.T) {
	fs := afero.NewMemMapFs()
	entries := sampleEntries()
	gz, digest, err := Build(entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	corrupt := digest
	corrupt[0] ^= 0xFF
	path := "/packages/" + corrupt.String() + ".sdp"
	if err := afero.WriteFile(fs, path, gz, 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	ok, err := ValidateSDP(fs, path)
	if err != nil {
		t.Fatalf("ValidateSDP returned error: %v", err)
	}
	if ok {
		t.Fatal("expected ValidateSDP to report false for a mismatched descriptor")
	}
	if exists, _ := afero.Exists(fs, path); exists {
		t.Fatal("ValidateSDP should delete a mismatched descriptor")
	}
}

func TestDumpSDPWritesTabSeparatedLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	entries := sampleEntries()
	path := writeDescriptor(t, fs, "/packages", entries)

	var buf bytes.Buffer
	if err := DumpSDP(fs, path, &buf); err != nil {
		t.Fatalf("DumpSDP: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != len(entries) {
		t.Fatalf("got %d lines, want %d", len(lines), len(entries))
	}
	for i, e := range entries {
		want := fmt.Sprintf("%s\t%s\t%08x\t%d", e.Name, e.MD5, e.CRC32, e.Size)
		if lines[i] != want {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want)
		}
	}
}

func TestPoolPathLayout(t *testing.T) {
	d := hashchain.MustParseDigest("0123456789abcdef0123456789abcdef")
	got := PoolPath("/spring", d)
	want := "/spring/pool/01/23456789abcdef0123456789abcdef.gz"
	if got != want {
		t.Fatalf("PoolPath = %q, want %q", got, want)
	}
}

func TestNeedsFetch(t *testing.T) {
	fs := afero.NewMemMapFs()
	e := Entry{Name: "a", MD5: hashchain.MustParseDigest("0123456789abcdef0123456789abcdef")}

	needs, err := e.NeedsFetch(fs, "/spring")
	if err != nil {
		t.Fatalf("NeedsFetch: %v", err)
	}
	if !needs {
		t.Fatal("expected NeedsFetch true when pool object is absent")
	}

	if err := afero.WriteFile(fs, PoolPath("/spring", e.MD5), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed pool object: %v", err)
	}
	needs, err = e.NeedsFetch(fs, "/spring")
	if err != nil {
		t.Fatalf("NeedsFetch: %v", err)
	}
	if needs {
		t.Fatal("expected NeedsFetch false once pool object exists")
	}
}
