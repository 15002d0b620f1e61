package repo

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"
)

func gzipLines(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestParseMaster(t *testing.T) {
	data := gzipLines(t, "nota,https://repos.springrts.com/nota", "byar,https://repos.springrts.com/byar")

	entries, err := ParseMaster(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ParseMaster: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ShortName != "nota" || entries[0].URL != "https://repos.springrts.com/nota" {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
}

func TestParseVersionsSplitsDepsAndKeepsCommasInName(t *testing.T) {
	md5hex := "52a86b5de454a39db2546017c2e6948d"
	data := gzipLines(t, "nota:revision:1,"+md5hex+",dep1|dep2,NOTA test, with a comma")

	entries, err := ParseVersions("https://example.com/nota", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ParseVersions: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Tag != "nota:revision:1" {
		t.Fatalf("tag = %q", e.Tag)
	}
	if e.MD5.String() != md5hex {
		t.Fatalf("md5 = %s, want %s", e.MD5, md5hex)
	}
	if len(e.Depends) != 2 || e.Depends[0] != "dep1" || e.Depends[1] != "dep2" {
		t.Fatalf("depends = %v", e.Depends)
	}
	if e.DescriptiveName != "NOTA test, with a comma" {
		t.Fatalf("descriptive name = %q", e.DescriptiveName)
	}
	if e.RepoURL != "https://example.com/nota" {
		t.Fatalf("repo url = %q", e.RepoURL)
	}
}

func TestParseVersionsEmptyDeps(t *testing.T) {
	md5hex := "00000000000000000000000000000000"
	data := gzipLines(t, "tag,"+md5hex+",,Name")

	entries, err := ParseVersions("repo", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ParseVersions: %v", err)
	}
	if entries[0].Depends != nil {
		t.Fatalf("depends = %v, want nil for empty field", entries[0].Depends)
	}
}

func TestParseVersionsRejectsTooFewFields(t *testing.T) {
	data := gzipLines(t, "tag,onlytwo")
	if _, err := ParseVersions("repo", bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for malformed versions line")
	}
}

func TestMatches(t *testing.T) {
	e := VersionEntry{Tag: "nota:stable", DescriptiveName: "NOTA Stable"}
	cases := map[string]bool{
		"":            true,
		"*":           true,
		"nota:stable": true,
		"NOTA Stable": true,
		"other":       false,
	}
	for name, want := range cases {
		if got := Matches(name, e); got != want {
			t.Errorf("Matches(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSelectRepos(t *testing.T) {
	master := []MasterEntry{{ShortName: "nota", URL: "a"}, {ShortName: "byar", URL: "b"}}

	if got := SelectRepos(master, ""); len(got) != 2 {
		t.Fatalf("empty tag should return all repos, got %d", len(got))
	}
	got := SelectRepos(master, "byar")
	if len(got) != 1 || got[0].ShortName != "byar" {
		t.Fatalf("SelectRepos(byar) = %+v", got)
	}
}

func TestSplitTag(t *testing.T) {
	tag, name := SplitTag("nota:Some Game")
	if tag != "nota" || name != "Some Game" {
		t.Fatalf("SplitTag = (%q, %q)", tag, name)
	}
	tag, name = SplitTag("untagged")
	if tag != "" || name != "untagged" {
		t.Fatalf("SplitTag = (%q, %q)", tag, name)
	}
}

func TestNeedsRefetch(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Now()

	needs, err := NeedsRefetch(fs, "/cache/versions.gz", now)
	if err != nil {
		t.Fatalf("NeedsRefetch: %v", err)
	}
	if !needs {
		t.Fatal("expected refetch needed for a missing file")
	}

	if err := afero.WriteFile(fs, "/cache/versions.gz", []byte("x"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	needs, err = NeedsRefetch(fs, "/cache/versions.gz", now)
	if err != nil {
		t.Fatalf("NeedsRefetch: %v", err)
	}
	if needs {
		t.Fatal("expected a freshly written file to not need refetching")
	}

	needs, err = NeedsRefetch(fs, "/cache/versions.gz", now.Add(2*RecheckInterval))
	if err != nil {
		t.Fatalf("NeedsRefetch: %v", err)
	}
	if !needs {
		t.Fatal("expected refetch needed once the file is older than RecheckInterval")
	}
}

func TestMasterRecordAndVersionsRecordPaths(t *testing.T) {
	rec := MasterRecord("/spring", "https://repos.example.com/master")
	if rec.Name != "/spring/rapid/repos.example.com/master" {
		t.Fatalf("master record name = %q", rec.Name)
	}
	if !rec.NoCache || !rec.UseETags {
		t.Fatalf("master record should set NoCache and UseETags")
	}

	vrec := VersionsRecord("/spring", MasterEntry{ShortName: "nota", URL: "https://repos.example.com/nota"})
	if vrec.Name != "/spring/rapid/repos.example.com/nota/versions.gz" {
		t.Fatalf("versions record name = %q", vrec.Name)
	}
	if vrec.Mirrors[0] != "https://repos.example.com/nota/versions.gz" {
		t.Fatalf("versions record mirror = %q", vrec.Mirrors[0])
	}
}
