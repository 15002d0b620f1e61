package streamer

import (
	"crypto/md5"
	"testing"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/sdp"
)

func TestBatchRecordsDedupesByMD5(t *testing.T) {
	shared := hashchain.Digest(md5.Sum([]byte("shared contents")))
	entries := []sdp.Entry{
		{Name: "a.txt", MD5: shared, Size: 100},
		{Name: "b.txt", MD5: shared, Size: 100},
		{Name: "c.txt", MD5: hashchain.Digest(md5.Sum([]byte("c"))), Size: 50},
	}

	recs := BatchRecords("https://repo.example.com/nota", "/spring", entries)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2 (deduped by MD5)", len(recs))
	}

	rec := recs[0]
	if rec.Name != sdp.PoolPath("/spring", shared) {
		t.Fatalf("record name = %q", rec.Name)
	}
	wantMirror := "https://repo.example.com/nota/pool/" + shared.String()[:2] + "/" + shared.String()[2:] + ".gz"
	if len(rec.Mirrors) != 1 || rec.Mirrors[0] != wantMirror {
		t.Fatalf("mirrors = %v, want [%s]", rec.Mirrors, wantMirror)
	}
	if rec.ExpectedHash == nil || !rec.ExpectedHash.Equal(shared) {
		t.Fatalf("expected hash = %v, want %s", rec.ExpectedHash, shared)
	}
	if rec.Category != download.CategoryGame {
		t.Fatalf("category = %v, want CategoryGame", rec.Category)
	}
	if rec.ApproxSize != 100 {
		t.Fatalf("approx size = %d, want 100", rec.ApproxSize)
	}
}
