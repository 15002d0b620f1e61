package hashchain

import (
	"encoding/json"
	"testing"
)

func TestParseDigestAcceptsHexAndRawBytes(t *testing.T) {
	hex := "5eb63bbbe01eeed093cb22bb8f5acdc3"
	d, ok := ParseDigest(hex)
	if !ok || d.String() != hex {
		t.Fatalf("ParseDigest(hex) = %v, %v", d, ok)
	}

	raw, ok := ParseDigest(string(d.Bytes()))
	if !ok || !raw.Equal(d) {
		t.Fatalf("ParseDigest(raw) = %v, %v", raw, ok)
	}

	if _, ok := ParseDigest("too short"); ok {
		t.Fatal("expected ParseDigest to reject a malformed string")
	}
}

func TestDigestJSONRoundTrip(t *testing.T) {
	d := MustParseDigest("5eb63bbbe01eeed093cb22bb8f5acdc3")

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"5eb63bbbe01eeed093cb22bb8f5acdc3"` {
		t.Fatalf("Marshal = %s", b)
	}

	var got Digest
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.Equal(d) {
		t.Fatalf("got = %s, want %s", got, d)
	}
}

func TestDigestUnmarshalJSONRejectsMalformed(t *testing.T) {
	var d Digest
	if err := json.Unmarshal([]byte(`"not-a-digest"`), &d); err == nil {
		t.Fatal("expected error for malformed digest JSON")
	}
	if err := json.Unmarshal([]byte(`123`), &d); err == nil {
		t.Fatal("expected error for non-string digest JSON")
	}
}
