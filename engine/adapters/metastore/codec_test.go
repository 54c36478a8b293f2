package metastore

import (
	"testing"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
)

func TestCSVRoundTrip(t *testing.T) {
	in := []string{"vergi", "kanun", "2024"}
	got := splitCSV(joinCSV(in))
	if len(got) != len(in) {
		t.Fatalf("expected %d items, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("index %d: got %q want %q", i, got[i], in[i])
		}
	}
}

func TestSplitCSV_Empty(t *testing.T) {
	if got := splitCSV(""); got != nil {
		t.Errorf("expected nil for empty input, got %v", got)
	}
}

func TestStringMapRoundTrip(t *testing.T) {
	in := map[string]string{"category": "vergi", "lang": "tr"}
	got := decodeStringMap(encodeStringMap(in))
	if len(got) != len(in) {
		t.Fatalf("expected %d keys, got %d", len(in), len(got))
	}
	if got["category"] != "vergi" {
		t.Errorf("got %v", got)
	}
}

func TestSourceRefsRoundTrip(t *testing.T) {
	in := []domain.SourceRef{{DocumentID: "d1", Title: "VUK", Page: 4, Similarity: 0.9}}
	got := decodeSourceRefs(encodeSourceRefs(in))
	if len(got) != 1 || got[0].DocumentID != "d1" || got[0].Page != 4 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestDocumentConversionRoundTrip(t *testing.T) {
	d := domain.NewDocument("d1", "VUK", "vuk.pdf", "s3://b/vuk.pdf", 1024, "GİB", domain.DocTypeLaw, "u1")
	d.Keywords = []string{"vergi", "usul"}
	d.Metadata = map[string]string{"lang": "tr"}

	got := fromGormDocument(toGormDocument(d))
	if got.ID != d.ID || got.Title != d.Title || got.DocType != d.DocType {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Keywords) != 2 || got.Keywords[0] != "vergi" {
		t.Errorf("keywords mismatch: %v", got.Keywords)
	}
	if got.Metadata["lang"] != "tr" {
		t.Errorf("metadata mismatch: %v", got.Metadata)
	}
}
