package snapshot

import (
	"testing"
	"time"
)

func TestDay_KeepsLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	in := time.Date(2025, 5, 7, 1, 30, 0, 0, loc)
	got := Day(in)
	if FormatDate(got) != "2025-05-07" {
		t.Fatalf("unexpected day: %s", FormatDate(got))
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location")
	}
}

func TestPDFKind(t *testing.T) {
	cases := []struct {
		ct   string
		url  string
		ok   bool
	}{
		{"application/pdf", "https://x/doc", true},
		{"application/pdf; charset=binary", "https://x/doc", true},
		{"application/octet-stream", "https://x/a.PDF?dl=1", true},
		{"application/octet-stream", "https://x/a.bin", false},
		{"text/html; charset=utf-8", "https://x/a.pdf", false},
		{"", "https://x/a.pdf", false},
	}
	for _, c := range cases {
		kind, ok := PDFKind(c.ct, c.url)
		if ok != c.ok {
			t.Fatalf("PDFKind(%q, %q) ok=%v, want %v", c.ct, c.url, ok, c.ok)
		}
		if ok && kind != ContentKindPDF {
			t.Fatalf("unexpected kind %q", kind)
		}
	}
}

func TestHasPDFExtension(t *testing.T) {
	if !HasPDFExtension("/sites/default/files/Report%20final.pdf") {
		t.Fatalf("expected relative path to match")
	}
	if HasPDFExtension("https://example.org/pdf") {
		t.Fatalf("expected bare path segment not to match")
	}
}
