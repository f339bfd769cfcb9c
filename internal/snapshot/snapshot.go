// Package snapshot holds the per-run data model shared by the locate,
// resolve and text stages.
package snapshot

import (
	"mime"
	"net/url"
	"strings"
	"time"
)

// DateLayout is the ISO calendar date format used in the ledger and logs.
const DateLayout = "2006-01-02"

// ContentKindPDF is the normalized media type of a resolved report document.
const ContentKindPDF = "application/pdf"

// Snapshot identifies one published report instance.
type Snapshot struct {
	// Date is the report date as a calendar day at UTC midnight.
	Date time.Time
	// LandingURL is the absolute URL of the report's landing page.
	LandingURL string
	// DocumentURL is set when the locating strategy already knows the
	// attachment (index API). Empty for listing-page snapshots.
	DocumentURL string
	Title       string
	// Source is the strategy tag that produced the snapshot.
	Source string
}

// Document is a resolved, downloadable report document.
type Document struct {
	URL         string
	ContentKind string
}

// Day truncates t to its calendar day, keeping the day as seen in t's own
// location, and returns it at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a calendar day as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// ParseDate parses a YYYY-MM-DD string into a calendar day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// PDFKind reports the normalized content kind for a declared Content-Type
// header and whether it denotes a PDF document. Generic binary types are
// accepted only when the URL path itself ends in .pdf.
func PDFKind(contentType string, rawURL string) (string, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mt {
	case "application/pdf", "application/x-pdf", "application/acrobat":
		return ContentKindPDF, true
	case "application/octet-stream", "binary/octet-stream", "application/force-download":
		if HasPDFExtension(rawURL) {
			return ContentKindPDF, true
		}
	}
	return mt, false
}

// HasPDFExtension reports whether the URL's path ends in .pdf, ignoring case,
// query and fragment.
func HasPDFExtension(rawURL string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.HasSuffix(strings.ToLower(p), ".pdf")
}
