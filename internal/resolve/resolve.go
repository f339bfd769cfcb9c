// Package resolve turns a located snapshot into a downloadable PDF URL.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/gazaledger/internal/extract"
	"github.com/hyperifyio/gazaledger/internal/fetch"
	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

var (
	// ErrNoDocument is returned when no strategy yields a document URL.
	ErrNoDocument = errors.New("no document link found")
	// ErrNotDocument is returned when a candidate responds with a content
	// type that is not a PDF.
	ErrNotDocument = errors.New("resource is not a pdf document")
)

// Resolver finds the report PDF for a snapshot.
type Resolver struct {
	Client *fetch.Client
	// SiteBaseURL absolutizes anchors found on landing pages. Empty means the
	// landing page URL itself.
	SiteBaseURL string
	// FileBaseURL is the directory filename guesses are built under.
	FileBaseURL string
	// GuessFilenames enables probing conventional filenames when the landing
	// page has no PDF anchor.
	GuessFilenames bool
}

// Resolve returns the document for s.
func (r *Resolver) Resolve(ctx context.Context, s snapshot.Snapshot) (snapshot.Document, error) {
	if s.DocumentURL != "" {
		return r.verify(ctx, s.DocumentURL)
	}
	var anchorErr error
	if s.LandingURL != "" {
		href, err := r.fromLanding(ctx, s.LandingURL)
		if err == nil {
			return r.verify(ctx, href)
		}
		anchorErr = err
		log.Debug().Err(err).Str("landing", s.LandingURL).Msg("no pdf anchor on landing page")
	}
	if r.GuessFilenames && r.FileBaseURL != "" {
		return r.guess(ctx, s)
	}
	if anchorErr == nil {
		anchorErr = fmt.Errorf("%w: snapshot has no landing page", ErrNoDocument)
	}
	return snapshot.Document{}, anchorErr
}

func (r *Resolver) fromLanding(ctx context.Context, landing string) (string, error) {
	resp, err := r.Client.Get(ctx, landing, fetch.AcceptHTML)
	if err != nil {
		return "", fmt.Errorf("fetch landing page: %w", err)
	}
	anchors, err := extract.Anchors(resp.Body)
	if err != nil {
		return "", err
	}
	base := r.SiteBaseURL
	if base == "" {
		base = landing
	}
	for _, a := range anchors {
		if !snapshot.HasPDFExtension(a.Href) {
			continue
		}
		abs, err := extract.Absolute(base, a.Href)
		if err != nil {
			continue
		}
		return abs, nil
	}
	return "", fmt.Errorf("%w: no pdf anchor on %s", ErrNoDocument, landing)
}

func (r *Resolver) guess(ctx context.Context, s snapshot.Snapshot) (snapshot.Document, error) {
	var notDoc error
	for _, u := range GuessURLs(r.FileBaseURL, s) {
		resp, err := r.Client.Head(ctx, u)
		if err != nil {
			log.Debug().Err(err).Str("url", u).Msg("filename guess rejected")
			continue
		}
		kind, ok := snapshot.PDFKind(resp.ContentType, u)
		if !ok {
			// Soft-404 pages answer 200 with HTML; keep probing.
			notDoc = fmt.Errorf("%w: %s declared %q", ErrNotDocument, u, resp.ContentType)
			continue
		}
		return snapshot.Document{URL: u, ContentKind: kind}, nil
	}
	if notDoc != nil {
		return snapshot.Document{}, notDoc
	}
	return snapshot.Document{}, fmt.Errorf("%w: no filename guess responded for %s", ErrNoDocument, snapshot.FormatDate(s.Date))
}

// verify probes u with HEAD and checks the declared content type. Servers
// that refuse HEAD are trusted on the .pdf extension alone.
func (r *Resolver) verify(ctx context.Context, u string) (snapshot.Document, error) {
	resp, err := r.Client.Head(ctx, u)
	if err != nil {
		var se *fetch.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusMethodNotAllowed || se.Code == http.StatusNotImplemented) && snapshot.HasPDFExtension(u) {
			return snapshot.Document{URL: u, ContentKind: snapshot.ContentKindPDF}, nil
		}
		return snapshot.Document{}, fmt.Errorf("%w: probe %s: %v", ErrNoDocument, u, err)
	}
	kind, ok := snapshot.PDFKind(resp.ContentType, u)
	if !ok {
		return snapshot.Document{}, fmt.Errorf("%w: %s declared %q", ErrNotDocument, u, resp.ContentType)
	}
	return snapshot.Document{URL: u, ContentKind: kind}, nil
}

// GuessURLs builds the known filename conventions for a snapshot date under
// base, e.g. Gaza_Reported_Impact_Snapshot_07_May_2025%20final.pdf.
func GuessURLs(base string, s snapshot.Snapshot) []string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	stem := fmt.Sprintf("Gaza_Reported_Impact_Snapshot_%02d_%s_%d", s.Date.Day(), s.Date.Month().String(), s.Date.Year())
	return []string{
		base + stem + "%20final.pdf",
		base + stem + "-final.pdf",
		base + stem + ".pdf",
	}
}
