// Package textract downloads a report document and returns its text, from
// the embedded text layer or, when that is empty, through OCR.
package textract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/gazaledger/internal/fetch"
	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

// Method tags selectable through configuration.
const (
	MethodTextLayer = "text-layer"
	MethodOCR       = "optical-recognition"
)

// ErrEmptyDocument is returned when the download has no body.
var ErrEmptyDocument = errors.New("empty document")

// OCR is the optical recognition capability used when the text layer is empty.
type OCR interface {
	Available() bool
	Pages(ctx context.Context, pdf []byte) ([]string, error)
}

// Text is the concatenated text of a document.
type Text struct {
	Content string
	Pages   int
	Method  string
}

// Empty reports whether the text holds nothing but whitespace.
func (t Text) Empty() bool { return strings.TrimSpace(t.Content) == "" }

// Extractor downloads documents and extracts their text.
type Extractor struct {
	Client *fetch.Client
	// OCR is consulted only when the text layer is empty. Nil disables it.
	OCR OCR
	// SkipTextLayer goes straight to OCR when it is available.
	SkipTextLayer bool
}

// Extract downloads doc once and returns its text. When neither the text
// layer nor OCR yields anything the empty text is returned without error.
func (e *Extractor) Extract(ctx context.Context, doc snapshot.Document) (Text, error) {
	resp, err := e.Client.Download(ctx, doc.URL, func(ct, u string) bool {
		_, ok := snapshot.PDFKind(ct, u)
		return ok
	})
	if err != nil {
		return Text{}, fmt.Errorf("download %s: %w", doc.URL, err)
	}
	if len(resp.Body) == 0 {
		return Text{}, fmt.Errorf("%w: %s", ErrEmptyDocument, doc.URL)
	}
	return e.FromBytes(ctx, resp.Body)
}

// FromBytes extracts text from an in-memory PDF.
func (e *Extractor) FromBytes(ctx context.Context, body []byte) (Text, error) {
	if e.SkipTextLayer && e.OCR != nil && e.OCR.Available() {
		return e.recognize(ctx, body)
	}
	pages, layerErr := TextLayer(body)
	text := Text{Content: strings.Join(pages, "\n"), Pages: len(pages), Method: MethodTextLayer}
	if layerErr != nil {
		log.Warn().Err(layerErr).Msg("text layer unreadable")
	}
	if layerErr == nil && !text.Empty() {
		return text, nil
	}
	if e.OCR == nil || !e.OCR.Available() {
		if layerErr != nil {
			return Text{}, layerErr
		}
		log.Warn().Msg("text layer empty and OCR unavailable")
		return text, nil
	}
	log.Info().Int("pages", len(pages)).Msg("text layer empty; running OCR")
	return e.recognize(ctx, body)
}

func (e *Extractor) recognize(ctx context.Context, body []byte) (Text, error) {
	ocrPages, err := e.OCR.Pages(ctx, body)
	if err != nil {
		return Text{}, fmt.Errorf("ocr: %w", err)
	}
	return Text{Content: strings.Join(ocrPages, "\n"), Pages: len(ocrPages), Method: MethodOCR}, nil
}

// TextLayer returns the embedded text of every page, in page order. Pages
// whose content cannot be decoded contribute an empty string.
func TextLayer(body []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			log.Debug().Err(err).Int("page", i).Msg("page text unreadable")
			pages = append(pages, "")
			continue
		}
		pages = append(pages, content)
	}
	return pages, nil
}
