package locate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/hyperifyio/gazaledger/internal/fetch"
	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

// DefaultTitleQuery is the title substring sent to the index API.
const DefaultTitleQuery = "Gaza Reported Impact Snapshot"

// IndexAPI queries a ReliefWeb-style reports API for the newest report whose
// title contains Query.
type IndexAPI struct {
	Client  *fetch.Client
	BaseURL string
	AppName string
	Query   string
}

func (a *IndexAPI) Name() string { return StrategyIndexAPI }

func (a *IndexAPI) Locate(ctx context.Context) (snapshot.Snapshot, error) {
	if strings.TrimSpace(a.BaseURL) == "" {
		return snapshot.Snapshot{}, fmt.Errorf("missing index api base url")
	}
	u, err := a.requestURL()
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	resp, err := a.Client.Get(ctx, u, fetch.AcceptJSON)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("query index api: %w", err)
	}
	var ir indexResponse
	if err := json.Unmarshal(resp.Body, &ir); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("decode index api response: %w", err)
	}
	if len(ir.Data) == 0 {
		return snapshot.Snapshot{}, fmt.Errorf("%w: index api returned no reports", ErrNotFound)
	}
	item := ir.Data[0]
	doc := item.Fields.attachmentURL()
	if doc == "" {
		return snapshot.Snapshot{}, fmt.Errorf("%w: report %q has no attachment", ErrNotFound, item.Fields.Title)
	}
	raw := item.Fields.Date.value()
	if raw == "" {
		return snapshot.Snapshot{}, fmt.Errorf("%w: report %q has no date", ErrNotFound, item.Fields.Title)
	}
	date, err := ParseDate(raw)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("%w: report date %q: %v", ErrNotFound, raw, err)
	}
	landing := item.Fields.URL
	if landing == "" {
		landing = item.Href
	}
	return snapshot.Snapshot{
		Date:        date,
		LandingURL:  landing,
		DocumentURL: doc,
		Title:       strings.TrimSpace(item.Fields.Title),
		Source:      StrategyIndexAPI,
	}, nil
}

func (a *IndexAPI) requestURL() (string, error) {
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse index api url: %w", err)
	}
	query := a.Query
	if strings.TrimSpace(query) == "" {
		query = DefaultTitleQuery
	}
	q := u.Query()
	if a.AppName != "" {
		q.Set("appname", a.AppName)
	}
	q.Set("query[value]", query)
	q.Add("query[fields][]", "title")
	q.Set("query[operator]", "AND")
	q.Add("sort[]", "date:desc")
	q.Set("limit", "1")
	q.Set("profile", "full")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type indexResponse struct {
	Data []indexItem `json:"data"`
}

type indexItem struct {
	Href   string      `json:"href"`
	Fields indexFields `json:"fields"`
}

type indexFields struct {
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	Date        indexDate         `json:"date"`
	Attachments []indexAttachment `json:"attachments"`
}

type indexAttachment struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
}

// attachmentURL prefers the first PDF attachment, else the first attachment.
func (f indexFields) attachmentURL() string {
	for _, att := range f.Attachments {
		if _, ok := snapshot.PDFKind(att.Mimetype, att.URL); ok || snapshot.HasPDFExtension(att.URL) {
			return strings.TrimSpace(att.URL)
		}
	}
	for _, att := range f.Attachments {
		if strings.TrimSpace(att.URL) != "" {
			return strings.TrimSpace(att.URL)
		}
	}
	return ""
}

// indexDate accepts either a plain date string or an object carrying
// original/created/changed timestamps.
type indexDate struct {
	Original string `json:"original"`
	Created  string `json:"created"`
	Changed  string `json:"changed"`
}

func (d *indexDate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &d.Original)
	}
	type plain indexDate
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = indexDate(p)
	return nil
}

func (d indexDate) value() string {
	for _, v := range []string{d.Original, d.Created, d.Changed} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
