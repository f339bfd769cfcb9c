package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/hyperifyio/gazaledger/internal/locate"
	"github.com/hyperifyio/gazaledger/internal/resolve"
)

func reportPDF(t *testing.T) []byte {
	t.Helper()
	p := gofpdf.New("P", "mm", "A4", "")
	p.SetCompression(false)
	p.AddPage()
	p.SetFont("Helvetica", "", 12)
	p.CellFormat(0, 8, "Reported impact snapshot | Gaza Strip", "", 1, "L", false, 0, "")
	p.CellFormat(0, 8, "Palestinians killed: 52,653 reported fatalities", "", 1, "L", false, 0, "")
	var buf bytes.Buffer
	if err := p.Output(&buf); err != nil {
		t.Fatalf("render pdf: %v", err)
	}
	return buf.Bytes()
}

type site struct {
	listing string
	landing string
	index   string
	pdf     []byte
}

func (s *site) serve(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/publications/snapshots", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(s.listing))
	})
	mux.HandleFunc("/content/snapshot-7-may-2025", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(s.landing))
	})
	mux.HandleFunc("/v1/reports", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(s.index))
	})
	mux.HandleFunc("/sites/default/files/snapshot.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(s.pdf)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, base string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListingURL = base + "/publications/snapshots"
	cfg.SiteBaseURL = base
	cfg.FileBaseURL = base + "/sites/default/files/"
	cfg.GuessFilenames = false
	cfg.IndexAPI.URL = base + "/v1/reports"
	cfg.TextMethods = []string{"text-layer"}
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "data", "fatalities.csv")
	cfg.MetricsFile = filepath.Join(t.TempDir(), "gazaledger.prom")
	cfg.HTTP.PageTimeout = 5 * time.Second
	cfg.HTTP.DownloadTimeout = 5 * time.Second
	cfg.HTTP.RetryInterval = time.Millisecond
	return cfg
}

const listingPage = `<html><body><ul>
<li><a href="/content/snapshot-30-apr-2025">Reported impact snapshot | Gaza Strip (30 April 2025)</a></li>
<li><a href="/content/snapshot-7-may-2025">Reported impact snapshot | Gaza Strip (07 May 2025)</a></li>
<li><a href="/content/other">Humanitarian situation update #290</a></li>
</ul></body></html>`

const landingPage = `<html><body>
<a href="/sites/default/files/snapshot.pdf">Download (PDF, 1.2 MB)</a>
</body></html>`

func TestApp_EndToEnd(t *testing.T) {
	s := &site{listing: listingPage, landing: landingPage, pdf: reportPDF(t)}
	srv := s.serve(t)
	cfg := testConfig(t, srv.URL)
	cfg.Locators = []string{"listing-guess"}

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := res.Summary(); got != "2025-05-07 52,653 fatalities (new, 1 rows)" {
		t.Fatalf("summary %q", got)
	}
	b, err := os.ReadFile(cfg.Ledger.Path)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if string(b) != "date,fatality_count\n2025-05-07,52653\n" {
		t.Fatalf("ledger content %q", b)
	}

	again, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if again.Added || again.Rows != 1 {
		t.Fatalf("rerun changed the ledger: %+v", again)
	}
	b2, _ := os.ReadFile(cfg.Ledger.Path)
	if !bytes.Equal(b, b2) {
		t.Fatalf("ledger changed on rerun: %q", b2)
	}

	m, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(m), "gazaledger_run_success 1") || !strings.Contains(string(m), "gazaledger_last_fatality_count 52653") {
		t.Fatalf("unexpected metrics:\n%s", m)
	}
}

func TestApp_SQLiteBackend(t *testing.T) {
	s := &site{listing: listingPage, landing: landingPage, pdf: reportPDF(t)}
	srv := s.serve(t)
	cfg := testConfig(t, srv.URL)
	cfg.Locators = []string{"listing-guess"}
	cfg.Ledger.Backend = BackendSQLite
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger.db")

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	for i := 0; i < 2; i++ {
		if _, err := a.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	l, err := a.Ledger(context.Background())
	if err != nil || l.Len() != 1 || l.Entries[0].FatalityCount != 52653 {
		t.Fatalf("unexpected ledger %+v %v", l, err)
	}
}

func TestApp_IndexAPIFallback(t *testing.T) {
	s := &site{listing: `<html><body><p>No reports</p></body></html>`, pdf: reportPDF(t)}
	srv := s.serve(t)
	body, _ := json.Marshal(map[string]any{"data": []map[string]any{{
		"fields": map[string]any{
			"title":       "Gaza Strip: Reported Impact Snapshot (7 May 2025)",
			"url":         srv.URL + "/content/snapshot-7-may-2025",
			"date":        map[string]any{"original": "2025-05-07T00:00:00+00:00"},
			"attachments": []map[string]any{{"url": srv.URL + "/sites/default/files/snapshot.pdf"}},
		},
	}}})
	s.index = string(body)
	cfg := testConfig(t, srv.URL)

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Snapshot.Source != locate.StrategyIndexAPI || res.Count != 52653 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestApp_NoMatchingAnchorsIsLocateError(t *testing.T) {
	s := &site{listing: `<html><body><a href="/x">Something else</a></body></html>`}
	srv := s.serve(t)
	cfg := testConfig(t, srv.URL)
	cfg.Locators = []string{"listing-guess"}

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	_, err = a.Run(context.Background())
	if stage, _ := FailedStage(err); stage != StageLocate || !errors.Is(err, locate.ErrNotFound) {
		t.Fatalf("expected locate failure, got %v", err)
	}
	if _, statErr := os.Stat(cfg.Ledger.Path); !os.IsNotExist(statErr) {
		t.Fatalf("ledger must not be created on failure")
	}
	m, err := os.ReadFile(cfg.MetricsFile)
	if err != nil || !strings.Contains(string(m), `gazaledger_stage_failures_total{stage="locate"} 1`) {
		t.Fatalf("expected failure metrics, got %q %v", m, err)
	}
}

func TestApp_LandingWithoutPDFIsResolveError(t *testing.T) {
	s := &site{listing: listingPage, landing: `<html><body><a href="/about">About</a></body></html>`}
	srv := s.serve(t)
	cfg := testConfig(t, srv.URL)
	cfg.Locators = []string{"listing-guess"}

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	_, err = a.Locate(context.Background())
	if stage, _ := FailedStage(err); stage != StageResolve || !errors.Is(err, resolve.ErrNoDocument) {
		t.Fatalf("expected resolve failure, got %v", err)
	}
}

func TestApp_LocateOnly(t *testing.T) {
	s := &site{listing: listingPage, landing: landingPage}
	srv := s.serve(t)
	cfg := testConfig(t, srv.URL)
	cfg.Locators = []string{"listing-guess"}

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	res, err := a.Locate(context.Background())
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	if res.Document.URL != srv.URL+"/sites/default/files/snapshot.pdf" {
		t.Fatalf("unexpected document %+v", res.Document)
	}
	if _, statErr := os.Stat(cfg.Ledger.Path); !os.IsNotExist(statErr) {
		t.Fatalf("locate must not touch the ledger")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Locators = []string{"nope"}
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}
