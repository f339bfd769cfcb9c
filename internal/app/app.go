// Package app wires configuration into the ingestion pipeline and runs it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/gazaledger/internal/cache"
	"github.com/hyperifyio/gazaledger/internal/extract"
	"github.com/hyperifyio/gazaledger/internal/fetch"
	"github.com/hyperifyio/gazaledger/internal/ledger"
	"github.com/hyperifyio/gazaledger/internal/llm"
	"github.com/hyperifyio/gazaledger/internal/locate"
	"github.com/hyperifyio/gazaledger/internal/metrics"
	"github.com/hyperifyio/gazaledger/internal/ocr"
	"github.com/hyperifyio/gazaledger/internal/resolve"
	"github.com/hyperifyio/gazaledger/internal/textract"
)

// App owns the components built from a Config.
type App struct {
	cfg      Config
	pipeline *Pipeline
	store    ledger.Store
	closers  []func() error
	now      func() time.Time
}

// New validates cfg and builds every pipeline component. Nothing touches the
// network until Run or Locate.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	httpClient := newHTTPClient(cfg.HTTP.DownloadTimeout + cfg.HTTP.PageTimeout)
	client := &fetch.Client{
		HTTPClient:        httpClient,
		UserAgent:         cfg.HTTP.UserAgent,
		MaxAttempts:       cfg.HTTP.MaxAttempts,
		PerRequestTimeout: cfg.HTTP.PageTimeout,
		DownloadTimeout:   cfg.HTTP.DownloadTimeout,
		RetryInterval:     cfg.HTTP.RetryInterval,
	}
	if cfg.Cache.Dir != "" {
		c := &cache.HTTPCache{Dir: cfg.Cache.Dir}
		if cfg.Cache.Clear {
			if err := c.Clear(); err != nil {
				log.Warn().Err(err).Msg("cache clear failed; continuing")
			}
		}
		if cfg.Cache.MaxAge > 0 {
			if n, err := c.Purge(cfg.Cache.MaxAge); err != nil {
				log.Warn().Err(err).Msg("cache purge failed; continuing")
			} else if n > 0 {
				log.Debug().Int("removed", n).Msg("purged stale cache entries")
			}
		}
		client.Cache = c
	}

	a := &App{cfg: cfg, now: time.Now}
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	a.pipeline = &Pipeline{
		Locators: locators(cfg, client),
		Resolver: &resolve.Resolver{
			Client:         client,
			SiteBaseURL:    cfg.SiteBaseURL,
			FileBaseURL:    cfg.FileBaseURL,
			GuessFilenames: cfg.GuessFilenames,
		},
		Text:          textExtractor(cfg, client, httpClient),
		Numbers:       extract.NewNumberExtractor(cfg.PrefixSpan, cfg.SuffixSpan),
		Store:         store,
		LedgerOptions: ledger.Options{RejectDecrease: cfg.Ledger.RejectDecrease},
		Log:           log.Logger,
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) (ledger.Store, error) {
	switch a.cfg.Ledger.Backend {
	case BackendSQLite:
		s, err := ledger.OpenSQLite(ctx, a.cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return &ledger.CSVStore{Path: a.cfg.Ledger.Path}, nil
	}
}

func locators(cfg Config, client *fetch.Client) []locate.Strategy {
	out := make([]locate.Strategy, 0, len(cfg.Locators))
	for _, tag := range cfg.Locators {
		switch tag {
		case locate.StrategyListing:
			out = append(out, &locate.Listing{Client: client, ListingURL: cfg.ListingURL, TitlePrefix: cfg.TitlePrefix})
		case locate.StrategyIndexAPI:
			out = append(out, &locate.IndexAPI{Client: client, BaseURL: cfg.IndexAPI.URL, AppName: cfg.IndexAPI.AppName, Query: cfg.IndexAPI.Query})
		}
	}
	return out
}

func textExtractor(cfg Config, client *fetch.Client, httpClient *http.Client) *textract.Extractor {
	e := &textract.Extractor{Client: client}
	if !slices.Contains(cfg.TextMethods, textract.MethodOCR) {
		return e
	}
	engine := &ocr.Engine{Renderer: &ocr.Pdftoppm{Binary: cfg.OCR.Pdftoppm, DPI: cfg.OCR.DPI}}
	switch cfg.OCR.Engine {
	case ocr.EngineVision:
		engine.Recognizer = &ocr.Vision{
			Client: llm.NewOpenAIProvider(cfg.OCR.BaseURL, cfg.OCR.APIKey, httpClient),
			Model:  cfg.OCR.Model,
		}
	default:
		engine.Recognizer = &ocr.Tesseract{Binary: cfg.OCR.Tesseract, Language: cfg.OCR.Language}
	}
	if !engine.Available() {
		log.Debug().Str("engine", cfg.OCR.Engine).Msg("ocr engine unavailable on this host")
	}
	e.OCR = engine
	e.SkipTextLayer = !slices.Contains(cfg.TextMethods, textract.MethodTextLayer)
	return e
}

// Close releases the ledger backend.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Run executes one ingestion under a fresh run id and writes metrics when
// configured, whether the run succeeded or not.
func (a *App) Run(ctx context.Context) (Result, error) {
	runID := uuid.NewString()
	lg := log.With().Str("run_id", runID).Logger()
	p := *a.pipeline
	p.Log = lg
	start := a.now()
	lg.Info().Strs("locators", a.cfg.Locators).Strs("text", a.cfg.TextMethods).Msg("run started")

	res, err := p.Run(ctx)
	elapsed := a.now().Sub(start)
	m := metrics.NewRun()
	if err != nil {
		stage, _ := FailedStage(err)
		m.Failed(string(stage), elapsed)
		if l, lerr := a.store.Load(ctx); lerr == nil {
			m.RecordRows(l.Len())
		}
		lg.Error().Err(err).Str("stage", string(stage)).Dur("elapsed", elapsed).Msg("run failed")
	} else {
		m.Succeeded(res.Snapshot.Date, res.Count, res.Rows, elapsed)
		lg.Info().Dur("elapsed", elapsed).Msg("run finished")
	}
	a.writeMetrics(lg, m)
	return res, err
}

func (a *App) writeMetrics(lg zerolog.Logger, m *metrics.Run) {
	if a.cfg.MetricsFile == "" {
		return
	}
	if err := m.WriteFile(a.cfg.MetricsFile); err != nil {
		lg.Warn().Err(err).Str("path", a.cfg.MetricsFile).Msg("metrics not written")
	}
}

// Locate runs only the locate and resolve stages. The ledger is not read.
func (a *App) Locate(ctx context.Context) (Result, error) {
	p := *a.pipeline
	p.Log = log.With().Str("run_id", uuid.NewString()).Logger()
	s, doc, err := p.Locate(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Snapshot: s, Document: doc}, nil
}

// Ledger loads the persisted ledger.
func (a *App) Ledger(ctx context.Context) (ledger.Ledger, error) {
	return a.store.Load(ctx)
}
