package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/hyperifyio/gazaledger/internal/extract"
	"github.com/hyperifyio/gazaledger/internal/ledger"
	"github.com/hyperifyio/gazaledger/internal/locate"
	"github.com/hyperifyio/gazaledger/internal/snapshot"
	"github.com/hyperifyio/gazaledger/internal/textract"
)

// Stage names a pipeline step in failures and metrics.
type Stage string

const (
	StageLocate  Stage = "locate"
	StageResolve Stage = "resolve"
	StageText    Stage = "text"
	StageExtract Stage = "extract"
	StageCommit  Stage = "commit"
)

// StageError attributes a failed run to the stage that stopped it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s failed: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage of a StageError anywhere in err's chain.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

// Resolver turns a located snapshot into a downloadable document.
type Resolver interface {
	Resolve(ctx context.Context, s snapshot.Snapshot) (snapshot.Document, error)
}

// TextSource downloads a document and returns its text.
type TextSource interface {
	Extract(ctx context.Context, doc snapshot.Document) (textract.Text, error)
}

// Pipeline runs locate, resolve, text, extract and commit in sequence. The
// ledger is only touched after every earlier stage succeeded.
type Pipeline struct {
	Locators      []locate.Strategy
	Resolver      Resolver
	Text          TextSource
	Numbers       *extract.NumberExtractor
	Store         ledger.Store
	LedgerOptions ledger.Options
	Log           zerolog.Logger
}

// Result is the outcome of a successful run.
type Result struct {
	Snapshot    snapshot.Snapshot
	Document    snapshot.Document
	Count       int64
	RawCount    string
	Rows        int
	Added       bool
	Decreased   bool
	TextMethod  string
	MatchMethod extract.Method
}

// Summary is the one-line confirmation printed on success.
func (r Result) Summary() string {
	state := "new"
	if !r.Added {
		state = "already present"
	}
	return fmt.Sprintf("%s %s fatalities (%s, %d rows)",
		snapshot.FormatDate(r.Snapshot.Date), humanize.Comma(r.Count), state, r.Rows)
}

// Locate runs the configured locator strategies in order and returns the
// first snapshot that also resolves to a document.
func (p *Pipeline) Locate(ctx context.Context) (snapshot.Snapshot, snapshot.Document, error) {
	var (
		locateErrs []error
		resolveErr error
	)
	for _, strategy := range p.Locators {
		lg := p.Log.With().Str("strategy", strategy.Name()).Logger()
		s, err := strategy.Locate(ctx)
		if err != nil {
			lg.Debug().Err(err).Msg("locator produced no snapshot")
			locateErrs = append(locateErrs, fmt.Errorf("%s: %w", strategy.Name(), err))
			continue
		}
		lg.Info().Str("stage", string(StageLocate)).Str("date", snapshot.FormatDate(s.Date)).
			Str("url", s.LandingURL).Msg("snapshot located")
		doc, err := p.Resolver.Resolve(ctx, s)
		if err != nil {
			lg.Warn().Err(err).Str("date", snapshot.FormatDate(s.Date)).Msg("snapshot did not resolve")
			resolveErr = fmt.Errorf("%s: %w", strategy.Name(), err)
			continue
		}
		lg.Info().Str("stage", string(StageResolve)).Str("url", doc.URL).Msg("document resolved")
		return s, doc, nil
	}
	if resolveErr != nil {
		return snapshot.Snapshot{}, snapshot.Document{}, &StageError{Stage: StageResolve, Err: resolveErr}
	}
	if len(locateErrs) == 0 {
		locateErrs = append(locateErrs, locate.ErrNotFound)
	}
	return snapshot.Snapshot{}, snapshot.Document{}, &StageError{Stage: StageLocate, Err: errors.Join(locateErrs...)}
}

// Run executes one full ingestion.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	s, doc, err := p.Locate(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Snapshot: s, Document: doc}

	text, err := p.Text.Extract(ctx, doc)
	if err != nil {
		return Result{}, &StageError{Stage: StageText, Err: err}
	}
	res.TextMethod = text.Method
	p.Log.Info().Str("stage", string(StageText)).Str("method", text.Method).Int("pages", text.Pages).
		Int("chars", len(text.Content)).Msg("text obtained")

	m, err := p.Numbers.Extract(text.Content)
	if err != nil {
		return Result{}, &StageError{Stage: StageExtract, Err: fmt.Errorf("%s text of %s: %w", text.Method, doc.URL, err)}
	}
	res.Count, res.RawCount, res.MatchMethod = m.Count, m.Raw, m.Method
	p.Log.Info().Str("stage", string(StageExtract)).Int64("count", m.Count).Str("raw", m.Raw).
		Str("method", string(m.Method)).Msg("count extracted")

	l, err := p.Store.Load(ctx)
	if err != nil {
		return Result{}, &StageError{Stage: StageCommit, Err: fmt.Errorf("load ledger: %w", err)}
	}
	up, err := ledger.Upsert(ctx, p.Store, l, s.Date, m.Count, p.LedgerOptions)
	if err != nil {
		return Result{}, &StageError{Stage: StageCommit, Err: err}
	}
	if up.Decreased {
		p.Log.Warn().Int64("count", m.Count).Int64("previous", up.Previous.FatalityCount).
			Str("previous_date", snapshot.FormatDate(up.Previous.Date)).Msg("fatality count decreased")
	}
	res.Rows, res.Added, res.Decreased = up.Ledger.Len(), up.Added, up.Decreased
	p.Log.Info().Str("stage", string(StageCommit)).Str("date", snapshot.FormatDate(s.Date)).
		Bool("added", up.Added).Int("rows", res.Rows).Msg("ledger committed")
	return res, nil
}
