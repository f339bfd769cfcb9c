// Package ledger persists the append-only, date-keyed sequence of
// fatality counts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

var (
	// ErrCorrupt is returned when a persisted ledger violates its invariants.
	ErrCorrupt = errors.New("corrupt ledger")
	// ErrDecreasing is returned by Upsert when RejectDecrease is set and the
	// new count is lower than the preceding entry's.
	ErrDecreasing = errors.New("fatality count decreased")
)

// Entry is one ledger row.
type Entry struct {
	Date          time.Time
	FatalityCount int64
}

// Ledger is sorted ascending by date with no duplicate dates.
type Ledger struct {
	Entries []Entry
}

// Len returns the number of entries.
func (l Ledger) Len() int { return len(l.Entries) }

// Has reports whether an entry exists for date.
func (l Ledger) Has(date time.Time) bool {
	_, ok := l.Find(date)
	return ok
}

// Find returns the entry for date.
func (l Ledger) Find(date time.Time) (Entry, bool) {
	date = snapshot.Day(date)
	i := sort.Search(len(l.Entries), func(i int) bool { return !l.Entries[i].Date.Before(date) })
	if i < len(l.Entries) && l.Entries[i].Date.Equal(date) {
		return l.Entries[i], true
	}
	return Entry{}, false
}

// Before returns the latest entry dated strictly before date.
func (l Ledger) Before(date time.Time) (Entry, bool) {
	date = snapshot.Day(date)
	i := sort.Search(len(l.Entries), func(i int) bool { return !l.Entries[i].Date.Before(date) })
	if i == 0 {
		return Entry{}, false
	}
	return l.Entries[i-1], true
}

// Latest returns the newest entry.
func (l Ledger) Latest() (Entry, bool) {
	if len(l.Entries) == 0 {
		return Entry{}, false
	}
	return l.Entries[len(l.Entries)-1], true
}

// With returns a copy of l with e inserted in date order. It does not check
// for an existing entry.
func (l Ledger) With(e Entry) Ledger {
	e.Date = snapshot.Day(e.Date)
	out := make([]Entry, 0, len(l.Entries)+1)
	out = append(out, l.Entries...)
	out = append(out, e)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return Ledger{Entries: out}
}

// validate sorts entries and rejects duplicates and negative counts.
func validate(entries []Entry) (Ledger, error) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })
	for i, e := range entries {
		if e.FatalityCount < 0 {
			return Ledger{}, fmt.Errorf("%w: negative count on %s", ErrCorrupt, snapshot.FormatDate(e.Date))
		}
		if i > 0 && entries[i-1].Date.Equal(e.Date) {
			return Ledger{}, fmt.Errorf("%w: duplicate date %s", ErrCorrupt, snapshot.FormatDate(e.Date))
		}
	}
	return Ledger{Entries: entries}, nil
}

// Store loads and persists a whole ledger. Save must be all-or-nothing.
type Store interface {
	Load(ctx context.Context) (Ledger, error)
	Save(ctx context.Context, l Ledger) error
}

// Options tune Upsert.
type Options struct {
	// RejectDecrease fails the commit when the count is lower than the
	// preceding entry's. Otherwise a decrease is only reported.
	RejectDecrease bool
}

// Result describes the outcome of Upsert.
type Result struct {
	Ledger Ledger
	// Added is false when the date was already present.
	Added bool
	// Decreased is set when the new count is below the preceding entry's.
	Decreased bool
	Previous  Entry
}

// Upsert appends (date, count) to l and persists it through s. An existing
// entry for date leaves the ledger unchanged and nothing is written.
func Upsert(ctx context.Context, s Store, l Ledger, date time.Time, count int64, opts Options) (Result, error) {
	if count < 0 {
		return Result{}, fmt.Errorf("negative fatality count %d", count)
	}
	date = snapshot.Day(date)
	if l.Has(date) {
		return Result{Ledger: l}, nil
	}
	res := Result{Added: true}
	if prev, ok := l.Before(date); ok && count < prev.FatalityCount {
		res.Decreased = true
		res.Previous = prev
		if opts.RejectDecrease {
			return Result{}, fmt.Errorf("%w: %s has %d after %d on %s", ErrDecreasing,
				snapshot.FormatDate(date), count, prev.FatalityCount, snapshot.FormatDate(prev.Date))
		}
	}
	next := l.With(Entry{Date: date, FatalityCount: count})
	if err := s.Save(ctx, next); err != nil {
		return Result{}, err
	}
	res.Ledger = next
	return res, nil
}
