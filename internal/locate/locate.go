// Package locate finds the most recent report snapshot.
package locate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

// ErrNotFound is returned when a strategy yields no snapshot.
var ErrNotFound = errors.New("no snapshot found")

// Strategy tags selectable through configuration.
const (
	StrategyListing  = "listing-guess"
	StrategyIndexAPI = "index-api"
)

// Strategy produces the latest snapshot from one source.
type Strategy interface {
	Name() string
	Locate(ctx context.Context) (snapshot.Snapshot, error)
}

var titleLayouts = []string{
	"2 January 2006",
	"2 Jan 2006",
	"2 January, 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseDate parses a report date in one of the layouts used in snapshot
// titles, then falls back to dateparse for anything else (ISO timestamps
// from the index API included).
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range titleLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return snapshot.Day(t), nil
		}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, err
	}
	return snapshot.Day(t), nil
}
