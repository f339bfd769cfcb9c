package locate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/gazaledger/internal/extract"
	"github.com/hyperifyio/gazaledger/internal/fetch"
	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

// DefaultTitlePrefix is the literal, case-sensitive start of a snapshot title.
const DefaultTitlePrefix = "Reported impact snapshot | Gaza Strip"

// Listing scans a publications listing page for snapshot titles and picks
// the one with the latest date.
type Listing struct {
	Client     *fetch.Client
	ListingURL string
	// TitlePrefix defaults to DefaultTitlePrefix.
	TitlePrefix string
}

// Name identifies the strategy in logs and errors.
func (l *Listing) Name() string { return StrategyListing }

// Locate fetches the listing page and returns the newest matching snapshot.
func (l *Listing) Locate(ctx context.Context) (snapshot.Snapshot, error) {
	resp, err := l.Client.Get(ctx, l.ListingURL, fetch.AcceptHTML)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("fetch listing: %w", err)
	}
	candidates, err := l.Candidates(resp.Body)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if len(candidates) == 0 {
		return snapshot.Snapshot{}, fmt.Errorf("%w: no matching titles on %s", ErrNotFound, l.ListingURL)
	}
	return Latest(candidates), nil
}

// Candidates returns one snapshot per anchor whose text matches the title
// pattern, in page order.
func (l *Listing) Candidates(page []byte) ([]snapshot.Snapshot, error) {
	anchors, err := extract.Anchors(page)
	if err != nil {
		return nil, err
	}
	re := l.titlePattern()
	var out []snapshot.Snapshot
	for _, a := range anchors {
		m := re.FindStringSubmatch(a.Text)
		if m == nil {
			continue
		}
		date, err := ParseDate(m[1])
		if err != nil {
			log.Debug().Str("title", a.Text).Err(err).Msg("skip snapshot with unparsable date")
			continue
		}
		landing, err := extract.Absolute(l.ListingURL, a.Href)
		if err != nil {
			log.Debug().Str("href", a.Href).Err(err).Msg("skip snapshot with bad href")
			continue
		}
		out = append(out, snapshot.Snapshot{
			Date:       date,
			LandingURL: landing,
			Title:      a.Text,
			Source:     StrategyListing,
		})
	}
	return out, nil
}

func (l *Listing) titlePattern() *regexp.Regexp {
	prefix := l.TitlePrefix
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultTitlePrefix
	}
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `\s*\(\s*([^)]+?)\s*\)`)
}

// Latest returns the candidate with the maximum date. On ties the first in
// page order wins.
func Latest(candidates []snapshot.Snapshot) snapshot.Snapshot {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Date.After(best.Date) {
			best = c
		}
	}
	return best
}
