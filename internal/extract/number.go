// Package extract pulls structure out of fetched content: anchors from HTML
// pages and the fatality statistic from report text.
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// ErrNoMatch is returned when no statistic can be found in the text.
var ErrNoMatch = errors.New("no fatality count found")

const (
	// DefaultPrefixSpan bounds the non-digit gap between "Palestinians" and the number.
	DefaultPrefixSpan = 60
	// DefaultSuffixSpan bounds the gap between the number and "fatalities".
	DefaultSuffixSpan = 40
)

// numberRun is a run of digits, group separators and spaces that starts and
// ends with a digit and is at least five characters long.
const numberRun = `[0-9][0-9,.' ]{3,}[0-9]`

// lineRun is stricter than numberRun: a separator must be followed by a full
// group of three digits, so a year directly before the count stays apart.
var lineRun = regexp.MustCompile(`[0-9]{1,3}(?:[,. ][0-9]{3})+|[0-9]{5,}`)

// NumberExtractor finds the cumulative fatality count in report text.
type NumberExtractor struct {
	primary *regexp.Regexp
}

// Method names the strategy that produced a match.
type Method string

const (
	MethodProximity Method = "proximity"
	MethodLineScan  Method = "line-scan"
)

// Match is a successful extraction.
type Match struct {
	Count  int64
	Raw    string
	Method Method
}

// NewNumberExtractor builds an extractor with the given spans. Non-positive
// spans fall back to the defaults.
func NewNumberExtractor(prefixSpan, suffixSpan int) *NumberExtractor {
	if prefixSpan <= 0 {
		prefixSpan = DefaultPrefixSpan
	}
	if suffixSpan <= 0 {
		suffixSpan = DefaultSuffixSpan
	}
	expr := fmt.Sprintf(`(?is)palestinians[^0-9]{0,%d}(%s)[^0-9]{0,%d}?fatalities`, prefixSpan, numberRun, suffixSpan)
	return &NumberExtractor{primary: regexp.MustCompile(expr)}
}

// Extract returns the fatality count in text.
func (e *NumberExtractor) Extract(text string) (Match, error) {
	text = Normalize(text)
	if m := e.primary.FindStringSubmatch(text); m != nil {
		return toMatch(m[1], MethodProximity)
	}
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(strings.ToLower(line), "palestinians") {
			continue
		}
		if raw := lineRun.FindString(line); raw != "" {
			return toMatch(raw, MethodLineScan)
		}
	}
	return Match{}, ErrNoMatch
}

func toMatch(raw string, method Method) (Match, error) {
	n, err := ParseCount(raw)
	if err != nil {
		return Match{}, err
	}
	return Match{Count: n, Raw: strings.TrimSpace(raw), Method: method}, nil
}

// ParseCount strips every non-digit from raw and parses the rest as a
// base-10 integer. An empty remainder is an error, never zero.
func ParseCount(raw string) (int64, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("%w: no digits in %q", ErrNoMatch, raw)
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %q: %v", ErrNoMatch, raw, err)
	}
	return n, nil
}

// Normalize folds full-width forms to ASCII, turns CR and CRLF into newlines
// and maps every other Unicode space (no-break, narrow no-break, figure, tab)
// to an ASCII space. Newlines are kept for the line scan. Superscript
// footnote markers are left alone so they never join a number.
func Normalize(s string) string {
	s = width.Fold.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\r':
			return '\n'
		case unicode.IsSpace(r):
			return ' '
		}
		return r
	}, s)
}
