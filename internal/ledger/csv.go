package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

// Column names of the ledger file.
const (
	ColumnDate  = "date"
	ColumnCount = "fatality_count"
	// legacyColumnCount is accepted on read for files written by older runs.
	legacyColumnCount = "fatalities"
)

// CSVStore keeps the ledger in a two-column CSV file.
type CSVStore struct {
	Path string
}

// Load reads the ledger. A missing file is an empty ledger.
func (s *CSVStore) Load(_ context.Context) (Ledger, error) {
	f, err := os.Open(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Ledger{}, nil
	}
	if err != nil {
		return Ledger{}, err
	}
	defer f.Close()
	return readCSV(f)
}

func readCSV(r io.Reader) (Ledger, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Ledger{}, nil
	}
	if err != nil {
		return Ledger{}, fmt.Errorf("%w: read header: %v", ErrCorrupt, err)
	}
	dateCol, countCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case ColumnDate:
			dateCol = i
		case ColumnCount, legacyColumnCount:
			countCol = i
		}
	}
	if dateCol < 0 || countCol < 0 {
		return Ledger{}, fmt.Errorf("%w: header %v lacks %s/%s", ErrCorrupt, header, ColumnDate, ColumnCount)
	}
	var entries []Entry
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Ledger{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if len(rec) <= dateCol || len(rec) <= countCol {
			return Ledger{}, fmt.Errorf("%w: line %d has %d fields", ErrCorrupt, line, len(rec))
		}
		date, err := parseLedgerDate(rec[dateCol])
		if err != nil {
			return Ledger{}, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
		count, err := parseLedgerCount(rec[countCol])
		if err != nil {
			return Ledger{}, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}
		entries = append(entries, Entry{Date: date, FatalityCount: count})
	}
	return validate(entries)
}

// parseLedgerDate accepts YYYY-MM-DD, optionally followed by a midnight
// time component as written by older tooling.
func parseLedgerDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " T"); i == len(snapshot.DateLayout) {
		s = s[:i]
	}
	return snapshot.ParseDate(s)
}

// parseLedgerCount accepts integers and integral floats ("52653.0").
func parseLedgerCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("bad fatality count %q", s)
	}
	return int64(f), nil
}

// Save writes the whole ledger to a temp file next to Path, syncs it and
// renames it over Path. A failure leaves the previous file untouched.
func (s *CSVStore) Save(_ context.Context, l Ledger) (err error) {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	w := csv.NewWriter(tmp)
	if err := w.Write([]string{ColumnDate, ColumnCount}); err != nil {
		return err
	}
	for _, e := range l.Entries {
		if err := w.Write([]string{snapshot.FormatDate(e.Date), strconv.FormatInt(e.FatalityCount, 10)}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
