package ledger

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/gazaledger/internal/snapshot"
)

func day(s string) time.Time {
	d, err := snapshot.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCSVStore_LoadMissingIsEmpty(t *testing.T) {
	s := &CSVStore{Path: filepath.Join(t.TempDir(), "data", "fatalities.csv")}
	l, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, l.Len())
}

func TestUpsert_AppendsAndPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "fatalities.csv")
	s := &CSVStore{Path: path}

	res, err := Upsert(ctx, s, Ledger{}, day("2025-05-07"), 52653, Options{})
	require.NoError(t, err)
	require.True(t, res.Added)
	require.Equal(t, 1, res.Ledger.Len())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "date,fatality_count\n2025-05-07,52653\n", string(b))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, res.Ledger, loaded)
}

func TestUpsert_IdempotentForExistingDate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fatalities.csv")
	s := &CSVStore{Path: path}
	first, err := Upsert(ctx, s, Ledger{}, day("2025-05-07"), 52653, Options{})
	require.NoError(t, err)
	before, err := os.Stat(path)
	require.NoError(t, err)

	second, err := Upsert(ctx, s, first.Ledger, day("2025-05-07"), 99999, Options{})
	require.NoError(t, err)
	require.False(t, second.Added)
	require.Equal(t, first.Ledger, second.Ledger)

	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, before.ModTime(), after.ModTime(), "existing date must not rewrite the file")
	e, ok := second.Ledger.Find(day("2025-05-07"))
	require.True(t, ok)
	require.Equal(t, int64(52653), e.FatalityCount, "existing entry must not be overwritten")
}

func TestUpsert_KeepsDatesUniqueAndSorted(t *testing.T) {
	ctx := context.Background()
	s := &CSVStore{Path: filepath.Join(t.TempDir(), "fatalities.csv")}
	rng := rand.New(rand.NewSource(7))
	l := Ledger{}
	base := day("2024-01-01")
	for i := 0; i < 200; i++ {
		d := base.AddDate(0, 0, rng.Intn(60))
		res, err := Upsert(ctx, s, l, d, int64(rng.Intn(100000)), Options{})
		require.NoError(t, err)
		l = res.Ledger
		for j := 1; j < len(l.Entries); j++ {
			require.True(t, l.Entries[j-1].Date.Before(l.Entries[j].Date), "entries must be strictly ascending")
		}
	}
	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, l, loaded)
}

func TestUpsert_DecreasingCount(t *testing.T) {
	ctx := context.Background()
	s := &CSVStore{Path: filepath.Join(t.TempDir(), "fatalities.csv")}
	first, err := Upsert(ctx, s, Ledger{}, day("2025-05-07"), 52653, Options{})
	require.NoError(t, err)

	warned, err := Upsert(ctx, s, first.Ledger, day("2025-05-14"), 52000, Options{})
	require.NoError(t, err)
	require.True(t, warned.Added)
	require.True(t, warned.Decreased)
	require.Equal(t, int64(52653), warned.Previous.FatalityCount)

	_, err = Upsert(ctx, s, warned.Ledger, day("2025-05-21"), 51000, Options{RejectDecrease: true})
	require.ErrorIs(t, err, ErrDecreasing)
	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())
}

type failingStore struct{}

func (failingStore) Load(context.Context) (Ledger, error) { return Ledger{}, nil }
func (failingStore) Save(context.Context, Ledger) error   { return errors.New("disk full") }

func TestUpsert_SaveFailureReturnsError(t *testing.T) {
	_, err := Upsert(context.Background(), failingStore{}, Ledger{}, day("2025-05-07"), 1, Options{})
	require.Error(t, err)
}

func TestCSVStore_FailedSaveKeepsPreviousFile(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "fatalities.csv")
	s := &CSVStore{Path: path}
	res, err := Upsert(ctx, s, Ledger{}, day("2025-05-07"), 52653, Options{})
	require.NoError(t, err)
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err = Upsert(ctx, s, res.Ledger, day("2025-05-14"), 53000, Options{})
	require.Error(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "date,fatality_count\n2025-05-07,52653\n", string(b))
}

func TestCSVStore_ReadsLegacyAndSortsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fatalities.csv")
	content := "date,fatalities\n2025-05-14 00:00:00,53000.0\n2025-05-07,52653\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	l, err := (&CSVStore{Path: path}).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())
	require.Equal(t, "2025-05-07", snapshot.FormatDate(l.Entries[0].Date))
	require.Equal(t, int64(53000), l.Entries[1].FatalityCount)
}

func TestCSVStore_RejectsCorruptFiles(t *testing.T) {
	for name, content := range map[string]string{
		"duplicate": "date,fatality_count\n2025-05-07,1\n2025-05-07,2\n",
		"negative":  "date,fatality_count\n2025-05-07,-1\n",
		"bad date":  "date,fatality_count\n07/05/2025,1\n",
		"bad count": "date,fatality_count\n2025-05-07,many\n",
		"no header": "when,count\n2025-05-07,1\n",
	} {
		path := filepath.Join(t.TempDir(), "fatalities.csv")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := (&CSVStore{Path: path}).Load(context.Background())
		require.ErrorIs(t, err, ErrCorrupt, name)
	}
}

func TestSQLiteStore_UpsertAndLoad(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer s.Close()

	l, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, l.Len())

	res, err := Upsert(ctx, s, l, day("2025-05-14"), 53000, Options{})
	require.NoError(t, err)
	res, err = Upsert(ctx, s, res.Ledger, day("2025-05-07"), 52653, Options{})
	require.NoError(t, err)
	again, err := Upsert(ctx, s, res.Ledger, day("2025-05-07"), 1, Options{})
	require.NoError(t, err)
	require.False(t, again.Added)

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, res.Ledger, loaded)
	require.Equal(t, "2025-05-07", snapshot.FormatDate(loaded.Entries[0].Date))
}
