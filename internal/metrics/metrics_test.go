package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_WriteFileAfterSuccess(t *testing.T) {
	r := NewRun()
	date := time.Date(2025, 5, 7, 0, 0, 0, 0, time.UTC)
	r.Succeeded(date, 52653, 3, 1500*time.Millisecond)
	path := filepath.Join(t.TempDir(), "textfile", "gazaledger.prom")
	require.NoError(t, r.WriteFile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	require.Contains(t, out, "gazaledger_run_success 1")
	require.Contains(t, out, "gazaledger_ledger_rows 3")
	require.Contains(t, out, "gazaledger_last_fatality_count 52653")
	require.Contains(t, out, "gazaledger_run_duration_seconds 1.5")
	require.Contains(t, out, "gazaledger_last_snapshot_timestamp_seconds 1.746576e+09")
}

func TestRun_FailedCountsStage(t *testing.T) {
	r := NewRun()
	r.Failed("resolve", time.Second)
	path := filepath.Join(t.TempDir(), "m.prom")
	require.NoError(t, r.WriteFile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `gazaledger_stage_failures_total{stage="resolve"} 1`)
	require.Contains(t, string(b), "gazaledger_run_success 0")
}
