package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterhq/arbiter/pkg/metrics"
	"github.com/arbiterhq/arbiter/pkg/pipeline"
	"github.com/arbiterhq/arbiter/pkg/verify"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	j, err := NewSQLiteJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func sampleResult(id string, state pipeline.TerminalState) *pipeline.Result {
	return &pipeline.Result{
		ID:               id,
		Intent:           "chat",
		State:            state,
		FinalAnswer:      "forty-two",
		FinalProvider:    "phi3",
		OriginalProvider: "gemma",
		Escalated:        true,
		Escalations:      1,
		Confidence:       &verify.ConfidenceResult{Score: 0.82},
		TotalCost:        0.0004,
		Calls: []metrics.CallReport{
			{Provider: "gemma", Model: "gemma:2b"},
			{Provider: "phi3", Model: "phi3:3.8b"},
		},
		Duration: 1200 * time.Millisecond,
	}
}

func TestLogAndReadBack(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.LogRequest(ctx, sampleResult("req-1", pipeline.StateAccepted)))

	rows, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "req-1", row.ID)
	assert.Equal(t, "chat", row.Intent)
	assert.Equal(t, "accepted", row.State)
	assert.Equal(t, "phi3", row.Provider)
	assert.Equal(t, "gemma", row.FirstChoice)
	assert.True(t, row.Escalated)
	assert.Equal(t, 1, row.Escalations)
	assert.Equal(t, 0.82, row.Confidence)
	assert.Equal(t, 0.0004, row.CostUSD)
	assert.Equal(t, int64(1200), row.DurationMs)
	assert.False(t, row.CreatedAt.IsZero())
}

func TestRecentNewestFirstAndLimited(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.LogRequest(ctx, sampleResult(id, pipeline.StateAccepted)))
	}

	rows, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestLogWithoutConfidence(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	res := sampleResult("req-err", pipeline.StateExhausted)
	res.Confidence = nil
	require.NoError(t, j.LogRequest(ctx, res))

	rows, err := j.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Zero(t, rows[0].Confidence)
}

func TestSummary(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.LogRequest(ctx, sampleResult("1", pipeline.StateAccepted)))
	require.NoError(t, j.LogRequest(ctx, sampleResult("2", pipeline.StateAccepted)))
	require.NoError(t, j.LogRequest(ctx, sampleResult("3", pipeline.StateRejected)))
	require.NoError(t, j.LogRequest(ctx, sampleResult("4", pipeline.StateExhausted)))

	stats, err := j.Summary(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.ByState["accepted"])
	assert.Equal(t, 1, stats.ByState["rejected"])
	assert.Equal(t, 1, stats.ByState["exhausted"])
	assert.Equal(t, 4, stats.Escalated)
	assert.InDelta(t, 0.0016, stats.TotalCost, 1e-9)
}

func TestDuplicateIDRejected(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.LogRequest(ctx, sampleResult("dup", pipeline.StateAccepted)))
	assert.Error(t, j.LogRequest(ctx, sampleResult("dup", pipeline.StateAccepted)))
}
