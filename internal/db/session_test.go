package db

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoform/internal/db/driver"
)

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	sdb := NewTestSessionDB(t)
	ctx := context.Background()

	_, err := sdb.LoadCheckpoint(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	cp := Checkpoint{
		SessionID: "s1",
		ExamName:  "ssc",
		TargetURL: "https://exam.example",
		Status:    "running",
		Phase:     "login",
		Progress:  15,
		Data:      []byte(`{"session_id":"s1"}`),
	}
	require.NoError(t, sdb.SaveCheckpoint(ctx, cp))

	cp.Status = "waiting_input"
	cp.Progress = 20
	cp.Data = []byte(`{"session_id":"s1","status":"waiting_input"}`)
	require.NoError(t, sdb.SaveCheckpoint(ctx, cp))

	got, err := sdb.LoadCheckpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "waiting_input", got.Status)
	assert.Equal(t, "login", got.Phase)
	assert.Equal(t, 20, got.Progress)
	assert.JSONEq(t, string(cp.Data), string(got.Data))
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMergeGraphStatePreservesUnnamedKeys(t *testing.T) {
	t.Parallel()
	sdb := NewTestSessionDB(t)
	ctx := context.Background()

	require.NoError(t, sdb.MergeGraphState(ctx, "s1", map[string]any{
		"current_phase":          "login",
		"registration_completed": true,
	}))
	require.NoError(t, sdb.MergeGraphState(ctx, "s1", map[string]any{
		"current_phase":   "form_filling",
		"login_completed": true,
	}))

	raw, err := sdb.GraphState(ctx, "s1")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "form_filling", doc["current_phase"])
	assert.Equal(t, true, doc["registration_completed"])
	assert.Equal(t, true, doc["login_completed"])

	// A graph-state-only row carries no checkpoint.
	_, err = sdb.LoadCheckpoint(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeGraphStateKeepsCheckpoint(t *testing.T) {
	t.Parallel()
	sdb := NewTestSessionDB(t)
	ctx := context.Background()

	require.NoError(t, sdb.SaveCheckpoint(ctx, Checkpoint{SessionID: "s1", Status: "running", Phase: "registration", Data: []byte(`{}`)}))
	require.NoError(t, sdb.MergeGraphState(ctx, "s1", map[string]any{"current_phase": "login"}))

	got, err := sdb.LoadCheckpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got.Data))
}

func TestGraphStateNotFound(t *testing.T) {
	t.Parallel()
	sdb := NewTestSessionDB(t)
	_, err := sdb.GraphState(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogsAppendAndList(t *testing.T) {
	t.Parallel()
	sdb := NewTestSessionDB(t)
	ctx := context.Background()

	require.NoError(t, sdb.SaveLogs(ctx, nil))
	require.NoError(t, sdb.SaveLogs(ctx, []LogEntry{
		{SessionID: "s1", EventType: "log", Message: "init", Node: "init"},
		{SessionID: "s1", EventType: "log", Level: "error", Message: "boom", Node: "execute"},
		{SessionID: "s2", EventType: "status", Message: "other"},
	}))

	logs, err := sdb.ListLogs(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "init", logs[0].Message)
	assert.Equal(t, "info", logs[0].Level)
	assert.Equal(t, "error", logs[1].Level)

	limited, err := sdb.ListLogs(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestResultsAndStats(t *testing.T) {
	t.Parallel()
	sdb := NewTestSessionDB(t)
	ctx := context.Background()

	empty, err := sdb.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Runs)
	assert.Zero(t, empty.SuccessRate())

	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	results := []RunResult{
		{SessionID: "a", ExamName: "ssc", Status: "completed", Success: true, Cycles: 10, OTPRequests: 1, StartedAt: start, FinishedAt: start.Add(2 * time.Second)},
		{SessionID: "b", ExamName: "ssc", Status: "failed", Cycles: 20, CaptchaRequests: 2, StartedAt: start, FinishedAt: start.Add(4 * time.Second)},
		{SessionID: "c", ExamName: "upsc", Status: "completed", Success: true, Cycles: 30, CustomRequests: 1, StartedAt: start, FinishedAt: start.Add(6 * time.Second)},
	}
	for _, r := range results {
		require.NoError(t, sdb.SaveResult(ctx, r))
	}
	// Upsert replaces rather than duplicates.
	require.NoError(t, sdb.SaveResult(ctx, results[0]))

	st, err := sdb.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Runs)
	assert.Equal(t, 2, st.Successful)
	assert.Equal(t, 1, st.Failed)
	assert.InDelta(t, 20.0, st.AvgCycles, 0.001)
	assert.InDelta(t, 4000.0, st.AvgDurationMS, 0.001)
	assert.Equal(t, 1, st.OTPRequests)
	assert.Equal(t, 2, st.CaptchaRequests)
	assert.Equal(t, 1, st.CustomRequests)
	assert.InDelta(t, 2.0/3.0, st.SuccessRate(), 0.001)

	byExam, err := sdb.ExamStats(ctx)
	require.NoError(t, err)
	require.Len(t, byExam, 2)
	assert.Equal(t, "ssc", byExam[0].ExamName)
	assert.Equal(t, 2, byExam[0].Runs)
	assert.Equal(t, "upsc", byExam[1].ExamName)
}

func TestRunResultDuration(t *testing.T) {
	t.Parallel()
	start := time.Now()
	assert.Equal(t, time.Duration(0), RunResult{}.Duration())
	assert.Equal(t, time.Duration(0), RunResult{StartedAt: start, FinishedAt: start.Add(-time.Second)}.Duration())
	assert.Equal(t, time.Second, RunResult{StartedAt: start, FinishedAt: start.Add(time.Second)}.Duration())
}

func TestOpenSessionDBFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "autoform.db")
	sdb, err := OpenSessionDB(context.Background(), path, driver.DialectSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sdb.Close() })

	assert.Equal(t, path, sdb.Path())
	assert.Equal(t, driver.DialectSQLite, sdb.Dialect())
	require.NoError(t, sdb.SaveCheckpoint(context.Background(), Checkpoint{SessionID: "x", Status: "running", Phase: "registration", Data: []byte(`{}`)}))
}

func TestRebind(t *testing.T) {
	t.Parallel()
	pg := &DB{driver: driver.NewPostgres()}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &DB{driver: driver.NewSQLite()}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
