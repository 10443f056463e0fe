package db

import (
	"context"
	"fmt"
	"time"
)

// LogEntry is one row of the session audit log.
type LogEntry struct {
	ID        int64
	SessionID string
	EventType string
	Level     string
	Message   string
	Node      string
	Data      string
	CreatedAt time.Time
}

// SaveLogs appends entries in a single transaction.
func (s *SessionDB) SaveLogs(ctx context.Context, entries []LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.RunInTx(ctx, func(tx *TxOps) error {
		for _, e := range entries {
			created := e.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			level := e.Level
			if level == "" {
				level = "info"
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO session_logs (session_id, event_type, level, message, node, data, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, e.SessionID, e.EventType, level, e.Message, e.Node, e.Data, created.UTC().Format(timeLayout))
			if err != nil {
				return fmt.Errorf("insert log for %s: %w", e.SessionID, err)
			}
		}
		return nil
	})
}

// ListLogs returns a session's log entries oldest first.
// A limit of zero or less returns all entries.
func (s *SessionDB) ListLogs(ctx context.Context, sessionID string, limit int) ([]LogEntry, error) {
	query := `
		SELECT id, session_id, event_type, level, message, node, COALESCE(data, ''), created_at
		FROM session_logs WHERE session_id = ? ORDER BY id`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			created string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.EventType, &e.Level, &e.Message, &e.Node, &e.Data, &created); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RunResult is the analytics row written when a session finalizes.
type RunResult struct {
	SessionID       string
	ExamName        string
	Status          string
	Success         bool
	Message         string
	Cycles          int
	FilledFields    int
	OTPRequests     int
	CaptchaRequests int
	CustomRequests  int
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Duration returns the wall time between start and finish.
func (r RunResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// SaveResult upserts the run result for a session.
func (s *SessionDB) SaveResult(ctx context.Context, r RunResult) error {
	success := 0
	if r.Success {
		success = 1
	}
	_, err := s.Exec(ctx, `
		INSERT INTO session_results (session_id, exam_name, status, success, message, cycles, filled_fields,
			otp_requests, captcha_requests, custom_requests, started_at, finished_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			exam_name = excluded.exam_name,
			status = excluded.status,
			success = excluded.success,
			message = excluded.message,
			cycles = excluded.cycles,
			filled_fields = excluded.filled_fields,
			otp_requests = excluded.otp_requests,
			captcha_requests = excluded.captcha_requests,
			custom_requests = excluded.custom_requests,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms
	`, r.SessionID, r.ExamName, r.Status, success, r.Message, r.Cycles, r.FilledFields,
		r.OTPRequests, r.CaptchaRequests, r.CustomRequests,
		r.StartedAt.UTC().Format(timeLayout), r.FinishedAt.UTC().Format(timeLayout), r.Duration().Milliseconds())
	if err != nil {
		return fmt.Errorf("save result %s: %w", r.SessionID, err)
	}
	return nil
}

// Stats aggregates run results.
type Stats struct {
	ExamName        string  `json:"exam_name,omitempty"`
	Runs            int     `json:"runs"`
	Successful      int     `json:"successful"`
	Failed          int     `json:"failed"`
	AvgCycles       float64 `json:"avg_cycles"`
	AvgDurationMS   float64 `json:"avg_duration_ms"`
	OTPRequests     int     `json:"otp_requests"`
	CaptchaRequests int     `json:"captcha_requests"`
	CustomRequests  int     `json:"custom_requests"`
}

// SuccessRate returns successful runs as a fraction of all runs.
func (st Stats) SuccessRate() float64 {
	if st.Runs == 0 {
		return 0
	}
	return float64(st.Successful) / float64(st.Runs)
}

const statsColumns = `
	COUNT(*),
	COALESCE(SUM(success), 0),
	COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(AVG(cycles), 0),
	COALESCE(AVG(duration_ms), 0),
	COALESCE(SUM(otp_requests), 0),
	COALESCE(SUM(captcha_requests), 0),
	COALESCE(SUM(custom_requests), 0)`

// Stats returns aggregates over all recorded runs.
func (s *SessionDB) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.QueryRow(ctx, "SELECT "+statsColumns+" FROM session_results").Scan(
		&st.Runs, &st.Successful, &st.Failed, &st.AvgCycles, &st.AvgDurationMS,
		&st.OTPRequests, &st.CaptchaRequests, &st.CustomRequests)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// ExamStats returns aggregates grouped by exam name.
func (s *SessionDB) ExamStats(ctx context.Context) ([]Stats, error) {
	rows, err := s.Query(ctx, "SELECT exam_name, "+statsColumns+" FROM session_results GROUP BY exam_name ORDER BY exam_name")
	if err != nil {
		return nil, fmt.Errorf("query exam stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Stats
	for rows.Next() {
		var st Stats
		if err := rows.Scan(&st.ExamName, &st.Runs, &st.Successful, &st.Failed, &st.AvgCycles, &st.AvgDurationMS,
			&st.OTPRequests, &st.CaptchaRequests, &st.CustomRequests); err != nil {
			return nil, fmt.Errorf("scan exam stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
