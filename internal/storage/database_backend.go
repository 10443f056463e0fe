package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/autoform/internal/db"
	"github.com/randalmurphal/autoform/internal/db/driver"
	"github.com/randalmurphal/autoform/internal/session"
)

// DatabaseBackend stores sessions in SQLite or PostgreSQL.
// Writes for one session are serialized; different sessions do not contend.
type DatabaseBackend struct {
	db     *db.SessionDB
	locks  *keyedMutex
	logger *slog.Logger
}

// NewDatabaseBackend opens a database backend for the given dialect and DSN.
func NewDatabaseBackend(ctx context.Context, dsn string, dialect driver.Dialect, logger *slog.Logger) (*DatabaseBackend, error) {
	sdb, err := db.OpenSessionDB(ctx, dsn, dialect)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	return newDatabaseBackend(sdb, logger), nil
}

// NewInMemoryBackend creates a backend over an in-memory SQLite database.
func NewInMemoryBackend() (*DatabaseBackend, error) {
	sdb, err := db.OpenSessionDBInMemory()
	if err != nil {
		return nil, err
	}
	return newDatabaseBackend(sdb, nil), nil
}

func newDatabaseBackend(sdb *db.SessionDB, logger *slog.Logger) *DatabaseBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatabaseBackend{db: sdb, locks: newKeyedMutex(), logger: logger}
}

// DB returns the underlying session database.
func (d *DatabaseBackend) DB() *db.SessionDB {
	return d.db
}

// SaveCheckpoint replaces the stored checkpoint with s.
func (d *DatabaseBackend) SaveCheckpoint(ctx context.Context, s *session.State) error {
	data, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", s.SessionID, err)
	}
	unlock := d.locks.Lock(s.SessionID)
	defer unlock()

	return d.db.SaveCheckpoint(ctx, db.Checkpoint{
		SessionID: s.SessionID,
		ExamName:  s.ExamName,
		TargetURL: s.TargetURL,
		Status:    string(s.Status),
		Phase:     string(s.Phase),
		Progress:  s.Progress,
		Data:      data,
	})
}

// LoadCheckpoint returns the stored session state or ErrNotFound.
func (d *DatabaseBackend) LoadCheckpoint(ctx context.Context, sessionID string) (*session.State, error) {
	cp, err := d.db.LoadCheckpoint(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s, err := session.Unmarshal(cp.Data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", sessionID, err)
	}
	return s, nil
}

// MergeProgress merges fields into the session's progress record.
func (d *DatabaseBackend) MergeProgress(ctx context.Context, sessionID string, fields map[string]any) error {
	unlock := d.locks.Lock(sessionID)
	defer unlock()
	return d.db.MergeGraphState(ctx, sessionID, fields)
}

// LoadProgress returns the merged progress record or ErrNotFound.
func (d *DatabaseBackend) LoadProgress(ctx context.Context, sessionID string) (map[string]any, error) {
	raw, err := d.db.GraphState(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode progress %s: %w", sessionID, err)
	}
	return out, nil
}

// AppendLogs appends audit entries.
func (d *DatabaseBackend) AppendLogs(ctx context.Context, entries []LogEntry) error {
	return d.db.SaveLogs(ctx, entries)
}

// ListLogs returns a session's audit entries, oldest first.
func (d *DatabaseBackend) ListLogs(ctx context.Context, sessionID string, limit int) ([]LogEntry, error) {
	return d.db.ListLogs(ctx, sessionID, limit)
}

// SaveResult records the run result for a session.
func (d *DatabaseBackend) SaveResult(ctx context.Context, r RunResult) error {
	return d.db.SaveResult(ctx, r)
}

// Stats returns aggregates over all runs.
func (d *DatabaseBackend) Stats(ctx context.Context) (Stats, error) {
	return d.db.Stats(ctx)
}

// ExamStats returns aggregates per exam name.
func (d *DatabaseBackend) ExamStats(ctx context.Context) ([]Stats, error) {
	return d.db.ExamStats(ctx)
}

// Close closes the database.
func (d *DatabaseBackend) Close() error {
	if err := d.db.Close(); err != nil {
		d.logger.Warn("close session database", "error", err)
		return err
	}
	return nil
}
