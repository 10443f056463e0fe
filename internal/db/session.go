package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/autoform/internal/db/driver"
)

// ErrNotFound is returned when a session row does not exist.
var ErrNotFound = errors.New("not found")

const timeLayout = time.RFC3339Nano

// SessionDB provides session persistence on top of DB.
type SessionDB struct {
	*DB
}

// OpenSessionDB opens and migrates a session database.
// For SQLite, dsn is the file path. For PostgreSQL, dsn is the connection string.
func OpenSessionDB(ctx context.Context, dsn string, dialect driver.Dialect) (*SessionDB, error) {
	d, err := OpenWithDialect(dsn, dialect)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(ctx, "session"); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SessionDB{DB: d}, nil
}

// OpenSessionDBInMemory opens a migrated in-memory SQLite session database.
func OpenSessionDBInMemory() (*SessionDB, error) {
	d, err := OpenInMemory()
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(context.Background(), "session"); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SessionDB{DB: d}, nil
}

// Checkpoint is one stored session row.
type Checkpoint struct {
	SessionID string
	ExamName  string
	TargetURL string
	Status    string
	Phase     string
	Progress  int
	Data      []byte
	UpdatedAt time.Time
}

// SaveCheckpoint upserts the full session checkpoint.
func (s *SessionDB) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.Exec(ctx, `
		INSERT INTO sessions (id, exam_name, target_url, status, phase, progress, checkpoint, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			exam_name = excluded.exam_name,
			target_url = excluded.target_url,
			status = excluded.status,
			phase = excluded.phase,
			progress = excluded.progress,
			checkpoint = excluded.checkpoint,
			updated_at = excluded.updated_at
	`, cp.SessionID, cp.ExamName, cp.TargetURL, cp.Status, cp.Phase, cp.Progress, string(cp.Data), now, now)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.SessionID, err)
	}
	return nil
}

// LoadCheckpoint returns the stored checkpoint, or ErrNotFound.
func (s *SessionDB) LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	var (
		cp        Checkpoint
		data      sql.NullString
		updatedAt string
	)
	err := s.QueryRow(ctx, `
		SELECT id, exam_name, target_url, status, phase, progress, checkpoint, updated_at
		FROM sessions WHERE id = ?
	`, sessionID).Scan(&cp.SessionID, &cp.ExamName, &cp.TargetURL, &cp.Status, &cp.Phase, &cp.Progress, &data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", sessionID, err)
	}
	if !data.Valid || data.String == "" {
		return nil, ErrNotFound
	}
	cp.Data = []byte(data.String)
	cp.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &cp, nil
}

// MergeGraphState merges fields into the stored graph_state document.
// Keys not named in fields are preserved. A missing row is created.
func (s *SessionDB) MergeGraphState(ctx context.Context, sessionID string, fields map[string]any) error {
	return s.RunInTx(ctx, func(tx *TxOps) error {
		var raw sql.NullString
		err := tx.QueryRow(ctx, "SELECT graph_state FROM sessions WHERE id = ?", sessionID).Scan(&raw)
		exists := true
		if errors.Is(err, sql.ErrNoRows) {
			exists = false
		} else if err != nil {
			return fmt.Errorf("read graph state %s: %w", sessionID, err)
		}

		merged := make(map[string]any)
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &merged); err != nil {
				return fmt.Errorf("decode graph state %s: %w", sessionID, err)
			}
		}
		for k, v := range fields {
			merged[k] = v
		}
		doc, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("encode graph state %s: %w", sessionID, err)
		}

		now := time.Now().UTC().Format(timeLayout)
		if exists {
			_, err = tx.Exec(ctx, "UPDATE sessions SET graph_state = ?, updated_at = ? WHERE id = ?", string(doc), now, sessionID)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO sessions (id, graph_state, created_at, updated_at) VALUES (?, ?, ?, ?)
			`, sessionID, string(doc), now, now)
		}
		if err != nil {
			return fmt.Errorf("write graph state %s: %w", sessionID, err)
		}
		return nil
	})
}

// GraphState returns the stored graph_state document, or ErrNotFound.
func (s *SessionDB) GraphState(ctx context.Context, sessionID string) ([]byte, error) {
	var raw sql.NullString
	err := s.QueryRow(ctx, "SELECT graph_state FROM sessions WHERE id = ?", sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && (!raw.Valid || raw.String == "")) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read graph state %s: %w", sessionID, err)
	}
	return []byte(raw.String), nil
}
