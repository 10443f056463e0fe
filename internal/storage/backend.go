// Package storage provides the persistence backends consumed by the workflow:
// whole-record session checkpoints, partial progress merges, an append-only
// audit log and run results.
package storage

import (
	"context"
	"errors"

	"github.com/randalmurphal/autoform/internal/db"
	"github.com/randalmurphal/autoform/internal/session"
)

// ErrNotFound is returned when no checkpoint or progress record exists.
var ErrNotFound = errors.New("storage: not found")

type (
	// LogEntry is one audit log entry.
	LogEntry = db.LogEntry
	// RunResult is the analytics record written on finalize.
	RunResult = db.RunResult
	// Stats aggregates run results.
	Stats = db.Stats
)

// Backend defines the storage operations used by the workflow.
// All implementations must be safe for concurrent access, and operations on
// one session must never block operations on another.
type Backend interface {
	// Checkpoints
	SaveCheckpoint(ctx context.Context, s *session.State) error
	LoadCheckpoint(ctx context.Context, sessionID string) (*session.State, error)

	// Progress record, merged key by key into the stored document.
	MergeProgress(ctx context.Context, sessionID string, fields map[string]any) error
	LoadProgress(ctx context.Context, sessionID string) (map[string]any, error)

	// Audit log
	AppendLogs(ctx context.Context, entries []LogEntry) error
	ListLogs(ctx context.Context, sessionID string, limit int) ([]LogEntry, error)

	// Analytics
	SaveResult(ctx context.Context, r RunResult) error
	Stats(ctx context.Context) (Stats, error)
	ExamStats(ctx context.Context) ([]Stats, error)

	Close() error
}
