package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/storage"
)

// Log levels carried on client log events.
const (
	levelInfo    = "info"
	levelSuccess = "success"
	levelWarning = "warning"
	levelError   = "error"
)

// notifier writes every log-worthy event to slog and to the client channel,
// and performs best-effort persistence.
type notifier struct {
	events         *events.PublishHelper
	store          storage.Backend
	logger         *slog.Logger
	persistTimeout time.Duration
}

func (n *notifier) log(s *session.State, level, node, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	attrs := []any{"session", s.SessionID, "node", node, "phase", s.Phase}
	switch level {
	case levelError:
		n.logger.Error(msg, attrs...)
	case levelWarning:
		n.logger.Warn(msg, attrs...)
	default:
		n.logger.Info(msg, attrs...)
	}
	n.events.Log(s.SessionID, level, msg, node)
}

func (n *notifier) status(s *session.State, step, message string) {
	n.events.Status(s.SessionID, events.StatusData{
		Step:     step,
		Progress: s.Progress,
		Message:  message,
		Status:   string(s.Status),
		Phase:    string(s.Phase),
	})
}

// checkpoint saves the full record. Failures are logged and the run continues.
func (n *notifier) checkpoint(ctx context.Context, s *session.State) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.persistTimeout)
	defer cancel()
	if err := n.store.SaveCheckpoint(ctx, s); err != nil {
		n.log(s, levelWarning, "persist", "checkpoint failed: %v", err)
		return false
	}
	return true
}

// mergeProgress writes the phase/progress record. Failures are logged only.
func (n *notifier) mergeProgress(ctx context.Context, s *session.State) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.persistTimeout)
	defer cancel()
	rec := s.ProgressRecord()
	if err := n.store.MergeProgress(ctx, s.SessionID, rec.Fields()); err != nil {
		n.log(s, levelWarning, "persist", "failed to save progress: %v", err)
		return
	}
	n.logger.Debug("progress saved", "session", s.SessionID, "phase", rec.CurrentPhase, "filled", rec.FormFilling.ProgressCount)
}
