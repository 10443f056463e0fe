package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/storage"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	var logLimit int

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session's checkpoint and recent log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			backend, err := openBackend(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			return showStatus(ctx, cmd.OutOrStdout(), backend, args[0], logLimit)
		},
	}

	cmd.Flags().IntVarP(&logLimit, "log", "n", 10, "number of log entries to show")

	return cmd
}

func showStatus(ctx context.Context, w io.Writer, backend storage.Backend, id string, logLimit int) error {
	s, err := backend.LoadCheckpoint(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return autoerrors.ErrSessionNotFound(id)
	}
	if err != nil {
		return autoerrors.ErrStorage("load checkpoint", err)
	}
	var entries []storage.LogEntry
	if logLimit > 0 {
		if entries, err = backend.ListLogs(ctx, id, logLimit); err != nil {
			return autoerrors.ErrStorage("list logs", err)
		}
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"session": redact(s), "logs": entries})
	}

	fmt.Fprintf(w, "Session:  %s\n", s.SessionID)
	if s.ExamName != "" {
		fmt.Fprintf(w, "Exam:     %s\n", s.ExamName)
	}
	fmt.Fprintf(w, "Target:   %s\n", s.TargetURL)
	fmt.Fprintf(w, "Status:   %s\n", s.Status)
	fmt.Fprintf(w, "Phase:    %s\n", s.Phase)
	fmt.Fprintf(w, "Progress: %d%% after %d cycles\n", s.Progress, s.Cycles)
	fmt.Fprintf(w, "Filled:   %s\n", strings.Join(s.FilledFields.Names(), ", "))
	if s.PendingInput != nil {
		fmt.Fprintf(w, "Waiting:  %s %s\n", s.PendingInput.Kind, s.PendingInput.Reason)
	}
	if s.LastError != "" {
		fmt.Fprintf(w, "Error:    %s\n", s.LastError)
	}
	if s.ResultMessage != "" {
		fmt.Fprintf(w, "Result:   %s\n", s.ResultMessage)
	}
	if len(entries) > 0 {
		fmt.Fprintln(w, "\nRecent log:")
		for _, e := range entries {
			fmt.Fprintf(w, "  %s  %-5s %-20s %s\n", e.CreatedAt.Format("15:04:05"), e.Level, e.EventType, e.Message)
		}
	}
	return nil
}

// redact drops user data from a state before printing it.
func redact(s *session.State) *session.State {
	c := s.Clone()
	c.UserData = nil
	c.HumanInput = nil
	c.ReceivedInputs = nil
	return c
}
