package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/autoform/internal/batch"
	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/workflow"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	var (
		targetURL string
		examName  string
		dataFile  string
		fields    map[string]string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one registration in the foreground",
		Long: `Run one registration until it completes, fails or needs human input.

User data comes from a YAML file of field: value pairs and/or --field flags
(flags win). Ctrl+C pauses after the current cycle; continue with
'autoform resume SESSION_ID'.

Example:
  autoform run --url https://exam.example/register --data user.yaml
  autoform run --url https://exam.example --field email=a@b.c --field name="A B"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := loadUserData(dataFile, fields)
			if err != nil {
				return err
			}
			if err := batch.Validate([]batch.Item{{ExamURL: targetURL}}); err != nil {
				return err
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := SetupSignalHandler()
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeApp(a)

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			s := a.manager.NewSession(sessionID, examName, targetURL, data)
			stop := watch(a.publisher, cmd.ErrOrStderr(), sessionID)
			res, err := a.manager.Run(ctx, s)
			stop()
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&targetURL, "url", "", "registration page URL (required)")
	cmd.Flags().StringVar(&examName, "exam", "", "exam name used for statistics")
	cmd.Flags().StringVarP(&dataFile, "data", "d", "", "YAML file with user data")
	cmd.Flags().StringToStringVarP(&fields, "field", "f", nil, "user data field (key=value, repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (default: random UUID)")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

// loadUserData merges a YAML file of field values with flag overrides.
func loadUserData(path string, overrides map[string]string) (map[string]string, error) {
	data := make(map[string]string)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read user data: %w", err)
		}
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, autoerrors.ErrInvalidInput(fmt.Sprintf("user data %s is not a map of field: value: %v", path, err))
		}
	}
	for k, v := range overrides {
		data[k] = v
	}
	return data, nil
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}

// printResult reports how an invocation returned and what to do next.
func printResult(w io.Writer, res workflow.Result) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "Session:  %s\n", res.SessionID)
	fmt.Fprintf(w, "Status:   %s (phase %s, %d%%, %d cycles)\n", res.Status, res.Phase, res.Progress, res.Cycles)
	if res.Message != "" {
		fmt.Fprintf(w, "Message:  %s\n", res.Message)
	}

	switch {
	case res.Paused:
		fmt.Fprintf(w, "\nPaused. Continue with: autoform resume %s\n", res.SessionID)
	case res.Status == session.StatusWaitingInput && res.Pending != nil:
		fmt.Fprintf(w, "\nWaiting for %s", res.Pending.Kind)
		if res.Pending.Label != "" {
			fmt.Fprintf(w, " (%s)", res.Pending.Label)
		}
		if res.Pending.Reason != "" {
			fmt.Fprintf(w, ": %s", res.Pending.Reason)
		}
		fmt.Fprintf(w, "\nAnswer with: autoform resume %s --value VALUE", res.SessionID)
		if res.Pending.FieldID != "" {
			fmt.Fprintf(w, " --field %s", res.Pending.FieldID)
		}
		fmt.Fprintln(w)
	case res.Status == session.StatusFailed:
		return fmt.Errorf("session %s failed: %s", res.SessionID, res.Message)
	}
	return nil
}
