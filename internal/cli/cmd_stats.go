package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/storage"
)

// newStatsCmd creates the stats command
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show run statistics overall and per exam",
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

			return showStats(ctx, cmd.OutOrStdout(), backend)
		},
	}
}

func showStats(ctx context.Context, w io.Writer, backend storage.Backend) error {
	global, err := backend.Stats(ctx)
	if err != nil {
		return autoerrors.ErrStorage("load stats", err)
	}
	exams, err := backend.ExamStats(ctx)
	if err != nil {
		return autoerrors.ErrStorage("load exam stats", err)
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"global": global, "exams": exams})
	}

	if global.Runs == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return nil
	}
	fmt.Fprintf(w, "%-24s %6s %6s %6s %8s %10s\n", "EXAM", "RUNS", "OK", "FAILED", "SUCCESS", "AVG TIME")
	for _, st := range exams {
		name := st.ExamName
		if name == "" {
			name = "(unnamed)"
		}
		printStatsRow(w, name, st)
	}
	printStatsRow(w, "TOTAL", global)
	return nil
}

func printStatsRow(w io.Writer, name string, st storage.Stats) {
	avg := time.Duration(st.AvgDurationMS * float64(time.Millisecond)).Round(time.Second)
	fmt.Fprintf(w, "%-24s %6d %6d %6d %7.1f%% %10s\n",
		name, st.Runs, st.Successful, st.Failed, st.SuccessRate()*100, avg)
}
