package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/autoform/internal/batch"
	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/events"
)

// batchFile is the on-disk batch format.
type batchFile struct {
	Items []batch.Item `yaml:"items"`
}

// newBatchCmd creates the batch command
func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Run several registrations one after another",
		Long: `Run every item of a YAML batch file sequentially with a pause between
sessions (batch.delay). Sessions that stop for human input are left waiting
and the batch moves on.

File format:
  items:
    - exam_url: https://exam.example/register
      exam_name: mock
      user_data:
        name: A B
        email: a@b.c`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			if err := batch.Validate(items); err != nil {
				return err
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("delay") {
				cfg.Batch.Delay, _ = cmd.Flags().GetDuration("delay")
			}
			ctx, cancel := SetupSignalHandler()
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeApp(a)

			stop := watch(a.publisher, cmd.ErrOrStderr(), events.GlobalSessionID)
			b, err := a.batches.Run(ctx, items)
			stop()
			if err != nil {
				return err
			}
			return printBatch(cmd.OutOrStdout(), b)
		},
	}

	cmd.Flags().Duration("delay", 0, "pause between sessions (overrides batch.delay)")

	return cmd
}

func loadBatchFile(path string) ([]batch.Item, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var f batchFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, autoerrors.ErrInvalidInput(fmt.Sprintf("batch file %s: %v", path, err))
	}
	return f.Items, nil
}

func printBatch(w io.Writer, b batch.Batch) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
	fmt.Fprintf(w, "\nBatch %s %s: %d/%d done, %d successful, %d failed\n",
		b.ID, b.Status, b.Completed, b.Total, b.Successful, b.Failed)
	for _, r := range b.Sessions {
		fmt.Fprintf(w, "  %-3d %-36s %-14s %s\n", r.Index+1, r.SessionID, r.Status, r.Label)
	}
	return nil
}
