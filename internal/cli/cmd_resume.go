package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// newResumeCmd creates the resume command
func newResumeCmd() *cobra.Command {
	var (
		value   string
		fieldID string
		secret  bool
	)

	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Answer a pending input request or continue a paused session",
		Long: `Resume a session from its checkpoint.

A session waiting for input (OTP, captcha, password, missing field) needs
--value; use --secret to type it without echo. A paused session continues
without a value.

Example:
  autoform resume 6f1c... --value 482913
  autoform resume 6f1c... --field login_password --secret
  autoform resume 6f1c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret {
				v, err := readSecret(cmd.ErrOrStderr(), "Value: ")
				if err != nil {
					return err
				}
				value = v
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

			stop := watch(a.publisher, cmd.ErrOrStderr(), args[0])
			res, err := a.manager.ResumeSync(ctx, args[0], value, fieldID)
			stop()
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "reply to the pending request")
	cmd.Flags().StringVar(&fieldID, "field", "", "field the reply answers (default: the pending field)")
	cmd.Flags().BoolVar(&secret, "secret", false, "read the value from the terminal without echo")

	return cmd
}

// readSecret prompts on w and reads one line from stdin, without echo when
// stdin is a terminal.
func readSecret(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("read value: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read value: %w", err)
	}
	return strings.TrimSpace(line), nil
}
