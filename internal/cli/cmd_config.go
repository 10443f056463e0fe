package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/autoform/internal/config"
)

// newConfigCmd creates the config command with subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and manage configuration",
		Long: `View and manage autoform configuration.

Configuration is loaded from these sources, later overriding earlier:
  1. Built-in defaults
  2. /etc/autoform/config.yaml
  3. ~/.autoform/config.yaml
  4. --config FILE, or ./autoform.yaml
  5. AUTOFORM_* environment variables

Examples:
  autoform config show --source
  autoform config get browser.url
  autoform config set decision.model gemini-3-flash-preview
  autoform config paths`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigPathsCmd())

	return cmd
}

// newConfigShowCmd creates the 'config show' subcommand.
func newConfigShowCmd() *cobra.Command {
	var showSource bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show merged configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := config.LoadWithSources(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			if showSource {
				return printConfigWithSources(out, tc)
			}
			return printConfigAsYAML(out, tc.Config.RedactedCopy())
		},
	}

	cmd.Flags().BoolVar(&showSource, "source", false, "show source for each value")

	return cmd
}

// newConfigGetCmd creates the 'config get' subcommand.
func newConfigGetCmd() *cobra.Command {
	var showSource bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a specific config value",
		Long: `Get a configuration value by dot-separated key, e.g. "browser.url".
Secrets are masked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			tc, err := config.LoadWithSources(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			value, err := tc.Config.Redacted(key)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showSource {
				_, _ = fmt.Fprintf(out, "%s (from %s)\n", value, tc.GetSource(key))
			} else {
				_, _ = fmt.Fprintln(out, value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showSource, "source", false, "show source of the value")

	return cmd
}

// newConfigSetCmd creates the 'config set' subcommand.
func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value in the user config",
		Long: `Set a configuration value in ~/.autoform/config.yaml, or in the file
given by --config.

Examples:
  autoform config set browser.url http://browser:3001
  autoform config set database.driver postgres`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			target := cfgFile
			if target == "" {
				p, err := config.UserConfigPath()
				if err != nil {
					return err
				}
				target = p
			}

			cfg, err := config.LoadFile(target)
			if errors.Is(err, fs.ErrNotExist) {
				cfg = config.Default()
			} else if err != nil {
				return err
			}

			if err := cfg.SetValue(key, value); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg, target); err != nil {
				return err
			}

			shown, _ := cfg.Redacted(key)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", key, shown, target)
			return nil
		},
	}
}

// newConfigPathsCmd creates the 'config paths' subcommand.
func newConfigPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List every config key and its environment variable",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, p := range config.AllConfigPaths() {
				if env := config.EnvVarFor(p); env != "" {
					_, _ = fmt.Fprintf(out, "%-36s %s\n", p, env)
				} else {
					_, _ = fmt.Fprintln(out, p)
				}
			}
			return nil
		},
	}
}

func printConfigAsYAML(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func printConfigWithSources(w io.Writer, tc *config.TrackedConfig) error {
	for _, p := range config.AllConfigPaths() {
		value, err := tc.Config.Redacted(p)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "%-36s = %-30s (%s)\n", p, value, tc.GetSource(p))
	}
	return nil
}
