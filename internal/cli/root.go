// Package cli implements the autoform command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/autoform/internal/config"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "autoform",
	Short: "Vision-driven exam registration automation",
	Long: `autoform fills exam registration forms by looping screenshot → decision → action
against a remote browser executor, pausing for OTPs, captchas and missing data.

Quick start:
  autoform serve                                  Start the API and WebSocket server
  autoform run --url https://exam.example --data user.yaml
  autoform resume SESSION_ID --value 123456       Answer a pending OTP/captcha
  autoform batch registrations.yaml               Run several registrations in a row
  autoform stats                                  Show success rates`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		PrintError(err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./autoform.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig binds AUTOFORM_CONFIG so the config path can come from the
// environment as well as --config.
func initConfig() {
	viper.SetEnvPrefix("AUTOFORM")
	viper.AutomaticEnv()
	cfgFile = viper.GetString("config")
	if verbose && cfgFile != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", cfgFile)
	}
}

// loadConfig loads and validates the layered configuration, then installs
// the process logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := newLogger(os.Stderr, cfg.Log, logFlags{verbose: verbose, quiet: quiet, json: jsonOut})
	slog.SetDefault(logger)
	return cfg, logger, nil
}
