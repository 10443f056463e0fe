package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/autoform/internal/api"
)

// newServeCmd creates the serve command for the API server
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API and WebSocket server",
		Long: `Start the autoform API server.

The server provides:
  • REST endpoints to start, inspect, resume and cancel sessions
  • Batch dispatch and run statistics
  • A WebSocket at /ws streaming screenshots, status and input requests

Example:
  autoform serve              # listen on server.host:server.port (0.0.0.0:8000)
  autoform serve --port 9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host, _ = cmd.Flags().GetString("host")
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}

			ctx, cancel := SetupSignalHandler()
			defer cancel()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}

			server := api.New(api.Config{
				Addr:            cfg.Server.Addr(),
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				AllowedOrigins:  cfg.Server.AllowedOrigins,
				Logger:          logger,
			}, api.Deps{
				Manager:   a.manager,
				Batches:   a.batches,
				Backend:   a.backend,
				Publisher: a.publisher,
			})

			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s (Ctrl+C to stop)\n", cfg.Server.Addr())

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.ListenAndServe(gctx) })
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return a.Close(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().String("host", "", "interface to bind (overrides server.host)")
	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides server.port)")

	return cmd
}
