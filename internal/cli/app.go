package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/autoform/internal/batch"
	"github.com/randalmurphal/autoform/internal/browser"
	"github.com/randalmurphal/autoform/internal/config"
	"github.com/randalmurphal/autoform/internal/decision"
	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/storage"
	"github.com/randalmurphal/autoform/internal/workflow"
)

// app is the wired runtime shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	backend   storage.Backend
	publisher *events.PersistentPublisher
	manager   *workflow.Manager
	batches   *batch.Dispatcher
}

type appOptions struct {
	browser workflow.Browser
	decider workflow.Decider
}

type appOption func(*appOptions)

func withBrowser(b workflow.Browser) appOption {
	return func(o *appOptions) { o.browser = b }
}

func withDecider(d workflow.Decider) appOption {
	return func(o *appOptions) { o.decider = d }
}

// openBackend opens the checkpoint store selected by cfg.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, error) {
	if cfg.Checkpoint.Backend == storage.KindDatabase && cfg.Database.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN()), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	backend, err := storage.NewBackend(ctx, storage.Options{
		Kind:     cfg.Checkpoint.Backend,
		Dialect:  cfg.Database.Driver,
		DSN:      cfg.Database.DSN(),
		RedisURL: cfg.Redis.URL,
		TTL:      cfg.Redis.TTL,
		Logger:   logger,
	})
	if err != nil {
		return nil, autoerrors.ErrStorage("open "+cfg.Checkpoint.Backend+" backend", err)
	}
	return backend, nil
}

// newDecider builds the rate-limited Gemini decision service.
func newDecider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (workflow.Decider, error) {
	key := cfg.DecisionAPIKey()
	if key == "" {
		return nil, autoerrors.ErrConfigInvalid("decision.api_key", "set AUTOFORM_DECISION_API_KEY or GEMINI_API_KEY")
	}
	model, err := decision.NewGeminiModel(ctx, decision.GeminiConfig{
		APIKey:            key,
		Model:             cfg.Decision.Model,
		Temperature:       float32(cfg.Decision.Temperature),
		RequestsPerSecond: cfg.Decision.RequestsPerSecond,
		Burst:             cfg.Decision.Burst,
	})
	if err != nil {
		return nil, err
	}
	return decision.NewAdapter(model,
		decision.WithTimeout(cfg.Decision.Timeout),
		decision.WithLogger(logger),
	), nil
}

func workflowConfig(cfg *config.Config) workflow.Config {
	return workflow.Config{
		MaxRetries:      cfg.Workflow.MaxRetries,
		MaxCycles:       cfg.Workflow.MaxCycles,
		StuckThreshold:  cfg.Workflow.StuckThreshold,
		MinFilledFields: cfg.Workflow.MinFilledFields,
		ProgressStep:    cfg.Workflow.ProgressStep,
		ProgressCap:     cfg.Workflow.ProgressCap,
		InitAttempts:    cfg.Browser.InitAttempts,
		InitBackoff:     cfg.Browser.InitBackoff,
		SettleDelay:     cfg.Browser.SettleDelay,
		AltNavTimeout:   cfg.Browser.AltNavTimeout,
		PersistTimeout:  cfg.Checkpoint.Timeout,
		CloseTimeout:    cfg.Browser.CloseTimeout,
	}
}

// newApp wires storage, events, the browser client, the decision service,
// the session manager and the batch dispatcher.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*app, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.decider == nil {
		d, err := newDecider(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		o.decider = d
	}
	if o.browser == nil {
		o.browser = browser.New(browser.Config{
			BaseURL:           cfg.Browser.URL,
			InitTimeout:       cfg.Browser.InitTimeout,
			ScreenshotTimeout: cfg.Browser.ScreenshotTimeout,
			ExecuteTimeout:    cfg.Browser.ExecuteTimeout,
			RetryMax:          cfg.Browser.RetryMax,
			Logger:            logger,
		})
	}

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	pub := events.NewPersistentPublisher(backend, logger)

	runner := workflow.NewRunner(o.browser, o.decider, backend, pub,
		workflow.WithConfig(workflowConfig(cfg)),
		workflow.WithLogger(logger),
	)
	manager := workflow.NewManager(runner, logger)
	dispatcher := batch.NewDispatcher(manager, pub,
		batch.WithDelay(cfg.Batch.Delay),
		batch.WithLogger(logger),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		backend:   backend,
		publisher: pub,
		manager:   manager,
		batches:   dispatcher,
	}, nil
}

// Close pauses in-flight work, flushes the event log and closes storage.
func (a *app) Close(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return a.batches.Shutdown(ctx) })
	g.Go(func() error { return a.manager.Shutdown(ctx) })
	err := g.Wait()

	a.publisher.Close()
	return errors.Join(err, a.backend.Close())
}
