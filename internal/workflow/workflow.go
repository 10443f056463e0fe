// Package workflow drives the per-session decision loop: capture a page,
// ask for one action, execute it, and route on the resulting status until the
// form is submitted, the run fails, or human input is needed.
//
// A Runner owns one session.State per invocation and is its only writer.
// Suspension for human input is an ordinary return with status
// waiting_input; Resume starts a new invocation from the stored checkpoint.
package workflow

import (
	"context"
	"time"

	"github.com/randalmurphal/autoform/internal/browser"
	"github.com/randalmurphal/autoform/internal/decision"
)

// Browser is the remote browser-action executor.
type Browser interface {
	Init(ctx context.Context, sessionID, targetURL string) (*browser.Response, error)
	Screenshot(ctx context.Context, sessionID string) (*browser.Response, error)
	Execute(ctx context.Context, sessionID, instruction string) (*browser.Response, error)
	Close(ctx context.Context, sessionID string) error
}

// Decider chooses the next action. Implementations never fail; problems are
// reported as a retry decision.
type Decider interface {
	Decide(ctx context.Context, req decision.Request) decision.Decision
}

// Config holds loop limits and timings.
type Config struct {
	MaxRetries      int
	MaxCycles       int
	StuckThreshold  int
	MinFilledFields int
	ProgressStep    int
	ProgressCap     int

	InitAttempts  int
	InitBackoff   time.Duration
	SettleDelay   time.Duration
	AltNavTimeout time.Duration
	// PersistTimeout bounds every storage write.
	PersistTimeout time.Duration
	CloseTimeout   time.Duration
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		MaxCycles:       100,
		StuckThreshold:  3,
		MinFilledFields: 5,
		ProgressStep:    5,
		ProgressCap:     90,
		InitAttempts:    3,
		InitBackoff:     2 * time.Second,
		SettleDelay:     2 * time.Second,
		AltNavTimeout:   30 * time.Second,
		PersistTimeout:  10 * time.Second,
		CloseTimeout:    10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxCycles <= 0 {
		c.MaxCycles = d.MaxCycles
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = d.StuckThreshold
	}
	if c.MinFilledFields <= 0 {
		c.MinFilledFields = d.MinFilledFields
	}
	if c.ProgressStep <= 0 {
		c.ProgressStep = d.ProgressStep
	}
	if c.ProgressCap <= 0 || c.ProgressCap > 99 {
		c.ProgressCap = d.ProgressCap
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = d.InitAttempts
	}
	if c.InitBackoff < 0 {
		c.InitBackoff = d.InitBackoff
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.AltNavTimeout <= 0 {
		c.AltNavTimeout = d.AltNavTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	return c
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
