package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/autoform/internal/decision"
	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/lexicon"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/storage"
)

// Failure reasons for terminal runs.
const (
	CycleLimitReason  = "cycle limit exceeded"
	BrowserInitReason = "browser initialization failed"
)

// Result is the outcome of one invocation.
type Result struct {
	SessionID string                `json:"session_id"`
	Status    session.Status        `json:"status"`
	Phase     session.Phase         `json:"phase"`
	Success   bool                  `json:"success"`
	Message   string                `json:"message,omitempty"`
	Progress  int                   `json:"progress"`
	Cycles    int                   `json:"cycles"`
	Pending   *session.PendingInput `json:"pending_input,omitempty"`
	// Paused is set when the invocation stopped on cancellation.
	Paused bool `json:"paused,omitempty"`
}

func resultOf(s *session.State) Result {
	r := Result{
		SessionID: s.SessionID,
		Status:    s.Status,
		Phase:     s.Phase,
		Success:   s.Status == session.StatusCompleted,
		Message:   s.ResultMessage,
		Progress:  s.Progress,
		Cycles:    s.Cycles,
	}
	if s.PendingInput != nil {
		p := *s.PendingInput
		r.Pending = &p
	}
	return r
}

// Runner schedules init, capture, decide and execute for a session and
// checkpoints between cycles.
type Runner struct {
	browser  Browser
	decider  Decider
	store    storage.Backend
	exec     *Executor
	cfg      Config
	n        *notifier
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
	observer func(*session.State)
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfig sets loop limits and timings.
func WithConfig(cfg Config) Option {
	return func(r *Runner) { r.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers a callback that receives a copy of the state after
// every cycle and on every return.
func WithObserver(fn func(*session.State)) Option {
	return func(r *Runner) { r.observer = fn }
}

// NewRunner creates a Runner. A nil publisher disables client events.
func NewRunner(b Browser, d Decider, store storage.Backend, pub events.Publisher, opts ...Option) *Runner {
	r := &Runner{
		browser: b,
		decider: d,
		store:   store,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cfg = r.cfg.withDefaults()

	var helper *events.PublishHelper
	if pub != nil {
		helper = events.NewPublishHelper(pub)
	}
	r.n = &notifier{events: helper, store: store, logger: r.logger, persistTimeout: r.cfg.PersistTimeout}
	r.exec = &Executor{
		browser: b,
		phases:  NewPhaseController(r.cfg.MinFilledFields),
		cfg:     r.cfg,
		n:       r.n,
		sleep:   func(ctx context.Context, d time.Duration) error { return r.sleep(ctx, d) },
	}
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// NewSession creates the state for a fresh run with the runner's retry budget.
func (r *Runner) NewSession(sessionID, examName, targetURL string, userData map[string]string) *session.State {
	s := session.New(sessionID, targetURL, userData, r.cfg.MaxRetries)
	s.ExamName = examName
	return s
}

// isResuming reports whether s already passed browser setup.
func isResuming(s *session.State) bool {
	return s.HumanInput != nil || s.Progress > 5 || s.Phase != session.PhaseRegistration
}

// Run drives s until it completes, fails, suspends for input, or ctx is
// cancelled. Cancellation is observed between cycles; an in-flight cycle
// finishes first so the checkpoint stays consistent.
func (r *Runner) Run(ctx context.Context, s *session.State) Result {
	defer r.observe(s)
	if s.Status.IsTerminal() {
		return resultOf(s)
	}

	if isResuming(s) {
		r.n.log(s, levelInfo, "init", "Resuming session in %s phase - skipping browser setup", s.Phase)
	} else if !r.init(ctx, s) {
		if s.Status == session.StatusRunning {
			r.n.log(s, levelWarning, "init", "Paused during browser setup")
			return r.pause(ctx, s)
		}
		r.finalize(ctx, s)
		return resultOf(s)
	}

	cycles := 0
	for s.Status == session.StatusRunning {
		if ctx.Err() != nil {
			r.n.log(s, levelWarning, "capture", "Paused before cycle %d", s.Cycles+1)
			return r.pause(ctx, s)
		}
		if cycles >= r.cfg.MaxCycles {
			r.n.log(s, levelError, "capture", "Cycle limit (%d) reached", r.cfg.MaxCycles)
			s.Fail(CycleLimitReason)
			break
		}
		cycles++

		phase, filled := s.Phase, s.FilledFields.Len()
		r.Step(context.WithoutCancel(ctx), s)
		if s.Status == session.StatusRunning && (s.Phase != phase || s.FilledFields.Len() != filled) {
			r.n.checkpoint(ctx, s)
		}
		r.observe(s)
	}

	if s.Status == session.StatusWaitingInput {
		r.n.checkpoint(ctx, s)
		r.n.log(s, levelInfo, "suspend", "Session suspended - waiting for %s", s.PendingInput.Kind)
		return resultOf(s)
	}
	r.finalize(ctx, s)
	return resultOf(s)
}

// Step runs one capture, decide, execute cycle on s.
func (r *Runner) Step(ctx context.Context, s *session.State) {
	s.Cycles++
	shot, screenshot, ok := r.capture(ctx, s)
	if !ok || s.Status != session.StatusRunning {
		return
	}
	d := r.decide(ctx, s, shot)
	r.exec.Execute(ctx, s, d, screenshot)
}

// pause checkpoints a still-running session so a later resume picks it up.
func (r *Runner) pause(ctx context.Context, s *session.State) Result {
	r.n.status(s, "paused", "Automation paused")
	r.n.checkpoint(ctx, s)
	res := resultOf(s)
	res.Paused = true
	return res
}

func (r *Runner) observe(s *session.State) {
	if r.observer != nil {
		r.observer(s.Clone())
	}
}

// init opens the remote browser session with exponential backoff. A
// cancelled ctx returns false and leaves s running.
func (r *Runner) init(ctx context.Context, s *session.State) bool {
	r.n.status(s, "init", "Initializing browser...")
	var lastErr error
	for attempt := 1; attempt <= r.cfg.InitAttempts; attempt++ {
		resp, err := r.browser.Init(ctx, s.SessionID, s.TargetURL)
		if err == nil && !resp.Success {
			err = responseError(resp)
		}
		if err == nil {
			r.n.events.Screenshot(s.SessionID, resp.Screenshot, "init")
			observePage(s, resp)
			s.BumpProgress(5, r.cfg.ProgressCap)
			r.n.log(s, levelSuccess, "init", "Browser ready")
			r.n.checkpoint(ctx, s)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		lastErr = err
		r.n.log(s, levelWarning, "init", "Browser init attempt %d/%d failed: %v", attempt, r.cfg.InitAttempts, err)
		if attempt < r.cfg.InitAttempts {
			backoff := r.cfg.InitBackoff * time.Duration(1<<(attempt-1))
			if err := r.sleep(ctx, backoff); err != nil {
				if ctx.Err() != nil {
					return false
				}
				lastErr = err
				break
			}
		}
	}
	r.logger.Error("browser init failed", "session", s.SessionID,
		"error", autoerrors.ErrBrowserInit(r.cfg.InitAttempts, lastErr))
	s.Fail(BrowserInitReason)
	return false
}

// capture applies pending human input, performs deferred navigation, then
// screenshots the page. ok is false when no screenshot could be taken or the
// run left the page for the login form.
func (r *Runner) capture(ctx context.Context, s *session.State) ([]byte, string, bool) {
	r.exec.ApplyHumanInput(ctx, s)
	if r.exec.Renavigate(ctx, s) {
		return nil, "", false
	}

	resp, err := r.browser.Screenshot(ctx, s.SessionID)
	if err == nil && !resp.Success {
		err = responseError(resp)
	}
	if err != nil {
		r.n.log(s, levelWarning, "capture", "Screenshot failed: %v", err)
		s.LastError = err.Error()
		r.exec.spendRetry(s, "screenshot failed")
		return nil, "", false
	}
	r.n.events.Screenshot(s.SessionID, resp.Screenshot, "capture")

	if observePage(s, resp) {
		resetStuck(s)
	}
	if lexicon.AlreadyRegistered.Matches(resp.PageText) {
		if !r.exec.phases.MarkDuplicateAccount(s) {
			r.n.log(s, levelInfo, "capture", "Email already registered flag is active")
		} else {
			r.n.log(s, levelWarning, "capture", "Email already registered - navigating to login")
			r.n.mergeProgress(ctx, s)
			if s.LoginNavigationPending {
				// The page still shows the registration form; nothing is decided on it.
				r.exec.Renavigate(ctx, s)
				return nil, "", false
			}
		}
	}
	return resp.ScreenshotBytes(), resp.Screenshot, true
}

func (r *Runner) decide(ctx context.Context, s *session.State, shot []byte) decision.Decision {
	r.n.status(s, "decide", "Analyzing page...")
	d := r.decider.Decide(ctx, decision.RequestFromState(s, shot))
	if d.Action == nil {
		d = decision.RetryDecision("empty decision")
	}
	target := d.Action.Target()
	if target != "" {
		r.n.log(s, levelInfo, "decide", "Decision: %s '%s'", d.Kind(), target)
	} else {
		r.n.log(s, levelInfo, "decide", "Decision: %s", d.Kind())
	}
	return d
}

// finalize reports the outcome, closes the browser session and records
// analytics. The two side effects run concurrently.
func (r *Runner) finalize(ctx context.Context, s *session.State) {
	ctx = context.WithoutCancel(ctx)
	success := s.Status == session.StatusCompleted
	msg := s.ResultMessage
	if msg == "" {
		msg = s.LastError
	}
	r.n.status(s, string(s.Status), msg)
	r.n.events.Result(s.SessionID, success, msg, string(s.Status))
	r.n.checkpoint(ctx, s)
	if success {
		r.n.mergeProgress(ctx, s)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, r.cfg.CloseTimeout)
		defer cancel()
		if err := r.browser.Close(cctx, s.SessionID); err != nil {
			return fmt.Errorf("close browser: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return r.persistAnalytics(gctx, s)
	})
	if err := g.Wait(); err != nil {
		r.n.log(s, levelWarning, "finalize", "Finalize: %v", err)
	}
}

func (r *Runner) persistAnalytics(ctx context.Context, s *session.State) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
	defer cancel()
	err := r.store.SaveResult(ctx, storage.RunResult{
		SessionID:       s.SessionID,
		ExamName:        s.ExamName,
		Status:          string(s.Status),
		Success:         s.Status == session.StatusCompleted,
		Message:         s.ResultMessage,
		Cycles:          s.Cycles,
		FilledFields:    s.FilledFields.Len(),
		OTPRequests:     s.OTPRequests,
		CaptchaRequests: s.CaptchaRequests,
		CustomRequests:  s.CustomRequests,
		StartedAt:       s.StartedAt,
		FinishedAt:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("persist analytics: %w", err)
	}
	return nil
}

// Resume loads a checkpoint, splices in the reply and re-enters the loop at
// capture. Phase and milestones are re-derived from the stored progress record.
func (r *Runner) Resume(ctx context.Context, sessionID, value, fieldID string) (Result, error) {
	s, err := r.Load(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if err := r.Prepare(s, value, fieldID); err != nil {
		return Result{}, err
	}
	r.n.checkpoint(ctx, s)
	r.n.log(s, levelInfo, "resume", "Resuming in %s phase", s.Phase)
	return r.Run(ctx, s), nil
}

// Load reads a resumable checkpoint and re-derives phase and milestone flags
// from the stored progress record.
func (r *Runner) Load(ctx context.Context, sessionID string) (*session.State, error) {
	s, err := r.store.LoadCheckpoint(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, autoerrors.ErrNoCheckpoint(sessionID)
	}
	if err != nil {
		return nil, autoerrors.ErrStorage("load checkpoint", err)
	}
	if s.Status.IsTerminal() {
		return nil, autoerrors.ErrSessionTerminal(sessionID, string(s.Status))
	}

	fields, err := r.store.LoadProgress(ctx, sessionID)
	switch {
	case err == nil:
		if rec, perr := session.ProgressFromFields(fields); perr == nil {
			s.ApplyProgress(rec)
		} else {
			r.logger.Warn("ignoring unreadable progress record", "session", sessionID, "error", perr)
		}
	case !errors.Is(err, storage.ErrNotFound):
		r.logger.Warn("progress record unavailable", "session", sessionID, "error", err)
	}
	return s, nil
}

// Prepare splices a reply into a loaded state. A waiting session requires a
// value; a paused running session accepts an empty one.
func (r *Runner) Prepare(s *session.State, value, fieldID string) error {
	if s.Status == session.StatusWaitingInput && value == "" {
		return autoerrors.ErrInvalidInput(fmt.Sprintf("session %s is waiting for %s input; a value is required", s.SessionID, s.PendingInput.Kind))
	}
	if s.Status == session.StatusWaitingInput || value != "" {
		s.Resume(value, fieldID)
	}
	return s.Validate()
}
