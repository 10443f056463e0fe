package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/autoform/internal/lexicon"
	"github.com/randalmurphal/autoform/internal/session"
)

// DefaultTimeout bounds one call to the decision model.
const DefaultTimeout = 45 * time.Second

// LoginRedirectInstruction replaces clicks that would re-enter sign-up.
const LoginRedirectInstruction = "Find and click the 'Login' link or button. If already logged in, look for form filling options or continue with the application."

// Model is the external vision-decision service. It returns the raw reply text.
type Model interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f ModelFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Adapter wraps a Model with a timeout, tolerant parsing and domain overrides.
// Decide never returns an error: every failure becomes a Retry decision.
type Adapter struct {
	model   Model
	timeout time.Duration
	logger  *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithTimeout sets the per-call budget.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter creates an adapter around model.
func NewAdapter(model Model, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		model:   model,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Decide asks the model for the next action and applies policy overrides.
func (a *Adapter) Decide(ctx context.Context, req Request) Decision {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.model.Generate(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			a.logger.Warn("decision timed out", "timeout", a.timeout)
			return RetryDecision(fmt.Sprintf("decision service timed out after %s", a.timeout))
		}
		a.logger.Warn("decision service failed", "error", err)
		return RetryDecision(fmt.Sprintf("decision service unavailable: %v", err))
	}

	d, err := Parse(raw)
	if err != nil {
		a.logger.Warn("malformed decision", "error", err)
		return RetryDecision(fmt.Sprintf("malformed decision: %v", err))
	}

	d = ApplyPolicy(d, req)
	d = withInstruction(d)
	a.logger.Debug("decision", "action", d.Kind(), "target", d.Action.Target(), "rationale", d.Rationale)
	return d
}

// ApplyPolicy applies the domain overrides layered on top of the raw decision.
func ApplyPolicy(d Decision, req Request) Decision {
	switch act := d.Action.(type) {
	case ClickButton:
		if !req.AccountCreationComplete && !req.RegistrationCompleted {
			return d
		}
		if lexicon.RegistrationButtons.Matches(act.Text) ||
			(act.Text == "" && lexicon.RegistrationButtons.Matches(d.Instruction)) {
			return Decision{
				Action:      ClickButton{Text: "Login"},
				Instruction: LoginRedirectInstruction,
				Rationale:   fmt.Sprintf("account already exists; redirected %q to login", act.Text),
			}
		}
	case FillField:
		if req.RegistrationCompleted && lexicon.RegistrationFields.Matches(act.Field) {
			return RetryDecision(fmt.Sprintf("registration already completed; not filling %q", act.Field))
		}
		if alreadyFilled(req.AlreadyFilled, act.Field) {
			return RetryDecision(fmt.Sprintf("field %q already filled", act.Field))
		}
	}
	return d
}

func alreadyFilled(filled []string, field string) bool {
	set := session.NewFieldSet(filled...)
	return set.Contains(field)
}
