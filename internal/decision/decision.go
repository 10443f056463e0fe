// Package decision turns screenshots and session context into one typed
// browser action per cycle.
//
// The vision model behind a decision is probabilistic and its output is
// untrusted: every payload goes through a tolerant parser, unknown or
// malformed payloads become Retry, and domain overrides are applied before
// the decision reaches the executor.
package decision

import "github.com/randalmurphal/autoform/internal/session"

// Kind is the action tag of a decision.
type Kind string

const (
	KindClickCheckbox Kind = "click_checkbox"
	KindFillField     Kind = "fill_field"
	KindClickButton   Kind = "click_button"
	KindWaitForHuman  Kind = "wait_for_human"
	KindSuccess       Kind = "success"
	KindError         Kind = "error"
	KindRetry         Kind = "retry"
)

// Action is one case of the decision variant. The set of implementations is closed.
type Action interface {
	Kind() Kind
	// Target names what the action touches, for audit entries and loop detection.
	Target() string
	isAction()
}

// ClickCheckbox ticks a checkbox identified by its label.
type ClickCheckbox struct {
	Label string
}

// FillField types a value into a named field.
type FillField struct {
	Field string
	Value string
}

// ClickButton presses a button identified by its visible text.
type ClickButton struct {
	Text string
}

// WaitForHuman suspends the run until the user supplies a value.
type WaitForHuman struct {
	Input  session.InputKind
	Reason string
}

// Success claims the form has been submitted. It is gated before acceptance.
type Success struct {
	Message string
}

// Error aborts the run.
type Error struct {
	Message string
}

// Retry skips this cycle and consumes one unit of the retry budget.
type Retry struct {
	Reason string
}

func (ClickCheckbox) Kind() Kind { return KindClickCheckbox }
func (FillField) Kind() Kind     { return KindFillField }
func (ClickButton) Kind() Kind   { return KindClickButton }
func (WaitForHuman) Kind() Kind  { return KindWaitForHuman }
func (Success) Kind() Kind       { return KindSuccess }
func (Error) Kind() Kind         { return KindError }
func (Retry) Kind() Kind         { return KindRetry }

func (a ClickCheckbox) Target() string { return a.Label }
func (a FillField) Target() string     { return a.Field }
func (a ClickButton) Target() string   { return a.Text }
func (a WaitForHuman) Target() string  { return string(a.Input) }
func (Success) Target() string         { return "" }
func (Error) Target() string           { return "" }
func (Retry) Target() string           { return "" }

func (ClickCheckbox) isAction() {}
func (FillField) isAction()     {}
func (ClickButton) isAction()   {}
func (WaitForHuman) isAction()  {}
func (Success) isAction()       {}
func (Error) isAction()         {}
func (Retry) isAction()         {}

// Decision pairs an action with the instruction sent to the browser executor
// and the model's rationale.
type Decision struct {
	Action      Action
	Instruction string
	Rationale   string
}

// Kind returns the action tag.
func (d Decision) Kind() Kind {
	if d.Action == nil {
		return KindRetry
	}
	return d.Action.Kind()
}

// RetryDecision builds the fallback decision used for every contained failure.
func RetryDecision(reason string) Decision {
	return Decision{Action: Retry{Reason: reason}, Rationale: reason}
}

// Request is the context handed to the decision service for one cycle.
type Request struct {
	Screenshot              []byte
	PageURL                 string
	RemainingFields         map[string]string
	AlreadyFilled           []string
	RetryCount              int
	CaptchaFailCount        int
	AccountCreationComplete bool
	RegistrationCompleted   bool
	Phase                   session.Phase
}

// RequestFromState assembles a request from the current session state and screenshot.
func RequestFromState(s *session.State, screenshot []byte) Request {
	return Request{
		Screenshot:              screenshot,
		PageURL:                 s.PageURL,
		RemainingFields:         s.RemainingFields(),
		AlreadyFilled:           s.FilledFields.Names(),
		RetryCount:              s.RetryCount,
		CaptchaFailCount:        s.CaptchaFailCount,
		AccountCreationComplete: s.AccountCreationComplete,
		RegistrationCompleted:   s.RegistrationCompleted,
		Phase:                   s.Phase,
	}
}
