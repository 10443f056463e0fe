package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/autoform/internal/browser"
	"github.com/randalmurphal/autoform/internal/decision"
	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/lexicon"
	"github.com/randalmurphal/autoform/internal/session"
)

// RetryExhaustedReason is the failure reason once the retry budget is spent.
const RetryExhaustedReason = "retry budget exhausted"

// Executor applies one decision to the session: browser actions, bookkeeping,
// stuck-loop recovery, milestone detection and the human-input gate.
type Executor struct {
	browser Browser
	phases  *PhaseController
	cfg     Config
	n       *notifier
	sleep   func(context.Context, time.Duration) error
}

// Execute applies d to s. The screenshot is the base64 image the decision was
// made from; it is attached to captcha requests. The caller routes on s.Status.
func (e *Executor) Execute(ctx context.Context, s *session.State, d decision.Decision, screenshot string) {
	switch a := d.Action.(type) {
	case decision.Success:
		e.claimSuccess(s, d.Rationale, a.Message)
	case decision.Error:
		msg := a.Message
		if msg == "" {
			msg = "decision service reported an error"
		}
		e.n.log(s, levelError, "execute", "Automation error: %s", msg)
		s.RecordAction(string(decision.KindError), "", false)
		s.Fail(msg)
	case decision.WaitForHuman:
		e.requestInput(s, a, screenshot)
	case decision.ClickCheckbox, decision.FillField, decision.ClickButton:
		e.act(ctx, s, d)
	default:
		reason := d.Rationale
		if r, ok := a.(decision.Retry); ok && r.Reason != "" {
			reason = r.Reason
		}
		e.spendRetry(s, reason)
	}
}

// spendRetry consumes one unit of the retry budget and fails the run once it is gone.
func (e *Executor) spendRetry(s *session.State, reason string) {
	s.RetryCount++
	if s.RetryCount >= s.MaxRetries {
		e.n.log(s, levelError, "retry", "Max retries (%d) reached: %s", s.MaxRetries, reason)
		s.Fail(RetryExhaustedReason)
		return
	}
	e.n.log(s, levelWarning, "retry", "Retrying (%d/%d): %s", s.RetryCount, s.MaxRetries, reason)
	e.n.status(s, "error_recovery", fmt.Sprintf("Retry %d/%d", s.RetryCount, s.MaxRetries))
}

func (e *Executor) claimSuccess(s *session.State, rationale, message string) {
	res := e.phases.Evaluate(s, rationale)
	if !res.Passed {
		s.BumpProgress(e.cfg.ProgressStep, e.cfg.ProgressCap)
		e.n.log(s, levelWarning, "execute", "Success claim rejected: %s", res.Reason)
		return
	}
	if message == "" {
		message = rationale
	}
	e.complete(s, message)
}

func (e *Executor) complete(s *session.State, message string) {
	if message == "" {
		message = DefaultCompletionMessage
	}
	s.RecordAction(string(decision.KindSuccess), "", true)
	s.Complete(message)
	e.n.log(s, levelSuccess, "execute", "Form completed: %s", message)
}

// requestInput is the only path that suspends the run.
func (e *Executor) requestInput(s *session.State, a decision.WaitForHuman, screenshot string) {
	reason := a.Reason
	switch a.Input {
	case session.InputOTP:
		s.Suspend(session.PendingInput{Kind: session.InputOTP, FieldID: "otp", Label: "OTP", InputType: "text", Reason: reason})
		e.n.events.RequestOTP(s.SessionID, reason)
	case session.InputCaptcha:
		s.Suspend(session.PendingInput{Kind: session.InputCaptcha, FieldID: "captcha", Label: "Captcha", InputType: "text", Reason: reason})
		e.n.events.RequestCaptcha(s.SessionID, screenshot, reason)
	default:
		label := reason
		if label == "" {
			label = "Additional input required"
		}
		e.suspendCustom(s, session.PendingInput{Kind: session.InputCustom, FieldID: "custom_input", Label: label, InputType: "text", Reason: reason})
	}
	s.RecordAction(string(decision.KindWaitForHuman), string(a.Input), true)
	e.n.log(s, levelWarning, "execute", "Waiting for %s input: %s", a.Input, reason)
	e.n.status(s, "waiting_input", "Waiting for user input")
}

func (e *Executor) suspendCustom(s *session.State, p session.PendingInput) {
	s.Suspend(p)
	e.n.events.RequestCustomInput(s.SessionID, events.CustomInputRequest{
		FieldID:     p.FieldID,
		Label:       p.Label,
		Type:        p.InputType,
		Suggestions: p.Suggestions,
	})
}

// act forwards a checkbox, fill or button decision to the browser.
func (e *Executor) act(ctx context.Context, s *session.State, d decision.Decision) {
	kind := d.Kind()
	target := d.Action.Target()

	if fill, ok := d.Action.(decision.FillField); ok && s.FilledFields.Contains(fill.Field) {
		e.n.log(s, levelWarning, "execute", "Field '%s' was already filled - skipping duplicate", fill.Field)
		return
	}
	if lexicon.AlreadyRegistered.Matches(d.Rationale) && e.phases.MarkDuplicateAccount(s) {
		e.n.log(s, levelWarning, "execute", "Decision reports the email is already registered - switching to login")
		e.n.mergeProgress(ctx, s)
		return
	}
	if d.Instruction == "" {
		e.n.log(s, levelError, "execute", "No browser instruction for %s", kind)
		s.RecordAction(string(kind), target, false)
		e.spendRetry(s, "empty instruction")
		return
	}

	e.n.log(s, levelInfo, "execute", "Executing: %s", truncate(d.Instruction, 60))
	resp, err := e.browser.Execute(ctx, s.SessionID, d.Instruction)
	if resp != nil {
		e.n.events.Screenshot(s.SessionID, resp.Screenshot, "execute")
	}
	if err == nil && !resp.Success {
		err = responseError(resp)
	}
	if err != nil {
		e.n.log(s, levelWarning, "execute", "Action failed: %v", err)
		s.RecordAction(string(kind), target, false)
		s.LastError = err.Error()
		e.spendRetry(s, "browser action failed")
		return
	}

	changed := observePage(s, resp)
	if kind == decision.KindClickButton {
		if changed {
			resetStuck(s)
		} else if trackClick(s, stuckTarget(d), e.cfg.StuckThreshold) {
			e.n.log(s, levelWarning, "execute", "Clicked '%s' %d times without a page change", target, s.RepeatedActionCount)
			if !e.recoverNavigation(ctx, s) {
				s.RecordAction(string(kind), target, true)
				return
			}
		}
	} else {
		resetStuck(s)
	}

	s.RetryCount = 0
	s.LastError = ""
	s.RecordAction(string(kind), target, true)
	s.BumpProgress(e.cfg.ProgressStep, e.cfg.ProgressCap)
	e.n.log(s, levelSuccess, "execute", "Action completed")

	saveProgress := kind == decision.KindClickButton
	if fill, ok := d.Action.(decision.FillField); ok {
		if s.FilledFields.Add(fill.Field) {
			n := s.FilledFields.Len()
			e.n.log(s, levelInfo, "execute", "Field '%s' marked as filled", fill.Field)
			saveProgress = saveProgress || n == 1 || n%5 == 0
		} else {
			e.n.log(s, levelWarning, "execute", "Field '%s' was already filled - skipping duplicate", fill.Field)
		}
	}

	e.inspectPage(ctx, s, d, resp.PageText)

	if saveProgress {
		e.n.mergeProgress(ctx, s)
	}

	if kind == decision.KindClickButton && s.Status == session.StatusRunning {
		if text, ok := completionEvidence(d.Rationale, resp.PageText); ok {
			e.offerCompletion(s, text)
		}
	}

	// Popups and dialogs need a moment to render before the next capture.
	if s.Status == session.StatusRunning {
		_ = e.sleep(ctx, e.cfg.SettleDelay)
	}
}

// inspectPage runs the page-text detectors after a successful action.
func (e *Executor) inspectPage(ctx context.Context, s *session.State, d decision.Decision, pageText string) {
	if pageText == "" {
		return
	}
	if lexicon.AlreadyRegistered.Matches(pageText) {
		if e.phases.MarkDuplicateAccount(s) {
			e.n.log(s, levelWarning, "execute", "Email already registered - will navigate to login on next cycle")
			e.n.mergeProgress(ctx, s)
		}
	}
	if lexicon.CaptchaRejected.Matches(pageText) && captchaFilled(s) {
		s.CaptchaFailCount++
		e.n.log(s, levelWarning, "execute", "Captcha rejected (%d so far)", s.CaptchaFailCount)
	}
	if e.phases.MarkAccountCreated(s, pageText) {
		e.n.log(s, levelSuccess, "execute", "Account created - moving to login phase")
		e.n.mergeProgress(ctx, s)
	}
	if d.Kind() == decision.KindClickButton && e.phases.LoginCandidate(s, stuckTarget(d)) && lexicon.IsLoggedIn(pageText) {
		e.phases.MarkLoggedIn(s)
		e.n.log(s, levelSuccess, "execute", "Login successful - moving to form filling phase")
		e.n.mergeProgress(ctx, s)
	}
}

func (e *Executor) offerCompletion(s *session.State, text string) {
	res := e.phases.Evaluate(s, text)
	if !res.Passed {
		e.n.log(s, levelInfo, "execute", "Completion text seen but not accepted: %s", res.Reason)
		return
	}
	e.complete(s, text)
}

// recoverNavigation tries one alternative navigation. It returns false when
// the run was suspended for navigation assistance instead.
func (e *Executor) recoverNavigation(ctx context.Context, s *session.State) bool {
	e.n.log(s, levelWarning, "execute", "Stuck in loop - trying alternative navigation")
	altCtx, cancel := context.WithTimeout(ctx, e.cfg.AltNavTimeout)
	resp, err := e.browser.Execute(altCtx, s.SessionID, AlternativeNavigationInstruction)
	cancel()

	if err == nil && resp.Success {
		e.n.events.Screenshot(s.SessionID, resp.Screenshot, "execute")
		if observePage(s, resp) {
			e.n.log(s, levelSuccess, "execute", "Alternative navigation changed the page")
			resetStuck(s)
			return true
		}
	}

	e.n.log(s, levelError, "execute", "Stuck in navigation loop - requesting human assistance")
	e.suspendCustom(s, session.PendingInput{
		Kind:        session.InputCustom,
		FieldID:     NavigationHelpField,
		Label:       "Navigation Assistance",
		InputType:   "text",
		Reason:      "navigation stuck",
		Suggestions: append([]string(nil), navigationHelpSuggestions...),
	})
	e.n.status(s, "waiting_input", "Navigation stuck - need help")
	return false
}

func responseError(resp *browser.Response) error {
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	return errors.New("browser reported failure")
}

func stuckTarget(d decision.Decision) string {
	if t := d.Action.Target(); t != "" {
		return t
	}
	return d.Instruction
}

func completionEvidence(rationale, pageText string) (string, bool) {
	if lexicon.Completion.Matches(rationale) {
		return rationale, true
	}
	if phrase, ok := lexicon.Completion.Match(pageText); ok {
		return phrase, true
	}
	return "", false
}

func captchaFilled(s *session.State) bool {
	for _, name := range s.FilledFields.Names() {
		if lexicon.CaptchaFields.Matches(name) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
