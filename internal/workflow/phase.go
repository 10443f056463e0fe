package workflow

import (
	"fmt"

	"github.com/randalmurphal/autoform/internal/lexicon"
	"github.com/randalmurphal/autoform/internal/session"
)

// DefaultCompletionMessage is reported when a gated success carries no rationale.
const DefaultCompletionMessage = "Form submitted successfully"

// GateResult explains a success-gate verdict.
type GateResult struct {
	Passed bool
	// Reason names the first failing condition when Passed is false.
	Reason string
}

// PhaseController owns phase transitions and success gating.
type PhaseController struct {
	minFilled int
}

// NewPhaseController creates a controller that requires minFilled distinct
// filled fields before accepting success.
func NewPhaseController(minFilled int) *PhaseController {
	return &PhaseController{minFilled: minFilled}
}

// Evaluate checks a success claim without mutating s. Every condition must hold.
func (c *PhaseController) Evaluate(s *session.State, rationale string) GateResult {
	switch {
	case s.Phase != session.PhaseFormFilling:
		return GateResult{Reason: fmt.Sprintf("phase is %s, not %s", s.Phase, session.PhaseFormFilling)}
	case !s.LoginCompleted:
		return GateResult{Reason: "login not completed"}
	case !lexicon.Completion.Matches(rationale):
		return GateResult{Reason: "rationale has no explicit completion phrase"}
	case s.FilledFields.Len() < c.minFilled:
		return GateResult{Reason: fmt.Sprintf("only %d fields filled, need %d", s.FilledFields.Len(), c.minFilled)}
	}
	return GateResult{Passed: true}
}

// MarkDuplicateAccount records an already-registered banner. It returns true
// on the first detection only. From registration or login the phase is reset
// to login with no filled fields and re-navigation is scheduled; later phases
// only keep the flag.
func (c *PhaseController) MarkDuplicateAccount(s *session.State) bool {
	if s.EmailAlreadyRegistered {
		return false
	}
	s.EmailAlreadyRegistered = true
	if s.Phase == session.PhaseRegistration || s.Phase == session.PhaseLogin {
		s.ResetToLogin()
		s.LoginNavigationPending = true
	}
	return true
}

// MarkAccountCreated handles the registration-complete banner while in
// registration. It returns true when the phase advanced.
func (c *PhaseController) MarkAccountCreated(s *session.State, pageText string) bool {
	if s.Phase != session.PhaseRegistration || s.RegistrationCompleted {
		return false
	}
	if !lexicon.AccountCreated.Matches(pageText) {
		return false
	}
	s.RegistrationCompleted = true
	_ = s.Advance(session.PhaseLogin)
	return true
}

// LoginCandidate reports whether a click on label should be checked for a
// completed login: evaluated only until login succeeds, and only when the run
// is in the login flow.
func (c *PhaseController) LoginCandidate(s *session.State, label string) bool {
	if s.LoginCompleted {
		return false
	}
	if !s.EmailAlreadyRegistered && s.Phase != session.PhaseLogin {
		return false
	}
	return lexicon.LoginButtons.Matches(label)
}

// MarkLoggedIn applies a detected login: milestones set and phase moved to
// form_filling one step at a time.
func (c *PhaseController) MarkLoggedIn(s *session.State) {
	s.LoginCompleted = true
	s.AccountCreationComplete = true
	s.RegistrationCompleted = true
	s.LoginNavigationPending = false
	for s.Phase.Before(session.PhaseFormFilling) {
		if err := s.Advance(s.Phase.Next()); err != nil {
			return
		}
	}
}
