package workflow

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/randalmurphal/autoform/internal/session"
)

// LoginPasswordField is the field id used to ask for the password of an
// already-registered account.
const LoginPasswordField = "login_password"

const (
	otpFocusInstruction  = "Click on the FIRST OTP input box (the leftmost empty digit input box)"
	otpVerifyInstruction = "Click the 'Verify' or 'Verify Email' or 'Verify Mobile' or 'Verify OTP' or 'Submit' or 'OK' button"
	popupInstruction     = "If there is a popup or dialog box visible, click the 'OK' or 'Close' button to dismiss it"
	loginLinkInstruction = "Click on the 'Login' link or button to switch to the login form"
)

var loginPasswordSuggestions = []string{
	"Enter your login password",
	"Use 'Forgot Password' if available",
	"Cancel automation",
}

// ApplyHumanInput consumes a reply spliced in on resume. The value is used
// once; failures to type it are logged and the loop carries on. The login
// password is typed but never kept on the state.
func (e *Executor) ApplyHumanInput(ctx context.Context, s *session.State) {
	in := s.HumanInput
	if in == nil {
		return
	}
	s.HumanInput = nil
	if in.Kind == session.InputCustom && in.FieldID != LoginPasswordField {
		s.RecordInput(in.FieldID, in.Value)
	}

	switch {
	case in.FieldID == LoginPasswordField:
		e.n.log(s, levelInfo, "capture", "Filling password field in login form")
		e.instruct(ctx, s, fmt.Sprintf("Find the password field in the login form (the one next to the email field) and type '%s' into it", in.Value))

	case in.Kind == session.InputOTP || isOTP(in.Value):
		e.n.log(s, levelInfo, "capture", "Entering OTP (%d digits)", len(in.Value))
		e.instruct(ctx, s, otpFocusInstruction)
		e.instruct(ctx, s, fmt.Sprintf("Press these keys in sequence: %s. Type each digit one after another - "+
			"the input will automatically move to the next box after each keystroke.", strings.Join(strings.Split(in.Value, ""), ", ")))
		_ = e.sleep(ctx, e.cfg.SettleDelay)
		e.instruct(ctx, s, otpVerifyInstruction)

	case in.FieldID == NavigationHelpField:
		e.n.log(s, levelInfo, "capture", "Following navigation help: %s", truncate(in.Value, 60))
		e.instruct(ctx, s, in.Value)

	default:
		field := in.FieldID
		if field == "" || in.Kind == session.InputCaptcha {
			field = "captcha"
		}
		e.n.log(s, levelInfo, "capture", "Entering %s input", field)
		var instr string
		if field == "captcha" {
			instr = fmt.Sprintf("Find the captcha input field or the currently focused input and type '%s' into it", in.Value)
		} else {
			instr = fmt.Sprintf("Find the input field for '%s' or the currently focused input and type '%s' into it",
				strings.ReplaceAll(field, "_", " "), in.Value)
		}
		if e.instruct(ctx, s, instr) {
			s.FilledFields.Add(field)
		}
	}
}

// Renavigate runs the deferred duplicate-account navigation: back to the
// target URL, into the login form with the registered email, then a password
// request. It returns true when the run was suspended.
func (e *Executor) Renavigate(ctx context.Context, s *session.State) bool {
	if !s.LoginNavigationPending {
		return false
	}
	s.LoginNavigationPending = false
	e.n.status(s, "navigate", "Navigating to login page...")

	e.n.log(s, levelInfo, "capture", "Navigating to: %s", s.TargetURL)
	if !e.instruct(ctx, s, "Navigate to this URL: "+s.TargetURL) {
		return false
	}
	_ = e.instruct(ctx, s, popupInstruction)
	if !e.instruct(ctx, s, loginLinkInstruction) {
		return false
	}
	_ = e.sleep(ctx, e.cfg.SettleDelay)

	if email := s.UserData["email"]; email != "" {
		fill := fmt.Sprintf("Find the email field in the login form (the one with password field next to it) and type '%s' into it", email)
		if e.instruct(ctx, s, fill) {
			s.FilledFields.Add("email")
		}
	}

	e.n.log(s, levelWarning, "capture", "Requesting login password")
	e.suspendCustom(s, session.PendingInput{
		Kind:        session.InputCustom,
		FieldID:     LoginPasswordField,
		Label:       "Password",
		InputType:   "password",
		Reason:      "email already registered",
		Suggestions: append([]string(nil), loginPasswordSuggestions...),
	})
	e.n.status(s, "waiting_input", "Waiting for password...")
	return true
}

// instruct runs one auxiliary browser instruction and reports success.
func (e *Executor) instruct(ctx context.Context, s *session.State, instruction string) bool {
	resp, err := e.browser.Execute(ctx, s.SessionID, instruction)
	if err == nil && !resp.Success {
		err = responseError(resp)
	}
	if err != nil {
		e.n.log(s, levelWarning, "capture", "Instruction failed: %v", err)
		return false
	}
	e.n.events.Screenshot(s.SessionID, resp.Screenshot, "capture")
	observePage(s, resp)
	return true
}

func isOTP(v string) bool {
	if v == "" || len(v) > 6 {
		return false
	}
	for _, r := range v {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
