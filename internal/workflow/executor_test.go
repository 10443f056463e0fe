package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoform/internal/decision"
	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/storage"
)

var registerPage = page{url: "https://exam.example/register", text: "Create your account. Email. Mobile."}

func newExecutor(t *testing.T, b *fakeBrowser) (*Executor, *Runner) {
	t.Helper()
	r, _ := newTestRunner(t, b, script())
	return r.exec, r
}

func TestExecuteFillMarksFieldAndSavesProgress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newFakeBrowser(registerPage)
	e, r := newExecutor(t, b)

	s := session.New("s1", "https://exam.example", map[string]string{"email": "a@b.c"}, 3)
	s.RetryCount = 2
	e.Execute(ctx, s, fill("email", "a@b.c"), "")

	assert.Equal(t, session.StatusRunning, s.Status)
	assert.True(t, s.FilledFields.Contains("Email"))
	assert.Zero(t, s.RetryCount)
	assert.Equal(t, 5, s.Progress)
	require.Len(t, s.ActionHistory, 1)
	assert.True(t, s.ActionHistory[0].Success)
	assert.Equal(t, "fill_field", s.ActionHistory[0].Action)

	progress, err := r.store.LoadProgress(ctx, "s1")
	require.NoError(t, err)
	rec, err := session.ProgressFromFields(progress)
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, rec.FormFilling.AlreadyFilledFields)
}

func TestExecuteSkipsAlreadyFilledField(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage)
	e, _ := newExecutor(t, b)

	s := session.New("s1", "https://exam.example", nil, 3)
	s.FilledFields.Add("father_name")
	e.Execute(context.Background(), s, fill("Father Name", "John"), "")

	assert.Empty(t, b.executed())
	assert.Equal(t, 1, s.FilledFields.Len())
	assert.Zero(t, s.RetryCount)
}

func TestExecuteFailedActionSpendsRetryBudget(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage).failing("Submit")
	e, _ := newExecutor(t, b)
	s := session.New("s1", "https://exam.example", nil, 3)

	d := click("Submit", "submit the form")
	e.Execute(context.Background(), s, d, "")
	assert.Equal(t, 1, s.RetryCount)
	assert.Equal(t, "element not found", s.LastError)
	require.Len(t, s.ActionHistory, 1)
	assert.False(t, s.ActionHistory[0].Success)

	e.Execute(context.Background(), s, d, "")
	assert.Equal(t, session.StatusRunning, s.Status)
	e.Execute(context.Background(), s, d, "")
	assert.Equal(t, session.StatusFailed, s.Status)
	assert.Equal(t, RetryExhaustedReason, s.ResultMessage)
}

func TestExecuteRetryAndErrorDecisions(t *testing.T) {
	t.Parallel()
	e, _ := newExecutor(t, newFakeBrowser(registerPage))

	s := session.New("s1", "https://exam.example", nil, 3)
	e.Execute(context.Background(), s, decision.RetryDecision("page loading"), "")
	assert.Equal(t, 1, s.RetryCount)
	assert.Equal(t, session.StatusRunning, s.Status)

	e.Execute(context.Background(), s, decision.Decision{}, "")
	assert.Equal(t, 2, s.RetryCount, "a missing action is a retry")

	e.Execute(context.Background(), s, decision.Decision{Action: decision.Error{Message: "site is down"}}, "")
	assert.Equal(t, session.StatusFailed, s.Status)
	assert.Equal(t, "site is down", s.ResultMessage)
}

func TestExecuteEmptyInstructionSpendsRetry(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage)
	e, _ := newExecutor(t, b)
	s := session.New("s1", "https://exam.example", nil, 3)

	e.Execute(context.Background(), s, decision.Decision{Action: decision.ClickButton{Text: "Next"}}, "")
	assert.Equal(t, 1, s.RetryCount)
	assert.Empty(t, b.executed())
}

func TestExecuteSuccessClaimIsGated(t *testing.T) {
	t.Parallel()
	e, _ := newExecutor(t, newFakeBrowser(registerPage))

	early := formFillingState("name", "dob")
	early.Progress = 40
	e.Execute(context.Background(), early, decision.Decision{
		Action:    decision.Success{},
		Rationale: "application submitted successfully",
	}, "")
	assert.Equal(t, session.StatusRunning, early.Status)
	assert.Equal(t, session.PhaseFormFilling, early.Phase)
	assert.Equal(t, 45, early.Progress)

	ready := formFillingState("name", "father_name", "dob", "phone", "address")
	e.Execute(context.Background(), ready, decision.Decision{
		Action:    decision.Success{},
		Rationale: "application submitted successfully",
	}, "")
	assert.Equal(t, session.StatusCompleted, ready.Status)
	assert.Equal(t, session.PhaseCompleted, ready.Phase)
	assert.Equal(t, 100, ready.Progress)
	assert.Equal(t, "application submitted successfully", ready.ResultMessage)
}

func TestExecuteWaitForHumanSuspends(t *testing.T) {
	t.Parallel()
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	store := storage.NewTestBackend(t)
	r := NewRunner(newFakeBrowser(registerPage), script(), store, pub,
		WithConfig(testConfig()), WithLogger(discardLogger()))
	sub := pub.Subscribe("s1")

	otp := session.New("s1", "https://exam.example", nil, 3)
	r.exec.Execute(context.Background(), otp, waitFor(session.InputOTP, "otp sent to mobile"), "")
	assert.Equal(t, session.StatusWaitingInput, otp.Status)
	require.NotNil(t, otp.PendingInput)
	assert.Equal(t, "otp", otp.PendingInput.FieldID)
	assert.Equal(t, 1, otp.OTPRequests)
	require.NoError(t, otp.Validate())
	assert.Equal(t, events.EventRequestOTP, nextOfType(t, sub, events.EventRequestOTP).Type)

	captcha := session.New("s1", "https://exam.example", nil, 3)
	r.exec.Execute(context.Background(), captcha, waitFor(session.InputCaptcha, "captcha on page"), "c2NyZWVu")
	assert.Equal(t, session.InputCaptcha, captcha.PendingInput.Kind)
	ev := nextOfType(t, sub, events.EventRequestCaptcha)
	assert.Equal(t, "c2NyZWVu", ev.Data.(events.CaptchaRequest).Image)

	custom := session.New("s1", "https://exam.example", nil, 3)
	r.exec.Execute(context.Background(), custom, waitFor(session.InputCustom, "Mother's maiden name"), "")
	assert.Equal(t, "custom_input", custom.PendingInput.FieldID)
	assert.Equal(t, "Mother's maiden name", custom.PendingInput.Label)
	ev = nextOfType(t, sub, events.EventRequestCustomInput)
	assert.Equal(t, "custom_input", ev.Data.(events.CustomInputRequest).FieldID)
}

func TestExecuteStuckClicksRecoverByAlternativeNavigation(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage).on("Identity Profile", page{url: "https://exam.example/profile", text: "Personal details"})
	e, _ := newExecutor(t, b)
	s := session.New("s1", "https://exam.example", nil, 3)

	for i := 0; i < 3; i++ {
		e.Execute(context.Background(), s, click("Next", "go to next page"), "")
	}

	assert.Equal(t, session.StatusRunning, s.Status)
	assert.Zero(t, s.RepeatedActionCount)
	assert.Equal(t, "https://exam.example/profile", s.PageURL)
	assert.Contains(t, b.executed(), AlternativeNavigationInstruction)
}

func TestExecuteStuckClicksRequestNavigationHelp(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage)
	e, _ := newExecutor(t, b)
	s := session.New("s1", "https://exam.example", nil, 3)

	e.Execute(context.Background(), s, click("Next", "go to next page"), "")
	e.Execute(context.Background(), s, click("next", "go to next page"), "")
	assert.Equal(t, session.StatusRunning, s.Status)
	e.Execute(context.Background(), s, click("NEXT", "go to next page"), "")

	assert.Equal(t, session.StatusWaitingInput, s.Status)
	require.NotNil(t, s.PendingInput)
	assert.Equal(t, NavigationHelpField, s.PendingInput.FieldID)
	assert.Equal(t, "Navigation Assistance", s.PendingInput.Label)
	assert.Len(t, s.PendingInput.Suggestions, 3)
}

func TestExecuteDetectsDuplicateAccount(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage).on("Register", page{url: "https://exam.example/register", text: "This email already exists. Use another email"})
	e, _ := newExecutor(t, b)
	s := session.New("s1", "https://exam.example", nil, 3)
	s.FilledFields.Add("email")

	e.Execute(context.Background(), s, click("Register", "create the account"), "")

	assert.True(t, s.EmailAlreadyRegistered)
	assert.Equal(t, session.PhaseLogin, s.Phase)
	assert.Zero(t, s.FilledFields.Len())
	assert.True(t, s.LoginNavigationPending)
}

func TestExecuteDuplicateFromRationaleSkipsBrowser(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage)
	e, _ := newExecutor(t, b)
	s := session.New("s1", "https://exam.example", nil, 3)

	e.Execute(context.Background(), s, decision.Decision{
		Action:      decision.ClickButton{Text: "OK"},
		Instruction: "click OK",
		Rationale:   "popup says email already registered",
	}, "")

	assert.Empty(t, b.executed())
	assert.Equal(t, session.PhaseLogin, s.Phase)
	assert.True(t, s.LoginNavigationPending)
}

func TestExecuteRegistrationThenLogin(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage).
		on("Register", page{url: "https://exam.example/login", text: "Account created successfully. Please login with your password"}).
		on("Login", page{url: "https://exam.example/home", text: "Welcome Dashboard"})
	e, _ := newExecutor(t, b)
	s := session.New("s1", "https://exam.example", nil, 3)

	e.Execute(context.Background(), s, click("Register", "submit registration"), "")
	assert.Equal(t, session.PhaseLogin, s.Phase)
	assert.True(t, s.RegistrationCompleted)
	assert.False(t, s.LoginCompleted)

	e.Execute(context.Background(), s, click("Login", "log in"), "")
	assert.Equal(t, session.PhaseFormFilling, s.Phase)
	assert.True(t, s.LoginCompleted)
	assert.True(t, s.AccountCreationComplete)
}

func TestExecuteSubmitClickCompletes(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage).on("Submit", page{url: "https://exam.example/done", text: "Your application submitted successfully"})
	e, _ := newExecutor(t, b)

	s := formFillingState("name", "father_name", "dob", "phone", "address")
	e.Execute(context.Background(), s, click("Submit", "final submit"), "")

	assert.Equal(t, session.StatusCompleted, s.Status)
	assert.Equal(t, 100, s.Progress)
	assert.Equal(t, "application submitted", s.ResultMessage)
}

func TestExecuteSubmitClickBelowThresholdKeepsRunning(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(registerPage).on("Submit", page{url: "https://exam.example/done", text: "Your application submitted successfully"})
	e, _ := newExecutor(t, b)

	s := formFillingState("name")
	e.Execute(context.Background(), s, click("Submit", "final submit"), "")

	assert.Equal(t, session.StatusRunning, s.Status)
	assert.Equal(t, session.PhaseFormFilling, s.Phase)
}

func TestExecuteCountsCaptchaRejections(t *testing.T) {
	t.Parallel()
	b := newFakeBrowser(page{url: "https://exam.example/login", text: "Invalid captcha, please try again"})
	e, _ := newExecutor(t, b)

	withoutCaptcha := session.New("s1", "https://exam.example", nil, 3)
	e.Execute(context.Background(), withoutCaptcha, fill("email", "a@b.c"), "")
	assert.Zero(t, withoutCaptcha.CaptchaFailCount)

	withCaptcha := session.New("s2", "https://exam.example", nil, 3)
	withCaptcha.FilledFields.Add("captcha")
	e.Execute(context.Background(), withCaptcha, fill("email", "a@b.c"), "")
	assert.Equal(t, 1, withCaptcha.CaptchaFailCount)
}

func nextOfType(t *testing.T, ch <-chan events.Event, typ events.EventType) events.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event received", typ)
			return events.Event{}
		}
	}
}
