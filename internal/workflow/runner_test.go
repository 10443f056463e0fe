package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoform/internal/decision"
	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/storage"
)

// deciderFunc adapts a function to Decider.
type deciderFunc func(context.Context, decision.Request) decision.Decision

func (f deciderFunc) Decide(ctx context.Context, req decision.Request) decision.Decision {
	return f(ctx, req)
}

func fullFlowBrowser() *fakeBrowser {
	return newFakeBrowser(registerPage).
		on("Register", page{url: "https://exam.example/login", text: "Account created successfully. Please login"}).
		on("Login", page{url: "https://exam.example/home", text: "Welcome Dashboard"}).
		on("Submit", page{url: "https://exam.example/done", text: "Your application submitted successfully"})
}

func fullFlowScript() *scriptedDecider {
	return script(
		fill("email", "a@b.c"),
		click("Register", "create the account"),
		click("Login", "log in with the new account"),
		fill("name", "Jane Doe"),
		fill("father_name", "John Doe"),
		fill("dob", "01/01/2000"),
		fill("phone", "9876543210"),
		fill("address", "12 Main Street"),
		click("Submit", "final submit of the application"),
	)
}

func TestRunCompletesFullFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := fullFlowBrowser()

	var mu sync.Mutex
	var phases []session.Phase
	observer := WithObserver(func(s *session.State) {
		require.NoError(t, s.Validate())
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != s.Phase {
			phases = append(phases, s.Phase)
		}
	})
	r, store := newTestRunner(t, b, fullFlowScript(), observer)

	s := r.NewSession("s1", "ssc-cgl", "https://exam.example", map[string]string{"email": "a@b.c"})
	res := r.Run(ctx, s)

	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, session.PhaseCompleted, res.Phase)
	assert.Equal(t, 100, res.Progress)
	assert.Equal(t, 9, res.Cycles)
	assert.Equal(t, "application submitted", res.Message)
	assert.Equal(t, 1, b.initCount())
	assert.Equal(t, []string{"s1"}, b.closed)

	mu.Lock()
	assert.Equal(t, []session.Phase{
		session.PhaseRegistration, session.PhaseLogin, session.PhaseFormFilling, session.PhaseCompleted,
	}, phases)
	mu.Unlock()

	saved, err := store.LoadCheckpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, saved.Status)
	assert.Equal(t, 6, saved.FilledFields.Len())

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 1, stats.Successful)

	_, err = r.Resume(ctx, "s1", "", "")
	require.Error(t, err)
	assert.Equal(t, autoerrors.CodeSessionTerminal, autoerrors.AsAutoformError(err).Code)
}

func TestRunPublishesClientEvents(t *testing.T) {
	t.Parallel()
	pub := events.NewMemoryPublisher(events.WithBufferSize(1000))
	defer pub.Close()
	sub := pub.Subscribe("s1")

	store := storage.NewTestBackend(t)
	r := NewRunner(fullFlowBrowser(), fullFlowScript(), store, pub,
		WithConfig(testConfig()), WithLogger(discardLogger()))
	r.sleep = func(context.Context, time.Duration) error { return nil }

	res := r.Run(context.Background(), r.NewSession("s1", "", "https://exam.example", nil))
	require.True(t, res.Success)

	ev := nextOfType(t, sub, events.EventResult)
	data := ev.Data.(events.ResultData)
	assert.True(t, data.Success)
	assert.Equal(t, "completed", data.Status)
}

func TestRunInitRetriesWithBackoff(t *testing.T) {
	t.Parallel()
	b := fullFlowBrowser()
	b.initFails = 2

	cfg := testConfig()
	cfg.InitBackoff = 2 * time.Second
	r, _ := newTestRunner(t, b, fullFlowScript(), WithConfig(cfg))
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res := r.Run(context.Background(), r.NewSession("s1", "", "https://exam.example", nil))
	assert.True(t, res.Success)
	assert.Equal(t, 3, b.initCount())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, slept[:2])
}

func TestRunInitFailureIsTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := fullFlowBrowser()
	b.initFails = 3
	d := fullFlowScript()
	r, store := newTestRunner(t, b, d)

	res := r.Run(ctx, r.NewSession("s1", "ssc", "https://exam.example", nil))

	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Equal(t, BrowserInitReason, res.Message)
	assert.Zero(t, d.calls())
	assert.Equal(t, []string{"s1"}, b.closed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestRunRetryExhaustion(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, fullFlowBrowser(), script())

	res := r.Run(context.Background(), r.NewSession("s1", "", "https://exam.example", nil))

	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Equal(t, RetryExhaustedReason, res.Message)
	assert.Equal(t, 3, res.Cycles)
}

func TestRunCycleLimit(t *testing.T) {
	t.Parallel()
	n := 0
	d := deciderFunc(func(context.Context, decision.Request) decision.Decision {
		n++
		return fill(fmt.Sprintf("field_%d", n), "x")
	})
	cfg := testConfig()
	cfg.MaxCycles = 4
	r, _ := newTestRunner(t, fullFlowBrowser(), d, WithConfig(cfg))

	res := r.Run(context.Background(), r.NewSession("s1", "", "https://exam.example", nil))

	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Equal(t, CycleLimitReason, res.Message)
	assert.Equal(t, 4, res.Cycles)
}

func TestRunCancelledPausesWithCheckpoint(t *testing.T) {
	t.Parallel()
	r, store := newTestRunner(t, fullFlowBrowser(), fullFlowScript())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, r.NewSession("s1", "", "https://exam.example", nil))

	assert.True(t, res.Paused)
	assert.Equal(t, session.StatusRunning, res.Status)
	saved, err := store.LoadCheckpoint(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, saved.Status)

	resumed, err := r.Resume(context.Background(), "s1", "", "")
	require.NoError(t, err)
	assert.True(t, resumed.Success)
}

func TestRunCancelledDuringInitStaysResumable(t *testing.T) {
	t.Parallel()
	b := cancelAwareBrowser{fullFlowBrowser()}
	r, store := newTestRunner(t, b, fullFlowScript(), validating(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, r.NewSession("s1", "", "https://exam.example", nil))

	assert.True(t, res.Paused)
	assert.Equal(t, session.StatusRunning, res.Status)
	assert.Zero(t, b.initCount())
	assert.Empty(t, b.closed, "a paused session keeps its browser slot")

	saved, err := store.LoadCheckpoint(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, saved.Status)
	assert.Empty(t, saved.LastError)

	resumed, err := r.Resume(context.Background(), "s1", "", "")
	require.NoError(t, err)
	assert.True(t, resumed.Success)
	assert.Equal(t, 1, b.initCount(), "resume re-runs browser setup")
}

func TestRunCancelledDuringInitBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := cancelAwareBrowser{fullFlowBrowser()}
	b.initFails = 1
	r, store := newTestRunner(t, b, fullFlowScript())
	r.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res := r.Run(ctx, r.NewSession("s1", "", "https://exam.example", nil))

	assert.True(t, res.Paused)
	assert.Equal(t, session.StatusRunning, res.Status)
	assert.Equal(t, 1, b.initCount())

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Runs, "no analytics row for a paused run")
}

func TestRunSurvivesPersistenceFailures(t *testing.T) {
	t.Parallel()
	store := failingStore{Backend: storage.NewTestBackend(t)}
	d := script(decision.Decision{Action: decision.Success{}, Rationale: "Form submitted successfully"})
	r := NewRunner(fullFlowBrowser(), d, store, nil, WithConfig(testConfig()), WithLogger(discardLogger()))

	res := r.Run(context.Background(), formFillingState("name", "father_name", "dob", "phone", "address"))

	assert.Equal(t, session.StatusCompleted, res.Status)
}

func TestSuspendAndResumeSkipsInit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := fullFlowBrowser()
	d := script(
		fill("email", "a@b.c"),
		waitFor(session.InputOTP, "otp sent to email"),
		decision.Decision{Action: decision.Error{Message: "stop here"}},
	)
	r, store := newTestRunner(t, b, d, validating(t))

	res := r.Run(ctx, r.NewSession("s1", "", "https://exam.example", map[string]string{"email": "a@b.c"}))
	require.Equal(t, session.StatusWaitingInput, res.Status)
	require.NotNil(t, res.Pending)
	assert.Equal(t, session.InputOTP, res.Pending.Kind)

	saved, err := store.LoadCheckpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaitingInput, saved.Status)

	_, err = r.Resume(ctx, "s1", "", "")
	require.Error(t, err)
	assert.Equal(t, autoerrors.CodeInvalidInput, autoerrors.AsAutoformError(err).Code)

	res, err = r.Resume(ctx, "s1", "123456", "")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Equal(t, "stop here", res.Message)
	assert.Equal(t, 1, b.initCount(), "resume must not re-initialize the browser")
	assert.Contains(t, b.executed(), otpVerifyInstruction)
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, fullFlowBrowser(), script())

	_, err := r.Resume(context.Background(), "ghost", "x", "")
	require.Error(t, err)
	assert.Equal(t, autoerrors.CodeNoCheckpoint, autoerrors.AsAutoformError(err).Code)
}

func TestResumeReappliesProgressRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, store := newTestRunner(t, fullFlowBrowser(), script())

	s := r.NewSession("s1", "", "https://exam.example", nil)
	s.Suspend(session.PendingInput{Kind: session.InputCaptcha})
	require.NoError(t, store.SaveCheckpoint(ctx, s))

	s.Phase = session.PhaseFormFilling
	s.LoginCompleted = true
	s.FilledFields.Add("name")
	require.NoError(t, store.MergeProgress(ctx, "s1", s.ProgressRecord().Fields()))

	loaded, err := r.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseFormFilling, loaded.Phase)
	assert.True(t, loaded.LoginCompleted)
	assert.True(t, loaded.AccountCreationComplete)
	assert.True(t, loaded.FilledFields.Contains("name"))
}

func TestDuplicateAccountFlowAsksForPassword(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newFakeBrowser(registerPage).
		on("Register", page{url: "https://exam.example/register", text: "Email already registered. Please login"}).
		on("Login", loginPage).
		on("Sign In", page{url: "https://exam.example/home", text: "Welcome Dashboard"})
	d := script(
		fill("email", "a@b.c"),
		click("Register", "create the account"),
		click("Sign In", "log in with the registered account"),
		decision.Decision{Action: decision.Error{Message: "stop here"}},
	)
	r, store := newTestRunner(t, b, d, validating(t))

	res := r.Run(ctx, r.NewSession("s1", "", "https://exam.example", map[string]string{"email": "a@b.c"}))
	require.Equal(t, session.StatusWaitingInput, res.Status)
	assert.Equal(t, LoginPasswordField, res.Pending.FieldID)
	assert.Equal(t, session.PhaseLogin, res.Phase)

	res, err := r.Resume(ctx, "s1", "hunter22", "")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Equal(t, 1, b.initCount())

	saved, err := store.LoadCheckpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.PhaseFormFilling, saved.Phase)
	assert.True(t, saved.LoginCompleted)
	assert.True(t, saved.EmailAlreadyRegistered)
	assert.NotContains(t, saved.UserData, "password")
	assert.NotContains(t, saved.ReceivedInputs, LoginPasswordField)
	assert.Contains(t, b.executed(), "click the Sign In button")
}

func TestDuplicateBannerAtCaptureNavigatesBeforeDeciding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := newFakeBrowser(page{url: "https://exam.example/register", text: "Email ID already registered. Please login"}).
		on("Login", loginPage)
	d := script(fill("mobile", "9876543210"))
	r, _ := newTestRunner(t, b, d)

	s := r.NewSession("s1", "", "https://exam.example", map[string]string{"email": "a@b.c"})
	s.Progress = 5
	r.Step(ctx, s)

	assert.Zero(t, d.calls(), "no decision is made on the stale registration page")
	assert.NotContains(t, b.executed(), "type '9876543210' into mobile")
	assert.Equal(t, "Navigate to this URL: https://exam.example", b.executed()[0])
	assert.Equal(t, session.PhaseLogin, s.Phase)
	assert.True(t, s.EmailAlreadyRegistered)
	assert.False(t, s.LoginNavigationPending)
	assert.False(t, s.FilledFields.Contains("mobile"))
	assert.Equal(t, session.StatusWaitingInput, s.Status)
	require.NotNil(t, s.PendingInput)
	assert.Equal(t, LoginPasswordField, s.PendingInput.FieldID)
	require.NoError(t, s.Validate())
}

func TestIsResuming(t *testing.T) {
	t.Parallel()

	fresh := session.New("s1", "https://exam.example", nil, 3)
	assert.False(t, isResuming(fresh))

	withInput := fresh.Clone()
	withInput.HumanInput = &session.HumanInput{Value: "1234"}
	assert.True(t, isResuming(withInput))

	progressed := fresh.Clone()
	progressed.Progress = 10
	assert.True(t, isResuming(progressed))

	login := fresh.Clone()
	login.Phase = session.PhaseLogin
	assert.True(t, isResuming(login))
}
