package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoform/internal/decision"
	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/session"
)

func awaitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("invocation did not return")
		return Result{}
	}
}

func errCode(err error) autoerrors.Code {
	return autoerrors.AsAutoformError(err).Code
}

func TestManagerStartRunsInBackground(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, fullFlowBrowser(), fullFlowScript())
	m := NewManager(r, discardLogger())

	ch, err := m.Start(r.NewSession("s1", "", "https://exam.example", nil))
	require.NoError(t, err)
	res := awaitResult(t, ch)
	assert.True(t, res.Success)

	require.NoError(t, m.Wait(context.Background(), "s1"))
	assert.False(t, m.Active("s1"))
	snap, err := m.Status(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, snap.Status)
}

func TestManagerSingleFlightAndCancel(t *testing.T) {
	t.Parallel()
	d := &blockingDecider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		next:    fill("email", "a@b.c"),
	}
	r, store := newTestRunner(t, fullFlowBrowser(), d)
	m := NewManager(r, discardLogger())

	ch, err := m.Start(r.NewSession("s1", "", "https://exam.example", nil))
	require.NoError(t, err)
	<-d.entered

	_, err = m.Start(r.NewSession("s1", "", "https://exam.example", nil))
	assert.Equal(t, autoerrors.CodeSessionBusy, errCode(err))
	_, err = m.ResumeSync(context.Background(), "s1", "x", "")
	assert.Equal(t, autoerrors.CodeSessionBusy, errCode(err))

	require.NoError(t, m.Cancel("s1"))
	close(d.release)

	res := awaitResult(t, ch)
	assert.True(t, res.Paused)
	assert.Equal(t, session.StatusRunning, res.Status)

	saved, err := store.LoadCheckpoint(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, saved.FilledFields.Contains("email"), "the in-flight cycle finishes before pausing")
}

func TestManagerResumeAfterSuspension(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := script(
		waitFor(session.InputCaptcha, "captcha visible"),
		decision.Decision{Action: decision.Success{}, Rationale: "Form submitted successfully"},
	)
	r, _ := newTestRunner(t, fullFlowBrowser(), d)
	m := NewManager(r, discardLogger())

	s := formFillingState("name", "father_name", "dob", "phone", "address")
	res, err := m.Run(ctx, s)
	require.NoError(t, err)
	require.Equal(t, session.StatusWaitingInput, res.Status)

	snap, err := m.Status(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, snap.PendingInput)
	assert.Equal(t, session.InputCaptcha, snap.PendingInput.Kind)

	_, err = m.Resume(ctx, "s1", "", "")
	assert.Equal(t, autoerrors.CodeInvalidInput, errCode(err))
	assert.False(t, m.Active("s1"), "failed resume releases the session")

	ch, err := m.Resume(ctx, "s1", "XK42P", "")
	require.NoError(t, err)
	res = awaitResult(t, ch)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Cycles)
	assert.True(t, res.Success)
}

func TestManagerUnknownSession(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, fullFlowBrowser(), script())
	m := NewManager(r, discardLogger())

	assert.Equal(t, autoerrors.CodeSessionNotFound, errCode(m.Cancel("ghost")))
	_, err := m.Status(context.Background(), "ghost")
	assert.Equal(t, autoerrors.CodeSessionNotFound, errCode(err))
	_, err = m.Resume(context.Background(), "ghost", "x", "")
	assert.Equal(t, autoerrors.CodeNoCheckpoint, errCode(err))
}

func TestManagerStatusFallsBackToCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, store := newTestRunner(t, fullFlowBrowser(), script())
	m := NewManager(r, discardLogger())

	s := formFillingState("name")
	s.Suspend(session.PendingInput{Kind: session.InputOTP})
	require.NoError(t, store.SaveCheckpoint(ctx, s))

	got, err := m.Status(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaitingInput, got.Status)
}

func TestManagerShutdownPausesInFlight(t *testing.T) {
	t.Parallel()
	d := &blockingDecider{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		next:    fill("email", "a@b.c"),
	}
	r, _ := newTestRunner(t, fullFlowBrowser(), d)
	m := NewManager(r, discardLogger())

	ch, err := m.Start(r.NewSession("s1", "", "https://exam.example", nil))
	require.NoError(t, err)
	<-d.entered

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()
	require.Eventually(t, func() bool { return m.base.Err() != nil }, time.Second, 5*time.Millisecond)
	close(d.release)

	require.NoError(t, <-done)
	assert.True(t, awaitResult(t, ch).Paused)
}

func TestManagerRejectsInvalidState(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, fullFlowBrowser(), script())
	m := NewManager(r, discardLogger())

	_, err := m.Start(&session.State{})
	assert.Equal(t, autoerrors.CodeInvalidInput, errCode(err))
}
