package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/workflow"
)

// fakeRunner returns a canned status per exam name.
type fakeRunner struct {
	mu       sync.Mutex
	outcomes map[string]session.Status
	started  []string
	block    chan struct{}
}

func (f *fakeRunner) NewSession(id, exam, target string, data map[string]string) *session.State {
	s := session.New(id, target, data, 3)
	s.ExamName = exam
	return s
}

func (f *fakeRunner) Run(ctx context.Context, s *session.State) (workflow.Result, error) {
	f.mu.Lock()
	f.started = append(f.started, s.ExamName)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return workflow.Result{SessionID: s.SessionID, Status: session.StatusRunning, Paused: true}, nil
		}
	}
	if s.ExamName == "broken" {
		return workflow.Result{}, errors.New("session busy")
	}
	st := f.outcomes[s.ExamName]
	return workflow.Result{SessionID: s.SessionID, Status: st, Success: st == session.StatusCompleted}, nil
}

func item(exam string) Item {
	return Item{ExamURL: "https://exam.example/" + exam, ExamName: exam, UserData: map[string]string{"name": exam + " user"}}
}

func TestDispatcherRunsSequentiallyWithDelay(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{outcomes: map[string]session.Status{
		"ok":      session.StatusCompleted,
		"bad":     session.StatusFailed,
		"waiting": session.StatusWaitingInput,
	}}
	pub := events.NewMemoryPublisher()
	defer pub.Close()
	global := pub.Subscribe(events.GlobalSessionID)

	d := NewDispatcher(r, pub, WithDelay(time.Minute))
	var slept []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}

	b, err := d.Run(context.Background(), []Item{item("ok"), item("bad"), item("waiting"), item("broken")})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, b.Status)
	assert.Equal(t, 4, b.Total)
	assert.Equal(t, 4, b.Completed)
	assert.Equal(t, 1, b.Successful)
	assert.Equal(t, 2, b.Failed, "suspended sessions count as completed but neither successful nor failed")
	assert.Equal(t, []string{"ok", "bad", "waiting", "broken"}, r.started)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, slept)
	require.Len(t, b.Sessions, 4)
	assert.Equal(t, "bad user", b.Sessions[1].Label)
	assert.Equal(t, session.StatusFailed, b.Sessions[3].Status)
	assert.NotNil(t, b.FinishedAt)
	assert.InDelta(t, 100.0, b.Progress(), 0.001)

	var last events.BatchProgressData
	timeout := time.After(time.Second)
	for last.Status != string(StatusCompleted) {
		select {
		case ev := <-global:
			if ev.Type == events.EventBatchProgress {
				last = ev.Data.(events.BatchProgressData)
			}
		case <-timeout:
			t.Fatal("no final batch_progress event")
		}
	}
	assert.Equal(t, b.ID, last.BatchID)
	assert.Equal(t, 4, last.Completed)
}

func TestDispatcherCancel(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{block: make(chan struct{}), outcomes: map[string]session.Status{}}
	d := NewDispatcher(r, nil, WithDelay(0))

	b, err := d.Submit([]Item{item("a"), item("b")})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.started) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Cancel(b.ID))
	require.NoError(t, d.Shutdown(context.Background()))

	got, err := d.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 1, got.Completed)
	assert.Equal(t, []string{"a"}, r.started, "no item starts after cancel")
}

func TestDispatcherValidation(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(&fakeRunner{}, nil)

	_, err := d.Submit(nil)
	assert.Equal(t, autoerrors.CodeInvalidInput, autoerrors.AsAutoformError(err).Code)

	_, err = d.Submit([]Item{{ExamURL: "not a url"}})
	assert.Equal(t, autoerrors.CodeInvalidInput, autoerrors.AsAutoformError(err).Code)

	_, err = d.Get("missing")
	assert.Equal(t, autoerrors.CodeBatchNotFound, autoerrors.AsAutoformError(err).Code)
	assert.Equal(t, autoerrors.CodeBatchNotFound, autoerrors.AsAutoformError(d.Cancel("missing")).Code)
}

func TestDispatcherList(t *testing.T) {
	t.Parallel()
	r := &fakeRunner{outcomes: map[string]session.Status{"ok": session.StatusCompleted}}
	d := NewDispatcher(r, nil, WithDelay(0))

	_, err := d.Run(context.Background(), []Item{item("ok")})
	require.NoError(t, err)
	_, err = d.Run(context.Background(), []Item{item("ok")})
	require.NoError(t, err)

	list := d.List()
	require.Len(t, list, 2)
	assert.False(t, list[0].CreatedAt.Before(list[1].CreatedAt))
}
