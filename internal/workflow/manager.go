package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/storage"
)

// invocation is one in-flight Run of a session.
type invocation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs sessions in the background with at most one invocation per
// session, and keeps the latest state snapshot of each for status queries.
type Manager struct {
	runner *Runner
	logger *slog.Logger

	base context.Context
	stop context.CancelFunc

	mu        sync.Mutex
	active    map[string]*invocation
	snapshots map[string]*session.State
	wg        sync.WaitGroup
}

// NewManager creates a manager around r. The manager registers itself as the
// runner's observer, chaining any observer already set.
func NewManager(r *Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	m := &Manager{
		runner:    r,
		logger:    logger,
		base:      base,
		stop:      stop,
		active:    make(map[string]*invocation),
		snapshots: make(map[string]*session.State),
	}
	prev := r.observer
	r.observer = func(s *session.State) {
		m.record(s)
		if prev != nil {
			prev(s)
		}
	}
	return m
}

// Runner returns the underlying runner.
func (m *Manager) Runner() *Runner {
	return m.runner
}

// NewSession creates the state for a fresh run.
func (m *Manager) NewSession(sessionID, examName, targetURL string, userData map[string]string) *session.State {
	return m.runner.NewSession(sessionID, examName, targetURL, userData)
}

func (m *Manager) record(s *session.State) {
	m.mu.Lock()
	m.snapshots[s.SessionID] = s
	m.mu.Unlock()
}

// acquire registers an invocation for id, failing with SESSION_BUSY when one
// is already in flight.
func (m *Manager) acquire(parent context.Context, id string) (context.Context, *invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[id]; busy {
		return nil, nil, autoerrors.ErrSessionBusy(id)
	}
	ctx, cancel := context.WithCancel(parent)
	inv := &invocation{cancel: cancel, done: make(chan struct{})}
	m.active[id] = inv
	return ctx, inv, nil
}

func (m *Manager) release(id string, inv *invocation) {
	m.mu.Lock()
	if m.active[id] == inv {
		delete(m.active, id)
	}
	m.mu.Unlock()
	inv.cancel()
	close(inv.done)
}

// Start launches s in the background. The returned channel receives the
// result once the invocation returns.
func (m *Manager) Start(s *session.State) (<-chan Result, error) {
	if err := s.Validate(); err != nil {
		return nil, autoerrors.ErrInvalidInput(err.Error())
	}
	ctx, inv, err := m.acquire(m.base, s.SessionID)
	if err != nil {
		return nil, err
	}
	m.record(s.Clone())
	return m.spawn(ctx, s, inv), nil
}

// Run drives s synchronously under the single-flight rule.
func (m *Manager) Run(ctx context.Context, s *session.State) (Result, error) {
	if err := s.Validate(); err != nil {
		return Result{}, autoerrors.ErrInvalidInput(err.Error())
	}
	runCtx, inv, err := m.acquire(ctx, s.SessionID)
	if err != nil {
		return Result{}, err
	}
	defer m.release(s.SessionID, inv)
	return m.runner.Run(runCtx, s), nil
}

// Resume loads the checkpoint of id, splices in the reply and continues the
// run in the background. Load and validation errors are returned directly.
func (m *Manager) Resume(ctx context.Context, id, value, fieldID string) (<-chan Result, error) {
	runCtx, inv, err := m.acquire(m.base, id)
	if err != nil {
		return nil, err
	}
	s, err := m.prepare(ctx, id, value, fieldID)
	if err != nil {
		m.release(id, inv)
		return nil, err
	}
	return m.spawn(runCtx, s, inv), nil
}

// ResumeSync is Resume that waits for the invocation to return.
func (m *Manager) ResumeSync(ctx context.Context, id, value, fieldID string) (Result, error) {
	runCtx, inv, err := m.acquire(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer m.release(id, inv)
	s, err := m.prepare(ctx, id, value, fieldID)
	if err != nil {
		return Result{}, err
	}
	return m.runner.Run(runCtx, s), nil
}

func (m *Manager) prepare(ctx context.Context, id, value, fieldID string) (*session.State, error) {
	s, err := m.runner.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.runner.Prepare(s, value, fieldID); err != nil {
		return nil, err
	}
	m.runner.n.checkpoint(ctx, s)
	m.record(s.Clone())
	return s, nil
}

func (m *Manager) spawn(ctx context.Context, s *session.State, inv *invocation) <-chan Result {
	out := make(chan Result, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res := m.runner.Run(ctx, s)
		m.release(s.SessionID, inv)
		m.logger.Info("session invocation returned",
			"session", res.SessionID, "status", res.Status, "phase", res.Phase, "cycles", res.Cycles)
		out <- res
		close(out)
	}()
	return out
}

// Cancel pauses the in-flight invocation of id at its next cycle boundary.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	inv, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return autoerrors.ErrSessionNotFound(id)
	}
	inv.cancel()
	return nil
}

// Active reports whether id has an invocation in flight.
func (m *Manager) Active(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[id]
	return ok
}

// Wait blocks until the in-flight invocation of id returns or ctx is done.
// It returns immediately when nothing is running.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	inv, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-inv.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the latest known state of id: the in-memory snapshot when
// this process ran it, otherwise the stored checkpoint.
func (m *Manager) Status(ctx context.Context, id string) (*session.State, error) {
	m.mu.Lock()
	snap, ok := m.snapshots[id]
	m.mu.Unlock()
	if ok {
		return snap.Clone(), nil
	}
	s, err := m.runner.store.LoadCheckpoint(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, autoerrors.ErrSessionNotFound(id)
	}
	if err != nil {
		return nil, autoerrors.ErrStorage("load checkpoint", err)
	}
	return s, nil
}

// Shutdown cancels every in-flight invocation and waits for them to
// checkpoint and return, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	m.mu.Lock()
	for _, inv := range m.active {
		inv.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
