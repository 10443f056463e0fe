package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoform/internal/browser"
	"github.com/randalmurphal/autoform/internal/decision"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/storage"
)

// page is what the fake browser currently shows.
type page struct {
	url  string
	text string
}

// fakeBrowser models a remote browser whose page changes according to a
// table of instruction substrings.
type fakeBrowser struct {
	mu sync.Mutex

	current    page
	initPage   page
	transition map[string]page
	failOn     map[string]bool
	initFails  int

	inits        int
	screenshots  int
	instructions []string
	closed       []string
}

func newFakeBrowser(start page) *fakeBrowser {
	return &fakeBrowser{
		current:    start,
		initPage:   start,
		transition: make(map[string]page),
		failOn:     make(map[string]bool),
	}
}

// on makes any instruction containing substr navigate to p.
func (b *fakeBrowser) on(substr string, p page) *fakeBrowser {
	b.transition[substr] = p
	return b
}

// failing makes any instruction containing substr report failure.
func (b *fakeBrowser) failing(substr string) *fakeBrowser {
	b.failOn[substr] = true
	return b
}

func (b *fakeBrowser) respond() *browser.Response {
	return &browser.Response{Success: true, Screenshot: "aW1n", PageText: b.current.text, PageURL: b.current.url}
}

func (b *fakeBrowser) Init(_ context.Context, _, _ string) (*browser.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inits++
	if b.inits <= b.initFails {
		return nil, errors.New("executor unavailable")
	}
	b.current = b.initPage
	return b.respond(), nil
}

func (b *fakeBrowser) Screenshot(_ context.Context, _ string) (*browser.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screenshots++
	return b.respond(), nil
}

func (b *fakeBrowser) Execute(_ context.Context, _, instruction string) (*browser.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instructions = append(b.instructions, instruction)
	for substr := range b.failOn {
		if strings.Contains(instruction, substr) {
			return &browser.Response{Success: false, Error: "element not found"}, nil
		}
	}
	for substr, p := range b.transition {
		if strings.Contains(instruction, substr) {
			b.current = p
			break
		}
	}
	return b.respond(), nil
}

func (b *fakeBrowser) Close(_ context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = append(b.closed, sessionID)
	return nil
}

func (b *fakeBrowser) executed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.instructions...)
}

func (b *fakeBrowser) initCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inits
}

// cancelAwareBrowser fails every call once its context is done, like the
// HTTP client does.
type cancelAwareBrowser struct {
	*fakeBrowser
}

func (b cancelAwareBrowser) Init(ctx context.Context, sessionID, url string) (*browser.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.fakeBrowser.Init(ctx, sessionID, url)
}

func (b cancelAwareBrowser) Screenshot(ctx context.Context, sessionID string) (*browser.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.fakeBrowser.Screenshot(ctx, sessionID)
}

func (b cancelAwareBrowser) Execute(ctx context.Context, sessionID, instruction string) (*browser.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.fakeBrowser.Execute(ctx, sessionID, instruction)
}

// validating fails t when any observed snapshot breaks the state invariants.
func validating(t *testing.T) Option {
	return WithObserver(func(s *session.State) {
		require.NoError(t, s.Validate())
	})
}

// scriptedDecider returns its decisions in order, then retries.
type scriptedDecider struct {
	mu       sync.Mutex
	script   []decision.Decision
	requests []decision.Request
}

func script(ds ...decision.Decision) *scriptedDecider {
	return &scriptedDecider{script: ds}
}

func (d *scriptedDecider) Decide(_ context.Context, req decision.Request) decision.Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if len(d.script) == 0 {
		return decision.RetryDecision("script exhausted")
	}
	next := d.script[0]
	d.script = d.script[1:]
	return next
}

func (d *scriptedDecider) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// blockingDecider waits for release before answering.
type blockingDecider struct {
	entered chan struct{}
	release chan struct{}
	next    decision.Decision
}

func (d *blockingDecider) Decide(_ context.Context, _ decision.Request) decision.Decision {
	d.entered <- struct{}{}
	<-d.release
	return d.next
}

// failingStore rejects every write.
type failingStore struct {
	storage.Backend
}

var errStoreDown = errors.New("store down")

func (failingStore) SaveCheckpoint(context.Context, *session.State) error { return errStoreDown }
func (failingStore) MergeProgress(context.Context, string, map[string]any) error {
	return errStoreDown
}
func (failingStore) SaveResult(context.Context, storage.RunResult) error { return errStoreDown }

func fill(field, value string) decision.Decision {
	return decision.Decision{
		Action:      decision.FillField{Field: field, Value: value},
		Instruction: "type '" + value + "' into " + field,
		Rationale:   "filling " + field,
	}
}

func click(text, rationale string) decision.Decision {
	return decision.Decision{
		Action:      decision.ClickButton{Text: text},
		Instruction: "click the " + text + " button",
		Rationale:   rationale,
	}
}

func waitFor(kind session.InputKind, reason string) decision.Decision {
	return decision.Decision{Action: decision.WaitForHuman{Input: kind, Reason: reason}, Rationale: reason}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitBackoff = 0
	cfg.SettleDelay = 0
	cfg.PersistTimeout = time.Second
	return cfg
}

// newTestRunner wires a runner with an in-memory backend and no-op sleeps.
func newTestRunner(t *testing.T, b Browser, d Decider, opts ...Option) (*Runner, *storage.DatabaseBackend) {
	t.Helper()
	store := storage.NewTestBackend(t)
	opts = append([]Option{WithConfig(testConfig()), WithLogger(discardLogger())}, opts...)
	r := NewRunner(b, d, store, nil, opts...)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r, store
}

// formFillingState returns a logged-in state ready for the success gate.
func formFillingState(fields ...string) *session.State {
	s := session.New("s1", "https://exam.example", map[string]string{"email": "a@b.c"}, 3)
	s.Phase = session.PhaseFormFilling
	s.LoginCompleted = true
	s.RegistrationCompleted = true
	s.AccountCreationComplete = true
	for _, f := range fields {
		s.FilledFields.Add(f)
	}
	return s
}
