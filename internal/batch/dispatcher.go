// Package batch runs a list of registrations one after another with a fixed
// pause between sessions.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	autoerrors "github.com/randalmurphal/autoform/internal/errors"
	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/session"
	"github.com/randalmurphal/autoform/internal/workflow"
)

// DefaultDelay is the pause between two sessions of a batch.
const DefaultDelay = 30 * time.Second

// Status is the lifecycle state of a batch.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Item is one registration to run.
type Item struct {
	ExamURL  string            `json:"exam_url" yaml:"exam_url"`
	ExamName string            `json:"exam_name,omitempty" yaml:"exam_name,omitempty"`
	UserData map[string]string `json:"user_data" yaml:"user_data"`
	// Label names the item in progress events; defaults to the user's name or email.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

func (it Item) label() string {
	switch {
	case it.Label != "":
		return it.Label
	case it.UserData["name"] != "":
		return it.UserData["name"]
	default:
		return it.UserData["email"]
	}
}

// ItemResult records the outcome of one item.
type ItemResult struct {
	Index     int            `json:"index"`
	SessionID string         `json:"session_id"`
	Label     string         `json:"label,omitempty"`
	Status    session.Status `json:"status"`
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
}

// Batch is a snapshot of a batch's progress.
type Batch struct {
	ID         string       `json:"id"`
	Status     Status       `json:"status"`
	Total      int          `json:"total"`
	Completed  int          `json:"completed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Sessions   []ItemResult `json:"sessions"`
	CreatedAt  time.Time    `json:"created_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Progress returns completed items as a percentage of the total.
func (b Batch) Progress() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Completed) / float64(b.Total) * 100
}

// SessionRunner creates and synchronously runs sessions.
type SessionRunner interface {
	NewSession(sessionID, examName, targetURL string, userData map[string]string) *session.State
	Run(ctx context.Context, s *session.State) (workflow.Result, error)
}

type entry struct {
	batch  Batch
	items  []Item
	cancel context.CancelFunc
	done   chan struct{}
}

// Dispatcher runs batches in the background, one session at a time.
type Dispatcher struct {
	runner SessionRunner
	events *events.PublishHelper
	delay  time.Duration
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error

	mu      sync.Mutex
	batches map[string]*entry
	wg      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDelay sets the pause between sessions.
func WithDelay(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d >= 0 {
			disp.delay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher. A nil publisher disables progress events.
func NewDispatcher(r SessionRunner, pub events.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		runner:  r,
		delay:   DefaultDelay,
		logger:  slog.Default(),
		sleep:   sleepCtx,
		batches: make(map[string]*entry),
	}
	if pub != nil {
		d.events = events.NewPublishHelper(pub)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate checks that items can be dispatched.
func Validate(items []Item) error {
	if len(items) == 0 {
		return autoerrors.ErrInvalidInput("batch has no items")
	}
	for i, it := range items {
		u, err := url.Parse(it.ExamURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return autoerrors.ErrInvalidInput(fmt.Sprintf("item %d: exam_url %q is not an http(s) URL", i, it.ExamURL))
		}
	}
	return nil
}

// Submit registers a batch and starts it in the background.
func (d *Dispatcher) Submit(items []Item) (Batch, error) {
	if err := Validate(items); err != nil {
		return Batch{}, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		batch: Batch{
			ID:        uuid.NewString(),
			Status:    StatusPending,
			Total:     len(items),
			Sessions:  []ItemResult{},
			CreatedAt: time.Now(),
		},
		items:  append([]Item(nil), items...),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	d.mu.Lock()
	d.batches[e.batch.ID] = e
	snap := e.snapshot()
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(e.done)
		defer cancel()
		d.run(ctx, e)
	}()
	return snap, nil
}

// Run executes items synchronously and returns the final batch.
func (d *Dispatcher) Run(ctx context.Context, items []Item) (Batch, error) {
	b, err := d.Submit(items)
	if err != nil {
		return Batch{}, err
	}
	d.mu.Lock()
	e := d.batches[b.ID]
	d.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		e.cancel()
		<-e.done
	}
	return d.Get(b.ID)
}

func (d *Dispatcher) run(ctx context.Context, e *entry) {
	d.update(e, func(b *Batch) { b.Status = StatusRunning })
	d.logger.Info("batch started", "batch", e.batch.ID, "total", len(e.items))

	for i, it := range e.items {
		if ctx.Err() != nil {
			break
		}
		id := uuid.NewString()
		label := it.label()
		d.publish(e, i+1, id, label)

		s := d.runner.NewSession(id, it.ExamName, it.ExamURL, it.UserData)
		res, err := d.runner.Run(ctx, s)
		out := ItemResult{Index: i, SessionID: id, Label: label, Status: res.Status, Success: res.Success, Message: res.Message}
		if err != nil {
			out.Status = session.StatusFailed
			out.Message = err.Error()
			d.logger.Warn("batch item failed to start", "batch", e.batch.ID, "index", i, "error", err)
		}

		d.update(e, func(b *Batch) {
			b.Completed++
			switch {
			case out.Success:
				b.Successful++
			case out.Status == session.StatusFailed:
				b.Failed++
			}
			b.Sessions = append(b.Sessions, out)
		})
		d.publish(e, i+1, id, label)

		if i < len(e.items)-1 {
			if err := d.sleep(ctx, d.delay); err != nil {
				break
			}
		}
	}

	d.update(e, func(b *Batch) {
		now := time.Now()
		b.FinishedAt = &now
		if ctx.Err() != nil {
			b.Status = StatusCancelled
		} else {
			b.Status = StatusCompleted
		}
	})
	final := d.snapshot(e)
	d.events.BatchProgress(progressData(final, final.Completed, "", ""))
	d.logger.Info("batch finished", "batch", final.ID, "status", final.Status,
		"successful", final.Successful, "failed", final.Failed, "total", final.Total)
}

func (d *Dispatcher) publish(e *entry, current int, sessionID, label string) {
	d.events.BatchProgress(progressData(d.snapshot(e), current, sessionID, label))
}

func progressData(b Batch, current int, sessionID, label string) events.BatchProgressData {
	return events.BatchProgressData{
		BatchID:    b.ID,
		Current:    current,
		Total:      b.Total,
		Completed:  b.Completed,
		Successful: b.Successful,
		Failed:     b.Failed,
		Label:      label,
		SessionID:  sessionID,
		Status:     string(b.Status),
	}
}

func (d *Dispatcher) update(e *entry, fn func(*Batch)) {
	d.mu.Lock()
	fn(&e.batch)
	d.mu.Unlock()
}

func (d *Dispatcher) snapshot(e *entry) Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return e.snapshot()
}

// snapshot copies the batch; callers hold d.mu.
func (e *entry) snapshot() Batch {
	b := e.batch
	b.Sessions = append([]ItemResult{}, e.batch.Sessions...)
	return b
}

// Get returns a snapshot of batch id.
func (d *Dispatcher) Get(id string) (Batch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.batches[id]
	if !ok {
		return Batch{}, autoerrors.ErrBatchNotFound(id)
	}
	return e.snapshot(), nil
}

// List returns every known batch, newest first.
func (d *Dispatcher) List() []Batch {
	d.mu.Lock()
	out := make([]Batch, 0, len(d.batches))
	for _, e := range d.batches {
		out = append(out, e.snapshot())
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel stops batch id. The running session is paused at its next cycle
// boundary and no further items start.
func (d *Dispatcher) Cancel(id string) error {
	d.mu.Lock()
	e, ok := d.batches[id]
	d.mu.Unlock()
	if !ok {
		return autoerrors.ErrBatchNotFound(id)
	}
	e.cancel()
	return nil
}

// Shutdown cancels every batch and waits for them to stop.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	for _, e := range d.batches {
		e.cancel()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
