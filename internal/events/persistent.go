package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/autoform/internal/storage"
)

const (
	// Buffer flushes when it reaches this size
	bufferSizeThreshold = 10
	// Buffer flushes automatically on this interval
	flushInterval = 5 * time.Second
	// Bound on a single flush write
	flushTimeout = 10 * time.Second
)

// PersistentPublisher wraps MemoryPublisher and appends session events to the
// audit log. Screenshots and batch progress are broadcast but not persisted.
type PersistentPublisher struct {
	inner       *MemoryPublisher
	backend     storage.Backend
	buffer      []storage.LogEntry
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	logger      *slog.Logger
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewPersistentPublisher creates a publisher that persists to backend.
func NewPersistentPublisher(backend storage.Backend, logger *slog.Logger, opts ...PublisherOption) *PersistentPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &PersistentPublisher{
		inner:   NewMemoryPublisher(opts...),
		backend: backend,
		buffer:  make([]storage.LogEntry, 0, bufferSizeThreshold),
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	p.flushTicker = time.NewTicker(flushInterval)
	p.wg.Add(1)
	go p.flushLoop()

	return p
}

// Publish broadcasts the event and buffers it for persistence.
func (p *PersistentPublisher) Publish(event Event) {
	p.inner.Publish(event)

	if p.backend == nil {
		return
	}
	entry, ok := eventToLog(event)
	if !ok {
		return
	}

	p.bufferMu.Lock()
	p.buffer = append(p.buffer, entry)
	shouldFlush := len(p.buffer) >= bufferSizeThreshold
	p.bufferMu.Unlock()

	// Suspension and finalize are the points a process may exit after.
	if shouldFlush || event.Type == EventResult || isInputRequest(event.Type) {
		p.Flush()
	}
}

// Subscribe returns a channel that receives events for the given session.
func (p *PersistentPublisher) Subscribe(sessionID string) <-chan Event {
	return p.inner.Subscribe(sessionID)
}

// Dropped returns how many deliveries were skipped on full subscriber buffers.
func (p *PersistentPublisher) Dropped() int64 {
	return p.inner.Dropped()
}

// Unsubscribe removes a subscription channel.
func (p *PersistentPublisher) Unsubscribe(sessionID string, ch <-chan Event) {
	p.inner.Unsubscribe(sessionID, ch)
}

// Close flushes remaining entries and shuts down. Close is idempotent.
func (p *PersistentPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.flushTicker.Stop()
		p.wg.Wait()
		p.Flush()
		p.inner.Close()
	})
}

func (p *PersistentPublisher) flushLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.flushTicker.C:
			p.Flush()
		case <-p.stopCh:
			return
		}
	}
}

// Flush writes buffered entries in one batch.
func (p *PersistentPublisher) Flush() {
	p.bufferMu.Lock()
	if len(p.buffer) == 0 {
		p.bufferMu.Unlock()
		return
	}
	toFlush := p.buffer
	p.buffer = make([]storage.LogEntry, 0, bufferSizeThreshold)
	p.bufferMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := p.backend.AppendLogs(ctx, toFlush); err != nil {
		p.logger.Error("failed to persist session log", "error", err, "count", len(toFlush))
	}
}

func isInputRequest(t EventType) bool {
	return t == EventRequestOTP || t == EventRequestCaptcha || t == EventRequestCustomInput
}

// eventToLog converts an event into an audit entry. ok is false for events
// that are not persisted.
func eventToLog(e Event) (storage.LogEntry, bool) {
	if e.SessionID == "" || e.SessionID == GlobalSessionID {
		return storage.LogEntry{}, false
	}
	entry := storage.LogEntry{
		SessionID: e.SessionID,
		EventType: string(e.Type),
		Level:     "info",
		CreatedAt: e.Time,
	}

	switch data := e.Data.(type) {
	case LogData:
		entry.Level = data.Level
		entry.Message = data.Message
		entry.Node = data.Node
		return entry, true
	case StatusData:
		entry.Message = data.Message
		entry.Node = data.Step
	case OTPRequest:
		entry.Message = "otp requested: " + data.Reason
	case CaptchaRequest:
		// The image is not kept in the log.
		entry.Message = "captcha requested: " + data.Reason
		return entry, true
	case CustomInputRequest:
		entry.Message = "input requested: " + data.Label
	case ResultData:
		entry.Message = data.Message
		if !data.Success {
			entry.Level = "error"
		}
	default:
		return storage.LogEntry{}, false
	}

	if raw, err := json.Marshal(e.Data); err == nil {
		entry.Data = string(raw)
	}
	return entry, true
}
