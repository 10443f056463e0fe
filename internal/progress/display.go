// Package progress renders live session events on a terminal for the
// foreground CLI commands.
package progress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/randalmurphal/autoform/internal/events"
)

// Display prints session events as they arrive. In quiet mode only input
// requests, errors and results are shown.
type Display struct {
	w         io.Writer
	quiet     bool
	startTime time.Time

	mu       sync.Mutex
	phase    string
	progress int
}

// New creates a display writing to w.
func New(w io.Writer, quiet bool) *Display {
	return &Display{w: w, quiet: quiet, startTime: time.Now()}
}

// Follow renders events from ch until ctx is done or ch is closed. Events
// already buffered when ctx ends are still rendered.
func (d *Display) Follow(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			d.Handle(ev)
		}
	}
}

func (d *Display) drain(ch <-chan events.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			d.Handle(ev)
		default:
			return
		}
	}
}

// Handle renders one event.
func (d *Display) Handle(ev events.Event) {
	switch data := ev.Data.(type) {
	case events.StatusData:
		d.status(data)
	case events.LogData:
		d.log(data)
	case events.OTPRequest:
		d.printf("🔑 OTP required: %s\n", data.Reason)
	case events.CaptchaRequest:
		d.printf("🧩 Captcha required: %s\n", data.Reason)
	case events.CustomInputRequest:
		d.printf("✍️  Input required for %s (%s)\n", data.Label, data.FieldID)
	case events.ResultData:
		d.result(data)
	case events.BatchProgressData:
		d.batch(data)
	}
}

func (d *Display) status(s events.StatusData) {
	d.mu.Lock()
	phaseChanged := s.Phase != "" && s.Phase != d.phase
	if s.Phase != "" {
		d.phase = s.Phase
	}
	d.progress = s.Progress
	d.mu.Unlock()

	if d.quiet {
		return
	}
	if phaseChanged {
		d.printf("🚀 Phase: %s\n", s.Phase)
	}
	d.printf("⏳ %3d%% | %s | %s\n", s.Progress, s.Step, s.Message)
}

func (d *Display) log(l events.LogData) {
	switch l.Level {
	case "error":
		d.printf("❌ %s\n", l.Message)
	case "warning":
		if !d.quiet {
			d.printf("⚠️  %s\n", l.Message)
		}
	case "success":
		if !d.quiet {
			d.printf("✅ %s\n", l.Message)
		}
	}
}

func (d *Display) result(r events.ResultData) {
	elapsed := formatDuration(time.Since(d.startTime))
	if r.Success {
		d.printf("🎉 %s (%s)\n", r.Message, elapsed)
		return
	}
	d.printf("💥 %s (%s)\n", r.Message, elapsed)
}

// batch prints a line when an item starts and the summary when the batch ends.
func (d *Display) batch(p events.BatchProgressData) {
	if d.quiet {
		return
	}
	switch {
	case p.SessionID == "" && p.Completed == p.Total:
		d.printf("📦 Batch %s %s: %d successful, %d failed of %d\n", p.BatchID, p.Status, p.Successful, p.Failed, p.Total)
	case p.SessionID != "" && p.Completed < p.Current:
		d.printf("📦 [%d/%d] %s (session %s)\n", p.Current, p.Total, p.Label, p.SessionID)
	}
}

// Progress returns the last reported phase and percentage.
func (d *Display) Progress() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase, d.progress
}

func (d *Display) printf(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = fmt.Fprintf(d.w, format, args...)
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
