package cli

import (
	"context"
	"io"

	"github.com/randalmurphal/autoform/internal/events"
	"github.com/randalmurphal/autoform/internal/progress"
)

// watch renders the events of sessionID on w until the returned stop
// function is called. Nothing is rendered in --json mode.
func watch(pub events.Publisher, w io.Writer, sessionID string) (stop func()) {
	if jsonOut {
		return func() {}
	}
	ch := pub.Subscribe(sessionID)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d := progress.New(w, quiet)
	go func() {
		defer close(done)
		d.Follow(ctx, ch)
	}()
	return func() {
		cancel()
		<-done
		pub.Unsubscribe(sessionID, ch)
	}
}
