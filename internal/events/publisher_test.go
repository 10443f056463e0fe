package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s for %s", ev.Type, ev.SessionID)
	default:
	}
}

func TestMemoryPublisherRoutesBySession(t *testing.T) {
	t.Parallel()
	p := NewMemoryPublisher()
	defer p.Close()

	a := p.Subscribe("a")
	b := p.Subscribe("b")
	all := p.Subscribe(GlobalSessionID)

	p.Publish(NewEvent(EventLog, "a", LogData{Message: "hi"}))

	ev := receive(t, a)
	assert.Equal(t, EventLog, ev.Type)
	assert.Equal(t, "a", ev.SessionID)
	assert.Equal(t, "a", receive(t, all).SessionID)
	assertNoEvent(t, b)
}

func TestMemoryPublisherFullSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()
	p := NewMemoryPublisher(WithBufferSize(1))
	defer p.Close()

	slow := p.Subscribe("s")
	fast := p.Subscribe("s")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			p.Publish(NewEvent(EventStatus, "s", StatusData{Progress: i}))
			<-fast
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, 0, receive(t, slow).Data.(StatusData).Progress)
	assert.EqualValues(t, 4, p.Dropped(), "slow subscriber missed every event after the first")
}

func TestMemoryPublisherUnsubscribe(t *testing.T) {
	t.Parallel()
	p := NewMemoryPublisher()
	defer p.Close()

	ch := p.Subscribe("s")
	require.Equal(t, 1, p.SubscriberCount("s"))

	p.Unsubscribe("s", ch)
	assert.Equal(t, 0, p.SubscriberCount("s"))
	_, open := <-ch
	assert.False(t, open)

	// Unknown channels are ignored.
	p.Unsubscribe("s", make(chan Event))
}

func TestMemoryPublisherClose(t *testing.T) {
	t.Parallel()
	p := NewMemoryPublisher()
	ch := p.Subscribe("s")
	p.Close()
	p.Close()

	_, open := <-ch
	assert.False(t, open)

	late := p.Subscribe("s")
	_, open = <-late
	assert.False(t, open)

	p.Publish(NewEvent(EventLog, "s", LogData{}))
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()
	var p Publisher = NopPublisher{}
	p.Publish(NewEvent(EventLog, "s", nil))
	ch := p.Subscribe("s")
	_, open := <-ch
	assert.False(t, open)
	p.Unsubscribe("s", ch)
	p.Close()
}
