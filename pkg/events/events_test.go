package events

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		require.FailNow(t, "no event received")
		return nil
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	a, c := b.Subscribe(), b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(NewLogsEvent("logs/error", types.LogSnapshot{LogType: "error", Lines: []string{"x"}}))

	for _, sub := range []Subscriber{a, c} {
		ev := receive(t, sub)
		assert.Equal(t, EventLogsUpdated, ev.Type)
		assert.Equal(t, "logs/error", ev.Source)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
		snap, ok := ev.Payload.(types.LogSnapshot)
		require.True(t, ok)
		assert.Equal(t, []string{"x"}, snap.Lines)
	}
}

func TestBrokerPreservesOrder(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	b.Start()
	defer b.Stop()

	for i := 0; i < 20; i++ {
		b.Publish(&Event{Type: EventNotice, Message: string(rune('a' + i))})
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, string(rune('a'+i)), receive(t, sub).Message)
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	slow := b.Subscribe()
	b.Start()

	for i := 0; i < 60; i++ {
		b.Publish(&Event{Type: EventNotice})
	}
	b.Stop()

	assert.Len(t, slow, 50)
	assert.Equal(t, 10, b.Dropped())
}

func TestBrokerUnsubscribeAndStop(t *testing.T) {
	b := NewBroker()
	b.Start()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Stop()
	b.Stop()
	b.Publish(&Event{Type: EventNotice}) // no-op after stop
}

func TestEventConstructors(t *testing.T) {
	cause := errors.New("connection refused")
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	state := NewStateEvent("mirror/job", types.StateChange{From: types.StateConnecting, To: types.StateClosed, Err: cause, At: at})
	assert.Equal(t, EventStateChanged, state.Type)
	assert.Equal(t, "connecting → closed: connection refused", state.Message)
	assert.Equal(t, at, state.Timestamp)

	notice := NewNoticeEvent("logs/access", cause)
	assert.Equal(t, EventNotice, notice.Type)
	assert.Equal(t, "connection refused", notice.Message)
	assert.ErrorIs(t, notice.Payload.(error), cause)

	progress := NewProgressEvent("mirror/job", types.ProgressSnapshot{JobID: "job", OverallProgress: 40, UpdatedAt: at})
	assert.Equal(t, EventProgressUpdated, progress.Type)
	assert.Equal(t, 40, progress.Payload.(types.ProgressSnapshot).OverallProgress)
}
