package broadcast

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub *Subscriber) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.Events():
		require.True(t, ok, "channel closed unexpectedly")
		return env
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Envelope{}
	}
}

func TestSubscribe_DeliversConnected(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	sub := h.Subscribe("p1")
	defer h.Unsubscribe(sub)

	env := recv(t, sub)
	assert.Equal(t, TypeConnected, env.Type)
	assert.Equal(t, "p1", env.ProjectID)
	assert.False(t, env.At.IsZero())
}

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	a := h.Subscribe("p1")
	b := h.Subscribe("p1")
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)
	recv(t, a)
	recv(t, b)

	h.Publish("p1", Envelope{Type: TypeProgress, Phase: "building"})

	for _, sub := range []*Subscriber{a, b} {
		env := recv(t, sub)
		assert.Equal(t, TypeProgress, env.Type)
		assert.Equal(t, "building", env.Phase)
		assert.Equal(t, "p1", env.ProjectID)
	}
}

func TestPublish_IsolatedPerProject(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	sub := h.Subscribe("p1")
	defer h.Unsubscribe(sub)
	recv(t, sub)

	h.Publish("p2", Envelope{Type: TypeProgress})

	select {
	case env := <-sub.Events():
		t.Fatalf("event leaked across projects: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_ReplaysRecentEvents(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	h.Publish("p1", Envelope{Type: TypeProgress, Phase: "planning"})
	h.Publish("p1", Envelope{Type: TypeProgress, Phase: "building"})

	sub := h.Subscribe("p1")
	defer h.Unsubscribe(sub)

	assert.Equal(t, TypeConnected, recv(t, sub).Type)
	assert.Equal(t, "planning", recv(t, sub).Phase)
	assert.Equal(t, "building", recv(t, sub).Phase)
}

func TestClose_DeliversFinalThenClosesChannel(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	sub := h.Subscribe("p1")
	recv(t, sub)

	h.Close("p1", Envelope{Type: TypeComplete, Status: "complete"})

	env := recv(t, sub)
	assert.Equal(t, TypeComplete, env.Type)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "channel should be closed after the final event")
	case <-time.After(time.Second):
		t.Fatal("channel never closed")
	}
}

func TestSubscribe_AfterClose(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	early := h.Subscribe("p1")
	h.Publish("p1", Envelope{Type: TypeProgress, Phase: "building"})
	h.Close("p1", Envelope{Type: TypeComplete, Status: "complete"})
	h.Unsubscribe(early)

	sub := h.Subscribe("p1")

	// Connected, replayed feed, then an already-closed channel.
	assert.Equal(t, TypeConnected, recv(t, sub).Type)
	assert.Equal(t, TypeProgress, recv(t, sub).Type)
	assert.Equal(t, TypeComplete, recv(t, sub).Type)

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	sub := h.Subscribe("p1")
	assert.Equal(t, 1, h.SubscriberCount("p1"))

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.SubscriberCount("p1"))

	// Idempotent, including on nil.
	h.Unsubscribe(sub)
	h.Unsubscribe(nil)
}

func TestPublish_SlowSubscriberSkipsEvent(t *testing.T) {
	h := NewHub(8, zerolog.Nop())
	sub := h.Subscribe("p1")
	defer h.Unsubscribe(sub)

	// Fill the buffer without draining; publishing must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish("p1", Envelope{Type: TypeActivity})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
