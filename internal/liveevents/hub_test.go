package liveevents

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	hub := NewHub()
	sub, replay, err := hub.Subscribe("api_call")
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, replay)

	hub.Publish(LiveEvent{TransactionID: "txn_1", EventType: "api_call", Status: StatusAccepted})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "txn_1", ev.TransactionID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestSubscribeGetsReplayBuffer(t *testing.T) {
	hub := NewHub()
	keep, _, err := hub.Subscribe("api_call")
	require.NoError(t, err)
	defer keep.Close()

	for i := 0; i < 3; i++ {
		hub.Publish(LiveEvent{TransactionID: fmt.Sprintf("txn_%d", i), EventType: "api_call"})
	}

	sub, replay, err := hub.Subscribe("api_call")
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, replay, 3)
	assert.Equal(t, "txn_0", replay[0].TransactionID)
}

func TestPublishWithoutSubscribersDrops(t *testing.T) {
	hub := NewHub()
	hub.Publish(LiveEvent{TransactionID: "txn_1", EventType: "api_call"})

	sub, replay, err := hub.Subscribe("api_call")
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, replay)
}

// A full subscriber channel loses events instead of blocking the publisher.
func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("api_call")
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish(LiveEvent{TransactionID: fmt.Sprintf("txn_%d", i), EventType: "api_call"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestSubscribeEmptyEventType(t *testing.T) {
	_, _, err := NewHub().Subscribe("  ")
	assert.ErrorIs(t, err, ErrInvalidEventType)
}

func TestCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("api_call")
	require.NoError(t, err)
	sub.Close()
	sub.Close()
}
