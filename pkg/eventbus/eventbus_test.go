package eventbus_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/eventbus"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish("scope.auth", "hello")

	select {
	case v := <-sub.Events():
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeReplaysLastKnownPerTopic(t *testing.T) {
	b := eventbus.New()
	b.Publish("scope.auth", "first")
	b.Publish("scope.billing", "second")

	sub := b.Subscribe()
	defer sub.Close()

	received := map[any]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-sub.Events():
			received[v] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for catchup events")
		}
	}
	assert.True(t, received["first"])
	assert.True(t, received["second"])
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10_000; i++ {
			b.Publish("scope.auth", fmt.Sprintf("event-%d", i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}
	assert.Greater(t, b.Dropped(), uint64(0))
}

func TestCloseStopsDelivery(t *testing.T) {
	b := eventbus.New()
	sub := b.Subscribe()
	sub.Close()

	b.Publish("scope.auth", "after close")

	_, open := <-sub.Events()
	assert.False(t, open, "channel should be closed")
}

func TestSubscriberCountReflectsSubscribeAndClose(t *testing.T) {
	b := eventbus.New()
	require.Equal(t, 0, b.SubscriberCount())

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	sub.Close()
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestLastSnapshotReturnsMostRecentEventPerTopic(t *testing.T) {
	b := eventbus.New()
	_, ok := b.LastSnapshot("scope.auth")
	assert.False(t, ok)

	b.Publish("scope.auth", "v1")
	b.Publish("scope.auth", "v2")

	v, ok := b.LastSnapshot("scope.auth")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}
