package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

func event(subject string) models.Event {
	return models.Event{ID: subject + "-1", Subject: subject, Timestamp: time.Now()}
}

func TestBridge_RoutingRules(t *testing.T) {
	b := NewBridge(logging.NewLogger(), 8)
	defer b.Close()

	var mu sync.Mutex
	var got []string

	id, err := b.Register("hub.workflow.>", "workflow events", func(_ context.Context, e models.Event) error {
		mu.Lock()
		got = append(got, e.Subject)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, b.Publish(context.Background(), event("hub.workflow.started")))
	require.NoError(t, b.Publish(context.Background(), event("hub.approval.requested")))

	mu.Lock()
	assert.Equal(t, []string{"hub.workflow.started"}, got)
	mu.Unlock()
}

func TestBridge_MultipleRulesAllInvoked(t *testing.T) {
	b := NewBridge(logging.NewLogger(), 8)
	defer b.Close()

	var mu sync.Mutex
	hits := map[string]int{}
	record := func(name string) Handler {
		return func(context.Context, models.Event) error {
			mu.Lock()
			hits[name]++
			mu.Unlock()
			return nil
		}
	}

	_, err := b.Register("hub.>", "all", record("all"))
	require.NoError(t, err)
	_, err = b.Register("hub.*.started", "started", record("started"))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), event("hub.workflow.started")))

	mu.Lock()
	assert.Equal(t, 1, hits["all"])
	assert.Equal(t, 1, hits["started"])
	mu.Unlock()
}

func TestBridge_FailingHandlerDoesNotStopOthers(t *testing.T) {
	b := NewBridge(logging.NewLogger(), 8)
	defer b.Close()

	var mu sync.Mutex
	reached := false

	_, err := b.Register("hub.>", "panics", func(context.Context, models.Event) error {
		panic("handler exploded")
	})
	require.NoError(t, err)
	_, err = b.Register("hub.>", "errors", func(context.Context, models.Event) error {
		return errors.New("handler failed")
	})
	require.NoError(t, err)
	_, err = b.Register("hub.>", "fine", func(context.Context, models.Event) error {
		mu.Lock()
		reached = true
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), event("hub.workflow.started")))

	mu.Lock()
	assert.True(t, reached)
	mu.Unlock()
}

func TestBridge_UnregisterAndDisable(t *testing.T) {
	b := NewBridge(logging.NewLogger(), 8)
	defer b.Close()

	var mu sync.Mutex
	count := 0
	id, err := b.Register("hub.>", "counting", func(context.Context, models.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), event("hub.a.b")))

	require.True(t, b.SetEnabled(id, false))
	require.NoError(t, b.Publish(context.Background(), event("hub.a.b")))

	require.True(t, b.SetEnabled(id, true))
	require.True(t, b.Unregister(id))
	assert.False(t, b.Unregister(id))
	require.NoError(t, b.Publish(context.Background(), event("hub.a.b")))

	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()
}

func TestBridge_SubscribeChannel(t *testing.T) {
	b := NewBridge(logging.NewLogger(), 8)
	defer b.Close()

	ch, cancel := b.Subscribe("hub.workflow.*")
	defer cancel()

	require.NoError(t, b.Publish(context.Background(), event("hub.workflow.started")))
	require.NoError(t, b.Publish(context.Background(), event("hub.approval.requested")))

	select {
	case e := <-ch:
		assert.Equal(t, "hub.workflow.started", e.Subject)
	case <-time.After(time.Second):
		t.Fatal("expected a delivered event")
	}

	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Subject)
	default:
	}
}

func TestBridge_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBridge(logging.NewLogger(), 1)
	defer b.Close()

	_, cancel := b.Subscribe("hub.>")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = b.Publish(context.Background(), event("hub.workflow.started"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}

func TestBridge_ClosedPublishFails(t *testing.T) {
	b := NewBridge(logging.NewLogger(), 8)
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), event("hub.workflow.started"))
	assert.ErrorIs(t, err, ErrClosed)
}
