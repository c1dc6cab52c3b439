package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oteiza/mago/internal/domain"
)

func TestPublishDeliversToTopicSubscribers(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	handler := func(tag string) func(ctx context.Context, event domain.Event) error {
		return func(ctx context.Context, event domain.Event) error {
			mu.Lock()
			got = append(got, tag+":"+event.TaskID)
			mu.Unlock()
			return nil
		}
	}

	if err := bus.Subscribe(ctx, "task.events", handler("a")); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe(ctx, "task.events", handler("b")); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe(ctx, "other", handler("c")); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, "task.events", domain.Event{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("delivered to %d handlers, want 2 (got %v)", len(got), got)
	}
	for _, g := range got {
		if g == "c:t1" {
			t.Error("event leaked across topics")
		}
	}
}

func TestHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx := context.Background()

	delivered := false
	if err := bus.Subscribe(ctx, "task.events", func(ctx context.Context, event domain.Event) error {
		return errors.New("handler broke")
	}); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe(ctx, "task.events", func(ctx context.Context, event domain.Event) error {
		delivered = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(ctx, "task.events", domain.Event{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Error("second handler skipped after first handler error")
	}
}

func TestContextCancelDropsSubscription(t *testing.T) {
	bus := NewInMemoryEventBus()
	subCtx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	count := 0
	if err := bus.Subscribe(subCtx, "task.events", func(ctx context.Context, event domain.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := bus.Publish(context.Background(), "task.events", domain.Event{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}

	cancel()
	// Unsubscription runs in a goroutine watching the context.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		bus.mu.RLock()
		n := len(bus.subscribers["task.events"])
		bus.mu.RUnlock()
		if n == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := bus.Publish(context.Background(), "task.events", domain.Event{TaskID: "t2"}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("handler ran %d times, want 1 (cancelled subscription still active)", count)
	}
}

func TestCloseDropsAllSubscriptions(t *testing.T) {
	bus := NewInMemoryEventBus()
	ctx := context.Background()

	called := false
	if err := bus.Subscribe(ctx, "task.events", func(ctx context.Context, event domain.Event) error {
		called = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, "task.events", domain.Event{TaskID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("handler invoked after Close")
	}
}
