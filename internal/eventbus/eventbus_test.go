package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_SubscribePublishDelivers(t *testing.T) {
	b := New()
	defer b.Close()

	var got Event
	var wg sync.WaitGroup
	wg.Add(1)
	id, err := b.Subscribe(func(e Event) {
		got = e
		wg.Done()
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer b.Unsubscribe(id)

	b.Publish(context.Background(), Event{Type: EventStatusChange, UPS: "ups1"})
	wg.Wait()

	if got.Type != EventStatusChange || got.UPS != "ups1" {
		t.Errorf("got = %+v", got)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var count int32
	id, err := b.Subscribe(func(e Event) { atomic.AddInt32(&count, 1) })
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	b.Publish(context.Background(), Event{Type: EventMetricsUpdate, UPS: "ups1"})
	b.Unsubscribe(id)
	b.Publish(context.Background(), Event{Type: EventMetricsUpdate, UPS: "ups1"})

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("count = %d, want 1 (no delivery after unsubscribe)", count)
	}
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	b := New()
	defer b.Close()

	id, err := b.Subscribe(func(Event) {})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	b.Unsubscribe(id)
	b.Unsubscribe(id) // must not panic or block
}

func TestBus_SubscriberLimitExceeded(t *testing.T) {
	b := New()
	defer b.Close()

	ids := make([]string, 0, MaxSubscribers)
	for i := 0; i < MaxSubscribers; i++ {
		id, err := b.Subscribe(func(Event) {})
		if err != nil {
			t.Fatalf("Subscribe() #%d error: %v", i, err)
		}
		ids = append(ids, id)
	}

	if _, err := b.Subscribe(func(Event) {}); err != ErrSubscriberLimitExceeded {
		t.Fatalf("101st Subscribe() error = %v, want ErrSubscriberLimitExceeded", err)
	}

	for _, id := range ids {
		b.Unsubscribe(id)
	}
	if _, err := b.Subscribe(func(Event) {}); err != nil {
		t.Fatalf("Subscribe() after freeing a slot: %v", err)
	}
}

func TestBus_PublishWaitsForAllSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	const n = 10
	var done int32
	for i := 0; i < n; i++ {
		if _, err := b.Subscribe(func(Event) {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&done, 1)
		}); err != nil {
			t.Fatalf("Subscribe() error: %v", err)
		}
	}

	b.Publish(context.Background(), Event{Type: EventMetricsUpdate, UPS: "ups1"})
	if atomic.LoadInt32(&done) != n {
		t.Errorf("done = %d, want %d — Publish must wait for every subscriber", done, n)
	}
}

func TestHasLowBatteryFromRaw(t *testing.T) {
	cases := map[string]bool{
		"OB LB": true,
		"lb":    true,
		"OL":    false,
		"":      false,
	}
	for raw, want := range cases {
		if got := HasLowBatteryFromRaw(raw); got != want {
			t.Errorf("HasLowBatteryFromRaw(%q) = %v, want %v", raw, got, want)
		}
	}
}
