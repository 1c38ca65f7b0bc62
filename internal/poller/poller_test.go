package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voltwatch/upsmonitor/internal/eventbus"
	"github.com/voltwatch/upsmonitor/internal/nut"
	"github.com/voltwatch/upsmonitor/internal/repository"
	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

// recordingRelay records every SendEvent/SendHeartbeat call for assertion.
type recordingRelay struct {
	mu         sync.Mutex
	events     []relayEvent
	heartbeats int
}

type relayEvent struct {
	eventType string
	upsID     string
	status    *upsmodel.Status
}

func (r *recordingRelay) SendEvent(ctx context.Context, eventType string, upsID string, status *upsmodel.Status, timestampSeconds int64, batteryLevel *int, installationID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, relayEvent{eventType: eventType, upsID: upsID, status: status})
	return nil
}

func (r *recordingRelay) SendHeartbeat(ctx context.Context, timestampSeconds int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
}

func (r *recordingRelay) snapshot() ([]relayEvent, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]relayEvent, len(r.events))
	copy(out, r.events)
	return out, r.heartbeats
}

// collectingSubscriber subscribes to a bus and records every event
// delivered to it, safe for concurrent reads once the test synchronizes
// via eventually().
type collectingSubscriber struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (c *collectingSubscriber) deliver(e eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collectingSubscriber) count(t eventbus.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newBusWithCollector(t *testing.T) (*eventbus.Bus, *collectingSubscriber) {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	collector := &collectingSubscriber{}
	if _, err := bus.Subscribe(collector.deliver); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	return bus, collector
}

func sourceFactory(src *nut.FakeSource) func() nut.Source {
	return func() nut.Source { return src }
}

func TestRunOnce_ColdStartFirstPollSucceeds(t *testing.T) {
	bus, collector := newBusWithCollector(t)
	repo := repository.NewFakeRepository()
	relay := &recordingRelay{}
	src := &nut.FakeSource{Variables: map[string]string{
		"ups.status":     "OL",
		"battery.charge": "87.4",
		"ups.load":       "12.6",
	}}

	p := &Poller{
		NewSource:    sourceFactory(src),
		UPSNames:     []string{"ups1"},
		Repo:         repo,
		Bus:          bus,
		Relay:        relay,
		PollInterval: time.Second,
	}

	p.RunOnce(context.Background())

	row, err := repo.Get(context.Background(), "ups1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if row.Status != upsmodel.StatusOnline {
		t.Errorf("Status = %q, want online", row.Status)
	}
	if row.BatteryPercent == nil || *row.BatteryPercent != 87 {
		t.Errorf("BatteryPercent = %v, want 87", row.BatteryPercent)
	}
	if row.LoadPercent == nil || *row.LoadPercent != 13 {
		t.Errorf("LoadPercent = %v, want 13", row.LoadPercent)
	}
	if row.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", row.ConsecutiveFailures)
	}

	if got := collector.count(eventbus.EventMetricsUpdate); got != 1 {
		t.Errorf("metrics_update events = %d, want 1", got)
	}
	if got := collector.count(eventbus.EventStatusChange); got != 0 {
		t.Errorf("status_change events = %d, want 0 on cold start", got)
	}
}

func TestRunOnce_TransitionOnlineToOnBattery(t *testing.T) {
	bus, collector := newBusWithCollector(t)
	repo := repository.NewFakeRepository()
	repo.Seed(upsmodel.Snapshot{UPSID: "ups1", Status: upsmodel.StatusOnline, DataSource: upsmodel.DataSourceNUT})

	relay := &recordingRelay{}
	src := &nut.FakeSource{Variables: map[string]string{"ups.status": "OB LB"}}

	p := &Poller{
		NewSource: sourceFactory(src),
		UPSNames:  []string{"ups1"},
		Repo:      repo,
		Bus:       bus,
		Relay:     relay,
	}

	p.RunOnce(context.Background())

	row, err := repo.Get(context.Background(), "ups1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if row.Status != upsmodel.StatusOnBattery {
		t.Errorf("Status = %q, want on_battery", row.Status)
	}

	if got := collector.count(eventbus.EventStatusChange); got != 1 {
		t.Errorf("status_change events = %d, want 1", got)
	}
	if got := collector.count(eventbus.EventMetricsUpdate); got != 1 {
		t.Errorf("metrics_update events = %d, want 1", got)
	}

	events, _ := waitForRelayEvents(t, relay, 1)
	if events[0].eventType != "battery_low" {
		t.Errorf("relay eventType = %q, want battery_low", events[0].eventType)
	}
	if events[0].upsID != "ups1" {
		t.Errorf("relay upsID = %q, want ups1", events[0].upsID)
	}
}

func TestRunOnce_ThreeFailuresPromoteToOffline(t *testing.T) {
	bus, collector := newBusWithCollector(t)
	repo := repository.NewFakeRepository()
	repo.Seed(upsmodel.Snapshot{UPSID: "ups1", Status: upsmodel.StatusOnline, DataSource: upsmodel.DataSourceNUT})

	relay := &recordingRelay{}
	src := &nut.FakeSource{FetchErr: nut.ErrTimeout}

	p := &Poller{
		NewSource: sourceFactory(src),
		UPSNames:  []string{"ups1"},
		Repo:      repo,
		Bus:       bus,
		Relay:     relay,
	}

	ctx := context.Background()
	p.RunOnce(ctx)
	p.RunOnce(ctx)
	p.RunOnce(ctx)

	row, err := repo.Get(ctx, "ups1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if row.Status != upsmodel.StatusOffline {
		t.Errorf("Status = %q, want ups_offline", row.Status)
	}
	if row.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", row.ConsecutiveFailures)
	}
	if row.BatteryPercent != nil {
		t.Errorf("BatteryPercent = %v, want nil after offline promotion", row.BatteryPercent)
	}

	if got := collector.count(eventbus.EventStatusChange); got != 1 {
		t.Errorf("status_change events = %d, want exactly 1", got)
	}
	if got := collector.count(eventbus.EventMetricsUpdate); got != 0 {
		t.Errorf("metrics_update events = %d, want 0 (offline-promotion path never publishes metrics_update)", got)
	}

	events, _ := waitForRelayEvents(t, relay, 1)
	if events[0].eventType != "ups_status_change" {
		t.Errorf("relay eventType = %q, want ups_status_change", events[0].eventType)
	}
	if events[0].status == nil || *events[0].status != upsmodel.StatusOffline {
		t.Errorf("relay status = %v, want ups_offline", events[0].status)
	}
}

func TestRunOnce_RetriesThreeTimesBeforeRegisteringFailure(t *testing.T) {
	repo := repository.NewFakeRepository()
	repo.Seed(upsmodel.Snapshot{UPSID: "ups1", Status: upsmodel.StatusOnline})
	src := &nut.FakeSource{FetchErr: nut.ErrTimeout}
	bus := eventbus.New()
	defer bus.Close()

	p := &Poller{NewSource: sourceFactory(src), UPSNames: []string{"ups1"}, Repo: repo, Bus: bus}
	p.RunOnce(context.Background())

	if src.FetchCount != 3 {
		t.Errorf("FetchCount = %d, want 3 retries per failed poll", src.FetchCount)
	}
	if src.ConnectCount != 3 {
		t.Errorf("ConnectCount = %d, want a fresh connection per attempt", src.ConnectCount)
	}
}

func TestRunOnce_SkipsOverlappingCycle(t *testing.T) {
	repo := repository.NewFakeRepository()
	src := &nut.FakeSource{Variables: map[string]string{"ups.status": "OL"}}
	bus := eventbus.New()
	defer bus.Close()

	p := &Poller{NewSource: sourceFactory(src), UPSNames: []string{"ups1"}, Repo: repo, Bus: bus}

	// Simulate an in-flight cycle.
	p.running = 1
	p.RunOnce(context.Background())

	if src.FetchCount != 0 {
		t.Errorf("FetchCount = %d, want 0 when a cycle is already running", src.FetchCount)
	}
}

func TestRunOnce_HeartbeatAtMostOncePer60s(t *testing.T) {
	repo := repository.NewFakeRepository()
	src := &nut.FakeSource{Variables: map[string]string{"ups.status": "OL"}}
	bus := eventbus.New()
	defer bus.Close()

	relay := &recordingRelay{}
	now := time.Now()
	p := &Poller{
		NewSource: sourceFactory(src),
		UPSNames:  []string{"ups1"},
		Repo:      repo,
		Bus:       bus,
		Relay:     relay,
		Now:       func() time.Time { return now },
	}

	p.RunOnce(context.Background())
	p.RunOnce(context.Background())
	if hb := waitForHeartbeats(t, relay, 1); hb != 1 {
		t.Errorf("heartbeats = %d, want exactly 1 within a 60s window", hb)
	}

	now = now.Add(61 * time.Second)
	p.RunOnce(context.Background())
	if hb := waitForHeartbeats(t, relay, 2); hb != 2 {
		t.Errorf("heartbeats = %d, want 2 once 60s has elapsed", hb)
	}
}

func TestRun_StopsOnContextCancellation(t *testing.T) {
	repo := repository.NewFakeRepository()
	src := &nut.FakeSource{Variables: map[string]string{"ups.status": "OL"}}
	bus := eventbus.New()
	defer bus.Close()

	p := &Poller{NewSource: sourceFactory(src), UPSNames: []string{"ups1"}, Repo: repo, Bus: bus, PollInterval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func waitForRelayEvents(t *testing.T, relay *recordingRelay, want int) ([]relayEvent, int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events, hb := relay.snapshot(); len(events) >= want {
			return events, hb
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d relay events", want)
	return nil, 0
}

// waitForHeartbeats polls until at least want heartbeats were sent (they go
// out on their own goroutine) or 2s pass, and returns the count it saw.
func waitForHeartbeats(t *testing.T, relay *recordingRelay, want int) int {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, hb := relay.snapshot(); hb >= want {
			return hb
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, hb := relay.snapshot()
	return hb
}
