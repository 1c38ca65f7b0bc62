// Package poller implements the single long-running poll loop (C4),
// directly generalizing the teacher's connectNUT/doPoll pair in
// cmd/ups-mqtt/main.go from "one UPS, one MQTT broker" into "N UPS names,
// one Repository, one Event Bus, one Relay client". The Poller is the
// sole writer of lastStatusMap and, through the Repository, of the ups
// table — exactly the single-goroutine-owns-state discipline the teacher
// applied to its nutClient and MQTT publisher.
package poller

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voltwatch/upsmonitor/internal/eventbus"
	"github.com/voltwatch/upsmonitor/internal/mapper"
	"github.com/voltwatch/upsmonitor/internal/nut"
	"github.com/voltwatch/upsmonitor/internal/repository"
	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

// DefaultPollInterval matches the spec's default of one second.
const DefaultPollInterval = time.Second

// heartbeatInterval is the "at most once per 60 s" ceiling on Relay
// heartbeat sends, per §4.4.
const heartbeatInterval = 60 * time.Second

// retryDelays is the 0 s, 1 s, 2 s backoff schedule for a single UPS poll.
var retryDelays = []time.Duration{0, time.Second, 2 * time.Second}

// relayDispatchLimit bounds how many outbound Relay event goroutines may be
// in flight at once, per §9's "bound their concurrency" guidance.
const relayDispatchLimit = 8

// RelaySink is the subset of relay.Client the Poller depends on, letting
// tests inject a recording double instead of talking HTTP.
type RelaySink interface {
	SendEvent(ctx context.Context, eventType string, upsID string, status *upsmodel.Status, timestampSeconds int64, batteryLevel *int, installationID *string) error
	SendHeartbeat(ctx context.Context, timestampSeconds int64)
}

// Poller owns one poll cycle across every configured UPS name.
type Poller struct {
	// NewSource returns a fresh, unconnected nut.Source for one fetch
	// attempt — a new connection per try, per §4.4.
	NewSource func() nut.Source

	UPSNames []string
	Repo     repository.Repository
	Bus      *eventbus.Bus

	// Relay may be nil when the process is running without a configured
	// Relay tenant; all Relay calls are then skipped.
	Relay RelaySink

	PollInterval time.Duration

	// Now lets tests control the clock; defaults to time.Now.
	Now func() time.Time

	relaySemOnce sync.Once
	relaySem     chan struct{}

	statusMu      sync.Mutex
	lastStatusMap map[string]upsmodel.Status

	heartbeatMu   sync.Mutex
	lastHeartbeat time.Time

	running int32
}

func (p *Poller) pollInterval() time.Duration {
	if p.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return p.PollInterval
}

func (p *Poller) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *Poller) semaphore() chan struct{} {
	p.relaySemOnce.Do(func() {
		p.relaySem = make(chan struct{}, relayDispatchLimit)
	})
	return p.relaySem
}

// Run blocks, polling every UPS name once per PollInterval, until ctx is
// cancelled. It sleeps before the first cycle, matching the teacher's
// ticker-first loop shape; an in-flight fetch is abandoned on shutdown.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single poll cycle: every configured UPS name in
// order, then at most one Relay heartbeat. Exported so tests can drive
// cycles deterministically instead of waiting on a ticker. A cycle still
// in flight when another is due is skipped outright rather than allowed
// to overlap.
func (p *Poller) RunOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		log.Printf("poller: previous cycle still running, skipping this tick")
		return
	}
	defer atomic.StoreInt32(&p.running, 0)

	for _, name := range p.UPSNames {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.pollOne(ctx, name)
	}

	p.maybeHeartbeat(ctx)
}

func (p *Poller) pollOne(ctx context.Context, upsName string) {
	vars, err := p.fetchWithRetry(ctx, upsName)
	if err != nil {
		p.handleFailure(ctx, strings.ToLower(upsName))
		return
	}
	p.handleSuccess(ctx, mapper.Map(vars, upsName))
}

// fetchWithRetry tries up to three times with 0 s/1 s/2 s delays, a fresh
// Source per attempt, disconnecting on every exit path.
func (p *Poller) fetchWithRetry(ctx context.Context, upsName string) (map[string]string, error) {
	var lastErr error
	for _, delay := range retryDelays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		vars, err := p.attemptFetch(ctx, upsName)
		if err == nil {
			return vars, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Poller) attemptFetch(ctx context.Context, upsName string) (map[string]string, error) {
	src := p.NewSource()
	if err := src.Connect(ctx); err != nil {
		return nil, err
	}
	defer src.Disconnect() //nolint:errcheck

	return src.FetchVariables(ctx, upsName)
}

// handleFailure registers an exhausted-retries failure against upsID. It
// only publishes a status_change (never metrics_update) when the failure
// count crosses the offline threshold, matching the source behavior the
// spec asks implementers to replicate at the 3-failure boundary.
func (p *Poller) handleFailure(ctx context.Context, upsID string) {
	stored, _, changed, err := p.Repo.RegisterFailure(ctx, upsID)
	if err != nil {
		log.Printf("poller: RegisterFailure(%s): %v", upsID, err)
		return
	}
	if stored == nil {
		// Never polled successfully; nothing to mark offline.
		return
	}

	p.setLastStatus(upsID, stored.Status)

	if !changed {
		return
	}

	if err := p.Bus.Publish(ctx, eventbus.Event{Type: eventbus.EventStatusChange, UPS: upsID, HasLowBattery: false}); err != nil {
		log.Printf("poller: publish status_change(%s): %v", upsID, err)
	}

	status := upsmodel.StatusOffline
	p.dispatchRelayEvent("ups_status_change", upsID, &status, nil)
}

// handleSuccess upserts a fresh snapshot and publishes status_change (when
// the in-memory or prior DB status differs) followed unconditionally by
// metrics_update.
func (p *Poller) handleSuccess(ctx context.Context, snapshot upsmodel.Snapshot) {
	stored, previous, err := p.Repo.Upsert(ctx, snapshot)
	if err != nil {
		log.Printf("poller: Upsert(%s): %v", snapshot.UPSID, err)
		return
	}

	priorStatus, hasPrior := p.lastStatus(stored.UPSID)
	if !hasPrior && previous != nil {
		priorStatus, hasPrior = *previous, true
	}
	changed := hasPrior && priorStatus != stored.Status
	p.setLastStatus(stored.UPSID, stored.Status)

	lowBattery := stored.HasLowBattery()

	if changed {
		if err := p.Bus.Publish(ctx, eventbus.Event{Type: eventbus.EventStatusChange, UPS: stored.UPSID, HasLowBattery: lowBattery}); err != nil {
			log.Printf("poller: publish status_change(%s): %v", stored.UPSID, err)
		}

		eventType := "ups_status_change"
		if lowBattery {
			eventType = "battery_low"
		}
		status := stored.Status
		p.dispatchRelayEvent(eventType, stored.UPSID, &status, stored.BatteryPercent)
	}

	if err := p.Bus.Publish(ctx, eventbus.Event{Type: eventbus.EventMetricsUpdate, UPS: stored.UPSID, HasLowBattery: lowBattery}); err != nil {
		log.Printf("poller: publish metrics_update(%s): %v", stored.UPSID, err)
	}
}

// dispatchRelayEvent launches a bounded, fire-and-forget Relay call. The
// Poller never awaits Relay: a saturated dispatch pool drops the event
// rather than blocking the poll loop.
func (p *Poller) dispatchRelayEvent(eventType, upsID string, status *upsmodel.Status, batteryLevel *int) {
	if p.Relay == nil {
		return
	}

	sem := p.semaphore()
	select {
	case sem <- struct{}{}:
	default:
		log.Printf("poller: relay dispatch pool saturated, dropping %s for %s", eventType, upsID)
		return
	}

	go func() {
		defer func() { <-sem }()
		if err := p.Relay.SendEvent(context.Background(), eventType, upsID, status, p.now().Unix(), batteryLevel, nil); err != nil {
			log.Printf("poller: relay SendEvent(%s, %s): %v", eventType, upsID, err)
		}
	}()
}

func (p *Poller) maybeHeartbeat(ctx context.Context) {
	if p.Relay == nil {
		return
	}

	now := p.now()
	p.heartbeatMu.Lock()
	due := p.lastHeartbeat.IsZero() || now.Sub(p.lastHeartbeat) >= heartbeatInterval
	if due {
		p.lastHeartbeat = now
	}
	p.heartbeatMu.Unlock()

	if !due {
		return
	}
	go p.Relay.SendHeartbeat(ctx, now.Unix())
}

func (p *Poller) lastStatus(upsID string) (upsmodel.Status, bool) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	if p.lastStatusMap == nil {
		return "", false
	}
	s, ok := p.lastStatusMap[upsID]
	return s, ok
}

func (p *Poller) setLastStatus(upsID string, status upsmodel.Status) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	if p.lastStatusMap == nil {
		p.lastStatusMap = make(map[string]upsmodel.Status)
	}
	p.lastStatusMap[upsID] = status
}
