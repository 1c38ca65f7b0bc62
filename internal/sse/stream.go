// Package sse implements the per-connection half of C5: subscribe to the
// event bus, replay a snapshot, then forward rate-limited frames until the
// client disconnects. Dead clients are detected lazily — the only signal is
// a write error, per §9.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voltwatch/upsmonitor/internal/eventbus"
	"github.com/voltwatch/upsmonitor/internal/repository"
)

const defaultHeartbeatInterval = 10 * time.Second

// FrameWriter writes one SSE frame (`event: <type>\ndata: <json>\n\n`) and
// flushes it. Implementations must return a non-nil error the moment the
// underlying connection can no longer be written to.
type FrameWriter interface {
	WriteFrame(eventType string, data []byte) error
}

// ParseRate maps the ?rate= query value to an interval, defaulting to 3s
// per §4.5 for any unrecognized or missing value.
func ParseRate(raw string) time.Duration {
	switch raw {
	case "1s":
		return 1 * time.Second
	case "5s":
		return 5 * time.Second
	case "3s", "":
		return 3 * time.Second
	default:
		return 3 * time.Second
	}
}

// Stream drives one SSE connection's lifecycle.
type Stream struct {
	Bus    *eventbus.Bus
	Repo   repository.Repository
	Global *GlobalMetricsLimiter

	HeartbeatInterval time.Duration   // overridable for tests; defaults to 10s
	Now               func() time.Time // overridable for tests; defaults to time.Now
}

func (s *Stream) heartbeatInterval() time.Duration {
	if s.HeartbeatInterval > 0 {
		return s.HeartbeatInterval
	}
	return defaultHeartbeatInterval
}

func (s *Stream) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Serve runs the full connection lifecycle: subscribe, snapshot, then
// stream rate-limited events and heartbeats until ctx is cancelled or a
// frame write fails. It always returns once the connection is done; the
// caller does not need to call Unsubscribe separately.
func (s *Stream) Serve(ctx context.Context, fw FrameWriter, rateQuery string) error {
	rate := ParseRate(rateQuery)
	perUPS := newPerUPSLimiter(rate)

	events := make(chan eventbus.Event, 32)
	deliver := func(e eventbus.Event) {
		select {
		case events <- e:
		default:
			// Connection's buffer is saturated; drop rather than block the
			// bus's Publish, which must wait for every subscriber.
		}
	}

	subID, err := s.Bus.Subscribe(deliver)
	if err != nil {
		return err // SubscriberLimitExceeded: no frames sent, per §4.5.
	}

	snapshots, err := s.Repo.List(ctx)
	if err != nil {
		s.Bus.Unsubscribe(subID)
		return fmt.Errorf("sse: snapshot list: %w", err)
	}
	for _, snap := range snapshots {
		if err := s.writePayload(fw, "metrics_update", NewUPSStatusPayload(snap, s.now())); err != nil {
			s.Bus.Unsubscribe(subID)
			return err
		}
	}

	ticker := time.NewTicker(s.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Bus.Unsubscribe(subID)
			return ctx.Err()

		case e := <-events:
			if err := s.handleEvent(ctx, fw, perUPS, e); err != nil {
				s.Bus.Unsubscribe(subID)
				return err
			}

		case <-ticker.C:
			if err := s.writePayload(fw, "heartbeat", NewHeartbeatPayload(s.now())); err != nil {
				s.Bus.Unsubscribe(subID)
				return err
			}
		}
	}
}

func (s *Stream) handleEvent(ctx context.Context, fw FrameWriter, perUPS *perUPSLimiter, e eventbus.Event) error {
	switch e.Type {
	case eventbus.EventStatusChange:
		snap, err := s.Repo.Get(ctx, e.UPS)
		if err != nil {
			return nil // UPS vanished between publish and lookup; nothing to send.
		}
		return s.writePayload(fw, "status_change", NewUPSStatusPayload(*snap, s.now()))

	case eventbus.EventMetricsUpdate:
		now := s.now()
		if !s.Global.Allow(now) || !perUPS.Allow(e.UPS, now) {
			return nil
		}
		snap, err := s.Repo.Get(ctx, e.UPS)
		if err != nil {
			return nil
		}
		return s.writePayload(fw, "metrics_update", NewUPSStatusPayload(*snap, now))

	default:
		return nil
	}
}

func (s *Stream) writePayload(fw FrameWriter, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal %s payload: %w", eventType, err)
	}
	return fw.WriteFrame(eventType, data)
}
