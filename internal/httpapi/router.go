// Package httpapi wires the chi router the teacher never needed (its
// MQTT-only daemon exposed no HTTP surface at all): request-ID and
// logging middleware at the root, a constant-time bearer auth and
// fixed-window rate limiter guarding everything under /v1, per §6.1.
package httpapi

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voltwatch/upsmonitor/internal/devicecrypto"
	"github.com/voltwatch/upsmonitor/internal/eventbus"
	"github.com/voltwatch/upsmonitor/internal/repository"
	"github.com/voltwatch/upsmonitor/internal/sse"
	"github.com/voltwatch/upsmonitor/internal/telemetry"
	"github.com/voltwatch/upsmonitor/internal/updatechecker"
	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

// RelaySink is the subset of relay.Client the pairing and simulate-push
// handlers depend on, letting tests inject a recording double instead of
// talking HTTP.
type RelaySink interface {
	CreatePairCode(ctx context.Context, code string, timestampSeconds int64) error
	SendEvent(ctx context.Context, eventType string, upsID string, status *upsmodel.Status, timestampSeconds int64, batteryLevel *int, installationID *string) error
}

// Deps bundles everything the HTTP surface reads or writes, assembled once
// at process startup.
type Deps struct {
	Repo    repository.Repository
	Devices repository.DeviceRepository
	Bus     *eventbus.Bus

	// Relay is nil when the process has no configured Relay tenant; pairing
	// then responds 503, and push-simulation publishes its bus events but
	// sends no Relay event.
	Relay         RelaySink
	RelayBaseURL  string
	RelayServerID string

	Crypto  *devicecrypto.Box
	Checker *updatechecker.Checker
	Metrics *telemetry.Metrics

	APIToken    string // plaintext configured token; hashed once at router build time
	Degraded    bool
	Environment string // "production" or "sandbox"
	Version     string

	Now func() time.Time
}

// NewRouter builds the full chi.Mux. In degraded mode only the
// unauthenticated health/ready/metrics routes are registered, per §6.5.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)

	h := &handlers{d: d, global: sse.NewGlobalMetricsLimiter()}

	r.Get("/health", h.health)
	r.Get("/ready", h.ready)
	r.Get("/metrics", h.metrics)

	if d.Degraded {
		return r
	}

	tokenHash := sha256.Sum256([]byte(d.APIToken))
	limiter := newIPRateLimiter(60, time.Minute)

	r.Route("/v1", func(v chi.Router) {
		v.Use(authBearer(tokenHash))
		v.Use(limiter.middleware)

		v.Get("/ups", h.listUPS)
		v.Get("/ups/{upsId}/status", h.getUPSStatus)
		v.Post("/register-device", h.registerDevice)
		v.Post("/unregister-device", h.unregisterDevice)
		v.Post("/relay/pair", h.relayPair)
		v.Get("/events", h.events)
		v.Get("/status", h.status)

		if d.Environment != "production" {
			v.Post("/status/simulate-push", h.simulatePush)
		}
	})

	return r
}
