// Package repository is the sole writer of the `ups` table (C3) and the
// `devices` table. It mirrors the teacher's publisher.Publisher pattern — a
// narrow interface, one real implementation, one in-memory fake — scaled up
// from an MQTT sink to a transactional Postgres store.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

// ErrNotFound is returned by Get when no row matches.
var ErrNotFound = errors.New("repository: not found")

// Repository is the UPS-table contract the Poller and the HTTP read
// handlers depend on.
type Repository interface {
	// Upsert writes s, resetting consecutive_failures to 0. It returns the
	// stored row and the status that was in effect immediately before this
	// write (nil if the row did not previously exist).
	Upsert(ctx context.Context, s upsmodel.Snapshot) (upsmodel.Snapshot, *upsmodel.Status, error)

	// RegisterFailure increments consecutive_failures for upsID. If the row
	// does not exist it returns (nil, nil, false, nil) — the UPS was never
	// polled successfully, so there is nothing to mark as failed. When the
	// failure count reaches 3 and the row isn't already ups_offline, it
	// nulls every metric/identity/driver/timer field and flips status to
	// ups_offline, returning changed=true.
	RegisterFailure(ctx context.Context, upsID string) (stored *upsmodel.Snapshot, previous *upsmodel.Status, changed bool, err error)

	Get(ctx context.Context, upsID string) (*upsmodel.Snapshot, error)
	List(ctx context.Context) ([]upsmodel.Snapshot, error)
}

// DeviceRepository is the `devices` table contract.
type DeviceRepository interface {
	// Register is an idempotent upsert keyed on (token_hash, ups_id,
	// environment, server_id, installation_id). It reports whether a new
	// row was created (true) or an existing one updated (false).
	Register(ctx context.Context, d upsmodel.DeviceRegistration) (created bool, err error)

	// Unregister deletes matching rows; absence is not an error.
	Unregister(ctx context.Context, upsID, tokenHash string, environment upsmodel.Environment) error

	// CountByEnvironment returns how many devices are registered for env,
	// used by the Relay fan-out helpers to skip broadcasts when there is
	// nobody to notify.
	CountByEnvironment(ctx context.Context, environment upsmodel.Environment) (int, error)
}

// offlineSnapshot returns s with every metric/identity/driver/timer field
// nulled and status forced to ups_offline, per §4.3's RegisterFailure rule.
// Identity (UPSID, DataSource) and polling state survive.
func offlineSnapshot(s upsmodel.Snapshot, failures int) upsmodel.Snapshot {
	out := upsmodel.Snapshot{
		UPSID:               s.UPSID,
		DataSource:          s.DataSource,
		Status:              upsmodel.StatusOffline,
		StatusRaw:           "",
		ConsecutiveFailures: failures,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           time.Now(),
	}
	return out
}
