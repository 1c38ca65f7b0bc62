package repository

import (
	"context"
	"sync"
	"time"

	"github.com/voltwatch/upsmonitor/internal/upsmodel"
)

// FakeRepository is an in-memory Repository + DeviceRepository for Poller
// and HTTP handler tests, mirroring the teacher's FakePublisher: rows are
// seeded through Seed, exported fields inject Upsert/RegisterFailure errors,
// and a mutex stands in for a real transaction.
type FakeRepository struct {
	mu     sync.Mutex
	rows   map[string]upsmodel.Snapshot
	devices []upsmodel.DeviceRegistration

	UpsertErr         error
	RegisterFailureErr error
}

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{rows: make(map[string]upsmodel.Snapshot)}
}

var _ Repository = (*FakeRepository)(nil)
var _ DeviceRepository = (*FakeRepository)(nil)

// Seed directly installs a row, bypassing Upsert's bookkeeping, for tests
// that need to start from an existing DB state.
func (f *FakeRepository) Seed(s upsmodel.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.UPSID] = s
}

func (f *FakeRepository) Upsert(ctx context.Context, s upsmodel.Snapshot) (upsmodel.Snapshot, *upsmodel.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpsertErr != nil {
		return upsmodel.Snapshot{}, nil, f.UpsertErr
	}

	existing, ok := f.rows[s.UPSID]
	var previous *upsmodel.Status
	now := time.Now()
	if ok {
		prev := existing.Status
		previous = &prev
		s.CreatedAt = existing.CreatedAt
	} else {
		s.CreatedAt = now
	}
	s.ConsecutiveFailures = 0
	s.UpdatedAt = now
	f.rows[s.UPSID] = s
	return s, previous, nil
}

func (f *FakeRepository) RegisterFailure(ctx context.Context, upsID string) (*upsmodel.Snapshot, *upsmodel.Status, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RegisterFailureErr != nil {
		return nil, nil, false, f.RegisterFailureErr
	}

	existing, ok := f.rows[upsID]
	if !ok {
		return nil, nil, false, nil
	}

	previous := existing.Status
	existing.ConsecutiveFailures++
	changed := false
	if existing.ConsecutiveFailures >= 3 && existing.Status != upsmodel.StatusOffline {
		existing = offlineSnapshot(existing, existing.ConsecutiveFailures)
		changed = true
	} else {
		existing.UpdatedAt = time.Now()
	}
	f.rows[upsID] = existing
	return &existing, &previous, changed, nil
}

func (f *FakeRepository) Get(ctx context.Context, upsID string) (*upsmodel.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[upsID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (f *FakeRepository) List(ctx context.Context) ([]upsmodel.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]upsmodel.Snapshot, 0, len(f.rows))
	for _, s := range f.rows {
		out = append(out, s)
	}
	return out, nil
}

func (f *FakeRepository) Register(ctx context.Context, d upsmodel.DeviceRegistration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.devices {
		if existing.TokenHash == d.TokenHash && existing.UPSID == d.UPSID &&
			existing.Environment == d.Environment && equalStrPtr(existing.ServerID, d.ServerID) &&
			equalStrPtr(existing.InstallationID, d.InstallationID) {
			f.devices[i] = d
			return false, nil
		}
	}
	f.devices = append(f.devices, d)
	return true, nil
}

func (f *FakeRepository) Unregister(ctx context.Context, upsID, tokenHash string, environment upsmodel.Environment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.devices[:0]
	for _, d := range f.devices {
		if d.UPSID == upsID && d.TokenHash == tokenHash && d.Environment == environment {
			continue
		}
		out = append(out, d)
	}
	f.devices = out
	return nil
}

func (f *FakeRepository) CountByEnvironment(ctx context.Context, environment upsmodel.Environment) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.devices {
		if d.Environment == environment {
			n++
		}
	}
	return n, nil
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Reset clears all state so the fake can be reused between sub-tests.
func (f *FakeRepository) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = make(map[string]upsmodel.Snapshot)
	f.devices = nil
	f.UpsertErr = nil
	f.RegisterFailureErr = nil
}
