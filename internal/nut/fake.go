package nut

import "context"

// FakeSource is a test double for Source.
//
// Single-snapshot mode: pre-seed Variables; every FetchVariables call
// returns that map. Sequence mode: pre-seed Sequence; each call advances
// through the list, repeating the last element once exhausted — this
// models a UPS settling into a new steady state after an event. Set
// ConnectErr/FetchErr to inject failures; ErrAfter limits how many
// FetchVariables calls succeed before FetchErr starts firing, for tests
// that need "worked N times, then started failing".
type FakeSource struct {
	Variables map[string]string
	Sequence  []map[string]string

	ConnectErr error
	FetchErr   error
	ErrAfter   int // 0 means FetchErr (if set) always fires

	Connected     bool
	ConnectCount  int
	FetchCount    int
	DisconnectCnt int
}

func (f *FakeSource) Connect(ctx context.Context) error {
	f.ConnectCount++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.Connected = true
	return nil
}

func (f *FakeSource) Disconnect() error {
	f.DisconnectCnt++
	f.Connected = false
	return nil
}

func (f *FakeSource) FetchVariables(ctx context.Context, upsName string) (map[string]string, error) {
	f.FetchCount++
	if f.FetchErr != nil && (f.ErrAfter == 0 || f.FetchCount > f.ErrAfter) {
		return nil, f.FetchErr
	}

	src := f.Variables
	if len(f.Sequence) > 0 {
		idx := f.FetchCount - 1
		if idx >= len(f.Sequence) {
			idx = len(f.Sequence) - 1
		}
		src = f.Sequence[idx]
	}

	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out, nil
}

// Reset clears all state so the fake can be reused between sub-tests.
func (f *FakeSource) Reset() {
	*f = FakeSource{}
}
