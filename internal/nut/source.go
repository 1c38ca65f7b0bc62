package nut

import "context"

// Source is what the Poller depends on, letting tests inject a fake in
// place of a real TCP Client — mirrors the teacher's Poller interface over
// its MQTT-era Client/FakePoller pair.
type Source interface {
	Connect(ctx context.Context) error
	Disconnect() error
	FetchVariables(ctx context.Context, upsName string) (map[string]string, error)
}

var _ Source = (*Client)(nil)
