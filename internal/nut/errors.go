package nut

import "errors"

// Sentinel errors per spec §4.1. Wrapped with %w by the call sites below;
// test with errors.Is.
var (
	ErrConnectionFailed = errors.New("nut: connection failed")
	ErrTimeout          = errors.New("nut: timeout")
	ErrAuthFailed       = errors.New("nut: authentication failed")
	ErrUPSNotFound      = errors.New("nut: ups not found")
	ErrChannelClosed    = errors.New("nut: channel closed")
	ErrInvalidResponse  = errors.New("nut: invalid response")
)
