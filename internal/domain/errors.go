package domain

import "errors"

// Sentinel errors used across layers.
var (
	ErrNoEvents         = errors.New("no events available")
	ErrAlarmActive      = errors.New("an alarm is already active")
	ErrStopTimeout      = errors.New("alarm did not stop in time")
	ErrQueueClosed      = errors.New("playback queue is closed")
	ErrUnknownCategory  = errors.New("unknown news category")
	ErrProviderDisabled = errors.New("provider is disabled")
)
