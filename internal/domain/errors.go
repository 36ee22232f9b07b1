package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrStaleEvent         = errors.New("event at or below stored watermark")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
	ErrLockLost           = errors.New("lock lost")
	ErrFeedUnavailable    = errors.New("fixture feed unavailable")
	ErrReconnectExhausted = errors.New("event source reconnect attempts exhausted")
	ErrUnknownEvent       = errors.New("unknown event kind")
)
