package watch

import "errors"

// Sentinel errors for the watcher.
var (
	ErrUsage      = errors.New("invalid usage")
	ErrPollFailed = errors.New("status poll failed")
)
