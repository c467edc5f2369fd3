package dashboard

import "errors"

// Sentinel errors for the poller.
var (
	ErrAlreadyStarted = errors.New("poller already started")
	ErrStopped        = errors.New("poller stopped")
	ErrNoFetcher      = errors.New("poller requires a fetcher")
)
