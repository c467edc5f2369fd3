package service

import (
	"errors"
	"fmt"

	"github.com/okian/torturbo/internal/adapters/repository"
)

// Sentinel kinds for service errors. ErrNotStarted also matches
// repository.ErrClosed since no store is open while stopped.
var (
	ErrNotStarted = fmt.Errorf("service not started: %w", repository.ErrClosed)
	ErrNoFetcher  = errors.New("service needs a status fetcher")
)
