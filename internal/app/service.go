// Package service ties the dashboard poller to the history pipeline and
// implements the dependencies required by the HTTP API.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/okian/torturbo/internal/adapters/mq/queue"
	"github.com/okian/torturbo/internal/adapters/mq/worker"
	"github.com/okian/torturbo/internal/adapters/repository"
	"github.com/okian/torturbo/internal/dashboard"
	"github.com/okian/torturbo/internal/domain/dedupe"
	"github.com/okian/torturbo/pkg/logger"
	"github.com/okian/torturbo/pkg/metrics"
)

const (
	defaultWorkerCount     = 2
	defaultQueueSize       = 256
	defaultDedupeSize      = 4096
	defaultHistoryCapacity = 1000
	defaultMaxHistoryLimit = 500
	defaultInterval        = 5 * time.Second
	defaultTimeout         = 5 * time.Second
	drainTimeout           = 10 * time.Second
)

// Service polls the status endpoint, keeps the current view and records
// every change of that view in the history store.
type Service struct {
	mu sync.RWMutex

	fetcher dashboard.Fetcher

	// Core components, rebuilt on every Start
	poller  *dashboard.Poller
	deduper dedupe.Deduper
	queue   *queue.InMemoryQueue
	pool    *worker.Pool
	history repository.Store

	// Configuration
	workerCount     int
	queueSize       int
	dedupeSize      int
	historyCapacity int
	maxHistoryLimit int
	interval        time.Duration
	timeout         time.Duration
	source          string
	ownsHistory     bool

	// State
	started bool
	last    dashboard.View

	logger logger.Logger
}

// New constructs a Service around f.
func New(f dashboard.Fetcher, opts ...Option) (*Service, error) {
	if f == nil {
		return nil, ErrNoFetcher
	}
	s := &Service{
		fetcher:         f,
		workerCount:     defaultWorkerCount,
		queueSize:       defaultQueueSize,
		dedupeSize:      defaultDedupeSize,
		historyCapacity: defaultHistoryCapacity,
		maxHistoryLimit: defaultMaxHistoryLimit,
		interval:        defaultInterval,
		timeout:         defaultTimeout,
		ownsHistory:     true,
		last:            dashboard.View{State: dashboard.StatePending},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s, nil
}

// Start builds the pipeline and starts polling. Calling Start on a running
// service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting dashboard service...")

	if s.ownsHistory {
		s.history = repository.NewMemoryStore(repository.WithCapacity(s.historyCapacity))
		s.logger.Info(ctx, "using in-memory history", logger.Int("capacity", s.historyCapacity))
	}
	d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	q := queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	pool := worker.NewPool(s.workerCount, q, s.history, worker.WithLogger(s.logger.Named("history")))

	var startSeq uint64
	if !s.ownsHistory {
		// continue numbering so a persisted history stays ordered
		if last, err := s.history.Recent(ctx, 1); err == nil && len(last) == 1 {
			startSeq = last[0].Seq
		}
	}

	p, err := dashboard.NewPoller(s.fetcher,
		dashboard.WithStartSeq(startSeq),
		dashboard.WithInterval(s.interval),
		dashboard.WithRequestTimeout(s.timeout),
		dashboard.WithLogger(s.logger.Named("poller")),
		dashboard.WithObserver(s.recorder(d, q)),
	)
	if err != nil {
		return err
	}

	// writers outlive ctx so Stop can drain them
	pool.Start(context.WithoutCancel(ctx))
	if err := p.Start(ctx); err != nil {
		_ = pool.Shutdown(ctx)
		return err
	}

	s.poller, s.deduper, s.queue, s.pool = p, d, q, pool
	s.started = true
	s.logger.Info(ctx, "dashboard service started",
		logger.Duration("interval", s.interval),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// Stop stops polling, drains pending history writes and releases the store
// when the service owns it.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping dashboard service...")

	s.last = s.poller.View()
	s.poller.Stop()

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := s.pool.Shutdown(drainCtx); err != nil {
		s.logger.Warn(ctx, "history drain incomplete", logger.Error(err))
	}

	if s.ownsHistory {
		if err := s.history.Close(); err != nil {
			s.logger.Warn(ctx, "closing history failed", logger.Error(err))
		}
	}

	s.started = false
	s.logger.Info(ctx, "dashboard service stopped")
}

// recorder returns the poller observer that hands applied views to the
// history pipeline. History records changes: a view that displays the same as
// the last recorded one is skipped. The deduper holds the fingerprint of the
// last recorded view; it is forgotten when the view changes, so returning to
// an earlier display is recorded again.
func (s *Service) recorder(d dedupe.Deduper, q queue.Queue) func(dashboard.View) {
	var (
		mu   sync.Mutex
		last string
	)
	return func(v dashboard.View) {
		ctx := context.Background()
		fp := v.Fingerprint()

		mu.Lock()
		defer mu.Unlock()

		if d.SeenAndRecord(ctx, fp) {
			metrics.RecordHistoryDuplicate()
			return
		}
		if !q.Enqueue(ctx, Snapshot(v)) {
			// retried by the next identical view
			d.Unrecord(ctx, fp)
			s.logger.Warn(ctx, "history queue full, snapshot dropped",
				logger.String("request_id", v.RequestID),
				logger.Uint64("seq", v.Seq),
			)
			return
		}
		if last != "" && last != fp {
			d.Unrecord(ctx, last)
		}
		last = fp
	}
}

// Snapshot converts an applied view to its history record.
func Snapshot(v dashboard.View) repository.Snapshot {
	return repository.Snapshot{
		RequestID: v.RequestID,
		Seq:       v.Seq,
		State:     string(v.State),
		Error:     v.ErrorText(),
		At:        v.UpdatedAt,
		Circuits:  v.Circuits,
	}
}

// View returns the current view. A stopped service keeps returning the last
// view it held.
func (s *Service) View() dashboard.View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return s.last
	}
	return s.poller.View()
}

// Subscribe forwards to the poller. On a service that is not running the
// channel is closed after delivering nothing.
func (s *Service) Subscribe(buffer int) (<-chan dashboard.View, func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		ch := make(chan dashboard.View)
		close(ch)
		return ch, func() {}
	}
	return s.poller.Subscribe(buffer)
}

// PollNow runs one poll immediately.
func (s *Service) PollNow(ctx context.Context) (dashboard.View, error) {
	s.mu.RLock()
	p := s.poller
	started := s.started
	s.mu.RUnlock()
	if !started {
		return dashboard.View{}, ErrNotStarted
	}
	return p.PollNow(ctx), nil
}

// Interval returns the re-poll interval.
func (s *Service) Interval() time.Duration { return s.interval }

// MaxHistoryLimit returns the largest limit Recent and Series honor.
func (s *Service) MaxHistoryLimit() int { return s.maxHistoryLimit }

// Recent returns up to limit history snapshots, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]repository.Snapshot, error) {
	h, err := s.store()
	if err != nil {
		return nil, err
	}
	return h.Recent(ctx, min(limit, s.maxHistoryLimit))
}

// Series returns up to limit RTT points for one circuit position.
func (s *Service) Series(ctx context.Context, ordinal, limit int) ([]repository.Point, error) {
	h, err := s.store()
	if err != nil {
		return nil, err
	}
	return h.Series(ctx, ordinal, min(limit, s.maxHistoryLimit))
}

func (s *Service) store() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.history == nil || (s.ownsHistory && !s.started) {
		return nil, ErrNotStarted
	}
	return s.history, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":         s.started,
		"source":          s.source,
		"intervalMs":      s.interval.Milliseconds(),
		"timeoutMs":       s.timeout.Milliseconds(),
		"workerCount":     s.workerCount,
		"queueSize":       s.queueSize,
		"dedupeSize":      s.dedupeSize,
		"maxHistoryLimit": s.maxHistoryLimit,
	}

	if s.started {
		v := s.poller.View()
		stats["viewState"] = string(v.State)
		stats["viewSeq"] = v.Seq
		stats["circuits"] = len(v.Circuits)
		stats["subscribers"] = s.poller.Subscribers()
		stats["queueLength"] = s.queue.Len(ctx)
		stats["dedupeEntries"] = s.deduper.Size()
		stats["historyCount"] = s.history.Count(ctx)
		stats["historyWritten"] = s.pool.Processed()
		stats["historyFailed"] = s.pool.Failed()
		if !v.UpdatedAt.IsZero() {
			stats["updatedAt"] = v.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}
		if v.Err != nil {
			stats["lastError"] = v.ErrorText()
		}
	}
	return stats
}
