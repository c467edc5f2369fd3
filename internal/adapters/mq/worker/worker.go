package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/torturbo/internal/adapters/mq/queue"
	"github.com/okian/torturbo/pkg/logger"
	"github.com/okian/torturbo/pkg/metrics"
)

const (
	defaultWorkerCount  = 2
	writeTimeout        = 5 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Item is what workers read off the queue.
type Item = queue.Item

// Writer persists one snapshot.
type Writer interface {
	Save(ctx context.Context, s Item) error
}

// Queue defines how workers receive snapshots.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Item
}

// Worker writes snapshots until its queue is drained.
type Worker interface {
	// Run processes snapshots until the queue closes, ctx is canceled or
	// Shutdown is called.
	Run(ctx context.Context)

	// Shutdown stops the worker and waits for the current write.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	writer    Writer
	name      string
	onWritten func(Item, error)

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, w Writer, opts ...Option) *InMemoryWorker {
	wk := &InMemoryWorker{
		queue:     q,
		writer:    w,
		name:      "worker",
		onWritten: func(Item, error) {},
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(wk)
	}
	if wk.logger == nil {
		wk.logger = logger.Get().Named(wk.name)
	}
	return wk
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case it, ok := <-items:
			if !ok {
				return
			}
			err := w.process(ctx, it)
			w.onWritten(it, err)
		}
	}
}

// Shutdown stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

func (w *InMemoryWorker) process(ctx context.Context, it Item) error { //nolint:gocritic // hugeParam: passed by value off the channel
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	start := time.Now()
	err := w.writer.Save(wctx, it)
	latency := time.Since(start)

	if err != nil {
		metrics.RecordHistoryWriteError()
		metrics.RecordErrorByComponent("worker", "history_write")
		w.logger.Error(ctx, "history write failed",
			logger.String("request_id", it.RequestID),
			logger.Uint64("seq", it.Seq),
			logger.Error(err),
		)
		return fmt.Errorf("write snapshot %s: %w", it.RequestID, err)
	}

	metrics.RecordHistoryWrite(latency)
	w.logger.Debug(ctx, "snapshot written",
		logger.String("request_id", it.RequestID),
		logger.Uint64("seq", it.Seq),
		logger.Duration("latency", latency),
	)
	return nil
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	processed atomic.Uint64
	failed    atomic.Uint64

	logger logger.Logger
}

// NewPool creates workerCount workers writing to w. Options are applied to
// every worker; WithName is replaced by a per-worker name.
func NewPool(workerCount int, q Queue, w Writer, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
	}

	probe := &InMemoryWorker{}
	for _, opt := range opts {
		opt(probe)
	}
	p.logger = probe.logger
	if p.logger == nil {
		p.logger = logger.Get().Named("worker-pool")
	}
	user := probe.onWritten

	count := func(it Item, err error) {
		if err != nil {
			p.failed.Add(1)
		} else {
			p.processed.Add(1)
		}
		if user != nil {
			user(it, err)
		}
	}

	for i := 0; i < workerCount; i++ {
		name := "worker-" + strconv.Itoa(i)
		wopts := append(append([]Option{}, opts...),
			WithName(name),
			WithLogger(p.logger.Named(name)),
			WithOnWritten(count),
		)
		p.workers[i] = NewInMemoryWorker(q, w, wopts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns the number of snapshots written.
func (p *Pool) Processed() uint64 { return p.processed.Load() }

// Failed returns the number of snapshots whose write failed.
func (p *Pool) Failed() uint64 { return p.failed.Load() }

// Shutdown closes the queue, lets the workers drain what is pending and
// waits for them. Workers still running when ctx expires are stopped.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Warn(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
			stopCtx, stop := context.WithTimeout(context.Background(), writeTimeout)
			_ = w.Shutdown(stopCtx)
			stop()
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool drain: %w", shutdownCtx.Err())
	}
	return nil
}
