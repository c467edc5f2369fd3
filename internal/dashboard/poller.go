package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/torturbo/internal/domain/circuit"
	"github.com/okian/torturbo/pkg/logger"
	"github.com/okian/torturbo/pkg/metrics"
	"github.com/okian/torturbo/pkg/requestid"
)

const (
	defaultInterval = 5 * time.Second
	defaultTimeout  = 5 * time.Second
)

// Fetcher reads the status endpoint once.
type Fetcher interface {
	Fetch(ctx context.Context) (circuit.Status, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) (circuit.Status, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) (circuit.Status, error) { return f(ctx) }

// Poller issues a status request when started and then once per interval,
// and keeps the latest view.
//
// Requests may overlap when the endpoint is slower than the interval. Every
// request carries a sequence number; a response is applied only when it is
// newer than the last applied one, so a late reply to an old request never
// overwrites fresher data.
type Poller struct {
	fetcher   Fetcher
	interval  time.Duration
	timeout   time.Duration
	logger    logger.Logger
	observers []func(View)
	newID     func() string
	startSeq  uint64

	issued atomic.Uint64

	mu      sync.Mutex
	view    View
	applied uint64
	started bool
	stopped bool
	cancel  context.CancelFunc
	subs    map[uint64]chan View
	nextSub uint64

	wg sync.WaitGroup
}

// NewPoller creates a poller around f.
func NewPoller(f Fetcher, opts ...Option) (*Poller, error) {
	if f == nil {
		return nil, ErrNoFetcher
	}
	p := &Poller{
		fetcher:  f,
		interval: defaultInterval,
		timeout:  defaultTimeout,
		newID:    requestid.New,
		view:     pendingView(),
		subs:     make(map[uint64]chan View),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.issued.Store(p.startSeq)
	p.applied = p.startSeq
	if p.logger == nil {
		p.logger = logger.Get().Named("poller")
	}
	return p, nil
}

// Interval returns the re-poll interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Start issues the first request immediately and then one per interval until
// ctx is canceled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	p.mu.Unlock()

	p.logger.Info(ctx, "poller started",
		logger.Duration("interval", p.interval),
		logger.Duration("timeout", p.timeout),
	)
	go p.run(runCtx)
	return nil
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.issue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.issue(ctx)
		}
	}
}

// issue runs one poll without blocking the schedule.
func (p *Poller) issue(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.poll(ctx)
	}()
}

// Stop cancels the schedule and every in-flight request, waits for them to
// return and closes all subscriptions. Nothing is applied after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
	p.mu.Unlock()
	p.logger.Info(context.Background(), "poller stopped")
}

// PollNow performs one synchronous poll through the normal apply path and
// returns the view afterwards.
func (p *Poller) PollNow(ctx context.Context) View {
	return p.poll(ctx)
}

// View returns a copy of the current view.
func (p *Poller) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view.clone()
}

// Subscribe returns a channel that receives the current view and then every
// applied view. A subscriber that falls behind only sees the latest view.
// The returned func cancels the subscription.
func (p *Poller) Subscribe(buffer int) (<-chan View, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan View, buffer)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	ch <- p.view.clone()
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if c, ok := p.subs[id]; ok {
				close(c)
				delete(p.subs, id)
			}
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (p *Poller) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Poller) poll(ctx context.Context) View {
	seq := p.issued.Add(1)
	id := p.newID()

	reqCtx, cancel := context.WithTimeout(requestid.With(ctx, id), p.timeout)
	metrics.IncPollInFlight()
	start := time.Now()
	st, err := p.fetcher.Fetch(reqCtx)
	latency := time.Since(start)
	metrics.DecPollInFlight()
	cancel()

	if ctx.Err() != nil {
		// torn down while in flight
		metrics.RecordPoll(metrics.OutcomeDropped, 0)
		return p.View()
	}

	next := View{RequestID: id, Seq: seq, UpdatedAt: time.Now()}
	outcome := metrics.OutcomeOK
	if err != nil {
		next.State = StateFailed
		next.Err = err
		outcome = metrics.OutcomeFailed
		if errors.Is(err, circuit.ErrMalformed) {
			outcome = metrics.OutcomeMalformed
		}
	} else {
		next.State = StateReady
		next.Circuits = st.Circuits
		if next.Circuits == nil {
			next.Circuits = []circuit.Circuit{}
		}
	}

	current, ok := p.apply(next)
	if !ok {
		metrics.RecordPoll(metrics.OutcomeStale, latency)
		p.logger.Debug(ctx, "discarded stale status response",
			logger.String("request_id", id),
			logger.Uint64("seq", seq),
			logger.Uint64("applied_seq", current.Seq),
		)
		return current
	}

	metrics.RecordPoll(outcome, latency)
	if err != nil {
		p.logger.Warn(ctx, "status poll failed",
			logger.String("request_id", id),
			logger.Uint64("seq", seq),
			logger.Duration("latency", latency),
			logger.Error(err),
		)
	} else {
		p.logger.Debug(ctx, "status poll applied",
			logger.String("request_id", id),
			logger.Uint64("seq", seq),
			logger.Int("circuits", len(next.Circuits)),
			logger.Duration("latency", latency),
		)
	}
	return current
}

// apply installs v when it is newer than the current view and the poller is
// still running. It returns the view in place afterwards.
//
// Gauges, subscribers and observers are all updated under the lock, so they
// see applied views in sequence order even when polls overlap.
func (p *Poller) apply(v View) (View, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || v.Seq <= p.applied {
		return p.view.clone(), false
	}
	p.applied = v.Seq
	p.view = v.clone()

	metrics.UpdateView(string(v.State), len(v.Circuits), circuit.Status{Circuits: v.Circuits}.RTTs(), v.UpdatedAt)
	for _, ch := range p.subs {
		publish(ch, v.clone())
	}
	for _, fn := range p.observers {
		fn(v.clone())
	}
	return p.view.clone(), true
}

// publish delivers v without blocking, replacing an unread older view.
func publish(ch chan View, v View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
