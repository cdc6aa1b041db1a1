// Package poll runs one recurring fetch loop per console view.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultMaxBackoffFactor = 4

// Fetch retrieves the latest state of a view.
type Fetch[T any] func(ctx context.Context) (T, error)

// Interval picks the delay before the next fetch from the last committed value.
// A non-positive delay stops the loop.
type Interval[T any] func(last T) time.Duration

// Options configures a Poller.
type Options[T any] struct {
	// Name identifies the view in logs.
	Name string
	// Fetch is called at most once at a time.
	Fetch Fetch[T]
	// Interval is consulted after every successful fetch.
	Interval Interval[T]
	// Initial is the cadence used until the first success.
	Initial time.Duration
	// Commit applies a fetched value. It runs under the poller's lock and
	// must not call back into the poller.
	Commit func(T)
	// Fail is told about fetch errors. Same locking rule as Commit.
	Fail func(error)
	// MaxBackoffFactor caps failure backoff at this multiple of the cadence.
	MaxBackoffFactor int
	Logger           *slog.Logger
}

// Status is a point-in-time summary of a poller.
type Status struct {
	Name        string        `json:"name"`
	Interval    time.Duration `json:"interval"`
	Failures    int           `json:"failures"`
	LastSuccess time.Time     `json:"last_success"`
	Suspended   bool          `json:"suspended"`
	Stopped     bool          `json:"stopped"`
	Stale       bool          `json:"stale"`
}

// Poller drives one view. Fetch N+1 never starts before fetch N has settled,
// and nothing is committed after Cancel returns or while suspended.
type Poller[T any] struct {
	opts Options[T]

	mu          sync.Mutex
	epoch       uint64
	suspended   bool
	stopped     bool
	interval    time.Duration
	failures    int
	lastSuccess time.Time

	wake       chan struct{}
	done       chan struct{}
	cancelOnce sync.Once
	cancelCtx  context.CancelFunc
	now        func() time.Time
}

// New builds a poller without starting it; use Step to drive it by hand or Start.
func New[T any](opts Options[T]) *Poller[T] {
	if opts.MaxBackoffFactor <= 0 {
		opts.MaxBackoffFactor = defaultMaxBackoffFactor
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("view", opts.Name)
	return &Poller[T]{
		opts:      opts,
		interval:  opts.Initial,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		cancelCtx: func() {},
		now:       time.Now,
	}
}

// Schedule builds a poller and starts its loop. The returned poller's Cancel stops it.
func Schedule[T any](ctx context.Context, opts Options[T]) *Poller[T] {
	p := New(opts)
	p.Start(ctx)
	return p
}

// Start launches the loop; the first fetch happens immediately.
func (p *Poller[T]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelCtx = cancel
	p.mu.Unlock()
	go p.loop(ctx)
}

func (p *Poller[T]) loop(ctx context.Context) {
	defer close(p.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if p.isSuspended() {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
			}
			continue
		}

		next, stop := p.Step(ctx)
		if stop {
			p.opts.Logger.Debug("polling stopped")
			return
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (p *Poller[T]) isSuspended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.suspended
}

// Step performs one fetch and, if the view is still live, commits the result.
// It returns the delay before the next fetch, and stop=true when the loop
// should end (cancelled, or the interval selector returned a non-positive delay).
func (p *Poller[T]) Step(ctx context.Context) (next time.Duration, stop bool) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return 0, true
	}
	epoch := p.epoch
	p.mu.Unlock()

	v, err := p.opts.Fetch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return 0, true
	}
	if p.suspended || p.epoch != epoch {
		p.opts.Logger.Debug("discarding result fetched before suspension")
		return p.interval, false
	}

	if err != nil {
		p.failures++
		if p.opts.Fail != nil {
			p.opts.Fail(err)
		}
		delay := p.backoff()
		p.opts.Logger.Warn("poll failed", "error", err, "failures", p.failures, "retry_in", delay)
		return delay, false
	}

	p.failures = 0
	p.lastSuccess = p.now()
	if p.opts.Commit != nil {
		p.opts.Commit(v)
	}
	p.interval = p.opts.Interval(v)
	if p.interval <= 0 {
		p.stopped = true
		return 0, true
	}
	return p.interval, false
}

// backoff doubles the cadence per consecutive failure, starting at the
// cadence itself and capped at MaxBackoffFactor times it.
func (p *Poller[T]) backoff() time.Duration {
	base := p.interval
	if base <= 0 {
		base = p.opts.Initial
	}
	if base <= 0 {
		base = time.Second
	}
	limit := base * time.Duration(p.opts.MaxBackoffFactor)
	d := base
	for i := 1; i < p.failures && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}

// Suspend pauses the loop. A fetch already in flight is discarded.
func (p *Poller[T]) Suspend() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.suspended || p.stopped {
		return
	}
	p.suspended = true
	p.epoch++
	p.opts.Logger.Debug("polling suspended")
}

// Resume unpauses the loop and fetches immediately.
func (p *Poller[T]) Resume() {
	p.mu.Lock()
	if !p.suspended {
		p.mu.Unlock()
		return
	}
	p.suspended = false
	p.mu.Unlock()
	p.opts.Logger.Debug("polling resumed")
	p.Refresh()
}

// Refresh asks for a fetch as soon as the one in flight, if any, settles.
// Requests coalesce.
func (p *Poller[T]) Refresh() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Cancel stops the loop. When it returns no further result is committed.
// Calling it more than once is harmless.
func (p *Poller[T]) Cancel() {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancelCtx
	p.mu.Unlock()
	p.cancelOnce.Do(cancel)
}

// Done is closed when a started loop has exited.
func (p *Poller[T]) Done() <-chan struct{} {
	return p.done
}

// Stale reports whether no fetch has succeeded within twice the current cadence.
func (p *Poller[T]) Stale(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.staleLocked(now)
}

func (p *Poller[T]) staleLocked(now time.Time) bool {
	if p.stopped || p.suspended {
		return false
	}
	if p.lastSuccess.IsZero() {
		return p.failures > 0
	}
	return now.Sub(p.lastSuccess) > 2*p.interval
}

// Status summarizes the poller.
func (p *Poller[T]) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Name:        p.opts.Name,
		Interval:    p.interval,
		Failures:    p.failures,
		LastSuccess: p.lastSuccess,
		Suspended:   p.suspended,
		Stopped:     p.stopped,
		Stale:       p.staleLocked(p.now()),
	}
}
