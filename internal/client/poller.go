package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/rideshare/internal/clock"
)

// Poller runs Fetch on a fixed cadence and hands each result to Apply.
//
// Cycles are sequential: ticks that fire while a fetch is in flight are
// dropped. Fetch errors are logged and the next tick retries. After Stop
// returns, Apply is never called again. Apply must not call Stop.
type Poller[T any] struct {
	Name     string
	Interval time.Duration
	Clock    clock.Clock
	Fetch    func(ctx context.Context) (T, error)
	Apply    func(T)
	Logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	refresh chan struct{}
	stopped bool

	// afterCycle runs on the loop goroutine once a cycle and its tick
	// drain are done. Tests use it to know the loop is idle.
	afterCycle func()
}

// Start launches the loop; the first fetch happens immediately. Starting a
// running poller is a no-op.
func (p *Poller[T]) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	if p.refresh == nil {
		p.refresh = make(chan struct{}, 1)
	}
	p.stopped = false
	go p.loop(ctx, p.done, p.refresh)
}

// Stop cancels any in-flight fetch and waits for the loop to exit.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.stopped = true
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Refresh asks for a cycle now instead of at the next tick. A refresh
// requested during a cycle runs one more cycle right after it.
func (p *Poller[T]) Refresh() {
	p.mu.Lock()
	ch := p.refresh
	p.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Poller[T]) loop(ctx context.Context, done chan struct{}, refresh chan struct{}) {
	defer close(done)
	c := p.Clock
	if c == nil {
		c = clock.Real()
	}
	ticker := c.NewTicker(p.Interval)
	defer ticker.Stop()

	p.cycle(ctx)
	p.idle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-refresh:
		}
		p.cycle(ctx)
		select {
		case <-ticker.C:
		default:
		}
		p.idle()
	}
}

func (p *Poller[T]) idle() {
	if p.afterCycle != nil {
		p.afterCycle()
	}
}

func (p *Poller[T]) cycle(ctx context.Context) {
	v, err := p.Fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.log().Warn("poll failed", "poller", p.Name, "error", err)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.Apply(v)
}

func (p *Poller[T]) log() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
