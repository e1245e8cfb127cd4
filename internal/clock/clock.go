// Package clock abstracts time so polling loops and timestamps can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the subset of the time package the service and the client
// loops use.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C. C has capacity 1; ticks that find it full
// are dropped, matching time.Ticker.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

// Fake is a Clock whose time only moves on Advance.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

type fakeTicker struct {
	ch       chan time.Time
	next     time.Time
	interval time.Duration
	stopped  bool
}

func NewFake(start time.Time) *Fake { return &Fake{now: start} }

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ft := &fakeTicker{ch: make(chan time.Time, 1), next: f.now.Add(d), interval: d}
	f.tickers = append(f.tickers, ft)
	return &Ticker{C: ft.ch, stop: func() {
		f.mu.Lock()
		ft.stopped = true
		f.mu.Unlock()
	}}
}

// Tickers reports how many live tickers exist, so tests can wait for a
// loop to reach its select before advancing.
func (f *Fake) Tickers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tickers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves time forward and fires every ticker whose deadline passed.
// A ticker spanning several intervals fires once per interval; sends that
// would block are dropped.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	var fire []chan time.Time
	live := f.tickers[:0]
	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(now) {
			fire = append(fire, t.ch)
			t.next = t.next.Add(t.interval)
		}
		live = append(live, t)
	}
	f.tickers = live
	f.mu.Unlock()

	for _, ch := range fire {
		select {
		case ch <- now:
		default:
		}
	}
}
