// Package countdown implements a restartable one-second countdown with a
// single expiry callback per start.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// State is a point-in-time view of a Timer.
type State struct {
	Remaining int  `json:"remaining"`
	Running   bool `json:"running"`
	Expired   bool `json:"expired"`
}

type Option func(*Timer)

// WithClock swaps the clock; tests pass a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(t *Timer) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithOnTick registers a callback that receives the remaining seconds after
// every tick, including the final one that reaches zero.
func WithOnTick(fn func(remaining int)) Option {
	return func(t *Timer) { t.onTick = fn }
}

type Timer struct {
	clock    clockwork.Clock
	duration int
	onExpire func()
	onTick   func(int)

	mu        sync.Mutex
	remaining int
	running   bool
	expired   bool
	gen       uint64
	ticker    clockwork.Ticker
	stopCh    chan struct{}
}

// New creates a stopped timer configured with durationSeconds. onExpire may
// be nil.
func New(durationSeconds int, onExpire func(), opts ...Option) *Timer {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	t := &Timer{
		clock:     clockwork.NewRealClock(),
		duration:  durationSeconds,
		onExpire:  onExpire,
		remaining: durationSeconds,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Duration is the originally configured duration in seconds.
func (t *Timer) Duration() int { return t.duration }

// Start resets the countdown to durationSeconds and begins ticking. A stream
// already running is cancelled first.
func (t *Timer) Start(durationSeconds int) {
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	t.remaining = durationSeconds
	t.expired = false
	t.running = true
	t.ticker = t.clock.NewTicker(time.Second)
	t.stopCh = make(chan struct{})
	go t.run(t.gen, t.ticker, t.stopCh)
}

// Stop halts ticking. No expiry callback starts after Stop returns, even
// when the final tick is already being delivered.
func (t *Timer) Stop() {
	t.mu.Lock()
	// 이미 만료된 stream 의 onExpire 전달도 무효화
	t.gen++
	t.stopLocked()
	t.mu.Unlock()
}

// Restart is Stop followed by Start with the configured duration.
func (t *Timer) Restart() {
	t.Start(t.duration)
}

func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

func (t *Timer) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{Remaining: t.remaining, Running: t.running, Expired: t.expired}
}

func (t *Timer) stopLocked() {
	if !t.running {
		return
	}
	// gen 증가로 이미 전달 중인 tick 도 무효화
	t.gen++
	t.running = false
	t.ticker.Stop()
	close(t.stopCh)
}

func (t *Timer) run(gen uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			remaining, ok, fire := t.tick(gen)
			if !ok {
				return
			}
			if t.onTick != nil {
				t.onTick(remaining)
			}
			if fire {
				if t.onExpire != nil && t.current(gen) {
					t.onExpire()
				}
				return
			}
		}
	}
}

// current reports whether stream gen was neither stopped nor replaced.
func (t *Timer) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

// tick advances the countdown for stream gen. ok is false when the stream
// was stopped or replaced; fire is true exactly once, on the tick that
// reaches zero.
func (t *Timer) tick(gen uint64) (remaining int, ok bool, fire bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.running {
		return t.remaining, false, false
	}
	if t.remaining > 0 {
		t.remaining--
	}
	if t.remaining == 0 {
		t.running = false
		t.expired = true
		t.ticker.Stop()
		close(t.stopCh)
		return 0, true, true
	}
	return t.remaining, true, false
}
