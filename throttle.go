package signals

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// for testing purposes
var (
	timeNow         = time.Now
	timeNewTicker   = time.NewTicker
	timeAfterFunc   = time.AfterFunc
)

// ThrottlePolicy selects which edge of a throttle interval actually fires
// the wrapped function (spec's Throttler/Debouncer, C6).
type ThrottlePolicy int

const (
	// PolicyLeading fires on the first Call of each interval, immediately,
	// and drops (but still remembers, for Flush) every subsequent Call
	// within that same interval.
	PolicyLeading ThrottlePolicy = iota
	// PolicyTrailing defers firing until the interval elapses, using
	// whichever Call's arguments were most recent at that point.
	PolicyTrailing
)

type throttleConfig struct {
	logger Logger
}

// ThrottleOption configures a Throttler or Debouncer.
type ThrottleOption func(*throttleConfig)

// WithThrottleLogger attaches a structured-logging sink, used to report a
// wrapped function's panics. Panics are recovered, then logged, never
// re-panicked, whether fn runs on a timer goroutine or on the caller's own
// goroutine (a leading-edge Call, or Flush).
func WithThrottleLogger(l Logger) ThrottleOption {
	return func(c *throttleConfig) { c.logger = l }
}

// Throttler wraps fn so that, regardless of how often Call is invoked, fn
// itself runs at most once per interval (spec §4.6). It uses the sliding-
// window admission bookkeeping in ring.go, rates.go and events.go, applied
// with a single rate of one event per interval, generalized from "count and
// reject" to "collapse and forward the latest args".
type Throttler struct {
	fn       func(args []any)
	interval time.Duration
	policy   ThrottlePolicy
	rates    map[time.Duration]int

	mu        sync.Mutex
	events    *ringBuffer[int64]
	pending   []any
	scheduled bool
	timer     *time.Timer
	closed    bool
	gen       uint64

	group     singleflight.Group
	triggered *SignalInstance
	logger    Logger
}

// NewThrottler constructs a Throttler that invokes fn at most once per
// interval, per policy. interval is validated the same way a multi-rate
// limiter's individual rates are: parseRates rejects a non-positive
// duration or count, here applied to the single synthetic rate "1 event
// per interval" that backs the ring buffer's admission check.
func NewThrottler(fn func(args []any), interval time.Duration, policy ThrottlePolicy, opts ...ThrottleOption) *Throttler {
	rates := map[time.Duration]int{interval: 1}
	if _, ok := parseRates(rates); !ok {
		panic("signals: throttle: interval must be positive")
	}
	cfg := throttleConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return &Throttler{
		fn:        fn,
		interval:  interval,
		policy:    policy,
		rates:     rates,
		events:    newRingBuffer[int64](8),
		triggered: &SignalInstance{name: "Triggered"},
		logger:    cfg.logger,
	}
}

// Triggered returns the notification signal emitted, with the forwarded
// args, each time fn actually runs.
func (t *Throttler) Triggered() *SignalInstance { return t.triggered }

// Call registers args as the latest pending call, firing fn immediately
// (PolicyLeading, on the first Call of a fresh interval) or arranging for
// fn to fire once the interval elapses (PolicyTrailing).
func (t *Throttler) Call(args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.pending = args

	if t.scheduled {
		return
	}
	t.scheduled = true
	t.gen++
	gen := t.gen

	// wait defaults to a fresh interval; for PolicyLeading it's refined
	// below to the ring buffer's actual window-reopen estimate, which
	// tracks sliding-window admission rather than a naive fixed timer.
	wait := t.interval
	if t.policy == PolicyLeading {
		now := timeNow()
		t.events.Insert(t.events.Search(now.UnixNano()), now.UnixNano())
		if remaining := filterEvents(now, t.rates, t.events); remaining > 0 {
			wait = remaining
		}
		t.fireLocked(gen, args)
	}

	t.timer = timeAfterFunc(wait, func() { t.onIntervalElapsed(gen) })
}

func (t *Throttler) onIntervalElapsed(gen uint64) {
	t.mu.Lock()
	if t.gen != gen || t.closed {
		t.mu.Unlock()
		return
	}
	t.scheduled = false
	args := t.pending
	fireTrailing := t.policy == PolicyTrailing
	t.mu.Unlock()

	if fireTrailing {
		t.fireLocked(gen, args)
	}
}

// fireLocked invokes fn, collapsing concurrent firers for the same
// generation (Flush racing the interval timer) onto a single call via
// singleflight.
func (t *Throttler) fireLocked(gen uint64, args []any) {
	key := strconv.FormatUint(gen, 10)
	_, _, _ = t.group.Do(key, func() (any, error) {
		t.invoke(args)
		return nil, nil
	})
}

func (t *Throttler) invoke(args []any) {
	defer func() {
		if r := recover(); r != nil {
			if t.logger != nil {
				t.logger.Error("signals: throttle: fn panicked", "panic", r)
			}
		}
	}()
	t.fn(args)
	_ = t.triggered.Emit(args...)
}

// Flush fires immediately with whatever args are currently pending,
// cancelling the interval timer (PolicyTrailing's typical "flush on
// shutdown" use). A no-op if nothing is pending.
func (t *Throttler) Flush() {
	t.mu.Lock()
	if !t.scheduled {
		t.mu.Unlock()
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.scheduled = false
	args := t.pending
	gen := t.gen
	t.mu.Unlock()

	t.fireLocked(gen, args)
}

// Cancel discards any pending call and stops the interval timer, without
// firing fn.
func (t *Throttler) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.scheduled = false
	t.pending = nil
	t.closed = true
}

// Debouncer wraps fn so it runs once, with the most recent Call's
// arguments, only after Call has gone unused for interval (spec §4.6's
// debounce variant: unlike Throttler, every Call resets the wait).
type Debouncer struct {
	fn       func(args []any)
	interval time.Duration

	mu        sync.Mutex
	pending   []any
	timer     *time.Timer
	closed    bool
	gen       atomic.Uint64
	triggered *SignalInstance
	logger    Logger
}

// NewDebouncer constructs a Debouncer that invokes fn interval after the
// most recent Call, restarting the wait on every subsequent Call.
// interval is validated through the same parseRates used by Throttler's
// rate-limiting window, applied to the single synthetic "1 event per
// interval" rate.
func NewDebouncer(fn func(args []any), interval time.Duration, opts ...ThrottleOption) *Debouncer {
	if _, ok := parseRates(map[time.Duration]int{interval: 1}); !ok {
		panic("signals: debounce: interval must be positive")
	}
	cfg := throttleConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return &Debouncer{
		fn:        fn,
		interval:  interval,
		triggered: &SignalInstance{name: "Triggered"},
		logger:    cfg.logger,
	}
}

// Triggered returns the notification signal emitted, with the forwarded
// args, each time fn actually runs.
func (d *Debouncer) Triggered() *SignalInstance { return d.triggered }

// Call resets the debounce wait, recording args as the pending call.
func (d *Debouncer) Call(args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending = args
	gen := d.gen.Add(1)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = timeAfterFunc(d.interval, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.gen.Load() != gen || d.closed {
		d.mu.Unlock()
		return
	}
	args := d.pending
	d.mu.Unlock()
	d.invoke(args)
}

func (d *Debouncer) invoke(args []any) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Error("signals: debounce: fn panicked", "panic", r)
			}
		}
	}()
	d.fn(args)
	_ = d.triggered.Emit(args...)
}

// Flush fires immediately with whatever args are currently pending,
// cancelling the wait. A no-op if Call has never been invoked, or the
// pending call already fired.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	// Stop reports false once the wait has fired or was already stopped
	// (by Cancel or an earlier Flush), leaving nothing pending.
	if d.timer == nil || !d.timer.Stop() {
		d.mu.Unlock()
		return
	}
	args := d.pending
	d.mu.Unlock()
	d.invoke(args)
}

// Cancel discards the pending call and stops the wait, without firing fn.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.closed = true
	d.pending = nil
}
