package signals

import (
	"sync"
	"testing"
	"time"
)

func withFakeClock(t *testing.T) (advance func(time.Duration)) {
	t.Helper()
	var mu sync.Mutex
	now := time.Unix(0, 0)
	type pendingTimer struct {
		fire time.Time
		fn   func()
	}
	var timers []*pendingTimer

	origNow, origAfterFunc := timeNow, timeAfterFunc
	timeNow = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	timeAfterFunc = func(d time.Duration, fn func()) *time.Timer {
		mu.Lock()
		timers = append(timers, &pendingTimer{fire: now.Add(d), fn: fn})
		mu.Unlock()
		return time.NewTimer(time.Hour) // never fires on its own; Stop() still works
	}
	t.Cleanup(func() {
		timeNow, timeAfterFunc = origNow, origAfterFunc
	})

	return func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		var ready []*pendingTimer
		var rest []*pendingTimer
		for _, pt := range timers {
			if !pt.fire.After(now) {
				ready = append(ready, pt)
			} else {
				rest = append(rest, pt)
			}
		}
		timers = rest
		mu.Unlock()
		for _, pt := range ready {
			pt.fn()
		}
	}
}

func TestThrottlerLeadingFiresImmediately(t *testing.T) {
	advance := withFakeClock(t)

	var calls [][]any
	th := NewThrottler(func(args []any) {
		calls = append(calls, args)
	}, 10*time.Millisecond, PolicyLeading)

	th.Call("a")
	th.Call("b") // dropped: still within the interval
	if len(calls) != 1 || calls[0][0] != "a" {
		t.Fatalf("expected exactly one leading call with args [a], got %v", calls)
	}

	advance(10 * time.Millisecond)
	th.Call("c")
	if len(calls) != 2 || calls[1][0] != "c" {
		t.Fatalf("expected a second leading call after the interval elapsed, got %v", calls)
	}
}

func TestThrottlerTrailingUsesLatestArgs(t *testing.T) {
	advance := withFakeClock(t)

	var calls [][]any
	th := NewThrottler(func(args []any) {
		calls = append(calls, args)
	}, 10*time.Millisecond, PolicyTrailing)

	th.Call("a")
	th.Call("b")
	th.Call("c")
	if len(calls) != 0 {
		t.Fatalf("expected no calls before the interval elapses, got %v", calls)
	}

	advance(10 * time.Millisecond)
	if len(calls) != 1 || calls[0][0] != "c" {
		t.Fatalf("expected one trailing call with the latest args [c], got %v", calls)
	}
}

func TestThrottlerFlush(t *testing.T) {
	withFakeClock(t)

	var calls [][]any
	th := NewThrottler(func(args []any) {
		calls = append(calls, args)
	}, time.Minute, PolicyTrailing)

	th.Call("x")
	th.Flush()
	if len(calls) != 1 || calls[0][0] != "x" {
		t.Fatalf("expected Flush to fire immediately with pending args, got %v", calls)
	}
}

func TestThrottlerCancel(t *testing.T) {
	advance := withFakeClock(t)

	var calls int
	th := NewThrottler(func(args []any) { calls++ }, 10*time.Millisecond, PolicyTrailing)

	th.Call("x")
	th.Cancel()
	advance(10 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("expected Cancel to suppress the pending call, got %d calls", calls)
	}
}

func TestThrottlerTriggeredSignal(t *testing.T) {
	withFakeClock(t)

	th := NewThrottler(func(args []any) {}, time.Minute, PolicyLeading)

	var got []any
	_, err := th.Triggered().Connect(func(args ...any) { got = args })
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	th.Call("hello")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("expected Triggered to emit [hello], got %v", got)
	}
}

func TestDebouncerResetsOnEveryCall(t *testing.T) {
	advance := withFakeClock(t)

	var calls [][]any
	d := NewDebouncer(func(args []any) {
		calls = append(calls, args)
	}, 10*time.Millisecond)

	d.Call("a")
	advance(5 * time.Millisecond)
	d.Call("b") // resets the wait
	advance(5 * time.Millisecond)
	if len(calls) != 0 {
		t.Fatalf("expected no call yet (wait was reset), got %v", calls)
	}

	advance(5 * time.Millisecond)
	if len(calls) != 1 || calls[0][0] != "b" {
		t.Fatalf("expected exactly one call with the latest args [b], got %v", calls)
	}
}

func TestDebouncerFlush(t *testing.T) {
	withFakeClock(t)

	var calls [][]any
	d := NewDebouncer(func(args []any) {
		calls = append(calls, args)
	}, time.Minute)

	d.Call("x")
	d.Flush()
	if len(calls) != 1 || calls[0][0] != "x" {
		t.Fatalf("expected Flush to fire immediately, got %v", calls)
	}
}

func TestDebouncerCancel(t *testing.T) {
	advance := withFakeClock(t)

	var calls int
	d := NewDebouncer(func(args []any) { calls++ }, 10*time.Millisecond)

	d.Call("x")
	d.Cancel()
	advance(10 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("expected Cancel to suppress the pending call, got %d calls", calls)
	}
}
