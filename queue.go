package signals

import (
	"sync"
	"time"
)

// queuedCall is one pending invocation awaiting drain.
type queuedCall struct {
	cb   *weakCallback
	args []any
}

// Queue is a FIFO of pending callback invocations, the Go encoding of
// spec's queued-dispatch component (C7): a host with its own event loop
// (a GUI main loop, a game tick, …) enqueues here and calls Drain on its
// own schedule, instead of this module owning any loop itself (spec §1's
// non-goal: no GUI/event-loop ownership).
type Queue struct {
	mu      sync.Mutex
	pending []queuedCall
	logger  Logger
}

// NewQueue constructs an empty Queue. A nil logger disables Drain's
// default error logging.
func NewQueue(logger Logger) *Queue {
	return &Queue{logger: logger}
}

// enqueue appends a pending invocation. It is unexported and, within this
// package, called only from tests: SignalInstance never enqueues onto a
// Queue (its queued reemission uses its own internal buffer).
func (q *Queue) enqueue(cb *weakCallback, args []any) {
	q.mu.Lock()
	q.pending = append(q.pending, queuedCall{cb: cb, args: args})
	q.mu.Unlock()
}

// Len reports the number of calls currently pending drain.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain invokes every pending call, in FIFO order, clearing the queue.
// The first failure is returned wrapped as *EmitLoopError (Depth always 0,
// since queued dispatch has no reentrant-emission concept); unlike Emit,
// Drain still attempts every remaining call regardless of earlier
// failures, since queued calls are independent deferred work items rather
// than one emission's fan-out to its connected slots.
func (q *Queue) Drain() error {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	var firstErr error
	for _, call := range batch {
		if !call.cb.isAlive() {
			continue
		}
		if err := call.cb.invoke(call.args, -1); err != nil {
			loopErr := &EmitLoopError{Cause: err, SlotID: Slot{key: call.cb.uniqueKey}}
			if q.logger != nil {
				q.logger.Error("signals: queued call failed", "error", err)
			}
			if firstErr == nil {
				firstErr = loopErr
			}
		}
	}
	return firstErr
}

// StartPump runs Drain on a ticker, on its own goroutine, until the
// returned stop func is called (teacher idiom: catrate.Limiter's
// background cleanup worker / microbatch.Batcher's run() + Close()).
func StartPump(q *Queue, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := timeNewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = q.Drain()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-stopped
	}
}
