package signals

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConnectEmitBasic(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	var got []any
	_, err := inst.Connect(func(args ...any) { got = args })
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := inst.Emit(1, "two", 3.0); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	want := []any{1, "two", 3.0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Emit args mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectPriorityOrder(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	var order []string
	mk := func(name string) func(args ...any) {
		return func(args ...any) { order = append(order, name) }
	}
	_, _ = inst.Connect(mk("low"), WithPriority(0))
	_, _ = inst.Connect(mk("high"), WithPriority(10))
	_, _ = inst.Connect(mk("mid"), WithPriority(5))
	_, _ = inst.Connect(mk("mid2"), WithPriority(5))

	if err := inst.Emit(); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	want := []string{"high", "mid", "mid2", "low"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestDisconnectRemovesSlot(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	calls := 0
	slot, err := inst.Connect(func(args ...any) { calls++ })
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !inst.Contains(slot) {
		t.Fatal("expected Contains to report true right after Connect")
	}
	if err := inst.Disconnect(slot); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if inst.Contains(slot) {
		t.Fatal("expected Contains to report false after Disconnect")
	}
	_ = inst.Emit()
	if calls != 0 {
		t.Fatalf("expected 0 calls after disconnect, got %d", calls)
	}

	if err := inst.Disconnect(slot, WithMissingOK(false)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectUniqueRaise(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	fn := func(args ...any) {}
	_, err := inst.Connect(fn, WithUnique(UniqueRaise))
	if err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	_, err = inst.Connect(fn, WithUnique(UniqueRaise))
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestEmitStopsAtFirstFailingSlot(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	boom := errors.New("boom")
	secondRan := false
	_, _ = inst.Connect(func(args ...any) error { return boom }, WithPriority(1))
	_, _ = inst.Connect(func(args ...any) { secondRan = true }, WithPriority(0))

	err := inst.Emit()
	var loopErr *EmitLoopError
	if !errors.As(err, &loopErr) {
		t.Fatalf("expected *EmitLoopError, got %v (%T)", err, err)
	}
	if !errors.Is(loopErr, boom) {
		t.Fatalf("expected wrapped cause to be boom, got %v", loopErr.Cause)
	}
	if secondRan {
		t.Fatal("expected dispatch to stop at the first failing slot, not continue to the second")
	}
	if inst.Len() != 2 {
		t.Fatalf("expected both slots to remain connected (the failing slot is not reaped), got %d", inst.Len())
	}
}

func TestEmitSlotPanicRecovered(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	_, _ = inst.Connect(func(args ...any) { panic("kaboom") })

	err := inst.Emit()
	var loopErr *EmitLoopError
	if !errors.As(err, &loopErr) {
		t.Fatalf("expected *EmitLoopError, got %v", err)
	}
	var panicErr *PanicError
	if !errors.As(err, &panicErr) {
		t.Fatalf("expected wrapped *PanicError, got %v", loopErr.Cause)
	}
}

func TestBlockSuppressesEmit(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	calls := 0
	_, _ = inst.Connect(func(args ...any) { calls++ })

	unblock := inst.Block()
	if !inst.Blocked() {
		t.Fatal("expected Blocked() true")
	}
	_ = inst.Emit()
	if calls != 0 {
		t.Fatalf("expected emit to be suppressed while blocked, got %d calls", calls)
	}

	unblock()
	if inst.Blocked() {
		t.Fatal("expected Blocked() false after unblock")
	}
	_ = inst.Emit()
	if calls != 1 {
		t.Fatalf("expected 1 call after unblock, got %d", calls)
	}
}

func TestPauseResumeWithReducer(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	var got []any
	_, _ = inst.Connect(func(args ...any) { got = args })

	resume := inst.Pause()
	if !inst.Paused() {
		t.Fatal("expected Paused() true")
	}
	_ = inst.Emit(1)
	_ = inst.Emit(2)
	_ = inst.Emit(3)

	sum := Reducer(func(acc, next []any) []any {
		if acc == nil {
			return next
		}
		return []any{acc[0].(int) + next[0].(int)}
	})
	if err := resume(sum, nil); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(got) != 1 || got[0] != 6 {
		t.Fatalf("expected reduced replay [6], got %v", got)
	}
}

func TestConnectSetattrAndSetitem(t *testing.T) {
	type target struct{ Value int }
	tgt := &target{}

	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")
	if _, err := inst.ConnectSetattr(tgt, "Value"); err != nil {
		t.Fatalf("ConnectSetattr: %v", err)
	}
	if err := inst.Emit(42); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if tgt.Value != 42 {
		t.Fatalf("expected Value=42, got %d", tgt.Value)
	}

	m := map[string]int{}
	sig2 := New()
	inst2 := sig2.Bind(struct{}{}, "Updated")
	if _, err := inst2.ConnectSetitem(&m, "count"); err != nil {
		t.Fatalf("ConnectSetitem: %v", err)
	}
	if err := inst2.Emit(7); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if m["count"] != 7 {
		t.Fatalf("expected m[count]=7, got %d", m["count"])
	}
}

func TestConnectWeakWhileAnchorAlive(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	calls := 0
	anchor := new(int)
	_, err := inst.ConnectWeak(func(args ...any) { calls++ }, anchor)
	if err != nil {
		t.Fatalf("ConnectWeak: %v", err)
	}
	_ = inst.Emit()
	if calls != 1 {
		t.Fatalf("expected 1 call while anchor is alive, got %d", calls)
	}
	if inst.Len() != 1 {
		t.Fatalf("expected 1 connected slot, got %d", inst.Len())
	}
}

func TestConnectPartialBindsLeadingArgs(t *testing.T) {
	sig := New()
	inst := sig.Bind(struct{}{}, "Changed")

	var got []any
	_, err := inst.ConnectPartial(func(args ...any) { got = args }, []any{"bound"})
	if err != nil {
		t.Fatalf("ConnectPartial: %v", err)
	}
	if err := inst.Emit("emitted"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	want := []any{"bound", "emitted"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestCurrentEmitterAndSender(t *testing.T) {
	type owner struct{ name string }
	o := &owner{name: "w1"}

	sig := New()
	inst := sig.Bind(o, "Changed")

	var sawEmitter *SignalInstance
	var sawSender any
	_, _ = inst.Connect(func(args ...any) {
		sawEmitter = CurrentEmitter()
		sawSender = Sender()
	})
	_ = inst.Emit()

	if sawEmitter != inst {
		t.Fatal("expected CurrentEmitter to return the emitting SignalInstance")
	}
	if sawSender != any(o) {
		t.Fatalf("expected Sender to return the owner, got %v", sawSender)
	}
	if CurrentEmitter() != nil {
		t.Fatal("expected CurrentEmitter to be nil once Emit has returned")
	}
}

func TestIncompatibleSlotRejected(t *testing.T) {
	sig := NewWithTypes([]reflect.Type{reflect.TypeOf(0)})
	inst := sig.Bind(struct{}{}, "Changed")
	_, err := inst.Connect(func(a, b, c int) {})
	var incompat *IncompatibleSlotError
	if !errors.As(err, &incompat) {
		t.Fatalf("expected *IncompatibleSlotError, got %v", err)
	}
}
