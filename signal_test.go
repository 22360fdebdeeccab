package signals

import (
	"reflect"
	"testing"
)

func TestSignalBindMemoizesPerOwnerAndName(t *testing.T) {
	sig := New()
	owner := &struct{ X int }{}

	a := sig.Bind(owner, "Changed")
	b := sig.Bind(owner, "Changed")
	if a != b {
		t.Fatal("expected repeated Bind with the same (owner, name) to return the identical SignalInstance")
	}

	c := sig.Bind(owner, "Closed")
	if a == c {
		t.Fatal("expected a different name to produce a distinct SignalInstance")
	}

	other := &struct{ X int }{}
	d := sig.Bind(other, "Changed")
	if a == d {
		t.Fatal("expected a different owner to produce a distinct SignalInstance")
	}
}

func TestSignalBindWithValueOwner(t *testing.T) {
	sig := New()
	// struct{}{} isn't pointer/map/chan shaped, so Bind falls back to strong
	// retention keyed on the value itself.
	a := sig.Bind(struct{}{}, "Changed")
	b := sig.Bind(struct{}{}, "Changed")
	if a != b {
		t.Fatal("expected Bind with a comparable value owner to memoize")
	}
}

func TestNewWithTypesEnforcesCompatibility(t *testing.T) {
	sig := NewWithTypes([]reflect.Type{reflect.TypeOf(""), reflect.TypeOf(0)}, WithCheckTypes(true))
	inst := sig.Bind(struct{}{}, "Changed")

	if _, err := inst.Connect(func(s string, n int) {}); err != nil {
		t.Fatalf("expected a compatible slot to connect, got %v", err)
	}
	if _, err := inst.Connect(func(n int, s string) {}); err == nil {
		t.Fatal("expected a parameter-order mismatch to be rejected")
	}
}

func TestWithCheckNArgsRejectsShortEmit(t *testing.T) {
	sig := NewWithTypes([]reflect.Type{reflect.TypeOf(0), reflect.TypeOf(0)}, WithCheckNArgs(true))
	inst := sig.Bind(struct{}{}, "Changed")
	if err := inst.Emit(1); err == nil {
		t.Fatal("expected Emit with too few args to fail preflight when WithCheckNArgs(true)")
	}
}

func TestWithLoggerPropagatesToBoundInstances(t *testing.T) {
	var errored []string
	sig := New(WithLogger(loggerFunc{error: func(msg string, kv ...any) { errored = append(errored, msg) }}))
	inst := sig.Bind(struct{}{}, "Changed")
	_, _ = inst.Connect(func(args ...any) { panic("boom") })
	_ = inst.Emit()
	if len(errored) == 0 {
		t.Fatal("expected the Signal's configured logger to be used by its bound SignalInstance")
	}
}

// loggerFunc is a minimal Logger for assertions on which hook fired.
type loggerFunc struct {
	warn  func(string, ...any)
	debug func(string, ...any)
	error func(string, ...any)
}

func (l loggerFunc) Warn(msg string, kv ...any) {
	if l.warn != nil {
		l.warn(msg, kv...)
	}
}

func (l loggerFunc) Debug(msg string, kv ...any) {
	if l.debug != nil {
		l.debug(msg, kv...)
	}
}

func (l loggerFunc) Error(msg string, kv ...any) {
	if l.error != nil {
		l.error(msg, kv...)
	}
}
