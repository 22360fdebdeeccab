package signals

import (
	"fmt"
	"hash/maphash"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-signals/internal/weakref"
)

// callbackKind tags the variant a weakCallback wraps, per spec §3's
// WeakCallback kinds table.
type callbackKind uint8

const (
	kindStrongFunc callbackKind = iota
	kindWeakFunc
	// kindWeakMethod also stands in for spec's WeakBuiltin variant: Go has
	// no distinct "C-level/builtin bound method" concept, and both are
	// implemented identically here (weakly-held receiver + method name,
	// the method re-resolved via reflect at invoke time), see
	// SPEC_FULL.md §3.
	kindWeakMethod
	kindSetattr
	kindSetitem
)

// WeakRefPolicy controls what happens when Connect is asked to weakly
// retain a receiver that doesn't support weak references (spec §4.1).
type WeakRefPolicy uint8

const (
	// WeakRefWarn falls back to strong retention and logs a one-shot
	// warning (the default).
	WeakRefWarn WeakRefPolicy = iota
	// WeakRefRaise returns an error from Connect instead of falling back.
	WeakRefRaise
	// WeakRefIgnore falls back to strong retention silently.
	WeakRefIgnore
)

// weakCallback is the uniform wrapper over every callable kind this module
// supports (spec §4.1).
type weakCallback struct {
	kind callbackKind

	// function dispatch.
	strongFn reflect.Value // kindStrongFunc, or kindWeakFunc after anchor liveness is confirmed
	anchor   weakref.Ref   // kindWeakFunc: liveness gate for strongFn, see ConnectWeak
	fnType   reflect.Type

	// receiver dispatch: kindWeakMethod, kindSetattr, kindSetitem.
	recvRef    weakref.Ref
	recvStrong any // set instead of recvRef when falling back to strong retention
	methodName string
	fieldName  string
	itemKey    reflect.Value

	boundArgs []any // partial-wrapped leading positional args, merged before invocation args

	minRequired   int
	maxPositional int
	unbounded     bool
	signature     Signature

	uniqueKey uniqueKey

	deadOnce sync.Once
	dead     atomic.Bool
	onDead   func() // finalize hook, invoked exactly once, on the alive->dead transition
}

// uniqueKey is a stable identity for a wrapped callable, used for
// Contains/Disconnect and unique-connect dedup (spec §4.1).
type uniqueKey struct {
	primary uint64
	partial uint64 // 0 unless this is a partial-wrapped form
}

var maphashSeed = maphash.MakeSeed()

func hashUint64s(tag string, nums ...uint64) uint64 {
	var h maphash.Hash
	h.SetSeed(maphashSeed)
	_, _ = h.WriteString(tag)
	var buf [8]byte
	for _, n := range nums {
		for i := range buf {
			buf[i] = byte(n >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func hashStrings(tag string, strs ...string) uint64 {
	var h maphash.Hash
	h.SetSeed(maphashSeed)
	_, _ = h.WriteString(tag)
	for _, s := range strs {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(s)
	}
	return h.Sum64()
}

// newStrongFunc wraps fn (a reflect.Value of Kind Func) with strong
// retention, the default for free functions/closures (spec §4.1
// rationale: "a lambda supplied inline is often the only reference").
func newStrongFunc(fn reflect.Value) (*weakCallback, error) {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, ErrNotCallable
	}
	minReq, maxPos, unbounded, sig := signatureOf(fn.Type())
	return &weakCallback{
		kind:          kindStrongFunc,
		strongFn:      fn,
		fnType:        fn.Type(),
		minRequired:   minReq,
		maxPositional: maxPos,
		unbounded:     unbounded,
		signature:     sig,
		uniqueKey:     uniqueKey{primary: hashUint64s("func", uint64(fn.Pointer()))},
	}, nil
}

// newWeakFunc opts fn into weak retention, gated on the liveness of anchor
// (a pointer/map/chan value the caller retains elsewhere). Go cannot
// weakly reference a closure's own captured environment directly (see
// internal/weakref's package doc), so the anchor stands in for "the
// closure's owner is still around".
func newWeakFunc(fn reflect.Value, anchor any) (*weakCallback, error) {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, ErrNotCallable
	}
	if !weakref.Supported(anchor) {
		return nil, ErrNotCallable
	}
	minReq, maxPos, unbounded, sig := signatureOf(fn.Type())
	return &weakCallback{
		kind:          kindWeakFunc,
		strongFn:      fn,
		anchor:        weakref.Make(anchor),
		fnType:        fn.Type(),
		minRequired:   minReq,
		maxPositional: maxPos,
		unbounded:     unbounded,
		signature:     sig,
		uniqueKey:     uniqueKey{primary: hashUint64s("weakfunc", uint64(fn.Pointer()))},
	}, nil
}

// newWeakMethod wraps a bound method, retaining the receiver weakly when
// supported. methodType is the method value's own reflect.Type (receiver
// already curried out, as Go method values do).
func newWeakMethod(recv any, methodName string, methodType reflect.Type, policy WeakRefPolicy) (*weakCallback, error) {
	minReq, maxPos, unbounded, sig := signatureOf(methodType)
	wc := &weakCallback{
		kind:          kindWeakMethod,
		fnType:        methodType,
		methodName:    methodName,
		minRequired:   minReq,
		maxPositional: maxPos,
		unbounded:     unbounded,
		signature:     sig,
		uniqueKey:     uniqueKey{primary: hashUint64s("method", recvIdentity(recv), hashStrings("name", methodName))},
	}
	if err := wc.bindReceiver(recv, policy); err != nil {
		return nil, err
	}
	return wc, nil
}

func newSetattr(recv any, fieldName string, policy WeakRefPolicy) (*weakCallback, error) {
	rv := reflect.ValueOf(recv)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, ErrNoSuchAttribute
	}
	field := rv.Elem().FieldByName(fieldName)
	if !field.IsValid() || !field.CanSet() {
		return nil, ErrNoSuchAttribute
	}
	wc := &weakCallback{
		kind:          kindSetattr,
		fieldName:     fieldName,
		minRequired:   1,
		maxPositional: 1,
		signature:     Signature{Params: []reflect.Type{field.Type()}},
		uniqueKey:     uniqueKey{primary: hashUint64s("setattr", recvIdentity(recv), hashStrings("field", fieldName))},
	}
	if err := wc.bindReceiver(recv, policy); err != nil {
		return nil, err
	}
	return wc, nil
}

func newSetitem(recv any, key any, policy WeakRefPolicy) (*weakCallback, error) {
	rv := reflect.ValueOf(recv)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Map || rv.Elem().IsNil() {
		return nil, ErrNoSetitemSupport
	}
	keyVal := reflect.ValueOf(key)
	mapType := rv.Elem().Type()
	if !keyVal.IsValid() || !keyVal.Type().AssignableTo(mapType.Key()) {
		return nil, ErrNoSetitemSupport
	}
	wc := &weakCallback{
		kind:          kindSetitem,
		itemKey:       keyVal,
		minRequired:   1,
		maxPositional: 1,
		signature:     Signature{Params: []reflect.Type{mapType.Elem()}},
		uniqueKey:     uniqueKey{primary: hashUint64s("setitem", recvIdentity(recv), hashStrings("key", itemKeyString(keyVal)))},
	}
	if err := wc.bindReceiver(recv, policy); err != nil {
		return nil, err
	}
	return wc, nil
}

func itemKeyString(v reflect.Value) string {
	if v.CanInterface() {
		if s, ok := v.Interface().(interface{ String() string }); ok {
			return s.String()
		}
	}
	return v.Type().String()
}

// bindReceiver applies the weak/strong retention policy for recv, uniformly
// across kindWeakMethod, kindSetattr, and kindSetitem.
func (w *weakCallback) bindReceiver(recv any, policy WeakRefPolicy) error {
	// weakref.Ref can only reconstruct Pointer-kind referents (see its
	// Value), so map and chan receivers take the strong fallback below.
	if weakref.Supported(recv) && reflect.ValueOf(recv).Kind() == reflect.Pointer {
		w.recvRef = weakref.Make(recv)
		return nil
	}
	switch policy {
	case WeakRefRaise:
		return ErrNotCallable
	default: // WeakRefWarn, WeakRefIgnore: SignalInstance.connect logs the WeakRefWarn warning, we just fall back
		w.recvStrong = recv
		return nil
	}
}

// recvIdentity returns a best-effort stable identity for a receiver, for
// use in a unique key, independent of whether weak tracking is supported.
func recvIdentity(recv any) uint64 {
	rv := reflect.ValueOf(recv)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if !rv.IsNil() {
			return uint64(rv.Pointer())
		}
	}
	return hashStrings("recv", rv.Type().String())
}

// withBoundArgs wraps inner as a partial form, binding leading positional
// args. Per spec §9 Open Question 2, the partial-wrapped form and the
// direct form are treated as distinct unique keys.
func withBoundArgs(inner *weakCallback, args ...any) *weakCallback {
	if len(args) == 0 {
		return inner
	}
	cp := *inner
	cp.boundArgs = append(append([]any(nil), inner.boundArgs...), args...)
	h := hashUint64s("partial", uint64(len(args)))
	for i, a := range args {
		h ^= hashStrings("arg", fmt.Sprintf("%#v", a)) + uint64(i)
	}
	cp.uniqueKey = uniqueKey{primary: inner.uniqueKey.primary, partial: h}
	return &cp
}

// isAlive reports whether every reference this callback depends on is
// currently live, without mutating state (lock-free per spec §5).
func (w *weakCallback) isAlive() bool {
	if w.dead.Load() {
		return false
	}
	switch w.kind {
	case kindStrongFunc:
		return true
	case kindWeakFunc:
		return w.anchor.Alive()
	case kindWeakMethod, kindSetattr, kindSetitem:
		if w.recvStrong != nil {
			return true
		}
		return w.recvRef.Alive()
	default:
		return true
	}
}

// markDead transitions the callback from alive to dead, invoking its
// finalize hook exactly once (spec §4.1 "Finalize hook").
func (w *weakCallback) markDead() {
	if w.dead.CompareAndSwap(false, true) {
		w.deadOnce.Do(func() {
			if w.onDead != nil {
				w.onDead()
			}
		})
	}
}

// receiver resolves the live receiver value, if any reference this
// callback depends on is still alive.
func (w *weakCallback) receiver() (reflect.Value, bool) {
	if w.recvStrong != nil {
		return reflect.ValueOf(w.recvStrong), true
	}
	return w.recvRef.Value()
}

// effectiveMax resolves the number of positional args to forward, given the
// full argument list (bound args already merged in) and an optional
// per-connect max_args override (-1 = unset) (spec §4.1 invoke step 2).
func (w *weakCallback) effectiveMax(full []any, connectMax int) int {
	m := len(full)
	if !w.unbounded && w.maxPositional < m {
		m = w.maxPositional
	}
	if connectMax >= 0 && connectMax < m {
		m = connectMax
	}
	return m
}

// invoke dereferences weak references, truncates args, merges bound args,
// and calls the underlying callable (spec §4.1 "invoke(args)").
func (w *weakCallback) invoke(args []any, connectMax int) (err error) {
	full := args
	if len(w.boundArgs) > 0 {
		full = append(append([]any(nil), w.boundArgs...), args...)
	}

	switch w.kind {
	case kindStrongFunc:
		n := w.effectiveMax(full, connectMax)
		return callReflect(w.strongFn, full[:n])

	case kindWeakFunc:
		if !w.anchor.Alive() {
			return errDeadReference
		}
		n := w.effectiveMax(full, connectMax)
		return callReflect(w.strongFn, full[:n])

	case kindWeakMethod:
		recv, ok := w.receiver()
		if !ok {
			return errDeadReference
		}
		method := recv.MethodByName(w.methodName)
		if !method.IsValid() {
			return errDeadReference
		}
		n := w.effectiveMax(full, connectMax)
		return callReflect(method, full[:n])

	case kindSetattr:
		recv, ok := w.receiver()
		if !ok || len(full) == 0 {
			return errDeadReference
		}
		field := recv.Elem().FieldByName(w.fieldName)
		if !field.IsValid() || !field.CanSet() {
			return errDeadReference
		}
		return setReflect(field, full[0])

	case kindSetitem:
		recv, ok := w.receiver()
		if !ok || len(full) == 0 {
			return errDeadReference
		}
		m := recv.Elem()
		if m.IsNil() {
			return errDeadReference
		}
		return setMapReflect(m, w.itemKey, full[0])

	default:
		return errDeadReference
	}
}

func callReflect(fn reflect.Value, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debugStack()}
		}
	}()
	ft := fn.Type()
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = coerceArg(a, i, ft)
	}
	out := fn.Call(in)
	// a slot may optionally return an error as its last result, surfaced
	// to Emit as the slot's failure (spec §4.3's "slot... returns/raises
	// an error").
	if n := len(out); n > 0 {
		if e, ok := out[n-1].Interface().(error); ok && e != nil {
			return e
		}
	}
	return nil
}

func setReflect(field reflect.Value, val any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debugStack()}
		}
	}()
	field.Set(coerceArg(val, 0, nil))
	return nil
}

func setMapReflect(m reflect.Value, key reflect.Value, val any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debugStack()}
		}
	}()
	var rv reflect.Value
	if val == nil {
		rv = reflect.Zero(m.Type().Elem())
	} else {
		rv = reflect.ValueOf(val)
		if rv.Type() != m.Type().Elem() && rv.Type().AssignableTo(m.Type().Elem()) {
			rv = rv.Convert(m.Type().Elem())
		}
	}
	m.SetMapIndex(key, rv)
	return nil
}

// coerceArg adapts a dynamically-typed argument to the parameter type the
// target func expects at position i, so reflect.Value.Call doesn't panic on
// an untyped nil or an assignable-but-not-identical type. With ft nil (the
// setattr path) there is no target type: a nil a becomes a nil any value
// and any other a is returned unconverted.
func coerceArg(a any, i int, ft reflect.Type) reflect.Value {
	var want reflect.Type
	if ft != nil {
		switch {
		case ft.IsVariadic() && i >= ft.NumIn()-1:
			want = ft.In(ft.NumIn() - 1).Elem()
		case i < ft.NumIn():
			want = ft.In(i)
		}
	}
	if a == nil {
		if want != nil {
			return reflect.Zero(want)
		}
		return reflect.Zero(reflect.TypeOf((*any)(nil)).Elem())
	}
	rv := reflect.ValueOf(a)
	if want != nil && rv.Type() != want && rv.Type().AssignableTo(want) {
		return rv.Convert(want)
	}
	return rv
}

func debugStack() []byte {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return buf[:n]
}
