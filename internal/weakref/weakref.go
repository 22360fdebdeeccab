// Package weakref provides a type-erased weak reference over Go
// pointer-shaped values (pointer, map, or chan), built on the stdlib weak
// package (Go 1.24+).
//
// This exists because WeakCallback (see the root package) needs to weakly
// hold receivers whose concrete type isn't known until Connect is called
// with a dynamically-typed slot. The generic weak.Make[T any](ptr *T) can't
// be instantiated against a type only known at runtime, so this package
// type-erases via reflect.Value.UnsafePointer and a *byte-typed
// weak.Pointer. There is no third-party alternative: only the runtime can
// implement GC-integrated weak references.
//
// Kind() == Func is deliberately NOT supported: reflect.Value.UnsafePointer
// documents that, for funcs, it returns "an underlying code pointer" —
// shared by every instantiation of a given closure literal, regardless of
// captured variables — not a pointer to the closure's own heap-allocated
// environment. There is no public, safe way to obtain one (this is a
// known, discussed limitation of Go's weak package). Callers that want
// opt-in weak retention of a closure must anchor it to a pointer/map/chan
// value they hold strongly elsewhere; see SignalInstance.ConnectWeak.
package weakref

import (
	"reflect"
	"runtime"
	"unsafe"
	"weak"
)

// Ref is a type-erased weak reference.
type Ref struct {
	ptr   weak.Pointer[byte]
	typ   reflect.Type // the Pointer-kind type v had at Make time, for Value's reconstruction
	valid bool
}

// Supported reports whether v's dynamic kind is one this package can
// weakly reference: Pointer, Map, or Chan. A false result means the
// caller should apply its configured strong-retention fallback.
func Supported(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan:
		return true
	default:
		return false
	}
}

// Make takes a weak reference to v. v must satisfy Supported; a nil v, or
// one of unsupported kind, returns a zero Ref whose Alive is always false.
func Make(v any) Ref {
	if v == nil {
		return Ref{}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan:
		if rv.IsNil() {
			return Ref{}
		}
	default:
		return Ref{}
	}
	p := (*byte)(rv.UnsafePointer())
	if p == nil {
		return Ref{}
	}
	return Ref{ptr: weak.Make(p), typ: rv.Type(), valid: true}
}

// Alive reports whether the referent is (as far as can be observed right
// now) still reachable. A benign race exists between Alive and the
// referent actually being collected concurrently; dispatch callers treat
// that race as "the invoke that loses it is equivalent to a slot that
// happened to be disconnected a moment earlier" (spec §5, "dead-ref races
// are benign").
func (r Ref) Alive() bool {
	return r.valid && r.ptr.Value() != nil
}

// Value reconstructs the original value, if still alive, as a reflect.Value
// of the Kind==Pointer type captured at Make time. It only supports
// Pointer kind (the common receiver shape for bound methods and
// setattr/setitem targets); Map and Chan referents can only be tested for
// liveness via Alive, not reconstructed, since reflect offers no
// "NewAt"-equivalent for those kinds.
func (r Ref) Value() (reflect.Value, bool) {
	if !r.valid || r.typ == nil || r.typ.Kind() != reflect.Pointer {
		return reflect.Value{}, false
	}
	p := r.ptr.Value()
	if p == nil {
		return reflect.Value{}, false
	}
	// p addresses the same memory as the original pointer (weak.Pointer
	// preserves identity for as long as the referent is alive); NewAt
	// reconstructs a *r.typ.Elem() Value over that address.
	return reflect.NewAt(r.typ.Elem(), unsafe.Pointer(p)), true
}

// AddCleanup registers fn to run, at most once, sometime after v becomes
// unreachable. v must satisfy Supported; otherwise AddCleanup is a no-op
// and returns false. The cleanup runs on its own goroutine, per
// runtime.AddCleanup's contract, and must not (transitively) retain v.
func AddCleanup(v any, fn func()) (ok bool) {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan:
		if rv.IsNil() {
			return false
		}
	default:
		return false
	}
	p := (*byte)(rv.UnsafePointer())
	if p == nil {
		return false
	}
	runtime.AddCleanup(p, func(_ struct{}) { fn() }, struct{}{})
	return true
}
