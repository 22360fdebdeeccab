package signals

import (
	"reflect"
	"strconv"
	"strings"
)

// Signature is an ordered list of declared parameter types, for a Signal or
// a slot. A nil entry in Params means "permissive" (any argument is
// accepted at that position), matching spec §4.2's "missing annotations
// are treated as permissive" rule.
type Signature struct {
	Params []reflect.Type
}

// NewSignature builds a Signature from a list of reflect.Type values. A nil
// element denotes a permissive (any) parameter.
func NewSignature(types ...reflect.Type) Signature {
	return Signature{Params: append([]reflect.Type(nil), types...)}
}

// Len returns the number of declared positional parameters.
func (s Signature) Len() int { return len(s.Params) }

func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, t := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if t == nil {
			b.WriteString("any")
		} else {
			b.WriteString(t.String())
		}
	}
	b.WriteByte(')')
	return b.String()
}

// signatureOf introspects a func value's reflect.Type, returning the
// advertised arity (minRequired, maxPositional, unbounded) and a Signature
// built from its input parameter types. The receiver, for a bound method
// value, is never part of this: Go method values (recv.Method) already
// curry the receiver out of the resulting func's own Type().
func signatureOf(fnType reflect.Type) (minRequired, maxPositional int, unbounded bool, sig Signature) {
	n := fnType.NumIn()
	if fnType.IsVariadic() {
		// the variadic parameter itself accepts zero or more, so the
		// minimum required count excludes it
		minRequired = n - 1
		unbounded = true
		params := make([]reflect.Type, 0, n)
		for i := 0; i < n-1; i++ {
			params = append(params, fnType.In(i))
		}
		// the variadic parameter itself is not part of the Signature;
		// unbounded covers any further position
		sig = Signature{Params: params}
		return minRequired, maxPositional, unbounded, sig
	}

	minRequired = n
	maxPositional = n
	params := make([]reflect.Type, n)
	for i := 0; i < n; i++ {
		params[i] = fnType.In(i)
	}
	return minRequired, maxPositional, false, Signature{Params: params}
}

// compatible implements spec §4.2: a slot is arity-compatible with a signal
// of n positional parameters when slot.minRequired <= n (Go has no
// required-keyword-only parameters, so that half of the rule never fires,
// see SPEC_FULL.md §4.1). checkTypes additionally requires, for each
// position i in 0..n, that the slot's declared parameter type at i is
// assignable from the signal's type at i.
func compatible(signalSig Signature, slotMinRequired int, slotSig Signature, checkTypes bool) (ok bool, reason string) {
	n := signalSig.Len()
	if slotMinRequired > n {
		return false, signalArityReason(slotMinRequired, n)
	}
	if !checkTypes {
		return true, ""
	}
	for i := 0; i < n && i < slotSig.Len(); i++ {
		want := signalSig.Params[i]
		have := slotSig.Params[i]
		if want == nil || have == nil {
			continue // permissive
		}
		if !want.AssignableTo(have) {
			return false, typeMismatchReason(i, want, have)
		}
	}
	return true, ""
}

func signalArityReason(slotMinRequired, n int) string {
	return "slot requires " + strconv.Itoa(slotMinRequired) + " positional arguments, signal provides " + strconv.Itoa(n)
}

func typeMismatchReason(i int, want, have reflect.Type) string {
	return "parameter " + strconv.Itoa(i) + ": signal type " + want.String() + " is not assignable to slot type " + have.String()
}

// normalizeFunc validates that slot is a non-nil func value, returning its
// reflect.Value for introspection/wrapping.
func normalizeFunc(slot any) (reflect.Value, bool) {
	if slot == nil {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(slot)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return reflect.Value{}, false
	}
	return rv, true
}

// reflectValueOf is a thin reflect.ValueOf wrapper, named for readability
// at call sites that are about method resolution rather than generic
// reflection.
func reflectValueOf(v any) reflect.Value { return reflect.ValueOf(v) }

// reflectTypeOfAny returns the dynamic type of a non-nil any value.
func reflectTypeOfAny(v any) reflect.Type { return reflect.TypeOf(v) }
