package signals

import (
	"reflect"
	"sync"

	"github.com/joeycumines/go-signals/internal/weakref"
)

// SignalOption configures a declared Signal, and supplies the defaults its
// bound SignalInstances start with.
type SignalOption func(*signalConfig)

type signalConfig struct {
	checkNArgs    bool
	checkTypes    bool
	reemission    ReemitPolicy
	weakRefPolicy WeakRefPolicy
	logger        Logger
}

// WithCheckNArgs makes Emit reject calls with fewer positional arguments
// than the declared Signature requires.
func WithCheckNArgs(enabled bool) SignalOption {
	return func(c *signalConfig) { c.checkNArgs = enabled }
}

// WithCheckTypes makes Emit (and Connect's compatibility check) additionally
// enforce that argument/parameter types are assignable to the declared
// Signature.
func WithCheckTypes(enabled bool) SignalOption {
	return func(c *signalConfig) { c.checkTypes = enabled }
}

// WithReemission sets the policy applied when Emit is invoked reentrantly
// from within a slot of the same signal (spec §4.8, recovered from psygnal).
func WithReemission(p ReemitPolicy) SignalOption {
	return func(c *signalConfig) { c.reemission = p }
}

// WithDefaultWeakRefPolicy sets the fallback policy every SignalInstance
// bound from this Signal applies when a Connect call asks for weak
// retention of a receiver that doesn't support it.
func WithDefaultWeakRefPolicy(p WeakRefPolicy) SignalOption {
	return func(c *signalConfig) { c.weakRefPolicy = p }
}

// WithLogger attaches a structured-logging sink to every SignalInstance
// bound from this Signal (see logging.go for the logiface adapter).
func WithLogger(l Logger) SignalOption {
	return func(c *signalConfig) { c.logger = l }
}

// Signal is the declaration-time descriptor for a signal: a Signature plus
// defaults, analogous to psygnal's class-attribute Signal() descriptor.
// Go has no attribute-access interception, so a Signal is declared as a
// struct field and explicitly Bind'd (typically from a constructor),
// caching the resulting *SignalInstance on another field.
type Signal struct {
	sig    Signature
	config signalConfig

	mu        sync.Mutex
	instances map[bindKey]*SignalInstance
}

type bindKey struct {
	ownerKey any // owner's pointer identity (uintptr) when obtainable, else the owner itself
	name     string
}

// New declares a Signal with an empty Signature (no parameter types
// declared); use NewWithTypes to declare them.
func New(opts ...SignalOption) *Signal { return newSignal(nil, opts...) }

// NewWithTypes declares a Signal with an explicit parameter Signature.
func NewWithTypes(types []reflect.Type, opts ...SignalOption) *Signal {
	return newSignal(types, opts...)
}

func newSignal(types []reflect.Type, opts ...SignalOption) *Signal {
	cfg := signalConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return &Signal{
		sig:       NewSignature(types...),
		config:    cfg,
		instances: make(map[bindKey]*SignalInstance),
	}
}

// ownerIdentity returns a stable, comparable key for owner: its pointer
// value when owner is pointer/map/chan shaped, else the owner itself (which
// must then be comparable, or Bind panics, matching map-key requirements
// any Go program already has for such a case).
func ownerIdentity(owner any) any {
	if owner == nil {
		return nil
	}
	rv := reflect.ValueOf(owner)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if !rv.IsNil() {
			return rv.Pointer()
		}
	}
	return owner
}

// Bind returns the SignalInstance for (owner, name), creating and caching
// it on first call (spec §4.4's descriptor memoization). Subsequent Bind
// calls with the same (owner, name) return the identical instance.
func (sg *Signal) Bind(owner any, name string) *SignalInstance {
	key := bindKey{ownerKey: ownerIdentity(owner), name: name}

	sg.mu.Lock()
	defer sg.mu.Unlock()

	if inst, ok := sg.instances[key]; ok {
		return inst
	}

	inst := &SignalInstance{
		name:          name,
		sig:           sg.sig,
		weakRefPolicy: sg.config.weakRefPolicy,
		checkNArgs:    sg.config.checkNArgs,
		checkTypes:    sg.config.checkTypes,
		reemission:    sg.config.reemission,
		logger:        sg.config.logger,
	}
	if weakref.Supported(owner) {
		inst.ownerRef = weakref.Make(owner)
		weakref.AddCleanup(owner, func() {
			sg.mu.Lock()
			delete(sg.instances, key)
			sg.mu.Unlock()
		})
	} else {
		inst.ownerStrong = owner
	}
	sg.instances[key] = inst
	return inst
}
