package signals

import (
	"fmt"
	"reflect"
	"sort"
)

var signalInstancePtrType = reflect.TypeOf((*SignalInstance)(nil))

// GroupSpec names the member Signals a Group binds together.
type GroupSpec map[string]*Signal

// GroupOption configures a Group at declaration time.
type GroupOption func(*groupConfig)

type groupConfig struct {
	strict bool
}

// WithStrict makes NewGroup panic if the member Signals don't share a
// structurally identical Signature (spec §4.5's uniformity check, enforced
// at construction time — the Go analogue of "class-construction time").
func WithStrict() GroupOption { return func(c *groupConfig) { c.strict = true } }

// Group is a declared, named collection of Signals bound together as one
// unit (spec §4.5, C5).
type Group struct {
	names   []string
	members GroupSpec
	uniform bool
}

// NewGroup declares a Group from spec, sorted by name for deterministic
// relay ordering. With WithStrict, a non-uniform spec panics immediately.
func NewGroup(spec GroupSpec, opts ...GroupOption) *Group {
	cfg := groupConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)

	uniform := true
	var first Signature
	for i, name := range names {
		sig := spec[name].sig
		if i == 0 {
			first = sig
		} else if !signaturesEqual(first, sig) {
			uniform = false
		}
	}
	if cfg.strict && !uniform {
		panic(fmt.Errorf("%w: %v", ErrNonUniformGroup, names))
	}

	return &Group{names: names, members: spec, uniform: uniform}
}

func signaturesEqual(a, b Signature) bool {
	if len(a.Params) != len(b.Params) {
		return false
	}
	for i := range a.Params {
		at, bt := a.Params[i], b.Params[i]
		if (at == nil) != (bt == nil) {
			return false
		}
		if at != nil && at != bt {
			return false
		}
	}
	return true
}

// Uniform reports whether every member Signal shares an identical
// Signature. The relay always carries (source, args) regardless; Uniform
// only gates WithStrict's construction-time panic.
func (g *Group) Uniform() bool { return g.uniform }

// GroupInstance is the bound, per-owner handle for a Group (spec §4.5's
// bound collection of SignalInstances plus the group-wide relay/all).
type GroupInstance struct {
	owner   any
	byName  map[string]*SignalInstance
	ordered []*SignalInstance
	all     *SignalInstance
}

// Bind returns the GroupInstance for owner, binding every member Signal
// under it and constructing the group-wide relay signal ("All").
func (g *Group) Bind(owner any) *GroupInstance {
	gi := &GroupInstance{
		owner:  owner,
		byName: make(map[string]*SignalInstance, len(g.names)),
	}
	for _, name := range g.names {
		inst := g.members[name].Bind(owner, name)
		gi.byName[name] = inst
		gi.ordered = append(gi.ordered, inst)
	}

	// the relay's signature is always (source *SignalInstance, args []any),
	// regardless of whether the group's members are uniform (spec §4.5's
	// relay signature, §4.2's scenario 6 non-uniform-group example).
	relay := &SignalInstance{name: "All", sig: NewSignature(signalInstancePtrType, nil)}
	gi.all = relay

	for _, inst := range gi.ordered {
		member := inst
		_, _ = member.Connect(func(args ...any) {
			source := CurrentEmitter()
			if source == nil {
				source = member
			}
			_ = relay.Emit(source, args)
		})
	}

	return gi
}

// Signal returns the bound SignalInstance for name, or nil if name isn't a
// member of the group.
func (gi *GroupInstance) Signal(name string) *SignalInstance { return gi.byName[name] }

// All returns the group-wide relay signal: every member's Emit also
// re-emits through this signal as (source, args), regardless of whether the
// group is uniform (spec §4.5's "all" aggregate).
func (gi *GroupInstance) All() *SignalInstance { return gi.all }

// Block suspends every member signal (and the relay), except those named
// in exclude, returning a single unblock func that reverses all of it.
// The relay participates in Block unless explicitly excluded (spec §10's
// Open Question resolution).
func (gi *GroupInstance) Block(exclude ...string) (unblock func()) {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	var unblocks []func()
	for name, inst := range gi.byName {
		if excluded[name] {
			continue
		}
		unblocks = append(unblocks, inst.Block())
	}
	if !excluded["All"] {
		unblocks = append(unblocks, gi.all.Block())
	}

	return func() {
		for _, u := range unblocks {
			u()
		}
	}
}
