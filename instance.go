package signals

import (
	"context"
	"sort"
	"sync"

	"github.com/joeycumines/go-signals/internal/goid"
	"github.com/joeycumines/go-signals/internal/rmutex"
	"github.com/joeycumines/go-signals/internal/weakref"
)

// Logger is the minimal structured-logging sink the dispatch core accepts.
// *logiface.Logger[E] satisfies this via a small adapter (see logging.go); a
// nil Logger is always safe to use (every call site on SignalInstance
// nil-checks before logging).
type Logger interface {
	Warn(msg string, kv ...any)
	Debug(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// Reducer folds a pending batch of paused emissions into one replay, when
// the resume func returned by Pause runs (spec §4.3 "(tuple, tuple) -> tuple").
type Reducer func(acc, next []any) []any

// ReemitPolicy controls what happens when Emit is called reentrantly, from
// within a slot invoked by an in-flight Emit of the same SignalInstance
// (spec §4.8 / recovered psygnal reemission modes).
type ReemitPolicy int

const (
	// ReemitImmediate dispatches the reentrant Emit immediately, nested
	// inside the in-flight one (the default).
	ReemitImmediate ReemitPolicy = iota
	// ReemitQueued defers the reentrant Emit's args to run once the
	// in-flight emission completes, preserving call order.
	ReemitQueued
	// ReemitLatestOnly keeps only the most recent reentrant Emit's args,
	// collapsing a burst into a single deferred replay.
	ReemitLatestOnly
)

// UniquePolicy controls Connect's behaviour when a slot with the same
// unique key is already connected.
type UniquePolicy int

const (
	// UniqueAllow connects unconditionally, permitting duplicate entries
	// (the default).
	UniqueAllow UniquePolicy = iota
	// UniqueSkip is a no-op (returns the existing Slot) when already
	// connected.
	UniqueSkip
	// UniqueRaise returns ErrAlreadyConnected when already connected.
	UniqueRaise
)

// Slot is an opaque handle identifying a connected callback, returned by
// Connect and accepted by Disconnect/Contains (spec's "slot (for decorator
// use)").
type Slot struct{ key uniqueKey }

// slotEntry is one row of a SignalInstance's connection table.
type slotEntry struct {
	callback     *weakCallback
	maxArgs      int // -1 = unbounded (no per-connect override)
	priority     int
	insertionSeq uint64
}

type connectConfig struct {
	priority      int
	maxArgs       int
	unique        UniquePolicy
	weakRefPolicy WeakRefPolicy
}

// ConnectOption configures a single Connect/ConnectSetattr/ConnectSetitem
// call.
type ConnectOption func(*connectConfig)

// WithPriority sets the slot's dispatch priority; higher runs first.
// Ties preserve connection order.
func WithPriority(p int) ConnectOption { return func(c *connectConfig) { c.priority = p } }

// WithMaxArgs caps the number of positional arguments forwarded to this
// slot, overriding (only if lower) the slot's own introspected arity.
func WithMaxArgs(n int) ConnectOption { return func(c *connectConfig) { c.maxArgs = n } }

// WithUnique controls de-duplication against the slot's unique key.
func WithUnique(p UniquePolicy) ConnectOption { return func(c *connectConfig) { c.unique = p } }

// WithWeakRefPolicy overrides, for this Connect call only, the
// SignalInstance's default weak-reference-unsupported fallback policy.
func WithWeakRefPolicy(p WeakRefPolicy) ConnectOption {
	return func(c *connectConfig) { c.weakRefPolicy = p }
}

type disconnectConfig struct {
	missingOK bool
}

// DisconnectOption configures a Disconnect call.
type DisconnectOption func(*disconnectConfig)

// WithMissingOK controls whether Disconnect returns ErrNotConnected (false)
// or succeeds silently (true, the default) when the slot isn't present.
func WithMissingOK(ok bool) DisconnectOption {
	return func(c *disconnectConfig) { c.missingOK = ok }
}

// SignalInstance is the bound, per-owner dispatch table for a declared
// Signal (spec §4.3, C3).
type SignalInstance struct {
	mu rmutex.Mutex

	name string
	sig  Signature

	ownerRef    weakref.Ref
	ownerStrong any

	weakRefPolicy WeakRefPolicy
	checkNArgs    bool
	checkTypes    bool
	reemission    ReemitPolicy
	logger        Logger

	slots   []*slotEntry
	nextSeq uint64

	blocked bool

	paused    bool
	pauseBuf  [][]any
	emitDepth int

	reemitQueue [][]any
}

// Name returns the signal's declared name, or "" if none was given to Bind.
func (s *SignalInstance) Name() string { return s.name }

// Signature returns the signal's declared parameter signature.
func (s *SignalInstance) Signature() Signature { return s.sig }

func (s *SignalInstance) owner() (any, bool) {
	if s.ownerStrong != nil {
		return s.ownerStrong, true
	}
	if v, ok := s.ownerRef.Value(); ok {
		return v.Interface(), true
	}
	return nil, false
}

func (s *SignalInstance) logWarn(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}

func (s *SignalInstance) logDebug(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, kv...)
	}
}

func (s *SignalInstance) logError(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Error(msg, kv...)
	}
}

// connect is the shared implementation behind Connect/ConnectWeak/
// ConnectSetattr/ConnectSetitem: it checks compatibility, applies the
// unique policy, and inserts the entry in priority order.
func (s *SignalInstance) connect(cb *weakCallback, cfg connectConfig) (Slot, error) {
	minRequired := cb.minRequired
	if cb.kind == kindSetattr || cb.kind == kindSetitem {
		// setattr/setitem slots are checked for types only, not arity
		minRequired = 0
	}
	ok, reason := compatible(s.sig, minRequired, cb.signature, s.checkTypes)
	if !ok {
		return Slot{}, &IncompatibleSlotError{
			SignalSignature: s.sig,
			SlotSignature:   cb.signature,
			Reason:          reason,
		}
	}
	if cb.recvStrong != nil && cfg.weakRefPolicy == WeakRefWarn {
		s.logWarn("signals: receiver does not support weak references, falling back to strong retention", "signal", s.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.unique != UniqueAllow {
		for _, e := range s.slots {
			if e.callback.uniqueKey == cb.uniqueKey {
				switch cfg.unique {
				case UniqueRaise:
					return Slot{}, ErrAlreadyConnected
				default: // UniqueSkip
					return Slot{key: e.callback.uniqueKey}, nil
				}
			}
		}
	}

	maxArgs := -1
	if cfg.maxArgs >= 0 {
		maxArgs = cfg.maxArgs
	}

	s.nextSeq++
	entry := &slotEntry{
		callback:     cb,
		maxArgs:      maxArgs,
		priority:     cfg.priority,
		insertionSeq: s.nextSeq,
	}
	s.insertLocked(entry)
	return Slot{key: cb.uniqueKey}, nil
}

// insertLocked inserts entry keeping s.slots ordered by descending
// priority, insertion order as tiebreaker (spec §3 "stable within equal
// priority").
func (s *SignalInstance) insertLocked(entry *slotEntry) {
	i := sort.Search(len(s.slots), func(i int) bool {
		return s.slots[i].priority < entry.priority
	})
	s.slots = append(s.slots, nil)
	copy(s.slots[i+1:], s.slots[i:])
	s.slots[i] = entry
}

// Connect wires slot (a func, or a bound-method value) to run on Emit.
// Weak retention of a closure's own captured environment is not possible in
// Go (see internal/weakref); use ConnectWeak with an explicit anchor, or
// ConnectMethod for a receiver-bearing bound method, to opt into weak
// retention.
func (s *SignalInstance) Connect(slot any, opts ...ConnectOption) (Slot, error) {
	cfg := connectConfig{maxArgs: -1, weakRefPolicy: s.weakRefPolicy}
	for _, o := range opts {
		o(&cfg)
	}
	rv, ok := normalizeFunc(slot)
	if !ok {
		return Slot{}, ErrNotCallable
	}
	cb, err := newStrongFunc(rv)
	if err != nil {
		return Slot{}, err
	}
	return s.connect(cb, cfg)
}

// ConnectWeak wires fn to run on Emit only while anchor remains reachable
// elsewhere; once anchor is collected, fn is reaped from the table on the
// next Emit, without being called.
func (s *SignalInstance) ConnectWeak(fn any, anchor any, opts ...ConnectOption) (Slot, error) {
	cfg := connectConfig{maxArgs: -1, weakRefPolicy: s.weakRefPolicy}
	for _, o := range opts {
		o(&cfg)
	}
	rv, ok := normalizeFunc(fn)
	if !ok {
		return Slot{}, ErrNotCallable
	}
	cb, err := newWeakFunc(rv, anchor)
	if err != nil {
		if cfg.weakRefPolicy == WeakRefRaise {
			return Slot{}, err
		}
		if cfg.weakRefPolicy == WeakRefWarn {
			s.logWarn("signals: anchor does not support weak references, falling back to strong retention", "signal", s.name)
		}
		strongCb, serr := newStrongFunc(rv)
		if serr != nil {
			return Slot{}, serr
		}
		return s.connect(strongCb, cfg)
	}
	return s.connect(cb, cfg)
}

// ConnectMethod wires the method named methodName on recv to run on Emit,
// resolving it by name on every invocation. recv is retained weakly when it
// is a pointer; any other receiver falls back to strong retention under the
// WeakRefPolicy in effect.
func (s *SignalInstance) ConnectMethod(recv any, methodName string, opts ...ConnectOption) (Slot, error) {
	cfg := connectConfig{maxArgs: -1, weakRefPolicy: s.weakRefPolicy}
	for _, o := range opts {
		o(&cfg)
	}
	rv := reflectValueOf(recv)
	method := rv.MethodByName(methodName)
	if !method.IsValid() {
		return Slot{}, ErrNotCallable
	}
	cb, err := newWeakMethod(recv, methodName, method.Type(), cfg.weakRefPolicy)
	if err != nil {
		return Slot{}, err
	}
	return s.connect(cb, cfg)
}

// ConnectSetattr wires Emit to set obj's field to the first emitted
// argument (spec §4.1's setattr kind).
func (s *SignalInstance) ConnectSetattr(obj any, field string, opts ...ConnectOption) (Slot, error) {
	cfg := connectConfig{maxArgs: -1, weakRefPolicy: s.weakRefPolicy}
	for _, o := range opts {
		o(&cfg)
	}
	cb, err := newSetattr(obj, field, cfg.weakRefPolicy)
	if err != nil {
		return Slot{}, err
	}
	return s.connect(cb, cfg)
}

// ConnectSetitem wires Emit to assign obj[key] = firstArg (spec §4.1's
// setitem kind); obj must be a pointer to a map.
func (s *SignalInstance) ConnectSetitem(obj any, key any, opts ...ConnectOption) (Slot, error) {
	cfg := connectConfig{maxArgs: -1, weakRefPolicy: s.weakRefPolicy}
	for _, o := range opts {
		o(&cfg)
	}
	cb, err := newSetitem(obj, key, cfg.weakRefPolicy)
	if err != nil {
		return Slot{}, err
	}
	return s.connect(cb, cfg)
}

// ConnectPartial wires slot with boundArgs bound as its leading positional
// arguments, such that invocation calls slot(boundArgs..., emittedArgs...)
// (spec's partial-wrapped form; it carries a unique key distinct from the
// unwrapped slot, per §9 Open Question resolution).
func (s *SignalInstance) ConnectPartial(slot any, boundArgs []any, opts ...ConnectOption) (Slot, error) {
	cfg := connectConfig{maxArgs: -1, weakRefPolicy: s.weakRefPolicy}
	for _, o := range opts {
		o(&cfg)
	}
	rv, ok := normalizeFunc(slot)
	if !ok {
		return Slot{}, ErrNotCallable
	}
	cb, err := newStrongFunc(rv)
	if err != nil {
		return Slot{}, err
	}
	cb = withBoundArgs(cb, boundArgs...)
	return s.connect(cb, cfg)
}

// Disconnect removes the slot identified by handle. By default a missing
// slot is not an error (WithMissingOK(true) is the implicit default);
// pass WithMissingOK(false) to get ErrNotConnected instead.
func (s *SignalInstance) Disconnect(handle Slot, opts ...DisconnectOption) error {
	cfg := disconnectConfig{missingOK: true}
	for _, o := range opts {
		o(&cfg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.slots {
		if e.callback.uniqueKey == handle.key {
			e.callback.markDead()
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return nil
		}
	}
	if cfg.missingOK {
		return nil
	}
	return ErrNotConnected
}

// DisconnectAll removes every connected slot.
func (s *SignalInstance) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.slots {
		e.callback.markDead()
	}
	s.slots = nil
}

// Contains reports whether handle currently identifies a connected slot.
func (s *SignalInstance) Contains(handle Slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.slots {
		if e.callback.uniqueKey == handle.key {
			return true
		}
	}
	return false
}

// Len returns the number of currently connected slots, including any not
// yet reaped dead weak entries.
func (s *SignalInstance) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Block suspends emission: Emit becomes a no-op until the returned func is
// called. Block is reentrant-safe and stacks (nested Block/unblock pairs
// behave as a counter).
func (s *SignalInstance) Block() (unblock func()) {
	s.mu.Lock()
	wasBlocked := s.blocked
	s.blocked = true
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			if wasBlocked {
				return
			}
			s.mu.Lock()
			s.blocked = false
			s.mu.Unlock()
		})
	}
}

// Blocked reports whether emission is currently suspended.
func (s *SignalInstance) Blocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

// Pause suspends emission, buffering every Emit call's arguments instead of
// dispatching them, until the returned resume func is called. Without a
// reducer, resume replays each buffered Emit in order and returns the first
// error; with a reducer, it folds the buffer (starting from initial) into a
// single Emit, and a reducer panic is returned as a *ReducerError. With no
// reducer and an empty buffer, resume emits initial if it is non-nil.
func (s *SignalInstance) Pause() (resume func(reducer Reducer, initial []any) error) {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = true
	s.mu.Unlock()
	var once sync.Once
	return func(reducer Reducer, initial []any) error {
		var err error
		once.Do(func() {
			if wasPaused {
				return
			}
			s.mu.Lock()
			buf := s.pauseBuf
			s.pauseBuf = nil
			s.paused = false
			s.mu.Unlock()

			var args []any
			if reducer != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							err = &ReducerError{Cause: &PanicError{Value: r, Stack: debugStack()}}
						}
					}()
					acc := initial
					for _, next := range buf {
						acc = reducer(acc, next)
					}
					args = acc
				}()
				if err != nil {
					return
				}
			} else if len(buf) > 0 {
				for _, next := range buf {
					if e := s.Emit(next...); e != nil && err == nil {
						err = e
					}
				}
				return
			} else {
				args = initial
			}
			if args != nil {
				err = s.Emit(args...)
			}
		})
		return err
	}
}

// Paused reports whether emission is currently buffering via Pause.
func (s *SignalInstance) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Emit synchronously dispatches args to every connected, live slot, in
// priority then insertion order (spec §4.3 steps 1-7). Dispatch stops
// immediately at the first slot failure (error return or panic), which is
// wrapped as *EmitLoopError and returned; slots after the failing one are
// left untouched, not invoked, and not reaped (spec §4.3 step 5's
// "immediate" default: the emission stops at the first failing slot).
func (s *SignalInstance) Emit(args ...any) error {
	if s.checkNArgs && len(args) < s.sig.Len() {
		return ErrArgCountMismatch
	}
	if s.checkTypes {
		for i := 0; i < s.sig.Len() && i < len(args); i++ {
			want := s.sig.Params[i]
			if want == nil || args[i] == nil {
				continue
			}
			if !reflectTypeOfAny(args[i]).AssignableTo(want) {
				return ErrArgTypeMismatch
			}
		}
	}

	s.mu.Lock()
	if s.blocked {
		s.mu.Unlock()
		return nil
	}
	if s.paused {
		s.pauseBuf = append(s.pauseBuf, args)
		s.mu.Unlock()
		return nil
	}
	if s.emitDepth > 0 && s.reemission != ReemitImmediate {
		switch s.reemission {
		case ReemitLatestOnly:
			s.reemitQueue = [][]any{args}
		default: // ReemitQueued
			s.reemitQueue = append(s.reemitQueue, args)
		}
		s.mu.Unlock()
		return nil
	}

	// snapshot under the lock; reentrant Connect/Disconnect during
	// dispatch mutates s.slots, never this slice (spec §5).
	snapshot := make([]*slotEntry, len(s.slots))
	copy(snapshot, s.slots)
	s.emitDepth++
	depth := s.emitDepth
	s.mu.Unlock()

	owner, _ := s.owner()
	pushEmitter(s, owner)
	defer popEmitter()

	var firstErr error
	var dead []uniqueKey
	for _, e := range snapshot {
		if !e.callback.isAlive() {
			dead = append(dead, e.callback.uniqueKey)
			continue
		}
		connectMax := e.maxArgs
		if err := e.callback.invoke(args, connectMax); err != nil {
			if err == errDeadReference {
				dead = append(dead, e.callback.uniqueKey)
				continue
			}
			firstErr = &EmitLoopError{
				Cause:      err,
				SlotID:     Slot{key: e.callback.uniqueKey},
				SignalName: s.name,
				Args:       args,
				Depth:      depth - 1,
			}
			s.logError("signals: slot failed", "signal", s.name, "error", err)
			break
		}
	}

	s.mu.Lock()
	s.emitDepth--
	if len(dead) > 0 {
		s.reapLocked(dead)
	}
	var pending [][]any
	if s.emitDepth == 0 && len(s.reemitQueue) > 0 {
		pending = s.reemitQueue
		s.reemitQueue = nil
	}
	s.mu.Unlock()

	for _, next := range pending {
		if err := s.Emit(next...); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// reapLocked removes entries whose unique key is in dead. Must be called
// with s.mu held.
func (s *SignalInstance) reapLocked(dead []uniqueKey) {
	if len(dead) == 0 {
		return
	}
	s.logDebug("signals: reaping dead references", "signal", s.name, "count", len(dead))
	set := make(map[uniqueKey]struct{}, len(dead))
	for _, k := range dead {
		set[k] = struct{}{}
	}
	live := s.slots[:0]
	for _, e := range s.slots {
		if _, isDead := set[e.callback.uniqueKey]; isDead {
			continue
		}
		live = append(live, e)
	}
	s.slots = live
}

// AsyncHandle represents an in-flight EmitAsync call (spec §4.3,
// microbatch.JobResult-shaped: Join blocks on ctx or completion,
// whichever comes first).
type AsyncHandle struct {
	done chan struct{}
	err  error
}

// Join blocks until the emission completes or ctx is done, whichever comes
// first.
func (h *AsyncHandle) Join(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsDone reports whether the emission has completed, without blocking.
func (h *AsyncHandle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result returns the emission's error, blocking until it completes.
func (h *AsyncHandle) Result() error {
	<-h.done
	return h.err
}

// EmitAsync dispatches args on a new goroutine, returning immediately a
// handle that can be joined (spec §4.3's async emission, teacher idiom:
// microbatch.Batcher's per-batch worker goroutine).
func (s *SignalInstance) EmitAsync(args ...any) *AsyncHandle {
	h := &AsyncHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = s.Emit(args...)
	}()
	return h
}

// --- per-goroutine emitter stack (spec §5 current_emitter/sender) ---

var emitterStacks sync.Map // map[int64][]emitterFrame

type emitterFrame struct {
	instance *SignalInstance
	owner    any
}

func pushEmitter(s *SignalInstance, owner any) {
	id := goid.Get()
	v, _ := emitterStacks.Load(id)
	stack, _ := v.([]emitterFrame)
	stack = append(stack, emitterFrame{instance: s, owner: owner})
	emitterStacks.Store(id, stack)
}

func popEmitter() {
	id := goid.Get()
	v, ok := emitterStacks.Load(id)
	if !ok {
		return
	}
	stack := v.([]emitterFrame)
	if len(stack) == 0 {
		return
	}
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		emitterStacks.Delete(id)
		return
	}
	emitterStacks.Store(id, stack)
}

// CurrentEmitter returns the SignalInstance currently dispatching on the
// calling goroutine, or nil if Emit is not on the call stack.
func CurrentEmitter() *SignalInstance {
	v, ok := emitterStacks.Load(goid.Get())
	if !ok {
		return nil
	}
	stack := v.([]emitterFrame)
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1].instance
}

// Sender returns the owner bound to the signal currently dispatching on the
// calling goroutine, or nil if Emit is not on the call stack, or the owner
// was already collected.
func Sender() any {
	v, ok := emitterStacks.Load(goid.Get())
	if !ok {
		return nil
	}
	stack := v.([]emitterFrame)
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1].owner
}
