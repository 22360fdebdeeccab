package signals

import (
	"github.com/joeycumines/logiface"
)

// logifaceLogger adapts a *logiface.Logger[E] to this package's minimal
// Logger interface, so SignalInstance/Queue/Throttler/Debouncer never need
// to be generic over the event type E a host application picked for its
// own logiface backend.
type logifaceLogger[E logiface.Event] struct {
	l *logiface.Logger[E]
}

// NewLogifaceLogger wraps l (any logiface backend — izerolog, stumpy,
// slog, logrus, …) as a signals.Logger.
func NewLogifaceLogger[E logiface.Event](l *logiface.Logger[E]) Logger {
	return &logifaceLogger[E]{l: l}
}

func (a *logifaceLogger[E]) Warn(msg string, kv ...any) {
	a.log(a.l.Warning(), msg, kv)
}

func (a *logifaceLogger[E]) Debug(msg string, kv ...any) {
	a.log(a.l.Debug(), msg, kv)
}

func (a *logifaceLogger[E]) Error(msg string, kv ...any) {
	a.log(a.l.Err(), msg, kv)
}

// log applies kv as alternating key/value pairs onto b, then emits msg. Any
// value of type error is routed through Err (its key is not used); strings
// go through Str and everything else through Any.
func (a *logifaceLogger[E]) log(b *logiface.Builder[E], msg string, kv []any) {
	if b == nil {
		return
	}
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		switch v := kv[i+1].(type) {
		case error:
			b = b.Err(v)
		case string:
			b = b.Str(key, v)
		default:
			b = b.Any(key, v)
		}
	}
	b.Log(msg)
}
