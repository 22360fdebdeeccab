// Package goid extracts the running goroutine's numeric ID, for use as a
// key into goroutine-local state.
//
// Go intentionally has no public API for this (goroutine IDs are not part
// of any language spec, and the runtime reserves the right to change their
// format). This package exists because the dispatch core needs a
// goroutine-scoped "current emitter" stack (see SignalInstance.CurrentEmitter
// and Sender), and no suitable third-party package was available in the
// corpus this module was built from — every alternative considered either
// threads a context.Context through every call site (not viable here, since
// Connect/Emit/Disconnect are synchronous APIs with no context parameter in
// the specification) or pulls in a cgo dependency. The technique below
// (parse the goroutine ID out of a runtime.Stack dump) is the same one used
// by several well-known community packages; it is implemented directly
// rather than imported since none were present in the reference corpus.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Get returns the numeric ID of the calling goroutine.
//
// This is relatively slow (it captures and parses a stack trace) and is
// intended for use at Connect/Disconnect/Emit boundaries, not on any
// per-slot-invocation hot path.
func Get() int64 {
	buf := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(buf)

	n := runtime.Stack(*buf, false)
	b := (*buf)[:n]

	// expected prefix: "goroutine 123 [running]:\n"
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]

	sp := bytes.IndexByte(b, ' ')
	if sp < 0 {
		return 0
	}

	id, err := strconv.ParseInt(string(b[:sp]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
