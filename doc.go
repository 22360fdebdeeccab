// Package signals implements typed, in-process signal/slot dispatch: a
// publisher declares a Signal, binds it to an owner to get a
// SignalInstance, and subscribers Connect callables (functions, bound
// methods, or plain field/map assignment) that run when the owner calls
// Emit.
//
// Connections may be held strongly (the default for an inline closure) or
// weakly, so a subscriber's lifetime need not be managed explicitly by the
// publisher. Group binds several related signals together under one owner,
// with a relay signal that re-emits every member's emission as (source,
// args); Throttler/Debouncer collapse bursts
// of calls into at most one dispatch per interval; Queue/StartPump let a
// host with its own event loop defer dispatch onto its own schedule rather
// than dispatching inline from Emit.
package signals
