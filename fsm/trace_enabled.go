//go:build !fsmnotrace

package fsm

// tracingCompiled gates all tracer calls; with the fsmnotrace build
// tag the calls are dead code and compiled away.
const tracingCompiled = true
