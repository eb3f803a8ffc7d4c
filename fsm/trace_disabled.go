//go:build fsmnotrace

package fsm

const tracingCompiled = false
