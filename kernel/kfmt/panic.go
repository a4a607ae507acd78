package kfmt

import (
	"vmmkernel/kernel"
)

var (
	// haltFn is invoked once Panic has finished flushing its diagnostic
	// output. It is mocked by tests and may be overridden by an entry
	// point that embeds this kernel with an arch-specific halt
	// instruction.
	haltFn = func() { select {} }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetHaltFunc overrides the function invoked by Panic once it has finished
// flushing its diagnostic output. The default blocks the calling goroutine
// forever.
func SetHaltFunc(fn func()) { haltFn = fn }

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU. Calls to Panic never return. Panic also works as a redirection target
// for calls to panic() (resolved via runtime.gopanic)
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	haltFn()
}

// panicString serves as a redirect target for runtime.throw
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
