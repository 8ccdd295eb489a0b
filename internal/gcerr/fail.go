package gcerr

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"sync"
)

// Handler receives fatal errors. A handler that returns makes Fail panic
// with the error, so execution never continues past a fatal condition.
type Handler func(err error)

var (
	mu      sync.Mutex
	handler Handler   = exitHandler
	output  io.Writer = os.Stderr
)

func exitHandler(error) { os.Exit(2) }

// SetHandler installs h and returns a function restoring the previous one.
func SetHandler(h Handler) (restore func()) {
	mu.Lock()
	defer mu.Unlock()
	prev := handler
	handler = h
	return func() {
		mu.Lock()
		handler = prev
		mu.Unlock()
	}
}

// SetOutput redirects fatal reports (default os.Stderr).
func SetOutput(w io.Writer) (restore func()) {
	mu.Lock()
	defer mu.Unlock()
	prev := output
	output = w
	return func() {
		mu.Lock()
		output = prev
		mu.Unlock()
	}
}

// PanicHandler is a Handler that panics with the error. Tests install it
// to observe fatal paths.
func PanicHandler(err error) { panic(err) }

// Fail reports err and invokes the installed handler. Synchronization
// failures also dump every goroutine stack.
func Fail(err error) {
	mu.Lock()
	h, w := handler, output
	mu.Unlock()

	fmt.Fprintf(w, "gc: fatal error: %v\n", err)
	if CategoryOf(err) == CategorySync {
		_ = pprof.Lookup("goroutine").WriteTo(w, 2)
	}
	h(err)
	panic(err)
}

// Failf is shorthand for Fail(Consistency(code, ...)).
func Failf(code, format string, args ...any) {
	e := New(CategoryConsistency, code, fmt.Sprintf(format, args...), nil)
	e.Caller = caller(2)
	Fail(e)
}
