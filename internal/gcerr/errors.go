// Package gcerr provides the collector's error taxonomy and its fatal path.
//
// Every failure the engine cannot recover from (heap exhaustion after a
// retry, a lock deadlock, a broken invariant) ends in Fail, which reports
// the error and hands control to the installed Handler. The default handler
// terminates the process.
package gcerr

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Category groups errors by the part of the contract that was broken.
type Category string

const (
	CategoryExhaustion  Category = "EXHAUSTION"
	CategorySync        Category = "SYNC"
	CategoryConsistency Category = "CONSISTENCY"
	CategoryConfig      Category = "CONFIG"
)

// Error is the collector's structured error.
type Error struct {
	Category Category
	Code     string
	Message  string
	Context  map[string]any
	Caller   string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s", e.Category, e.Code, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Context[k])
		}
	}
	fmt.Fprintf(&b, " (caller: %s)", e.Caller)
	return b.String()
}

// Is matches on category and code so that callers can test against the
// sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category && (t.Code == "" || e.Code == t.Code)
}

// Sentinels for errors.Is.
var (
	ErrOutOfMemory  = &Error{Category: CategoryExhaustion, Code: "OUT_OF_MEMORY"}
	ErrLockTimeout  = &Error{Category: CategorySync, Code: "LOCK_TIMEOUT"}
	ErrConsistency  = &Error{Category: CategoryConsistency}
	ErrConfig       = &Error{Category: CategoryConfig}
	ErrSanity       = &Error{Category: CategoryConsistency, Code: "RC_SANITY"}
	ErrSystemGC     = &Error{Category: CategoryConfig, Code: "SYSTEM_GC"}
	ErrUnknownPhase = &Error{Category: CategoryConfig, Code: "UNKNOWN_PHASE"}
)

// New creates an error and records the calling function.
func New(category Category, code, message string, context map[string]any) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller(2),
	}
}

func caller(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		return fn.Name()
	}
	return "unknown"
}

// OutOfMemory reports that space could not satisfy a request even after a
// collection.
func OutOfMemory(space string, bytes uintptr) *Error {
	e := New(CategoryExhaustion, "OUT_OF_MEMORY",
		fmt.Sprintf("out of memory allocating %d bytes in %s", bytes, space),
		map[string]any{"space": space, "bytes": bytes})
	e.Caller = caller(2)
	return e
}

// LockTimeout reports a lock wait past the deadlock threshold.
func LockTimeout(lock string, owner, waiter int, waited string) *Error {
	e := New(CategorySync, "LOCK_TIMEOUT",
		fmt.Sprintf("lock %s timed out after %s", lock, waited),
		map[string]any{"lock": lock, "owner": owner, "waiter": waiter})
	e.Caller = caller(2)
	return e
}

// Consistency reports a broken internal invariant.
func Consistency(code, format string, args ...any) *Error {
	e := New(CategoryConsistency, code, fmt.Sprintf(format, args...), nil)
	e.Caller = caller(2)
	return e
}

// Config reports an invalid configuration or phase composition.
func Config(code, format string, args ...any) *Error {
	e := New(CategoryConfig, code, fmt.Sprintf(format, args...), nil)
	e.Caller = caller(2)
	return e
}

// CategoryOf returns the category of err, or "" if err is not an *Error.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}
