package gcerr

import "fmt"

// Assert fails with a consistency error when cond is false. Callers guard
// expensive conditions with VerifyAssertions so they compile away.
func Assert(cond bool, format string, args ...any) {
	if cond {
		return
	}
	e := New(CategoryConsistency, "ASSERTION", fmt.Sprintf(format, args...), nil)
	e.Caller = caller(2)
	Fail(e)
}
