//go:build gcdebug

package gcerr

// VerifyAssertions enables the expensive invariant checks compiled into
// debug builds.
const VerifyAssertions = true
