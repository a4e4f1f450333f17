//go:build !debug_msd

package utils

// DebugAssertsEnabled reports whether the debug_msd build tag is present.
const DebugAssertsEnabled = false

// Assert panics with the provided message if cond is false. This method
// no-ops unless the debug_msd build tag is present.
func Assert(cond bool, msg string) {
}

// Assertf panics with the formatted message if cond is false. This method
// no-ops unless the debug_msd build tag is present.
func Assertf(cond bool, format string, args ...any) {
}

// DebugValidate will call Validate on the provided object and panics if any
// errors are returned. This method no-ops unless the debug_msd build tag is
// present.
func DebugValidate(validatable Validatable) {
}
