//go:build debug_msd

package utils

import "fmt"

// DebugAssertsEnabled reports whether the debug_msd build tag is present.
const DebugAssertsEnabled = true

// Assert panics with the provided message if cond is false. This method
// no-ops unless the debug_msd build tag is present.
func Assert(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}

// Assertf panics with the formatted message if cond is false. This method
// no-ops unless the debug_msd build tag is present.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// DebugValidate will call Validate on the provided object and panics if any
// errors are returned. This method no-ops unless the debug_msd build tag is
// present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}
