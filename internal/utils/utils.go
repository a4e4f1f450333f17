package utils

import (
	"github.com/pkg/errors"
)

// Validatable is used by the DebugValidate method to allow it to act upon
// all types with a Validate method
type Validatable interface {
	Validate() error
}

// PowerOfTwoError is the error returned from CheckPow2 if the number being
// tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}
