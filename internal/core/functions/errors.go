package functions

import (
	"errors"
	"fmt"
)

// Error kinds returned by the deploy and invoke paths. Callers match them with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("function already exists")
	ErrBuild      = errors.New("image build failed")
	ErrNotFound   = errors.New("function not found")
	ErrTimeout    = errors.New("invocation timed out")
	ErrUpstream   = errors.New("upstream call failed")
)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
