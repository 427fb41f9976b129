package query

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every error caused by a malformed QuerySpec,
// filter expression or period token. Transport failures are passed through
// unchanged so callers can still match erp.ErrAuth and erp.ErrUpstream.
var ErrValidation = errors.New("invalid query")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
