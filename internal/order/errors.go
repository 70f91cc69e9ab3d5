package order

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformed is wrapped by every structural decode or validation failure.
var ErrMalformed = errors.New("order: malformed")

// FieldError names the offending field by its JSON path, e.g.
// "args.rewardIds.0".
type FieldError struct {
	Path   string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("order: invalid %s: %s", e.Path, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrMalformed }

func fieldErr(path, format string, args ...any) *FieldError {
	return &FieldError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func indexPath(path string, i int) string {
	return path + "." + strconv.Itoa(i)
}
