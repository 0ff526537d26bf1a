package bot

import "fmt"

// ValidationError reports malformed user input. It is answered with a
// re-prompt and never treated as a failure.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input %q: %s", e.Input, e.Reason)
}

func invalid(input, format string, args ...any) *ValidationError {
	return &ValidationError{Input: input, Reason: fmt.Sprintf(format, args...)}
}
