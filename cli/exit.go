package cli

import "fmt"

// ExitError is an error that carries a specific process exit code. Cobra's
// RunE returns this so main can exit with the right status, letting wrapper
// scripts distinguish a partial collection from a hard failure.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
