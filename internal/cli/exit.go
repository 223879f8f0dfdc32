package cli

import "fmt"

// Exit codes.
const (
	exitRuntime    = 1
	exitUsage      = 2
	exitConfig     = 3
	exitNotFound   = 4
	exitInterrupt  = 5
	exitInputParse = 6
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
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
