package sandbox

import (
	"fmt"
	"time"
)

// TimeoutError reports that the watchdog killed the sandbox before it
// finished.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("sandbox execution timed out after %v", e.Timeout)
}

// ExecError reports a sandbox process that exited non-zero. Stderr carries
// the captured (truncated) diagnostic output.
type ExecError struct {
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("sandbox exited with status %d", e.ExitCode)
}

// ProtocolError reports sandbox stdout that does not parse as a result.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("sandbox produced malformed output: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
