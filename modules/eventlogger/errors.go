package eventlogger

import (
	"errors"
	"fmt"
)

// Error definitions for the eventlogger module
var (
	ErrInvalidLogLevel         = errors.New("invalid log level")
	ErrInvalidFormat           = errors.New("invalid log format")
	ErrInvalidEventPattern     = errors.New("invalid event pattern")
	ErrUnknownOutputTargetType = errors.New("unknown output target type")
	ErrMissingFilePath         = errors.New("missing file path for file output target")
	ErrFileNotOpen             = errors.New("file not open")
	ErrNoKernel                = errors.New("event logger requires a kernel")
)

// OutputTargetError wraps errors from output target validation
type OutputTargetError struct {
	Index int
	Err   error
}

func (e *OutputTargetError) Error() string {
	return fmt.Sprintf("output target %d: %v", e.Index, e.Err)
}

func (e *OutputTargetError) Unwrap() error {
	return e.Err
}
