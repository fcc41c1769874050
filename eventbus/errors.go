package eventbus

import "errors"

// Static errors for eventbus package
var (
	ErrHandlerNil      = errors.New("event handler cannot be nil")
	ErrEventNameEmpty  = errors.New("event name cannot be empty")
	ErrHandlerFailed   = errors.New("event handler failed")
	ErrHandlerPanicked = errors.New("event handler panicked")
	ErrPayloadEncoding = errors.New("failed to encode event payload")
)
