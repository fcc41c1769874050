package adminhttp

import "errors"

// Error definitions for the admin server.
var (
	// ErrServerNotStarted is returned when stopping a server that is not listening.
	ErrServerNotStarted = errors.New("admin server not started")

	// ErrNoKernel is returned when the component is booted outside a kernel.
	ErrNoKernel = errors.New("admin server requires a kernel")
)
