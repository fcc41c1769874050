package logging

import "errors"

// ErrUnknownFormat is returned for an unsupported log encoder name.
var ErrUnknownFormat = errors.New("unknown log format")
