package magkernel

import "github.com/GoCodeAlone/magkernel/logging"

// Logger is the structured key/value logger used by the kernel.
type Logger = logging.Logger
