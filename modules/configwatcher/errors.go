package configwatcher

import "errors"

var (
	ErrNoConfigPath    = errors.New("config watcher has no file to watch")
	ErrNoKernel        = errors.New("config watcher requires a kernel")
	ErrAlreadyWatching = errors.New("config watcher already running")
	ErrNotBooted       = errors.New("config watcher not booted")
)
