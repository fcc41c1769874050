package state

import (
	"errors"
	"fmt"
)

// Static errors for state package
var (
	ErrInvalidState       = errors.New("invalid state value")
	ErrStorageCorruption  = errors.New("state storage corrupted")
	ErrKeyEmpty           = errors.New("state key cannot be empty")
	ErrKeyNotFound        = errors.New("state key not found")
	ErrInvalidValueType   = errors.New("state value has wrong type for key")
	ErrComponentNameEmpty = errors.New("component name cannot be empty")
)

// StorageCorruptionError describes a state document that could not be read.
// Load recovers from it and only logs it.
type StorageCorruptionError struct {
	Path   string
	Backup string
	Err    error
}

func (e *StorageCorruptionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageCorruption, e.Path, e.Err)
}

func (e *StorageCorruptionError) Unwrap() []error {
	return []error{ErrStorageCorruption, e.Err}
}
