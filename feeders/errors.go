// Package feeders fills configuration structs from files and environment
// variables.
package feeders

import "errors"

// Static errors for feeders package
var (
	ErrEnvInvalidStructure = errors.New("env: invalid structure")
	ErrEnvEmptyPrefix      = errors.New("env: prefix cannot be empty")
	ErrUnsupportedFormat   = errors.New("unsupported config file format")
	ErrFieldNotSettable    = errors.New("field cannot be set")
)
