package feeders

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golobby/config/v3/pkg/feeder"
)

// Feeder fills a pointer to a struct.
type Feeder interface {
	Feed(structure any) error
}

// File feeds a struct from a YAML, TOML or JSON file, chosen by extension.
type File struct {
	Path string
}

// NewFile creates a file feeder.
func NewFile(path string) File {
	return File{Path: path}
}

// Format returns the file format implied by the extension.
func (f File) Format() (string, error) {
	switch ext := strings.ToLower(filepath.Ext(f.Path)); ext {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// Feed reads the file into structure.
func (f File) Feed(structure any) error {
	format, err := f.Format()
	if err != nil {
		return err
	}

	var inner Feeder
	switch format {
	case "yaml":
		inner = feeder.Yaml{Path: f.Path}
	case "toml":
		inner = feeder.Toml{Path: f.Path}
	default:
		inner = feeder.Json{Path: f.Path}
	}
	if err := inner.Feed(structure); err != nil {
		return fmt.Errorf("failed to read %s config %s: %w", format, f.Path, err)
	}
	return nil
}
