package configwatcher

import "time"

// Config is the "configwatcher" component section.
type Config struct {
	// Path overrides the file passed to NewModule.
	Path string `json:"path" yaml:"path"`

	// Debounce is how long the file must be quiet before it is reloaded.
	Debounce time.Duration `json:"debounce" yaml:"debounce" default:"500ms"`
}
