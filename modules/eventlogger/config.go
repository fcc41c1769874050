package eventlogger

// Config is the "eventlogger" component section.
//
// Example YAML:
//
//	components:
//	  eventlogger:
//	    level: INFO
//	    events: ["component.*", "migration.**"]
//	    outputs:
//	      - type: log
//	      - type: file
//	        path: /var/log/magkernel-events.jsonl
//	        format: json
type Config struct {
	// Level is the minimum level logged: DEBUG, INFO, WARN or ERROR.
	Level string `json:"level" yaml:"level" default:"INFO"`

	// Events restricts logging to event names matching one of these glob
	// patterns. "*" stops at a dot and "**" does not. Empty logs everything.
	Events []string `json:"events" yaml:"events"`

	// Outputs lists where entries go. Empty means the kernel logger only.
	Outputs []OutputConfig `json:"outputs" yaml:"outputs"`
}

// OutputConfig configures one output target.
type OutputConfig struct {
	// Type is "log" (the kernel logger) or "file".
	Type string `json:"type" yaml:"type" default:"log"`

	// Format applies to file outputs: "json" or "text".
	Format string `json:"format" yaml:"format" default:"json"`

	// Path is the file written by a file output.
	Path string `json:"path" yaml:"path"`
}
