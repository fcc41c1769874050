package adminhttp

import "time"

// Config is the "adminhttp" component section.
type Config struct {
	// Addr is the listen address, host:port. Port 0 picks a free port.
	Addr string `json:"addr" yaml:"addr" default:":9090"`

	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout" default:"5s"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" default:"10s"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout" default:"60s"`

	// ShutdownTimeout bounds draining in-flight requests.
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" default:"5s"`
}
