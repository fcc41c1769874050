package cache

// Config is the "cache" component section.
//
// Example YAML:
//
//	components:
//	  cache:
//	    engine: redis
//	    redis_url: redis://localhost:6379/1
//	    key_prefix: "magkernel:"
type Config struct {
	// Engine is "memory" or "redis".
	Engine string `json:"engine" yaml:"engine" default:"memory"`

	// MaxItems bounds the memory engine. Zero means unbounded.
	MaxItems int `json:"max_items" yaml:"max_items" default:"10000"`

	// RedisURL has the form redis://[user:password@]host:port[/db].
	RedisURL string `json:"redis_url" yaml:"redis_url"`

	// RedisPassword overrides a password in RedisURL.
	RedisPassword string `json:"redis_password" yaml:"redis_password"`

	// RedisDB overrides the database in RedisURL when non-zero.
	RedisDB int `json:"redis_db" yaml:"redis_db"`

	// KeyPrefix namespaces every key in redis; Flush only removes prefixed keys.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}
