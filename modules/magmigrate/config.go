package magmigrate

// StoreConfig is one named data store.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `json:"driver" yaml:"driver" default:"sqlite"`
	DSN    string `json:"dsn" yaml:"dsn" required:"true"`
}

// Config is the "magmigrate" component section.
//
// Example YAML:
//
//	components:
//	  magmigrate:
//	    source_dir: ./migrations
//	    auto_migrate: true
//	    stores:
//	      main:
//	        driver: sqlite
//	        dsn: file:app.db
type Config struct {
	// SourceDir holds one sub-directory of migration files per store.
	SourceDir string `json:"source_dir" yaml:"source_dir" default:"migrations"`

	// AutoMigrate applies pending migrations of every store at Boot.
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`

	Stores map[string]StoreConfig `json:"stores" yaml:"stores"`
}
