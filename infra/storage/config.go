package storage

import "fmt"

// Supported backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and locates the persistence backend.
type Config struct {
	Backend string `json:"backend"`
	// Path is the SQLite database file.
	Path string `json:"path"`
	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn"`
	// SeedNodes inserts the demo grid nodes when the node table is empty.
	SeedNodes bool `json:"seed_nodes"`
	// ConnectTimeoutMS bounds the initial ping.
	ConnectTimeoutMS int `json:"connect_timeout_ms"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.Path == "" {
		c.Path = "gridx.db"
	}
	if c.ConnectTimeoutMS == 0 {
		c.ConnectTimeoutMS = 2000
	}
}

// Validate checks the backend selection.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite:
		return nil
	case BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("storage.dsn required for postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Backend)
	}
}
