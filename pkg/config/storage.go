package config

import "fmt"

// StorageConfig configures the embedded SQLite store.
type StorageConfig struct {
	// DBPath is the SQLite database file. ":memory:" is valid for tests.
	DBPath string `yaml:"db_path,omitempty"`

	// WALMode enables write-ahead logging.
	WALMode *bool `yaml:"wal_mode,omitempty"`
}

func (c *StorageConfig) SetDefaults() {
	if c.DBPath == "" {
		c.DBPath = "./cortex.db"
	}
	if c.WALMode == nil {
		c.WALMode = BoolPtr(true)
	}
}

func (c *StorageConfig) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	return nil
}
