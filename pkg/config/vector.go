package config

import "fmt"

// VectorBackend identifies the vector index backend.
type VectorBackend string

const (
	// VectorBackendChromem is the embedded, file-persisted default.
	VectorBackendChromem VectorBackend = "chromem"
	// VectorBackendQdrant talks to an external qdrant over gRPC.
	VectorBackendQdrant VectorBackend = "qdrant"
	// VectorBackendNone disables vector search; recall degrades to
	// keyword-only and the writer's matcher always inserts.
	VectorBackendNone VectorBackend = "none"
)

// VectorConfig configures the vector index backend.
type VectorConfig struct {
	Backend VectorBackend `yaml:"backend,omitempty"`

	// Path is the chromem persistence directory.
	Path string `yaml:"path,omitempty"`

	// Qdrant connection settings.
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	APIKey     string `yaml:"api_key,omitempty"`
	Collection string `yaml:"collection,omitempty"`
	UseTLS     bool   `yaml:"use_tls,omitempty"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = VectorBackendChromem
	}
	if c.Path == "" {
		c.Path = "./cortex-vectors"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "cortex_memories"
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Backend {
	case VectorBackendChromem, VectorBackendQdrant, VectorBackendNone:
		return nil
	default:
		return fmt.Errorf("invalid backend %q (valid: chromem, qdrant, none)", c.Backend)
	}
}
