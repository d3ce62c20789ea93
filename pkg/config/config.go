package config

import "fmt"

// Config is the root configuration for the cortex service.
type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty"`
	Logger    LoggerConfig    `yaml:"logger,omitempty"`
	LLM       LLMRoles        `yaml:"llm,omitempty"`
	Embedding EmbeddingConfig `yaml:"embedding,omitempty"`
	Vector    VectorConfig    `yaml:"vector,omitempty"`
	Search    SearchConfig    `yaml:"search,omitempty"`
	Gate      GateConfig      `yaml:"gate,omitempty"`
	Sieve     SieveConfig     `yaml:"sieve,omitempty"`
	Lifecycle LifecycleConfig `yaml:"lifecycle,omitempty"`
	Layers    LayersConfig    `yaml:"layers,omitempty"`
	Storage   StorageConfig   `yaml:"storage,omitempty"`
}

// SetDefaults applies defaults section by section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedding.SetDefaults()
	c.Vector.SetDefaults()
	c.Search.SetDefaults()
	c.Gate.SetDefaults()
	c.Sieve.SetDefaults()
	c.Lifecycle.SetDefaults()
	c.Layers.SetDefaults()
	c.Storage.SetDefaults()
}

// Validate checks every section. Call after SetDefaults.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &c.Server},
		{"logger", &c.Logger},
		{"llm", &c.LLM},
		{"embedding", &c.Embedding},
		{"vector", &c.Vector},
		{"search", &c.Search},
		{"gate", &c.Gate},
		{"sieve", &c.Sieve},
		{"lifecycle", &c.Lifecycle},
		{"layers", &c.Layers},
		{"storage", &c.Storage},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// Default returns a fully defaulted, validated-shape configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// Metrics exposes prometheus counters at /metrics.
	Metrics *bool `yaml:"metrics,omitempty"`

	// MCP serves the model-context-protocol adapter over HTTP.
	MCP MCPConfig `yaml:"mcp,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout,omitempty"`
}

// MCPConfig configures the MCP tool adapter.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8688
	}
	if c.Metrics == nil {
		c.Metrics = BoolPtr(true)
	}
	if c.MCP.Path == "" {
		c.MCP.Path = "/mcp"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(10e9)
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}
