package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort    = 8080
	DefaultQueueDepth  = 4
	DefaultTaskTTL     = 10 * time.Minute
	DefaultEventBuffer = 64
	DefaultMaxNodes    = 1_000_000
	DefaultMaxEdges    = 10_000_000
)

// Config is the top-level configuration for noderankd.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Engine EngineConfig `yaml:"engine"`
	Native NativeConfig `yaml:"native"`
	Limits LimitsConfig `yaml:"limits"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`
}

// EngineConfig tunes the compute engine.
type EngineConfig struct {
	// QueueDepth bounds how many accepted tasks may wait behind the one
	// that is running.
	QueueDepth int `yaml:"queue_depth"`

	// TaskTTL is how long finished tasks are kept for pickup before the
	// eviction sweep removes them.
	TaskTTL time.Duration `yaml:"task_ttl"`

	// EventBuffer is the engine event channel capacity.
	EventBuffer int `yaml:"event_buffer"`
}

// NativeConfig configures the wasm compute backend.
type NativeConfig struct {
	// ModulePath is the filesystem path of the compiled wasm module.
	// Empty disables the native backend; native submissions are then
	// rejected at validation.
	ModulePath string `yaml:"module_path"`
}

// LimitsConfig bounds accepted graph sizes. The only section that takes
// effect on hot reload.
type LimitsConfig struct {
	MaxNodes int `yaml:"max_nodes"`
	MaxEdges int `yaml:"max_edges"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
		Engine: EngineConfig{
			QueueDepth:  DefaultQueueDepth,
			TaskTTL:     DefaultTaskTTL,
			EventBuffer: DefaultEventBuffer,
		},
		Limits: LimitsConfig{
			MaxNodes: DefaultMaxNodes,
			MaxEdges: DefaultMaxEdges,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", cfg.Server.HTTPPort)
	}
	if cfg.Engine.QueueDepth <= 0 {
		return fmt.Errorf("engine.queue_depth must be positive")
	}
	if cfg.Engine.TaskTTL <= 0 {
		return fmt.Errorf("engine.task_ttl must be positive")
	}
	if cfg.Engine.EventBuffer <= 0 {
		return fmt.Errorf("engine.event_buffer must be positive")
	}
	if cfg.Native.ModulePath != "" {
		if _, err := os.Stat(cfg.Native.ModulePath); err != nil {
			return fmt.Errorf("native.module_path: %w", err)
		}
	}
	if cfg.Limits.MaxNodes <= 0 {
		return fmt.Errorf("limits.max_nodes must be positive")
	}
	if cfg.Limits.MaxEdges <= 0 {
		return fmt.Errorf("limits.max_edges must be positive")
	}
	return nil
}
