package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/incbuild/fstrace/internal/export"
	"github.com/incbuild/fstrace/internal/kernel"
	"github.com/incbuild/fstrace/internal/report"
	"github.com/incbuild/fstrace/internal/server"
	"github.com/incbuild/fstrace/internal/tracelog"
)

// Config is the top-level configuration for the fstrace engine.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Kernel configures the kernel event reader.
	Kernel kernel.Config `yaml:"kernel"`

	// ReportSchema selects the report wire format ("lists" or
	// "events").
	ReportSchema string `yaml:"report_schema"`

	// Server configures the trace server socket.
	Server server.Config `yaml:"server"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// TraceLog configures the persistent trace history.
	TraceLog tracelog.Config `yaml:"trace_log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "info",
		Kernel:       kernel.DefaultConfig(),
		ReportSchema: string(report.SchemaLists),
		Server:       server.DefaultConfig(),
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and
// consistency.
func (c *Config) Validate() error {
	if c.Kernel.BufferSizePerCPU <= 0 {
		return fmt.Errorf("kernel.buffer_size_per_cpu must be positive")
	}

	if _, err := report.ParseSchema(c.ReportSchema); err != nil {
		return err
	}

	if c.Server.SocketPath == "" {
		return fmt.Errorf("server.socket_path is required")
	}

	return nil
}

// Schema returns the validated report schema.
func (c *Config) Schema() report.Schema {
	s, err := report.ParseSchema(c.ReportSchema)
	if err != nil {
		return report.SchemaLists
	}

	return s
}
