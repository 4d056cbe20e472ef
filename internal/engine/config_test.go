package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incbuild/fstrace/internal/report"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60000, cfg.Kernel.BufferSizePerCPU)
	assert.Equal(t, "lists", cfg.ReportSchema)
	assert.NotEmpty(t, cfg.Server.SocketPath)
	assert.Empty(t, cfg.Health.Addr)
	assert.Empty(t, cfg.TraceLog.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
report_schema: events
kernel:
  buffer_size_per_cpu: 120000
server:
  socket_path: /run/fstrace.sock
health:
  addr: ":9090"
trace_log:
  path: /var/lib/fstrace/trace.db
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 120000, cfg.Kernel.BufferSizePerCPU)
	assert.Equal(t, report.SchemaEvents, cfg.Schema())
	assert.Equal(t, "/run/fstrace.sock", cfg.Server.SocketPath)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, "/var/lib/fstrace/trace.db", cfg.TraceLog.Path)
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 60000, cfg.Kernel.BufferSizePerCPU)
	assert.Equal(t, report.SchemaLists, cfg.Schema())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errStr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:   "zero buffer",
			mutate: func(c *Config) { c.Kernel.BufferSizePerCPU = 0 },
			errStr: "buffer_size_per_cpu",
		},
		{
			name:   "bad schema",
			mutate: func(c *Config) { c.ReportSchema = "xml" },
			errStr: "schema",
		},
		{
			name:   "missing socket",
			mutate: func(c *Config) { c.Server.SocketPath = "" },
			errStr: "socket_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errStr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errStr)
		})
	}
}
