package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rate-engine/rates"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsWhenNoFiles(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "rates.db", cfg.Database.Path)
	assert.Equal(t, rates.DefaultSampleSize, cfg.Bulk.SampleSize)
	assert.Equal(t, "15m0s", cfg.Bulk.PreviewTTL().String())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: A YAML file setting port and database, and an env var for the port
	// WHEN: Loaded
	// THEN: The file wins over defaults and the environment wins over the file

	path := writeFile(t, "rates.yaml", `
server:
  port: 9000
database:
  path: /tmp/firm.db
log:
  level: debug
  format: text
multipliers:
  confidence:
    low: 1.25
`)
	t.Setenv("RATE_ENGINE_PORT", "9100")
	t.Setenv("RATE_ENGINE_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/tmp/firm.db", cfg.Database.Path)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	table, err := cfg.MultiplierTable()
	require.NoError(t, err)
	assert.Equal(t, "1.25", table.Confidence[rates.ConfidenceLow].String())
	assert.Equal(t, "1.1", table.Size[rates.SizeLarge].String())
}

func TestLoad_EnvFile(t *testing.T) {
	env := writeFile(t, ".env", "RATE_ENGINE_SAMPLE_SIZE=3\nRATE_ENGINE_DB=:memory:\n")
	t.Cleanup(func() {
		os.Unsetenv("RATE_ENGINE_SAMPLE_SIZE")
		os.Unsetenv("RATE_ENGINE_DB")
	})

	cfg, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Bulk.SampleSize)
	assert.Equal(t, ":memory:", cfg.Database.Path)
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"zero sample", "bulk:\n  sample_size: 0\n"},
		{"malformed", "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "rates.yaml", tt.yaml), "")
			assert.Error(t, err)
		})
	}

	t.Setenv("RATE_ENGINE_PORT", "eighty")
	_, err := Load("", "")
	assert.Error(t, err)
}

func TestMultiplierTable_RejectsUnknownTier(t *testing.T) {
	cfg := Defaults()
	cfg.Multipliers.Size = nil
	_, err := cfg.MultiplierTable()
	require.NoError(t, err)

	path := writeFile(t, "rates.yaml", "multipliers:\n  size:\n    huge: 2\n")
	cfg, err = Load(path, "")
	require.NoError(t, err)

	_, err = cfg.MultiplierTable()
	assert.ErrorIs(t, err, rates.ErrInvalidAdjustmentInput)
}
