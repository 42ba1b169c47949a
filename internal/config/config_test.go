package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.7, cfg.Plates.Threshold)
	assert.Equal(t, 0.5, cfg.Detector.MinConfidence)
	assert.Equal(t, 180, cfg.Normalize.Rotation)
	assert.Len(t, cfg.Plates.Registry, 10)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.RetryDelay)
}

func TestDefaultRegistryNotAliased(t *testing.T) {
	cfg := Default()
	cfg.Plates.Registry[0] = "changed"
	assert.Equal(t, "BAM 9267", DefaultRegistry[0])
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9000"
plates:
  registry: ["BAM 9267", "AAA 4444"]
  threshold: 0.8
pipeline:
  retry_delay: 250ms
normalize:
  rotation: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"BAM 9267", "AAA 4444"}, cfg.Plates.Registry)
	assert.Equal(t, 0.8, cfg.Plates.Threshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.RetryDelay)
	assert.Equal(t, 0, cfg.Normalize.Rotation)
	// untouched keys keep their defaults
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.CycleDelay)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PLATE_REGISTRY", "VS 2277, JFC 2218 ,")
	t.Setenv("MATCH_THRESHOLD", "0.65")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_KEY", "anon")
	t.Setenv("BINLOG_SINKS", "supabase")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"VS 2277", "JFC 2218"}, cfg.Plates.Registry)
	assert.Equal(t, 0.65, cfg.Plates.Threshold)
	assert.Equal(t, []string{"supabase"}, cfg.BinLog.Sinks)
	assert.Equal(t, "bin_logs", cfg.BinLog.Supabase.Table)
}

func TestEnvBadNumber(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "high")
	_, err := Load("")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty registry", func(c *Config) { c.Plates.Registry = nil }},
		{"blank entry", func(c *Config) { c.Plates.Registry = []string{"BAM 9267", "  "} }},
		{"threshold above one", func(c *Config) { c.Plates.Threshold = 1.2 }},
		{"negative confidence", func(c *Config) { c.Detector.MinConfidence = -0.1 }},
		{"unknown ocr", func(c *Config) { c.OCR.Engine = "easyocr" }},
		{"drive without credentials", func(c *Config) { c.Upload.Backend = "drive" }},
		{"s3 without bucket", func(c *Config) { c.Upload.Backend = "s3" }},
		{"kafka without brokers", func(c *Config) { c.BinLog.Sinks = []string{"kafka"} }},
		{"unknown sink", func(c *Config) { c.BinLog.Sinks = []string{"mongo"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
