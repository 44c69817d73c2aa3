package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	d := Default()
	assert.Equal(t, d.Database.Dialect, cfg.Database.Dialect)
	assert.Equal(t, 1433, cfg.Database.Port)
	assert.Equal(t, 1000, cfg.Guardrail.DefaultRowLimit)
	assert.Equal(t, 50, cfg.Guardrail.PreviewRowLimit)
	assert.Equal(t, 30*time.Second, cfg.Guardrail.QueryTimeout)
	assert.Equal(t, 3, cfg.Guardrail.MaxGenerationAttempts)
	assert.Equal(t, "gem-key", cfg.LLM.APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guardrail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dialect: postgres
  host: db.internal
  port: 5432
llm:
  provider: openai
  model: gpt-4o
guardrail:
  default_row_limit: 500
  query_timeout: 10s
`), 0o644))

	t.Setenv("GUARDRAIL_DATABASE_HOST", "env-host")
	t.Setenv("OPENAI_API_KEY", "oa-key")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("row-limit", 0, "")
	flags.Int("preview-rows", 0, "")
	require.NoError(t, flags.Parse([]string{"--row-limit", "250"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 250, cfg.Guardrail.DefaultRowLimit)
	assert.Equal(t, 50, cfg.Guardrail.PreviewRowLimit)
	assert.Equal(t, 10*time.Second, cfg.Guardrail.QueryTimeout)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "oa-key", cfg.LLM.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad dialect", func(c *Config) { c.Database.Dialect = "oracle" }, "unsupported dialect"},
		{"cloudsql without instance", func(c *Config) { c.Database.Dialect = "cloudsqlpostgres" }, "Cloud SQL instance"},
		{"cloudsql with snapshot", func(c *Config) {
			c.Database.Dialect = "cloudsqlmysql"
			c.Database.SchemaFile = "schema.yaml"
		}, ""},
		{"bad provider", func(c *Config) { c.LLM.Provider = "llama" }, "unsupported LLM provider"},
		{"zero row limit", func(c *Config) { c.Guardrail.DefaultRowLimit = 0 }, "default row limit"},
		{"zero preview", func(c *Config) { c.Guardrail.PreviewRowLimit = 0 }, "preview row limit"},
		{"zero timeout", func(c *Config) { c.Guardrail.QueryTimeout = 0 }, "query timeout"},
		{"zero attempts", func(c *Config) { c.Guardrail.MaxGenerationAttempts = 0 }, "attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
