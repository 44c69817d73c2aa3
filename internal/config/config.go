/*
 * Copyright 2025 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Guardrail GuardrailConfig `mapstructure:"guardrail"`
	History   HistoryConfig   `mapstructure:"history"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Dialect                        string `mapstructure:"dialect"`
	Host                           string `mapstructure:"host"`
	Port                           int    `mapstructure:"port"`
	User                           string `mapstructure:"user"`
	Password                       string `mapstructure:"password"`
	DBName                         string `mapstructure:"dbname"`
	SSLMode                        string `mapstructure:"sslmode"`
	CloudSQLInstanceConnectionName string `mapstructure:"cloudsql_instance_connection_name"`
	UsePrivateIP                   bool   `mapstructure:"use_private_ip"`
	MaxOpenConns                   int    `mapstructure:"max_open_conns"`
	// SchemaFile, when set, is a catalog snapshot used instead of live
	// introspection.
	SchemaFile string `mapstructure:"schema_file"`
}

// IsCloudSQL reports whether the dialect connects through the Cloud SQL
// connector.
func (d DatabaseConfig) IsCloudSQL() bool {
	return strings.HasPrefix(d.Dialect, "cloudsql")
}

// LLMConfig selects and configures the SQL generation backend.
type LLMConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// GuardrailConfig holds the limits applied to generated SQL.
type GuardrailConfig struct {
	DefaultRowLimit       int           `mapstructure:"default_row_limit"`
	PreviewRowLimit       int           `mapstructure:"preview_row_limit"`
	QueryTimeout          time.Duration `mapstructure:"query_timeout"`
	MaxGenerationAttempts int           `mapstructure:"max_generation_attempts"`
}

// HistoryConfig controls the local run history.
type HistoryConfig struct {
	Path     string `mapstructure:"path"`
	Disabled bool   `mapstructure:"disabled"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	EnvPrefix = "GUARDRAIL"
)

var (
	SupportedDialects  = []string{"postgres", "cloudsqlpostgres", "mysql", "cloudsqlmysql", "sqlserver", "cloudsqlsqlserver"}
	SupportedProviders = []string{ProviderGemini, ProviderOpenAI, ProviderAnthropic}

	// apiKeyEnv is consulted when no key was configured for the provider.
	apiKeyEnv = map[string]string{
		ProviderGemini:    "GEMINI_API_KEY",
		ProviderOpenAI:    "OPENAI_API_KEY",
		ProviderAnthropic: "ANTHROPIC_API_KEY",
	}

	defaultModels = map[string]string{
		ProviderGemini:    "gemini-2.0-flash",
		ProviderOpenAI:    "gpt-4o-mini",
		ProviderAnthropic: "claude-3-5-haiku-latest",
	}
)

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"dialect":                           "database.dialect",
	"host":                              "database.host",
	"port":                              "database.port",
	"username":                          "database.user",
	"password":                          "database.password",
	"database":                          "database.dbname",
	"sslmode":                           "database.sslmode",
	"cloudsql-instance-connection-name": "database.cloudsql_instance_connection_name",
	"cloudsql-use-private-ip":           "database.use_private_ip",
	"schema-file":                       "database.schema_file",
	"llm-provider":                      "llm.provider",
	"llm-model":                         "llm.model",
	"llm-api-key":                       "llm.api_key",
	"llm-base-url":                      "llm.base_url",
	"row-limit":                         "guardrail.default_row_limit",
	"preview-rows":                      "guardrail.preview_row_limit",
	"query-timeout":                     "guardrail.query_timeout",
	"max-attempts":                      "guardrail.max_generation_attempts",
	"history-path":                      "history.path",
	"no-history":                        "history.disabled",
	"log-level":                         "log.level",
	"log-development":                   "log.development",
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect:      "sqlserver",
			Host:         "localhost",
			Port:         1433,
			SSLMode:      "disable",
			MaxOpenConns: 4,
		},
		LLM: LLMConfig{
			Provider:  ProviderGemini,
			MaxTokens: 2048,
		},
		Guardrail: GuardrailConfig{
			DefaultRowLimit:       1000,
			PreviewRowLimit:       50,
			QueryTimeout:          30 * time.Second,
			MaxGenerationAttempts: 3,
		},
		History: HistoryConfig{
			Path: ".db_query_guardrail/history.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. Precedence from highest to lowest: changed
// flags, GUARDRAIL_* environment variables, the config file, defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Database.Dialect = strings.ToLower(cfg.Database.Dialect)
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv(apiKeyEnv[cfg.LLM.Provider])
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultModels[cfg.LLM.Provider]
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.dialect", d.Database.Dialect)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.cloudsql_instance_connection_name", "")
	v.SetDefault("database.use_private_ip", false)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.schema_file", "")

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)

	v.SetDefault("guardrail.default_row_limit", d.Guardrail.DefaultRowLimit)
	v.SetDefault("guardrail.preview_row_limit", d.Guardrail.PreviewRowLimit)
	v.SetDefault("guardrail.query_timeout", d.Guardrail.QueryTimeout)
	v.SetDefault("guardrail.max_generation_attempts", d.Guardrail.MaxGenerationAttempts)

	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.disabled", false)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", false)
}

// Validate checks the configuration for values no command can work with.
func (c *Config) Validate() error {
	if err := ValidateDialect(c.Database.Dialect); err != nil {
		return err
	}
	if c.Database.IsCloudSQL() && c.Database.CloudSQLInstanceConnectionName == "" && c.Database.SchemaFile == "" {
		return fmt.Errorf("dialect %s requires a Cloud SQL instance connection name", c.Database.Dialect)
	}
	if !slices.Contains(SupportedProviders, c.LLM.Provider) {
		return fmt.Errorf("unsupported LLM provider: %s (only %s are supported)", c.LLM.Provider, strings.Join(SupportedProviders, ", "))
	}
	if c.Guardrail.DefaultRowLimit <= 0 {
		return fmt.Errorf("default row limit must be positive, got %d", c.Guardrail.DefaultRowLimit)
	}
	if c.Guardrail.PreviewRowLimit <= 0 {
		return fmt.Errorf("preview row limit must be positive, got %d", c.Guardrail.PreviewRowLimit)
	}
	if c.Guardrail.QueryTimeout <= 0 {
		return fmt.Errorf("query timeout must be positive, got %s", c.Guardrail.QueryTimeout)
	}
	if c.Guardrail.MaxGenerationAttempts < 1 {
		return fmt.Errorf("max generation attempts must be at least 1, got %d", c.Guardrail.MaxGenerationAttempts)
	}
	return nil
}

// ValidateDialect checks that dialect is one of SupportedDialects.
func ValidateDialect(dialect string) error {
	if !slices.Contains(SupportedDialects, dialect) {
		return fmt.Errorf("unsupported dialect: %s (only %s are supported)", dialect, strings.Join(SupportedDialects, ", "))
	}
	return nil
}
