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
// Package genai turns natural-language questions into candidate SQL using a
// hosted language model. Candidates are untrusted: callers must pass them
// through the guardrail before running anything.
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// DefaultMaxTokens bounds the model response when Config.MaxTokens is unset.
const DefaultMaxTokens = 2048

// ErrNoSQL is returned when a model response carries no recognizable SQL.
var ErrNoSQL = errors.New("model response contained no SQL")

// SQLGenerator produces candidate SQL for a question.
type SQLGenerator interface {
	// GenerateSQL asks the model for a query answering question against the
	// objects in catalog. feedback holds guardrail messages from a rejected
	// previous attempt and may be empty.
	GenerateSQL(ctx context.Context, question string, catalog *schema.Catalog, feedback []string) (*Generation, error)

	// Close cleans up any resources used by the client.
	Close() error
}

// Generation is a single model answer.
type Generation struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
	Model       string `json:"model"`
}

// Config holds configuration for the GenAI client.
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Dialect   guardrail.Dialect
}

// completer is the provider specific part of a generator.
type completer interface {
	complete(ctx context.Context, system, prompt string) (string, error)
	Close() error
}

type generator struct {
	backend completer
	cfg     Config
	logger  *zap.Logger
}

var _ SQLGenerator = (*generator)(nil)

// NewGenerator creates the generator for cfg.Provider.
func NewGenerator(ctx context.Context, cfg Config, logger *zap.Logger) (SQLGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cannot create %s client: API key is missing", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Dialect == "" {
		cfg.Dialect = guardrail.DialectSQLServer
	}

	var (
		backend completer
		err     error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "":
		backend, err = newGeminiClient(ctx, cfg)
	case ProviderOpenAI:
		backend = newOpenAIClient(cfg)
	case ProviderAnthropic:
		backend = newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return newGenerator(backend, cfg, logger), nil
}

func newGenerator(backend completer, cfg Config, logger *zap.Logger) *generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &generator{backend: backend, cfg: cfg, logger: logger.Named("genai")}
}

func (g *generator) GenerateSQL(ctx context.Context, question string, catalog *schema.Catalog, feedback []string) (*Generation, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("question is empty")
	}
	start := time.Now()
	text, err := g.backend.complete(ctx, systemPrompt(g.cfg.Dialect), userPrompt(question, catalog, feedback))
	if err != nil {
		return nil, fmt.Errorf("%s API call failed: %w", g.cfg.Provider, err)
	}

	gen, err := parseGeneration(text)
	if err != nil {
		g.logger.Warn("Could not extract SQL from model response",
			zap.String("model", g.cfg.Model),
			zap.Int("response_length", len(text)))
		return nil, err
	}
	gen.Model = g.cfg.Model

	g.logger.Info("Generated SQL candidate",
		zap.String("provider", g.cfg.Provider),
		zap.String("model", g.cfg.Model),
		zap.Int("feedback_items", len(feedback)),
		zap.Duration("elapsed", time.Since(start)))
	return gen, nil
}

func (g *generator) Close() error {
	return g.backend.Close()
}
