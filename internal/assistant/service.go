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
// Package assistant answers questions with model-written SQL that has passed
// the guardrail, and keeps a record of every attempt.
package assistant

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/database"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/genai"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/history"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/logging"
	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/schema"
)

// DefaultMaxGenerationAttempts bounds generate/validate rounds per question.
const DefaultMaxGenerationAttempts = 3

// Executor runs approved SQL.
type Executor interface {
	ExecuteQuery(ctx context.Context, sqlText string) (*database.QueryResult, error)
	CountRows(ctx context.Context, sqlText string) (int64, error)
}

// Recorder stores runs.
type Recorder interface {
	Record(ctx context.Context, run history.Run) (string, error)
}

type Config struct {
	MaxGenerationAttempts int
	PreviewRowLimit       int
	Retry                 RetryOptions
}

type Service struct {
	generator genai.SQLGenerator
	executor  Executor
	validator *guardrail.Validator
	catalog   *schema.Catalog
	recorder  Recorder
	cfg       Config
	logger    *zap.Logger
}

// NewService wires the assistant. generator, executor and recorder may be nil
// for commands that only need part of the pipeline.
func NewService(gen genai.SQLGenerator, exec Executor, validator *guardrail.Validator, catalog *schema.Catalog, recorder Recorder, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validator == nil {
		validator = guardrail.New(guardrail.Options{}, logger)
	}
	if cfg.MaxGenerationAttempts <= 0 {
		cfg.MaxGenerationAttempts = DefaultMaxGenerationAttempts
	}
	if cfg.PreviewRowLimit <= 0 {
		cfg.PreviewRowLimit = guardrail.DefaultPreviewRowLimit
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryOptions
	}
	return &Service{
		generator: gen,
		executor:  exec,
		validator: validator,
		catalog:   catalog,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.Named("assistant"),
	}
}

type AskParams struct {
	Question string
	// Full runs the approved query with its own row bound instead of a preview.
	Full        bool
	PreviewRows int
}

type ExecuteParams struct {
	SQL         string
	Full        bool
	PreviewRows int
}

// Answer is the outcome of an approved and executed query.
type Answer struct {
	RunID      string                     `json:"run_id,omitempty"`
	Question   string                     `json:"question,omitempty"`
	Generation *genai.Generation          `json:"generation,omitempty"`
	Validation guardrail.Result           `json:"validation"`
	Executed   string                     `json:"executed"`
	Rows       *database.QueryResult      `json:"rows"`
	RowCount   guardrail.RowCountEstimate `json:"row_count"`
	Attempts   int                        `json:"attempts,omitempty"`
}

// Check validates sqlText against catalog, or the service catalog when
// catalog is nil.
func (s *Service) Check(sqlText string, catalog *schema.Catalog) guardrail.Result {
	if catalog == nil {
		catalog = s.catalog
	}
	return s.validator.Validate(sqlText, catalog)
}

// Ask generates SQL for a question, feeding guardrail rejections back to the
// model until a candidate passes or the attempts run out, then runs it.
func (s *Service) Ask(ctx context.Context, params AskParams) (*Answer, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return nil, &ErrInvalidInput{Msg: "question is empty"}
	}
	if s.generator == nil {
		return nil, &ErrInvalidInput{Msg: "no SQL generator configured"}
	}

	var (
		gen      *genai.Generation
		result   guardrail.Result
		feedback []string
		attempt  int
	)
	for attempt = 1; attempt <= s.cfg.MaxGenerationAttempts; attempt++ {
		var err error
		gen, err = withRetry(ctx, s.cfg.Retry, s.logger, func(ctx context.Context) (*genai.Generation, error) {
			g, err := s.generator.GenerateSQL(ctx, question, s.catalog, feedback)
			if err != nil {
				return nil, &ErrGeneration{Msg: "failed to generate SQL", Err: err, Transient: genai.IsTransient(err)}
			}
			return g, nil
		})
		if errors.Is(err, genai.ErrNoSQL) {
			s.logger.Warn("Model answered without SQL", zap.Int("attempt", attempt))
			feedback = []string{"ERROR: the answer contained no SQL; return the query inside <sql></sql> tags"}
			result = guardrail.Result{Issues: []guardrail.Issue{{
				Severity: guardrail.SeverityError,
				Category: guardrail.CategoryInput,
				Message:  "model response contained no SQL",
			}}}
			continue
		}
		if err != nil {
			s.record(ctx, history.Run{Question: question, RowCount: int64(guardrail.UnknownRowCount), Error: err.Error()})
			return nil, err
		}

		result = s.validator.Validate(gen.SQL, s.catalog)
		if result.Valid {
			break
		}
		feedback = result.Messages()
		s.logger.Info("Candidate rejected",
			zap.Int("attempt", attempt),
			zap.Strings("issues", feedback))
	}

	if !result.Valid {
		attempts := attempt - 1
		run := history.Run{
			Question:     question,
			CandidateSQL: result.OriginalText,
			Issues:       result.Issues,
			RowCount:     int64(guardrail.UnknownRowCount),
			Error:        "rejected by guardrail",
		}
		rejected := &ErrRejected{Result: result, Attempts: attempts}
		rejected.RunID = s.record(ctx, run)
		return nil, rejected
	}

	answer, err := s.run(ctx, question, result, params.Full, params.PreviewRows)
	if answer != nil {
		answer.Generation = gen
		answer.Attempts = attempt
	}
	return answer, err
}

// Execute validates caller-supplied SQL and runs it when approved.
func (s *Service) Execute(ctx context.Context, params ExecuteParams) (*Answer, error) {
	result := s.Check(params.SQL, nil)
	if !result.Valid {
		rejected := &ErrRejected{Result: result, Attempts: 1}
		rejected.RunID = s.record(ctx, history.Run{
			CandidateSQL: params.SQL,
			Issues:       result.Issues,
			RowCount:     int64(guardrail.UnknownRowCount),
			Error:        "rejected by guardrail",
		})
		return nil, rejected
	}
	return s.run(ctx, "", result, params.Full, params.PreviewRows)
}

// run executes an approved result and records the run.
func (s *Service) run(ctx context.Context, question string, result guardrail.Result, full bool, previewRows int) (*Answer, error) {
	if s.executor == nil {
		return nil, &ErrInvalidInput{Msg: "no database configured"}
	}
	executed := result.RewrittenText
	if !full {
		if previewRows <= 0 {
			previewRows = s.cfg.PreviewRowLimit
		}
		executed = s.validator.ToPreview(result.RewrittenText, previewRows)
	}

	run := history.Run{
		Question:     question,
		CandidateSQL: result.OriginalText,
		ExecutedSQL:  executed,
		Valid:        true,
		Issues:       result.Issues,
		RowCount:     int64(guardrail.UnknownRowCount),
	}

	rows, err := s.executor.ExecuteQuery(ctx, executed)
	if err != nil {
		err = classifyExecutionError(err)
		run.Error = logging.SanitizeError(err)
		s.record(ctx, run)
		return nil, err
	}

	estimate := s.EstimateRowCount(ctx, result.RewrittenText)
	run.RowCount = int64(estimate)

	answer := &Answer{
		Question:   question,
		Validation: result,
		Executed:   executed,
		Rows:       rows,
		RowCount:   estimate,
	}
	answer.RunID = s.record(ctx, run)

	s.logger.Info("Query answered",
		zap.String("query", logging.TruncateQuery(executed)),
		zap.Int("rows", len(rows.Rows)),
		zap.Stringer("estimated_rows", estimate))
	return answer, nil
}

// EstimateRowCount counts the rows approved would return without its bound.
// Queries that cannot be probed and probes that fail give UnknownRowCount.
func (s *Service) EstimateRowCount(ctx context.Context, approved string) guardrail.RowCountEstimate {
	probe := s.validator.ToCountProbe(approved)
	if !probe.OK || s.executor == nil {
		return guardrail.UnknownRowCount
	}
	n, err := s.executor.CountRows(ctx, probe.SQL)
	if err != nil {
		s.logger.Warn("Row count probe failed",
			zap.String("probe", logging.TruncateQuery(probe.SQL)),
			zap.String("error", logging.SanitizeError(err)))
		return guardrail.UnknownRowCount
	}
	if n < 0 {
		return guardrail.UnknownRowCount
	}
	return guardrail.RowCountEstimate(n)
}

func (s *Service) record(ctx context.Context, run history.Run) string {
	if s.recorder == nil {
		return ""
	}
	id, err := s.recorder.Record(ctx, run)
	if err != nil {
		s.logger.Warn("Failed to record run", zap.Error(err))
		return ""
	}
	return id
}

func classifyExecutionError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ErrTimeout{Msg: "query exceeded its time limit", Err: err}
	case errors.Is(err, context.Canceled):
		return &ErrCancelled{Msg: "query cancelled", Err: err}
	case errors.Is(err, driver.ErrBadConn):
		return &ErrDatabaseConnection{Msg: "connection lost while running query", Err: err}
	default:
		return &ErrQueryExecution{Msg: "failed to run approved query", Err: err}
	}
}
