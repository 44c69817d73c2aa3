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
package assistant

import (
	"fmt"
	"strings"

	"github.com/GoogleCloudPlatform/db-query-guardrail/internal/guardrail"
)

// ErrDatabaseConnection represents errors that occur during database connection attempts
type ErrDatabaseConnection struct {
	Msg string
	Err error
}

// ErrQueryExecution represents errors that occur during query execution
type ErrQueryExecution struct {
	Msg string
	Err error
}

// ErrInvalidInput represents errors related to invalid input parameters
type ErrInvalidInput struct {
	Msg string
	Err error
}

// ErrTimeout represents timeout errors during operations
type ErrTimeout struct {
	Msg string
	Err error
}

// ErrCancelled represents errors when an operation is cancelled
type ErrCancelled struct {
	Msg string
	Err error
}

// ErrGeneration represents a failed call to the language model. Transient
// marks failures worth retrying.
type ErrGeneration struct {
	Msg       string
	Err       error
	Transient bool
}

// ErrRejected is returned when no candidate passed the guardrail. Result is
// the verdict on the last candidate.
type ErrRejected struct {
	Result   guardrail.Result
	Attempts int
	RunID    string
}

func causeText(msg string, err error) string {
	if err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, err)
}

func (e *ErrDatabaseConnection) Error() string {
	return "database connection error: " + causeText(e.Msg, e.Err)
}

func (e *ErrDatabaseConnection) Unwrap() error { return e.Err }

func (e *ErrQueryExecution) Error() string {
	return "query execution error: " + causeText(e.Msg, e.Err)
}

func (e *ErrQueryExecution) Unwrap() error { return e.Err }

func (e *ErrInvalidInput) Error() string {
	return "invalid input error: " + causeText(e.Msg, e.Err)
}

func (e *ErrInvalidInput) Unwrap() error { return e.Err }

func (e *ErrTimeout) Error() string {
	return "timeout error: " + causeText(e.Msg, e.Err)
}

func (e *ErrTimeout) Unwrap() error { return e.Err }

func (e *ErrCancelled) Error() string {
	return "operation cancelled: " + causeText(e.Msg, e.Err)
}

func (e *ErrCancelled) Unwrap() error { return e.Err }

func (e *ErrGeneration) Error() string {
	return "generation error: " + causeText(e.Msg, e.Err)
}

func (e *ErrGeneration) Unwrap() error { return e.Err }

func (e *ErrRejected) Error() string {
	msgs := e.Result.Messages()
	if len(msgs) == 0 {
		return fmt.Sprintf("query rejected by guardrail after %d attempt(s)", e.Attempts)
	}
	return fmt.Sprintf("query rejected by guardrail after %d attempt(s): %s", e.Attempts, strings.Join(msgs, "; "))
}
