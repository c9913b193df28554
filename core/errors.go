// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Domain validation errors
var (
	// ErrInvalidDefinition indicates a PipelineDefinition failed validation.
	ErrInvalidDefinition = errors.New("invalid pipeline definition")

	// ErrInvalidCorpusItem indicates a CorpusItem failed validation.
	ErrInvalidCorpusItem = errors.New("invalid corpus item")

	// ErrInvalidReasoningLevel indicates an unrecognized reasoning level.
	ErrInvalidReasoningLevel = errors.New("invalid reasoning level")

	// ErrEmptyQuery indicates a retrieval request without query text.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrInvalidTransition indicates a run state change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrCheckpointRegression indicates an attempt to move a checkpoint backwards.
	ErrCheckpointRegression = errors.New("checkpoint cannot regress")

	// ErrDimensionMismatch indicates an embedding shorter than the configured truncation dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrConfiguration indicates missing or unusable configuration, such as an
	// unresolvable credential. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrBudgetExceeded signals that a run stopped accepting batches because its
	// execution-time budget was nearly spent. It ends a run as timed_out, not failed.
	ErrBudgetExceeded = errors.New("execution time budget exceeded")

	// ErrAdapterFailure indicates a retrieval backend could not serve a request.
	ErrAdapterFailure = errors.New("retrieval adapter failed")
)

// Error classes
var (
	// ErrTransient marks failures worth retrying: timeouts, throttling, unreachable backends.
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks failures that retrying cannot fix: authentication, malformed requests.
	ErrPermanent = errors.New("permanent failure")
)

// ErrorClass is the retry classification of an error.
type ErrorClass int

const (
	// ErrorClassPermanent errors are surfaced immediately and never retried.
	ErrorClassPermanent ErrorClass = iota
	// ErrorClassTransient errors are retried with backoff.
	ErrorClassTransient
)

func (c ErrorClass) String() string {
	if c == ErrorClassTransient {
		return "transient"
	}
	return "permanent"
}

type classifiedError struct {
	err   error
	class ErrorClass
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

func (e *classifiedError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.class == ErrorClassTransient
	case ErrPermanent:
		return e.class == ErrorClassPermanent
	}
	return false
}

// Transient marks err as retryable. Returns nil for a nil error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ErrorClassTransient}
}

// Permanent marks err as non-retryable. Returns nil for a nil error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, class: ErrorClassPermanent}
}

// Classify returns the retry class of err. Explicit marks win; deadlines and
// network timeouts are transient; everything else is permanent.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if errors.Is(err, ErrConfiguration) {
		return ErrorClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTransient
	}
	return ErrorClassPermanent
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ErrorClassTransient
}

// ClassifyHTTPStatus maps an HTTP status code from an external endpoint to an error class.
func ClassifyHTTPStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return ErrorClassTransient
	case status >= 500:
		return ErrorClassTransient
	}
	return ErrorClassPermanent
}
