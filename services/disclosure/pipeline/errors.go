// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against a *PipelineError.
var (
	// ErrInvalidInput fails fast and is never retried or recovered by fallback.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStageFailure is a stage that kept failing after its retries.
	ErrStageFailure = errors.New("stage failure")

	// ErrTimeout is the adaptive deadline winning the race against execution.
	ErrTimeout = errors.New("pipeline timeout")

	// ErrQualityGateFailure is a failed quality validation under the rigorous tier.
	ErrQualityGateFailure = errors.New("quality gate failure")

	// ErrMissingExecutor is returned by New when a required stage has no executor.
	ErrMissingExecutor = errors.New("missing stage executor")

	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")
)

// PipelineError is a failure of one pipeline run.
//
// It carries the kind, the stage it occurred in (empty for pipeline-level
// failures), and the original error.
type PipelineError struct {
	Kind  error
	Stage Stage
	Err   error
}

// Error implements error.
func (e *PipelineError) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Stage != "" {
		return fmt.Sprintf("stage %s: %s", e.Stage, msg)
	}
	return msg
}

// Unwrap returns the kind and the original error.
func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, stage Stage, err error) *PipelineError {
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// StageOf returns the stage a pipeline error occurred in, if any.
func StageOf(err error) (Stage, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Stage != "" {
		return pe.Stage, true
	}
	return "", false
}
