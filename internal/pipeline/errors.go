// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline defines the abstract error kinds (Kind, StageError) that
// the per-paper pipeline stages (dedupe, abstract scoring, fetch, OCR, full
// scoring, deep analysis, persistence) report to their callers.
package pipeline

import (
	"errors"
	"fmt"
)

// Kind is an abstract error kind surfaced by a pipeline stage. It is never
// used for control flow inside the orchestrator (which instead acts on
// explicit stage results, see Outcome) — it exists so failures can be
// reported to callers (run summaries, task history, the CLI) without
// leaking stage-internal error types.
type Kind string

const (
	IndexUnavailable Kind = "index_unavailable"
	FetchFailed      Kind = "fetch_failed"
	OCRFailed        Kind = "ocr_failed"
	ScoringFailed    Kind = "scoring_failed"
	AnalysisFailed   Kind = "analysis_failed"
	PersistFailed    Kind = "persist_failed"
	InvalidConfig    Kind = "invalid_config"
	Cancelled        Kind = "cancelled"
)

// StageError wraps an underlying error with an abstract kind.
type StageError struct {
	Kind Kind
	Err  error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Wrap constructs a StageError, the sole way new.StageError values should be
// created so every stage failure carries a kind.
func Wrap(kind Kind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

// KindOf returns the Kind carried by err if it is (or wraps) a *StageError,
// otherwise "".
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
