// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package score implements the Relevance Scorer (C5): two LLM-backed
// operations, score_abstract and score_full, sharing one backend contract
// and one retry policy. The scorer treats its model handle as opaque and
// must return a well-formed Verdict or fail with *pipeline.StageError{Kind:
// ScoringFailed} — it never silently returns zero.
package score

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pdiddy/research-engine/internal/pipeline"
)

// DefaultTimeout is the per-call scorer timeout (spec §5).
const DefaultTimeout = 120 * time.Second

// Verdict is the well-formed result of one scoring call.
type Verdict struct {
	IsRelevant    bool
	Score         float64
	Justification string
}

func (v Verdict) validate() error {
	if v.Score < 0.0 || v.Score > 1.0 {
		return fmt.Errorf("score %f out of range [0,1]", v.Score)
	}
	if v.Justification == "" {
		return fmt.Errorf("empty justification")
	}
	return nil
}

// Backend is the opaque LLM handle that performs one scoring call. Model
// selection, provider wiring, and prompt construction are the caller's
// concern; Backend only knows how to score one piece of text against one
// requirements string.
type Backend interface {
	Score(ctx context.Context, model, text, requirements string) (Verdict, error)
}

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// Scorer drives a Backend with retry and input validation.
type Scorer struct {
	Backend    Backend
	MaxRetries int
}

// NewScorer returns a Scorer that retries a failed call up to 3 times
// (4 attempts in all).
func NewScorer(backend Backend) *Scorer {
	return &Scorer{Backend: backend, MaxRetries: 3}
}

// ScoreAbstract scores a paper's abstract against the task's requirements text.
func (s *Scorer) ScoreAbstract(ctx context.Context, model, abstract, requirements string) (Verdict, error) {
	return s.call(ctx, model, abstract, requirements)
}

// ScoreFull scores full-text against requirements. The caller (the
// orchestrator) is responsible for truncating text to ocr_char_limit before
// calling this — the scorer itself never truncates (spec §4.4).
func (s *Scorer) ScoreFull(ctx context.Context, model, textExcerpt, requirements string) (Verdict, error) {
	return s.call(ctx, model, textExcerpt, requirements)
}

func (s *Scorer) call(ctx context.Context, model, text, requirements string) (Verdict, error) {
	var lastErr error
	for attempt := 0; attempt <= s.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return Verdict{}, pipeline.Wrap(pipeline.ScoringFailed, ctx.Err())
			case <-time.After(backoff):
			}
		}

		v, err := s.Backend.Score(ctx, model, text, requirements)
		if err == nil {
			if verr := v.validate(); verr != nil {
				lastErr = verr
				continue
			}
			return v, nil
		}
		lastErr = err
	}
	return Verdict{}, pipeline.Wrap(pipeline.ScoringFailed, fmt.Errorf("after %d retries: %w", s.MaxRetries, lastErr))
}
