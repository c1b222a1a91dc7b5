// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package score

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pdiddy/research-engine/internal/pipeline"
)

func init() {
	backoffBase = time.Millisecond
}

type mockBackend struct {
	verdicts []Verdict
	errs     []error
	calls    int
}

func (m *mockBackend) Score(ctx context.Context, model, text, requirements string) (Verdict, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return Verdict{}, m.errs[i]
	}
	if i < len(m.verdicts) {
		return m.verdicts[i], nil
	}
	return Verdict{}, errors.New("no more responses")
}

func TestScoreAbstractHappyPath(t *testing.T) {
	backend := &mockBackend{verdicts: []Verdict{{IsRelevant: true, Score: 0.85, Justification: "on topic"}}}
	s := NewScorer(backend)

	v, err := s.ScoreAbstract(context.Background(), "claude-x", "abstract text", "requirements text")
	if err != nil {
		t.Fatalf("ScoreAbstract() error = %v", err)
	}
	if v.Score != 0.85 || !v.IsRelevant {
		t.Errorf("v = %+v", v)
	}
}

func TestScoreRetriesOnTransportError(t *testing.T) {
	backend := &mockBackend{
		errs:     []error{errors.New("transient"), nil},
		verdicts: []Verdict{{}, {IsRelevant: true, Score: 0.5, Justification: "ok"}},
	}
	s := NewScorer(backend)

	v, err := s.ScoreFull(context.Background(), "claude-x", "text", "reqs")
	if err != nil {
		t.Fatalf("ScoreFull() error = %v", err)
	}
	if v.Score != 0.5 {
		t.Errorf("v.Score = %f, want 0.5", v.Score)
	}
	if backend.calls != 2 {
		t.Errorf("calls = %d, want 2", backend.calls)
	}
}

func TestScoreNeverSilentlyReturnsZero(t *testing.T) {
	// Backend returns an out-of-range score every time; Scorer must fail,
	// not coerce it to a zero-value Verdict.
	backend := &mockBackend{verdicts: []Verdict{
		{Score: 2.0, Justification: "bad"},
		{Score: 2.0, Justification: "bad"},
		{Score: 2.0, Justification: "bad"},
		{Score: 2.0, Justification: "bad"},
	}}
	s := NewScorer(backend)

	_, err := s.ScoreAbstract(context.Background(), "claude-x", "abstract", "reqs")
	if pipeline.KindOf(err) != pipeline.ScoringFailed {
		t.Errorf("KindOf(err) = %q, want %q", pipeline.KindOf(err), pipeline.ScoringFailed)
	}
}

func TestScoreExhaustsRetries(t *testing.T) {
	backend := &mockBackend{errs: []error{
		errors.New("e1"), errors.New("e2"), errors.New("e3"), errors.New("e4"),
	}}
	s := NewScorer(backend)

	_, err := s.ScoreAbstract(context.Background(), "claude-x", "abstract", "reqs")
	if pipeline.KindOf(err) != pipeline.ScoringFailed {
		t.Errorf("KindOf(err) = %q, want %q", pipeline.KindOf(err), pipeline.ScoringFailed)
	}
}
