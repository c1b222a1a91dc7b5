// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package analyze implements the Deep Analyzer (C6): an LLM+vision agent
// that consumes the OCR bundle (structured-mode markdown plus its imgs/
// subdirectory) from a paper directory and produces a long-form markdown
// report. The orchestrator, not this package, appends the fixed
// publication-date/provenance footer to the returned markdown.
package analyze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/research-engine/internal/pipeline"
)

// DefaultTimeout is the deep analyzer call timeout (spec §5).
const DefaultTimeout = 600 * time.Second

// StructuredResult is the opaque structured output the agent workflow
// returns alongside the markdown report. Its fields are a light,
// presentation-agnostic summary the caller may log or store in metadata;
// the markdown report remains the artifact of record.
type StructuredResult struct {
	Summary      string
	KeyFindings  []string
	Methodology  string
}

// Backend is the opaque LLM+vision agent workflow.
type Backend interface {
	Analyze(ctx context.Context, model string, markdown string, images map[string][]byte, threadID string) (StructuredResult, string, error)
}

// Analyzer reads an OCR bundle off disk and drives a Backend.
type Analyzer struct {
	Backend Backend
}

// NewAnalyzer returns an Analyzer backed by backend.
func NewAnalyzer(backend Backend) *Analyzer {
	return &Analyzer{Backend: backend}
}

// Analyze reads the structured-mode markdown and imgs/ subdirectory from
// paperDir and runs the agent workflow under threadID, a caller-chosen
// conversation/session identifier used to group multi-turn agent state.
// Fails with *pipeline.StageError{Kind: AnalysisFailed}.
func (a *Analyzer) Analyze(ctx context.Context, paperDir, paperID, model, threadID string) (StructuredResult, string, error) {
	mdPath := filepath.Join(paperDir, paperID+"_paddleocr.md")
	markdown, err := os.ReadFile(mdPath)
	if err != nil {
		return StructuredResult{}, "", pipeline.Wrap(pipeline.AnalysisFailed, fmt.Errorf("reading OCR bundle: %w", err))
	}

	images, err := loadImages(filepath.Join(paperDir, "imgs"))
	if err != nil {
		return StructuredResult{}, "", pipeline.Wrap(pipeline.AnalysisFailed, fmt.Errorf("loading OCR images: %w", err))
	}

	result, report, err := a.Backend.Analyze(ctx, model, string(markdown), images, threadID)
	if err != nil {
		return StructuredResult{}, "", pipeline.Wrap(pipeline.AnalysisFailed, err)
	}
	if strings.TrimSpace(report) == "" {
		return StructuredResult{}, "", pipeline.Wrap(pipeline.AnalysisFailed, fmt.Errorf("agent returned empty report"))
	}
	return result, report, nil
}

func loadImages(dir string) (map[string][]byte, error) {
	images := make(map[string][]byte)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return images, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		images[filepath.Join("imgs", e.Name())] = data
	}
	return images, nil
}

// Footer returns the fixed provenance footer the orchestrator attaches to
// every deep-analysis report (spec §4.5).
func Footer(publishedDate time.Time) string {
	dateStr := "unknown"
	if !publishedDate.IsZero() {
		dateStr = publishedDate.Format("2006-01-02")
	}
	return fmt.Sprintf("\n\n---\n\n**Publication date**: %s\n\n---\n*This analysis was generated automatically.*\n", dateStr)
}
