// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator implements the Pipeline Orchestrator (C8): the
// per-paper staged state machine that drives one candidate from an index
// hit through dedupe, scoring, fetch, OCR, optional deep analysis, and
// persistence.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pdiddy/research-engine/internal/analyze"
	"github.com/pdiddy/research-engine/internal/ocr"
	"github.com/pdiddy/research-engine/internal/pipeline"
	"github.com/pdiddy/research-engine/internal/score"
	"github.com/pdiddy/research-engine/pkg/types"
)

// Deduper reports whether paper_id already exists in the store.
type Deduper interface {
	GetByPaperID(ctx context.Context, paperID string) (*types.StoredPaper, error)
}

// Persister writes the final record to the store.
type Persister interface {
	Create(ctx context.Context, p types.StoredPaper) (bool, error)
	UpdateStatus(ctx context.Context, paperID string, processing types.ProcessingStatus, deep types.DeepAnalysisStatus) error
	SaveAnalysisResult(ctx context.Context, paperID, markdown string) error
}

// Scorer is the subset of internal/score's Scorer this package depends on.
type Scorer interface {
	ScoreAbstract(ctx context.Context, model, text, requirements string) (score.Verdict, error)
	ScoreFull(ctx context.Context, model, text, requirements string) (score.Verdict, error)
}

// Fetcher is the subset of internal/fetch's Fetcher this package depends on.
type Fetcher interface {
	Fetch(ctx context.Context, record types.PaperRecord, destDir string, reuseExisting bool) ([]byte, error)
}

// FastExtractor is the subset of internal/ocr's FastExtractor this package
// depends on.
type FastExtractor interface {
	Extract(pdfBytes []byte, maxPages int) (string, ocr.StatusInfo, error)
}

// StructuredExtractor is the subset of internal/ocr's StructuredExtractor
// this package depends on. It is the one-shot fallback when fast mode
// fails (spec §7: "fast mode may fall back to structured mode once").
type StructuredExtractor interface {
	Extract(pdfBytes []byte) (ocr.Result, error)
}

// Analyzer is the subset of internal/analyze this package depends on.
type Analyzer interface {
	Analyze(ctx context.Context, paperDir, paperID, model, threadID string) (analyze.StructuredResult, string, error)
}

// Dependencies bundles every collaborator the orchestrator drives. All
// fields are required except StructOCR: when it is nil, a fast-mode OCR
// failure has no fallback and the paper is discarded.
type Dependencies struct {
	Store     Deduper
	Persist   Persister
	Scorer    Scorer
	Fetcher   Fetcher
	FastOCR   FastExtractor
	StructOCR StructuredExtractor
	Analyzer  Analyzer

	// PaperDir returns the per-paper artifact directory for paperID, the
	// contract shared with C4 and C6 ("<data_root>/paper_analyze/<paper_id>/").
	PaperDir func(paperID string) string
}

// Pipeline drives PaperRecords through the staged state machine described
// by the orchestrator's per-paper rules. It holds no mutable state of its
// own beyond its Dependencies; per-run counters live on the caller's
// types.RunSummary.
type Pipeline struct {
	deps Dependencies
}

// New returns a Pipeline over deps.
func New(deps Dependencies) *Pipeline {
	return &Pipeline{deps: deps}
}

// Outcome reports what happened to one candidate, for callers (the
// scheduler, single-paper analysis) that want more than the run-level
// summary counters.
type Outcome struct {
	PaperID   string
	Stage     types.PipelineStage
	Persisted bool
	Relevant  bool
	Deep      bool
	Err       error
}

// Run drives one PaperRecord from NEW through a terminal stage, applying
// cfg's thresholds and honoring the optional cancel check at stage
// boundaries (spec §5: cooperative cancellation between stages). isCancelled
// may be nil, meaning the run is not cancellable.
func (p *Pipeline) Run(ctx context.Context, record types.PaperRecord, cfg types.TaskConfig, isCancelled func() bool) Outcome {
	record.Stage = types.StageNew

	if cancelled(isCancelled) {
		return Outcome{PaperID: record.PaperID, Stage: record.Stage, Err: pipeline.Wrap(pipeline.Cancelled, fmt.Errorf("cancelled before dedupe"))}
	}

	stored, err := p.deps.Store.GetByPaperID(ctx, record.PaperID)
	if err != nil {
		return Outcome{PaperID: record.PaperID, Stage: types.StageDedupe, Err: pipeline.Wrap(pipeline.PersistFailed, err)}
	}
	if stored != nil {
		record.Stage = types.StageSkipped
		record.Cleanup()
		return Outcome{PaperID: record.PaperID, Stage: types.StageSkipped}
	}

	if cancelled(isCancelled) {
		return Outcome{PaperID: record.PaperID, Stage: record.Stage, Err: pipeline.Wrap(pipeline.Cancelled, fmt.Errorf("cancelled before abstract scoring"))}
	}

	abstractVerdict, err := p.deps.Scorer.ScoreAbstract(ctx, cfg.AbstractAnalysisModel, record.Abstract, cfg.RequirementsText)
	if err != nil {
		record.Stage = types.StageDiscarded
		record.Cleanup()
		return Outcome{PaperID: record.PaperID, Stage: types.StageDiscarded, Err: err}
	}
	record.AbstractScore = abstractVerdict.Score
	record.AbstractJustification = abstractVerdict.Justification
	record.Stage = types.StageAbstractScored

	if abstractVerdict.Score < cfg.PersistThreshold {
		record.Stage = types.StageDiscarded
		record.Cleanup()
		return Outcome{PaperID: record.PaperID, Stage: types.StageDiscarded}
	}

	return p.RunFromFetch(ctx, record, cfg, isCancelled)
}

// RunFromFetch drives a PaperRecord from the FETCHING stage through a
// terminal stage, bypassing DEDUPE and ABSTRACT_SCORED. Used by the
// scheduler's single-paper re-analysis path (spec §4.8's analyze_single,
// default mode), where the caller already knows the paper_id and does not
// want it re-scored against the abstract.
func (p *Pipeline) RunFromFetch(ctx context.Context, record types.PaperRecord, cfg types.TaskConfig, isCancelled func() bool) Outcome {
	if cancelled(isCancelled) {
		return Outcome{PaperID: record.PaperID, Stage: record.Stage, Err: pipeline.Wrap(pipeline.Cancelled, fmt.Errorf("cancelled before fetch"))}
	}

	paperDir := p.deps.PaperDir(record.PaperID)
	record.Stage = types.StageFetching
	// Fetch adds the <paper_id>/ component itself, so it gets paperDir's parent.
	pdfBytes, err := p.deps.Fetcher.Fetch(ctx, record, filepath.Dir(paperDir), true)
	if err != nil {
		record.Stage = types.StageDiscarded
		record.Cleanup()
		return Outcome{PaperID: record.PaperID, Stage: types.StageDiscarded, Err: err}
	}
	record.PDFBytes = pdfBytes

	if cancelled(isCancelled) {
		record.Cleanup()
		return Outcome{PaperID: record.PaperID, Stage: record.Stage, Err: pipeline.Wrap(pipeline.Cancelled, fmt.Errorf("cancelled before OCR"))}
	}

	record.Stage = types.StageOCRing
	ocrText, ocrImages, err := p.runOCR(record.PDFBytes)
	if err != nil {
		record.Stage = types.StageDiscarded
		record.Cleanup()
		return Outcome{PaperID: record.PaperID, Stage: types.StageDiscarded, Err: err}
	}
	record.OCRText = ocrText
	record.OCRImages = ocrImages

	if cancelled(isCancelled) {
		record.Cleanup()
		return Outcome{PaperID: record.PaperID, Stage: record.Stage, Err: pipeline.Wrap(pipeline.Cancelled, fmt.Errorf("cancelled before full scoring"))}
	}

	// Full-text scoring sees at most OCRCharLimit characters of the OCR text;
	// record.OCRText itself is left untruncated.
	scoringText := record.OCRText
	if runes := []rune(scoringText); cfg.OCRCharLimit > 0 && len(runes) > cfg.OCRCharLimit {
		scoringText = string(runes[:cfg.OCRCharLimit])
	}
	fullVerdict, err := p.deps.Scorer.ScoreFull(ctx, cfg.FullPaperAnalysisModel, scoringText, cfg.RequirementsText)
	if err != nil {
		record.Stage = types.StageDiscarded
		record.Cleanup()
		return Outcome{PaperID: record.PaperID, Stage: types.StageDiscarded, Err: err}
	}
	record.FullScore = fullVerdict.Score
	record.FullJustification = fullVerdict.Justification
	record.FullAnalyzed = true
	record.Stage = types.StageFullScored

	if fullVerdict.Score < cfg.PersistThreshold {
		record.Stage = types.StageDiscarded
		record.Cleanup()
		return Outcome{PaperID: record.PaperID, Stage: types.StageDiscarded}
	}
	record.FinalScore = fullVerdict.Score
	record.FinalIsRelevant = true

	deepAttempted := false
	deepSucceeded := false
	if cfg.EnableDeepAnalysis && fullVerdict.Score >= cfg.DeepThreshold && !cancelled(isCancelled) {
		record.Stage = types.StageDeepAnalyzing
		deepAttempted = true
		_, report, err := p.deps.Analyzer.Analyze(ctx, paperDir, record.PaperID, cfg.DeepAnalysisModel, record.PaperID)
		if err == nil {
			record.DeepReportMarkdown = report + analyze.Footer(record.PublishedDate)
			deepSucceeded = true
		}
		record.DeepAnalyzed = true
		record.DeepSuccess = deepSucceeded
	}

	record.Stage = types.StagePersist
	persisted, persistErr := p.persist(ctx, record, deepAttempted, deepSucceeded)
	record.Persisted = persisted
	record.Stage = types.StageTerminal
	record.Cleanup()

	return Outcome{
		PaperID:   record.PaperID,
		Stage:     types.StageTerminal,
		Persisted: persisted,
		Relevant:  true,
		Deep:      deepSucceeded,
		Err:       persistErr,
	}
}

// runOCR tries fast mode first, falling back to structured mode once on
// failure (spec §7's OCRFailed policy).
func (p *Pipeline) runOCR(pdfBytes []byte) (string, map[string][]byte, error) {
	text, _, err := p.deps.FastOCR.Extract(pdfBytes, ocr.DefaultMaxPages)
	if err == nil && text != "" {
		return text, nil, nil
	}

	if p.deps.StructOCR == nil {
		if err != nil {
			return "", nil, err
		}
		return "", nil, pipeline.Wrap(pipeline.OCRFailed, fmt.Errorf("fast OCR produced no text and no structured OCR backend is configured"))
	}

	result, structErr := p.deps.StructOCR.Extract(pdfBytes)
	if structErr != nil {
		if err != nil {
			return "", nil, err
		}
		return "", nil, structErr
	}
	if result.Markdown == "" {
		return "", nil, pipeline.Wrap(pipeline.OCRFailed, fmt.Errorf("structured OCR produced no text"))
	}
	return result.Markdown, result.Images, nil
}

// persist writes the final outcome to the store. A deep-analysis failure
// never blocks persistence (spec §4.7); a persist failure is recorded on
// the outcome but does not abort the caller's run.
func (p *Pipeline) persist(ctx context.Context, record types.PaperRecord, deepAttempted, deepSucceeded bool) (bool, error) {
	deepStatus := types.DeepAnalysisNone
	if deepAttempted {
		deepStatus = types.DeepAnalysisFailed
		if deepSucceeded {
			deepStatus = types.DeepAnalysisCompleted
		}
	}

	stored := types.StoredPaper{
		PaperID:               record.PaperID,
		Title:                 record.Title,
		Abstract:              record.Abstract,
		Categories:            record.Categories,
		Authors:               record.Authors,
		PublishedDate:         record.PublishedDate,
		PDFURL:                record.PDFURL,
		AbstractScore:         record.AbstractScore,
		AbstractJustification: record.AbstractJustification,
		FullScore:             record.FullScore,
		FullJustification:     record.FullJustification,
		ProcessingStatus:      types.ProcessingCompleted,
		DeepAnalysisStatus:    deepStatus,
	}

	created, err := p.deps.Persist.Create(ctx, stored)
	if err != nil {
		return false, pipeline.Wrap(pipeline.PersistFailed, err)
	}
	if !created {
		if err := p.deps.Persist.UpdateStatus(ctx, record.PaperID, stored.ProcessingStatus, deepStatus); err != nil {
			return false, pipeline.Wrap(pipeline.PersistFailed, err)
		}
		if deepSucceeded {
			if err := p.deps.Persist.SaveAnalysisResult(ctx, record.PaperID, record.DeepReportMarkdown); err != nil {
				return false, pipeline.Wrap(pipeline.PersistFailed, err)
			}
		}
		return false, nil
	}

	if deepSucceeded {
		if err := p.deps.Persist.SaveAnalysisResult(ctx, record.PaperID, record.DeepReportMarkdown); err != nil {
			return true, pipeline.Wrap(pipeline.PersistFailed, err)
		}
	}
	return true, nil
}

func cancelled(isCancelled func() bool) bool {
	return isCancelled != nil && isCancelled()
}
