// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the shared data structures threaded through the
// gather/analyze pipeline: per-paper state (PaperRecord, StoredPaper), task
// configuration and its schema version (TaskConfig), and run history
// (TaskRunRecord).
package types

import (
	"fmt"
	"time"
)

// PipelineStage is the per-paper state in the gather/analyze pipeline.
// The orchestrator is the only writer of this field.
type PipelineStage string

const (
	StageNew             PipelineStage = "new"
	StageDedupe          PipelineStage = "dedupe"
	StageSkipped         PipelineStage = "skipped"
	StageAbstractScored  PipelineStage = "abstract_scored"
	StageFetching        PipelineStage = "fetching"
	StageOCRing          PipelineStage = "ocring"
	StageFullScored      PipelineStage = "full_scored"
	StageDeepAnalyzing   PipelineStage = "deep_analyzing"
	StagePersist         PipelineStage = "persist"
	StageDiscarded       PipelineStage = "discarded"
	StageTerminal        PipelineStage = "terminal"
)

// PaperRecord is the in-memory per-paper state carrier threaded through the
// pipeline. It is created by the index client from one index entry, mutated
// in place by the orchestrator, and freed at pipeline end after Cleanup.
type PaperRecord struct {
	// PaperID is the stable external identifier, derived from the index
	// entry's canonical URL. Required and unique across the store.
	PaperID string `json:"paper_id" yaml:"paper_id"`

	Title         string    `json:"title" yaml:"title"`
	Abstract      string    `json:"abstract" yaml:"abstract"`
	Categories    []string  `json:"categories" yaml:"categories"`
	Authors       []string  `json:"authors" yaml:"authors"`
	PublishedDate time.Time `json:"published_date" yaml:"published_date"`
	PDFURL        string    `json:"pdf_url" yaml:"pdf_url"`

	// PDFBytes is present only between fetch and OCR.
	PDFBytes []byte `json:"-" yaml:"-"`

	// OCRText is present only between OCR and deep analysis.
	OCRText string `json:"-" yaml:"-"`

	// OCRImages maps relative image path (e.g. "imgs/fig1.png") to blob,
	// present only between structured-mode OCR and deep analysis.
	OCRImages map[string][]byte `json:"-" yaml:"-"`

	AbstractScore         float64 `json:"abstract_score" yaml:"abstract_score"`
	AbstractJustification string  `json:"abstract_justification" yaml:"abstract_justification"`
	FullScore             float64 `json:"full_score" yaml:"full_score"`
	FullJustification     string  `json:"full_justification" yaml:"full_justification"`
	FinalScore            float64 `json:"final_score" yaml:"final_score"`
	FinalIsRelevant       bool    `json:"final_is_relevant" yaml:"final_is_relevant"`

	Persisted    bool `json:"persisted" yaml:"persisted"`
	FullAnalyzed bool `json:"full_analyzed" yaml:"full_analyzed"`
	DeepAnalyzed bool `json:"deep_analyzed" yaml:"deep_analyzed"`
	DeepSuccess  bool `json:"deep_success" yaml:"deep_success"`

	// DeepReportMarkdown is the long-form analysis artifact, present only
	// once the deep-analysis stage has produced a result.
	DeepReportMarkdown string `json:"-" yaml:"-"`

	Stage PipelineStage `json:"stage" yaml:"stage"`
}

// Cleanup nulls the heavy, optional buffers (pdf_bytes, ocr_text, ocr_images,
// deep_report_markdown); the orchestrator calls it only after the deep report
// has been persisted. Bibliographic and scoring fields are left intact so the
// run summary can still report on the record afterward.
func (p *PaperRecord) Cleanup() {
	p.PDFBytes = nil
	p.OCRText = ""
	p.OCRImages = nil
	p.DeepReportMarkdown = ""
}

// SearchModeKind is the closed set of index query modes.
type SearchModeKind string

const (
	ModeLatest          SearchModeKind = "latest"
	ModeMostRelevant     SearchModeKind = "most_relevant"
	ModeRecentlyUpdated  SearchModeKind = "recently_updated"
	ModeDateRange        SearchModeKind = "date_range"
	ModeAfterYear        SearchModeKind = "after_year"
)

// SearchMode is a closed tagged variant selecting how the index client
// queries and orders results. Only the fields relevant to Kind are
// meaningful; use the constructors below rather than building one by hand.
type SearchMode struct {
	Kind SearchModeKind `json:"kind" yaml:"kind"`

	// StartYear, EndYear apply only when Kind == ModeDateRange.
	StartYear int `json:"start_year,omitempty" yaml:"start_year,omitempty"`
	EndYear   int `json:"end_year,omitempty" yaml:"end_year,omitempty"`

	// Year applies only when Kind == ModeAfterYear.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`
}

func NewLatestMode() SearchMode         { return SearchMode{Kind: ModeLatest} }
func NewMostRelevantMode() SearchMode    { return SearchMode{Kind: ModeMostRelevant} }
func NewRecentlyUpdatedMode() SearchMode { return SearchMode{Kind: ModeRecentlyUpdated} }

func NewDateRangeMode(startYear, endYear int) SearchMode {
	return SearchMode{Kind: ModeDateRange, StartYear: startYear, EndYear: endYear}
}

func NewAfterYearMode(year int) SearchMode {
	return SearchMode{Kind: ModeAfterYear, Year: year}
}

// Validate rejects the "DATE_RANGE mode but start_year is null" class of bug
// by construction: a DateRange/AfterYear mode with a zero payload is invalid.
func (m SearchMode) Validate() error {
	switch m.Kind {
	case ModeLatest, ModeMostRelevant, ModeRecentlyUpdated:
		return nil
	case ModeDateRange:
		if m.StartYear == 0 || m.EndYear == 0 {
			return fmt.Errorf("search mode %q requires start_year and end_year", m.Kind)
		}
		if m.StartYear > m.EndYear {
			return fmt.Errorf("search mode %q: start_year %d after end_year %d", m.Kind, m.StartYear, m.EndYear)
		}
		return nil
	case ModeAfterYear:
		if m.Year == 0 {
			return fmt.Errorf("search mode %q requires year", m.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown search mode %q", m.Kind)
	}
}

// TaskConfig is immutable for the duration of one run. It is constructed by
// the control API or loaded from the history store, upgraded through the
// config versioner, and passed by value into a scheduled run.
type TaskConfig struct {
	TaskID   string `json:"task_id" yaml:"task_id"`
	TaskName string `json:"task_name" yaml:"task_name"`

	IntervalSeconds  int    `json:"interval_seconds" yaml:"interval_seconds"`
	SearchQuery      string `json:"search_query" yaml:"search_query"`
	MaxHitsPerSearch int    `json:"max_hits_per_search" yaml:"max_hits_per_search"`
	RequirementsText string `json:"requirements_text" yaml:"requirements_text"`

	AbstractAnalysisModel  string `json:"abstract_analysis_model" yaml:"abstract_analysis_model"`
	FullPaperAnalysisModel string `json:"full_paper_analysis_model" yaml:"full_paper_analysis_model"`
	DeepAnalysisModel      string `json:"deep_analysis_model" yaml:"deep_analysis_model"`
	VisionModel            string `json:"vision_model" yaml:"vision_model"`

	PersistThreshold   float64 `json:"persist_threshold" yaml:"persist_threshold"`
	DeepThreshold      float64 `json:"deep_threshold" yaml:"deep_threshold"`
	EnableDeepAnalysis bool    `json:"enable_deep_analysis" yaml:"enable_deep_analysis"`
	OCRCharLimit       int     `json:"ocr_char_limit" yaml:"ocr_char_limit"`

	SearchMode SearchMode `json:"search_mode" yaml:"search_mode"`

	// Version is the config schema version tag, managed by the config versioner.
	Version string `json:"version" yaml:"version"`
}

// Validate asserts the fields the config versioner requires to be non-empty
// after upgrade (spec's required-fields check). It does not re-run the
// upgrade path itself.
func (c TaskConfig) Validate() error {
	if c.SearchQuery == "" {
		return fmt.Errorf("search_query is required")
	}
	if c.RequirementsText == "" {
		return fmt.Errorf("requirements_text is required")
	}
	if c.AbstractAnalysisModel == "" || c.FullPaperAnalysisModel == "" || c.DeepAnalysisModel == "" {
		return fmt.Errorf("abstract/full/deep model selectors are required")
	}
	return c.SearchMode.Validate()
}

// RunStatus is the terminal (or in-progress) state of one task run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	RunRunning   RunStatus = "running"
)

// TaskRunRecord is created when a run starts, sealed when the run ends, and
// appended to the month-shard journal.
type TaskRunRecord struct {
	TaskID string     `json:"task_id" yaml:"task_id"`
	RunID  string     `json:"run_id" yaml:"run_id"`
	Config TaskConfig `json:"config" yaml:"config"`

	Total       int `json:"total" yaml:"total"`
	Relevant    int `json:"relevant" yaml:"relevant"`
	Persisted   int `json:"persisted" yaml:"persisted"`
	DeepAnalyzed int `json:"deep_analyzed" yaml:"deep_analyzed"`

	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	EndedAt   time.Time `json:"ended_at" yaml:"ended_at"`

	Status RunStatus `json:"status" yaml:"status"`
	Error  string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunSummary accumulates the per-paper outcomes of one task run; the
// scheduler copies its TotalSeen, Relevant, Persisted and DeepAnalyzed
// counters onto the journaled TaskRunRecord.
type RunSummary struct {
	TotalSeen    int `json:"total_seen"`
	Relevant     int `json:"relevant"`
	Persisted    int `json:"persisted"`
	DeepAnalyzed int `json:"deep_analyzed"`
	Errors       int `json:"errors"`
}

// ProcessingStatus is the persisted, store-visible lifecycle status of a
// StoredPaper, distinct from the in-memory PipelineStage.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
	ProcessingCancelled  ProcessingStatus = "cancelled"
)

// DeepAnalysisStatus is the persisted status of the deep-analysis stage.
type DeepAnalysisStatus string

const (
	DeepAnalysisNone       DeepAnalysisStatus = "none"
	DeepAnalysisInProgress DeepAnalysisStatus = "processing"
	DeepAnalysisCompleted  DeepAnalysisStatus = "completed"
	DeepAnalysisFailed     DeepAnalysisStatus = "failed"
)

// StoredPaper is the persistent projection of a PaperRecord, deduped by
// PaperID in the Paper Store.
type StoredPaper struct {
	PaperID       string    `json:"paper_id" yaml:"paper_id"`
	Title         string    `json:"title" yaml:"title"`
	Abstract      string    `json:"abstract" yaml:"abstract"`
	Categories    []string  `json:"categories" yaml:"categories"`
	Authors       []string  `json:"authors" yaml:"authors"`
	PublishedDate time.Time `json:"published_date" yaml:"published_date"`
	PDFURL        string    `json:"pdf_url" yaml:"pdf_url"`

	AbstractScore         float64 `json:"abstract_score" yaml:"abstract_score"`
	AbstractJustification string  `json:"abstract_justification" yaml:"abstract_justification"`
	FullScore             float64 `json:"full_score" yaml:"full_score"`
	FullJustification     string  `json:"full_justification" yaml:"full_justification"`

	ProcessingStatus   ProcessingStatus   `json:"processing_status" yaml:"processing_status"`
	DeepAnalysisStatus DeepAnalysisStatus `json:"deep_analysis_status" yaml:"deep_analysis_status"`
	DeepAnalysisResult string             `json:"deep_analysis_result,omitempty" yaml:"deep_analysis_result,omitempty"`

	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
	AnalyzedAt time.Time `json:"analyzed_at,omitempty" yaml:"analyzed_at,omitempty"`

	TaskName string            `json:"task_name" yaml:"task_name"`
	TaskID   string            `json:"task_id" yaml:"task_id"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// ExternalKBID links this paper to an entry in an external knowledge
	// base, if one has been exported. Empty means not yet exported.
	ExternalKBID string `json:"external_kb_id,omitempty" yaml:"external_kb_id,omitempty"`
}
