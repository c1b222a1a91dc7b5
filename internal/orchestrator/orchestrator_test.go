// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pdiddy/research-engine/internal/analyze"
	"github.com/pdiddy/research-engine/internal/ocr"
	"github.com/pdiddy/research-engine/internal/score"
	"github.com/pdiddy/research-engine/pkg/types"
)

type fakeStore struct {
	existing map[string]types.StoredPaper
	created  map[string]types.StoredPaper
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: map[string]types.StoredPaper{}, created: map[string]types.StoredPaper{}}
}

func (f *fakeStore) GetByPaperID(ctx context.Context, paperID string) (*types.StoredPaper, error) {
	if p, ok := f.existing[paperID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (f *fakeStore) Create(ctx context.Context, p types.StoredPaper) (bool, error) {
	if _, ok := f.created[p.PaperID]; ok {
		return false, nil
	}
	f.created[p.PaperID] = p
	return true, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, paperID string, processing types.ProcessingStatus, deep types.DeepAnalysisStatus) error {
	p := f.created[paperID]
	p.ProcessingStatus = processing
	if deep != "" {
		p.DeepAnalysisStatus = deep
	}
	f.created[paperID] = p
	return nil
}

func (f *fakeStore) SaveAnalysisResult(ctx context.Context, paperID, markdown string) error {
	p := f.created[paperID]
	p.DeepAnalysisResult = markdown
	p.DeepAnalysisStatus = types.DeepAnalysisCompleted
	f.created[paperID] = p
	return nil
}

type fakeScorer struct {
	abstract score.Verdict
	full     score.Verdict
	abstractErr error
	fullErr     error
}

func (f *fakeScorer) ScoreAbstract(ctx context.Context, model, text, requirements string) (score.Verdict, error) {
	return f.abstract, f.abstractErr
}

func (f *fakeScorer) ScoreFull(ctx context.Context, model, text, requirements string) (score.Verdict, error) {
	return f.full, f.fullErr
}

type fakeFetcher struct {
	bytes []byte
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, record types.PaperRecord, destDir string, reuseExisting bool) ([]byte, error) {
	return f.bytes, f.err
}

type fakeFastOCR struct {
	text string
	err  error
}

func (f *fakeFastOCR) Extract(pdfBytes []byte, maxPages int) (string, ocr.StatusInfo, error) {
	return f.text, ocr.StatusInfo{}, f.err
}

type fakeStructOCR struct {
	result ocr.Result
	err    error
}

func (f *fakeStructOCR) Extract(pdfBytes []byte) (ocr.Result, error) {
	return f.result, f.err
}

type fakeAnalyzer struct {
	report string
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, paperDir, paperID, model, threadID string) (analyze.StructuredResult, string, error) {
	return analyze.StructuredResult{}, f.report, f.err
}

func baseConfig() types.TaskConfig {
	return types.TaskConfig{
		SearchQuery:            "transformers",
		RequirementsText:       "relevant to attention mechanisms",
		AbstractAnalysisModel:  "claude-x",
		FullPaperAnalysisModel: "claude-x",
		DeepAnalysisModel:      "claude-x",
		PersistThreshold:       0.7,
		DeepThreshold:          0.8,
		EnableDeepAnalysis:     true,
	}
}

func baseRecord() types.PaperRecord {
	return types.PaperRecord{
		PaperID:  "2401.00001",
		Title:    "A Paper",
		Abstract: "An abstract.",
		PDFURL:   "https://example.org/2401.00001.pdf",
	}
}

func newTestPipeline(store *fakeStore, scorer *fakeScorer, fetcher *fakeFetcher, fastOCR *fakeFastOCR, structOCR *fakeStructOCR, analyzer *fakeAnalyzer) *Pipeline {
	return New(Dependencies{
		Store:     store,
		Persist:   store,
		Scorer:    scorer,
		Fetcher:   fetcher,
		FastOCR:   fastOCR,
		StructOCR: structOCR,
		Analyzer:  analyzer,
		PaperDir:  func(paperID string) string { return filepath.Join("/tmp/papers", paperID) },
	})
}

func TestHappyPathPersistAndDeep(t *testing.T) {
	store := newFakeStore()
	scorer := &fakeScorer{
		abstract: score.Verdict{IsRelevant: true, Score: 0.85, Justification: "on topic"},
		full:     score.Verdict{IsRelevant: true, Score: 0.90, Justification: "strong match"},
	}
	fetcher := &fakeFetcher{bytes: []byte("%PDF-fake")}
	fastOCR := &fakeFastOCR{text: "full paper text"}
	analyzer := &fakeAnalyzer{report: "# Analysis\n\nfindings"}

	p := newTestPipeline(store, scorer, fetcher, fastOCR, &fakeStructOCR{}, analyzer)
	outcome := p.Run(context.Background(), baseRecord(), baseConfig(), nil)

	if outcome.Err != nil {
		t.Fatalf("Run() error = %v", outcome.Err)
	}
	if !outcome.Persisted || !outcome.Relevant || !outcome.Deep {
		t.Errorf("outcome = %+v, want persisted+relevant+deep", outcome)
	}
	stored := store.created["2401.00001"]
	if stored.ProcessingStatus != types.ProcessingCompleted {
		t.Errorf("ProcessingStatus = %q", stored.ProcessingStatus)
	}
	if stored.DeepAnalysisStatus != types.DeepAnalysisCompleted {
		t.Errorf("DeepAnalysisStatus = %q", stored.DeepAnalysisStatus)
	}
}

func TestAbstractFiltersOut(t *testing.T) {
	store := newFakeStore()
	scorer := &fakeScorer{abstract: score.Verdict{IsRelevant: false, Score: 0.2, Justification: "off topic"}}
	fetcher := &fakeFetcher{}

	p := newTestPipeline(store, scorer, fetcher, &fakeFastOCR{}, &fakeStructOCR{}, &fakeAnalyzer{})
	outcome := p.Run(context.Background(), baseRecord(), baseConfig(), nil)

	if outcome.Persisted {
		t.Error("outcome.Persisted = true, want false")
	}
	if outcome.Stage != types.StageDiscarded {
		t.Errorf("Stage = %q, want discarded", outcome.Stage)
	}
	if len(store.created) != 0 {
		t.Error("paper was persisted despite a filtered-out abstract")
	}
}

func TestFullTextDemotes(t *testing.T) {
	store := newFakeStore()
	scorer := &fakeScorer{
		abstract: score.Verdict{IsRelevant: true, Score: 0.85, Justification: "on topic"},
		full:     score.Verdict{IsRelevant: false, Score: 0.4, Justification: "weaker than abstract suggested"},
	}
	fetcher := &fakeFetcher{bytes: []byte("%PDF-fake")}
	fastOCR := &fakeFastOCR{text: "full paper text"}

	p := newTestPipeline(store, scorer, fetcher, fastOCR, &fakeStructOCR{}, &fakeAnalyzer{})
	outcome := p.Run(context.Background(), baseRecord(), baseConfig(), nil)

	if outcome.Persisted {
		t.Error("outcome.Persisted = true, want false")
	}
	if len(store.created) != 0 {
		t.Error("paper was persisted despite a demoting full-text score")
	}
}

func TestDeepAnalysisFailsPaperStillPersisted(t *testing.T) {
	store := newFakeStore()
	scorer := &fakeScorer{
		abstract: score.Verdict{IsRelevant: true, Score: 0.9, Justification: "on topic"},
		full:     score.Verdict{IsRelevant: true, Score: 0.9, Justification: "strong"},
	}
	fetcher := &fakeFetcher{bytes: []byte("%PDF-fake")}
	fastOCR := &fakeFastOCR{text: "full paper text"}
	analyzer := &fakeAnalyzer{err: errors.New("agent crashed")}

	p := newTestPipeline(store, scorer, fetcher, fastOCR, &fakeStructOCR{}, analyzer)
	outcome := p.Run(context.Background(), baseRecord(), baseConfig(), nil)

	if !outcome.Persisted {
		t.Error("outcome.Persisted = false, want true")
	}
	if outcome.Deep {
		t.Error("outcome.Deep = true, want false")
	}
	stored := store.created["2401.00001"]
	if stored.ProcessingStatus != types.ProcessingCompleted {
		t.Errorf("ProcessingStatus = %q", stored.ProcessingStatus)
	}
	if stored.DeepAnalysisStatus != types.DeepAnalysisFailed {
		t.Errorf("DeepAnalysisStatus = %q, want failed", stored.DeepAnalysisStatus)
	}
}

func TestAlreadyStoredPaperIsSkipped(t *testing.T) {
	store := newFakeStore()
	store.existing["X"] = types.StoredPaper{PaperID: "X"}
	scorer := &fakeScorer{}

	record := baseRecord()
	record.PaperID = "X"

	p := newTestPipeline(store, scorer, &fakeFetcher{}, &fakeFastOCR{}, &fakeStructOCR{}, &fakeAnalyzer{})
	outcome := p.Run(context.Background(), record, baseConfig(), nil)

	if outcome.Stage != types.StageSkipped {
		t.Errorf("Stage = %q, want skipped", outcome.Stage)
	}
	if outcome.Persisted || outcome.Relevant {
		t.Error("dedupe hit must not count as relevant or persisted")
	}
	if len(store.created) != 0 {
		t.Error("no new store write expected on dedupe hit")
	}
}

func TestCancellationBeforeFetchStopsShortOfPersist(t *testing.T) {
	store := newFakeStore()
	scorer := &fakeScorer{abstract: score.Verdict{IsRelevant: true, Score: 0.85, Justification: "on topic"}}

	cancelAfterAbstract := false
	isCancelled := func() bool { return cancelAfterAbstract }

	p := newTestPipeline(store, scorer, &fakeFetcher{bytes: []byte("x")}, &fakeFastOCR{text: "t"}, &fakeStructOCR{}, &fakeAnalyzer{})

	// Simulate cancellation arriving after the abstract score but before fetch
	// by flipping the flag inside a wrapped scorer call.
	wrappedScorer := &fakeScorer{abstract: scorer.abstract}
	p.deps.Scorer = scoreThenCancel{wrappedScorer, func() { cancelAfterAbstract = true }}

	outcome := p.Run(context.Background(), baseRecord(), baseConfig(), isCancelled)
	if outcome.Err == nil {
		t.Fatal("Run() error = nil, want a cancellation error")
	}
	if outcome.Persisted {
		t.Error("outcome.Persisted = true, want false after cancellation")
	}
}

type scoreThenCancel struct {
	*fakeScorer
	cancel func()
}

func (s scoreThenCancel) ScoreAbstract(ctx context.Context, model, text, requirements string) (score.Verdict, error) {
	v, err := s.fakeScorer.ScoreAbstract(ctx, model, text, requirements)
	s.cancel()
	return v, err
}

func TestOCRFailureFallsBackToStructuredMode(t *testing.T) {
	store := newFakeStore()
	scorer := &fakeScorer{
		abstract: score.Verdict{IsRelevant: true, Score: 0.85, Justification: "on topic"},
		full:     score.Verdict{IsRelevant: true, Score: 0.9, Justification: "strong"},
	}
	fetcher := &fakeFetcher{bytes: []byte("%PDF-fake")}
	fastOCR := &fakeFastOCR{err: errors.New("pdftotext failed")}
	structOCR := &fakeStructOCR{result: ocr.Result{Markdown: "structured text", Images: map[string][]byte{"imgs/fig1.png": []byte("x")}}}

	cfg := baseConfig()
	cfg.EnableDeepAnalysis = false

	p := newTestPipeline(store, scorer, fetcher, fastOCR, structOCR, &fakeAnalyzer{})
	outcome := p.Run(context.Background(), baseRecord(), cfg, nil)

	if outcome.Err != nil {
		t.Fatalf("Run() error = %v", outcome.Err)
	}
	if !outcome.Persisted {
		t.Error("outcome.Persisted = false, want true via structured-mode fallback")
	}
}

func TestOCRFailsBothModesDiscardsRecord(t *testing.T) {
	store := newFakeStore()
	scorer := &fakeScorer{abstract: score.Verdict{IsRelevant: true, Score: 0.85, Justification: "on topic"}}
	fetcher := &fakeFetcher{bytes: []byte("%PDF-fake")}
	fastOCR := &fakeFastOCR{err: errors.New("pdftotext failed")}
	structOCR := &fakeStructOCR{err: errors.New("container unavailable")}

	p := newTestPipeline(store, scorer, fetcher, fastOCR, structOCR, &fakeAnalyzer{})
	outcome := p.Run(context.Background(), baseRecord(), baseConfig(), nil)

	if outcome.Persisted {
		t.Error("outcome.Persisted = true, want false")
	}
	if outcome.Stage != types.StageDiscarded {
		t.Errorf("Stage = %q, want discarded", outcome.Stage)
	}
}

func TestDeepAnalysisSkippedBelowThreshold(t *testing.T) {
	store := newFakeStore()
	scorer := &fakeScorer{
		abstract: score.Verdict{IsRelevant: true, Score: 0.85, Justification: "on topic"},
		full:     score.Verdict{IsRelevant: true, Score: 0.75, Justification: "borderline"},
	}
	fetcher := &fakeFetcher{bytes: []byte("%PDF-fake")}
	fastOCR := &fakeFastOCR{text: "full text"}
	analyzer := &fakeAnalyzer{report: "should not be called"}

	cfg := baseConfig() // deep_threshold = 0.8, full score 0.75 stays below it
	p := newTestPipeline(store, scorer, fetcher, fastOCR, &fakeStructOCR{}, analyzer)
	outcome := p.Run(context.Background(), baseRecord(), cfg, nil)

	if !outcome.Persisted {
		t.Error("outcome.Persisted = false, want true (full score clears persist_threshold)")
	}
	if outcome.Deep {
		t.Error("outcome.Deep = true, want false (full score below deep_threshold)")
	}
	stored := store.created["2401.00001"]
	if stored.DeepAnalysisStatus != types.DeepAnalysisNone {
		t.Errorf("DeepAnalysisStatus = %q, want none", stored.DeepAnalysisStatus)
	}
}

func TestReanalysisOfExistingPaperUpdatesStatusAndSavesReport(t *testing.T) {
	store := newFakeStore()
	store.created["2401.00001"] = types.StoredPaper{PaperID: "2401.00001", ProcessingStatus: types.ProcessingCompleted, DeepAnalysisStatus: types.DeepAnalysisNone}
	scorer := &fakeScorer{full: score.Verdict{IsRelevant: true, Score: 0.95, Justification: "strong"}}
	fetcher := &fakeFetcher{bytes: []byte("%PDF-fake")}
	fastOCR := &fakeFastOCR{text: "full paper text"}
	analyzer := &fakeAnalyzer{report: "# Analysis\n\nfindings"}

	p := newTestPipeline(store, scorer, fetcher, fastOCR, &fakeStructOCR{}, analyzer)
	outcome := p.RunFromFetch(context.Background(), baseRecord(), baseConfig(), nil)

	if outcome.Err != nil {
		t.Fatalf("RunFromFetch() error = %v", outcome.Err)
	}
	if outcome.Persisted {
		t.Error("outcome.Persisted = true, want false: Create() reported the paper already exists")
	}
	if !outcome.Deep {
		t.Error("outcome.Deep = false, want true")
	}
	stored := store.created["2401.00001"]
	if stored.DeepAnalysisStatus != types.DeepAnalysisCompleted {
		t.Errorf("DeepAnalysisStatus = %q, want completed", stored.DeepAnalysisStatus)
	}
	if stored.DeepAnalysisResult == "" {
		t.Error("re-analysis report was not saved to the existing paper record")
	}
}

func TestTerminalPathPersistsWithDeepAnalysisDisabled(t *testing.T) {
	store := newFakeStore()
	scorer := &fakeScorer{
		abstract: score.Verdict{IsRelevant: true, Score: 0.85, Justification: "on topic"},
		full:     score.Verdict{IsRelevant: true, Score: 0.9, Justification: "strong"},
	}
	fetcher := &fakeFetcher{bytes: []byte("%PDF-fake")}
	fastOCR := &fakeFastOCR{text: "full text"}

	cfg := baseConfig()
	cfg.EnableDeepAnalysis = false

	p := newTestPipeline(store, scorer, fetcher, fastOCR, &fakeStructOCR{}, &fakeAnalyzer{})

	record := baseRecord()
	outcome := p.Run(context.Background(), record, cfg, nil)
	if !outcome.Persisted {
		t.Fatal("expected persistence for this scenario")
	}
	// Run operates on a local copy of record and Outcome does not carry the
	// heavy buffers, so their cleanup is not observable from this test.
}
