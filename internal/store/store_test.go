// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/pdiddy/research-engine/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePaper(id string) types.StoredPaper {
	return types.StoredPaper{
		PaperID:            id,
		Title:              "Attention Is All You Need",
		Abstract:           "We propose a new architecture...",
		Categories:         []string{"cs.CL", "cs.LG"},
		Authors:            []string{"A. Vaswani"},
		PublishedDate:      time.Date(2017, 6, 12, 0, 0, 0, 0, time.UTC),
		PDFURL:             "https://arxiv.org/pdf/" + id,
		AbstractScore:      0.9,
		FullScore:          0.95,
		ProcessingStatus:   types.ProcessingCompleted,
		DeepAnalysisStatus: types.DeepAnalysisNone,
		TaskName:           "transformers-watch",
		TaskID:             "task-1",
		Metadata:           map[string]string{"source": "index"},
	}
}

func TestCreateAndGetByPaperID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, samplePaper("1706.03762"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !created {
		t.Fatal("Create() = false, want true on first insert")
	}

	got, err := s.GetByPaperID(ctx, "1706.03762")
	if err != nil {
		t.Fatalf("GetByPaperID() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByPaperID() = nil, want a record")
	}
	if got.Title != "Attention Is All You Need" {
		t.Errorf("Title = %q", got.Title)
	}
	if len(got.Categories) != 2 || got.Categories[0] != "cs.CL" {
		t.Errorf("Categories = %v", got.Categories)
	}
	if got.Metadata["source"] != "index" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	if !got.PublishedDate.Equal(time.Date(2017, 6, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PublishedDate = %v", got.PublishedDate)
	}
}

func TestGetByPaperIDMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetByPaperID(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetByPaperID() error = %v", err)
	}
	if got != nil {
		t.Errorf("GetByPaperID() = %+v, want nil", got)
	}
}

func TestCreateIsIdempotentUnderDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := samplePaper("dup.001")

	first, err := s.Create(ctx, p)
	if err != nil || !first {
		t.Fatalf("first Create() = %v, %v", first, err)
	}

	second, err := s.Create(ctx, p)
	if err != nil {
		t.Fatalf("second Create() error = %v", err)
	}
	if second {
		t.Error("second Create() = true, want false for a duplicate paper_id")
	}
}

func TestUpdateStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := samplePaper("2001.00001")
	p.ProcessingStatus = types.ProcessingPending
	if _, err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.UpdateStatus(ctx, p.PaperID, types.ProcessingCompleted, types.DeepAnalysisInProgress); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	got, err := s.GetByPaperID(ctx, p.PaperID)
	if err != nil {
		t.Fatalf("GetByPaperID() error = %v", err)
	}
	if got.ProcessingStatus != types.ProcessingCompleted {
		t.Errorf("ProcessingStatus = %q", got.ProcessingStatus)
	}
	if got.DeepAnalysisStatus != types.DeepAnalysisInProgress {
		t.Errorf("DeepAnalysisStatus = %q", got.DeepAnalysisStatus)
	}
}

func TestSaveAnalysisResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := samplePaper("2002.00002")
	if _, err := s.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.SaveAnalysisResult(ctx, p.PaperID, "# Deep Analysis\n\nfindings"); err != nil {
		t.Fatalf("SaveAnalysisResult() error = %v", err)
	}

	got, err := s.GetByPaperID(ctx, p.PaperID)
	if err != nil {
		t.Fatalf("GetByPaperID() error = %v", err)
	}
	if got.DeepAnalysisResult == "" {
		t.Error("DeepAnalysisResult is empty")
	}
	if got.DeepAnalysisStatus != types.DeepAnalysisCompleted {
		t.Errorf("DeepAnalysisStatus = %q", got.DeepAnalysisStatus)
	}
	if got.AnalyzedAt.IsZero() {
		t.Error("AnalyzedAt is zero")
	}
}

func TestListOrdersByUpdatedAtDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a.1", "a.2", "a.3"} {
		p := samplePaper(id)
		if _, err := s.Create(ctx, p); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
		// Force a distinct updated_at ordering for the last paper.
		if id == "a.3" {
			if err := s.UpdateStatus(ctx, id, types.ProcessingCompleted, ""); err != nil {
				t.Fatalf("UpdateStatus() error = %v", err)
			}
		}
	}

	papers, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(papers) != 3 {
		t.Fatalf("List() returned %d papers, want 3", len(papers))
	}
	if papers[0].PaperID != "a.3" {
		t.Errorf("List()[0].PaperID = %q, want a.3 (most recently updated)", papers[0].PaperID)
	}
}

func TestSearchMatchesTitleCaseInsensitively(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, samplePaper("s.1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	results, err := s.Search(ctx, "attention", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search() returned %d results, want 1", len(results))
	}

	none, err := s.Search(ctx, "quantum gravity", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Search() returned %d results, want 0", len(none))
	}
}

func TestDeleteRemovesPaper(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, samplePaper("del.1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.Delete(ctx, "del.1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := s.GetByPaperID(ctx, "del.1")
	if err != nil {
		t.Fatalf("GetByPaperID() error = %v", err)
	}
	if got != nil {
		t.Error("GetByPaperID() after Delete() = non-nil")
	}
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete(context.Background(), "never-existed"); err != nil {
		t.Errorf("Delete() error = %v, want nil", err)
	}
}

func TestBulkReassignTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := []string{"b.1", "b.2", "b.3"}
	for _, id := range ids {
		if _, err := s.Create(ctx, samplePaper(id)); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	if err := s.BulkReassignTask(ctx, ids, "renamed-task", "task-2"); err != nil {
		t.Fatalf("BulkReassignTask() error = %v", err)
	}

	for _, id := range ids {
		got, err := s.GetByPaperID(ctx, id)
		if err != nil {
			t.Fatalf("GetByPaperID(%s) error = %v", id, err)
		}
		if got.TaskName != "renamed-task" || got.TaskID != "task-2" {
			t.Errorf("paper %s: TaskName=%q TaskID=%q", id, got.TaskName, got.TaskID)
		}
	}
}

func TestBulkReassignTaskEmptyListIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.BulkReassignTask(context.Background(), nil, "x", "y"); err != nil {
		t.Errorf("BulkReassignTask(nil) error = %v, want nil", err)
	}
}
