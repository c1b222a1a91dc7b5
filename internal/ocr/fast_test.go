// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ocr

import (
	"strconv"
	"strings"
	"testing"

	"github.com/pdiddy/research-engine/internal/pipeline"
)

func fakeRunner(pageText map[string]string, infoOut string) cmdRunner {
	return func(name string, args ...string) ([]byte, error) {
		switch name {
		case "pdfinfo":
			return []byte(infoOut), nil
		case "pdftotext":
			// args: -f N -l N -layout <path> -
			page := args[1]
			if text, ok := pageText[page]; ok {
				return []byte(text), nil
			}
			return nil, errFakeEmptyPage
		}
		return nil, errFakeEmptyPage
	}
}

var errFakeEmptyPage = &fakeErr{"no text"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func TestFastExtractHappyPath(t *testing.T) {
	f := &FastExtractor{run: fakeRunner(map[string]string{
		"1": "Hello   world\npage one",
		"2": "Page two content",
	}, "Pages:          2\n")}

	text, status, err := f.Extract([]byte("%PDF-fake"), 25)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(text, "Hello world page one") {
		t.Errorf("text = %q, missing normalized page 1", text)
	}
	if status.ProcessedPages != 2 {
		t.Errorf("ProcessedPages = %d, want 2", status.ProcessedPages)
	}
	if status.TotalPages != 2 {
		t.Errorf("TotalPages = %d, want 2", status.TotalPages)
	}
	if status.IsOversized {
		t.Error("IsOversized = true, want false")
	}
	if status.Mode != ModeFast {
		t.Errorf("Mode = %q, want fast", status.Mode)
	}
}

func TestFastExtractSkipsFailedPages(t *testing.T) {
	f := &FastExtractor{run: fakeRunner(map[string]string{
		"2": "only page two worked",
	}, "Pages:          2\n")}

	text, status, err := f.Extract([]byte("%PDF-fake"), 25)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if status.ProcessedPages != 1 {
		t.Errorf("ProcessedPages = %d, want 1", status.ProcessedPages)
	}
	if !strings.Contains(text, "only page two worked") {
		t.Errorf("text = %q", text)
	}
}

func TestFastExtractZeroPagesFails(t *testing.T) {
	f := &FastExtractor{run: fakeRunner(map[string]string{}, "Pages:          1\n")}

	_, _, err := f.Extract([]byte("%PDF-fake"), 25)
	if pipeline.KindOf(err) != pipeline.OCRFailed {
		t.Errorf("KindOf(err) = %q, want %q", pipeline.KindOf(err), pipeline.OCRFailed)
	}
}

func TestFastExtractOversized(t *testing.T) {
	pages := map[string]string{}
	for i := 1; i <= DefaultMaxPages; i++ {
		pages[strconv.Itoa(i)] = "text"
	}
	f := &FastExtractor{run: fakeRunner(pages, "Pages:          100\n")}

	_, status, err := f.Extract([]byte("%PDF-fake"), DefaultMaxPages)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !status.IsOversized {
		t.Error("IsOversized = false, want true")
	}
	if status.ProcessedPages != DefaultMaxPages {
		t.Errorf("ProcessedPages = %d, want %d", status.ProcessedPages, DefaultMaxPages)
	}
}
