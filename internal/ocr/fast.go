// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ocr

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pdiddy/research-engine/internal/pipeline"
)

// cmdRunner abstracts external command execution for testing, mirroring
// internal/container's executor seam.
type cmdRunner func(name string, args ...string) ([]byte, error)

func osRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// FastExtractor extracts concatenated page text from the first maxPages
// pages of a PDF via pdfinfo/pdftotext (poppler-utils).
type FastExtractor struct {
	run cmdRunner
}

// NewFastExtractor returns a FastExtractor backed by the real pdfinfo/pdftotext binaries.
func NewFastExtractor() *FastExtractor {
	return &FastExtractor{run: osRunner}
}

var pagesRe = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

// Extract returns normalized page text for up to maxPages pages of pdfBytes.
// Page-level failures are not fatal; only a zero-pages-processed outcome
// fails with *pipeline.StageError{Kind: OCRFailed}.
func (f *FastExtractor) Extract(pdfBytes []byte, maxPages int) (string, StatusInfo, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	tmpDir, err := os.MkdirTemp("", "ocr-fast-*")
	if err != nil {
		return "", StatusInfo{}, pipeline.Wrap(pipeline.OCRFailed, err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(pdfPath, pdfBytes, 0o644); err != nil {
		return "", StatusInfo{}, pipeline.Wrap(pipeline.OCRFailed, err)
	}

	totalPages := f.totalPages(pdfPath)

	lastPage := maxPages
	if totalPages > 0 && totalPages < lastPage {
		lastPage = totalPages
	}

	var buf bytes.Buffer
	processed := 0
	for page := 1; page <= lastPage; page++ {
		out, err := f.run("pdftotext", "-f", strconv.Itoa(page), "-l", strconv.Itoa(page), "-layout", pdfPath, "-")
		if err != nil {
			// A single page's failure is not fatal (spec §4.3).
			continue
		}
		text := normalizeWhitespace(string(out))
		if text == "" {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
		processed++
	}

	if processed == 0 {
		return "", StatusInfo{}, pipeline.Wrap(pipeline.OCRFailed, errZeroPages(ModeFast))
	}

	text := buf.String()
	return text, statusInfo(ModeFast, totalPages, processed, text), nil
}

func (f *FastExtractor) totalPages(pdfPath string) int {
	out, err := f.run("pdfinfo", pdfPath)
	if err != nil {
		return 0
	}
	m := pagesRe.FindSubmatch(out)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0
	}
	return n
}
