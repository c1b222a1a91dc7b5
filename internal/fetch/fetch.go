// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch implements the Fetcher (C3): downloads a paper's PDF bytes
// with resumable local caching, writing deterministically under
// dest_dir/<paper_id>/<paper_id>.pdf.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pdiddy/research-engine/internal/httputil"
	"github.com/pdiddy/research-engine/internal/pipeline"
	"github.com/pdiddy/research-engine/pkg/types"
)

// DefaultTimeout is the PDF fetch timeout (spec §5).
const DefaultTimeout = 120 * time.Second

// Fetcher downloads PDFs with deterministic, reusable local caching.
type Fetcher struct {
	Client *http.Client
}

// NewFetcher returns a Fetcher with DefaultTimeout applied.
func NewFetcher() *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: DefaultTimeout}}
}

// PaperPath returns the deterministic path a paper's PDF is stored at.
func PaperPath(destDir, paperID string) string {
	return filepath.Join(destDir, paperID, paperID+".pdf")
}

// Fetch streams the PDF at record.PDFURL to
// dest_dir/<paper_id>/<paper_id>.pdf and returns the bytes. If reuseExisting
// is set and the target file exists and is non-empty, it is read and
// returned without a network call. Failures are reported as
// *pipeline.StageError{Kind: FetchFailed}.
func (f *Fetcher) Fetch(ctx context.Context, record types.PaperRecord, destDir string, reuseExisting bool) ([]byte, error) {
	path := PaperPath(destDir, record.PaperID)

	if reuseExisting {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("reading cached PDF: %w", err))
			}
			return b, nil
		}
	}

	if record.PDFURL == "" {
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("record %s has no PDF URL", record.PaperID))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("creating directory: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, record.PDFURL, nil)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/pdf")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("HTTP request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("HTTP %d from %s", resp.StatusCode, record.PDFURL))
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".fetch-*.tmp")
	if err != nil {
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	n, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("writing download: %w", copyErr))
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("closing temp file: %w", closeErr))
	}
	if n == 0 {
		os.Remove(tmpPath)
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("empty download from %s", record.PDFURL))
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, pipeline.Wrap(pipeline.FetchFailed, fmt.Errorf("renaming download: %w", err))
	}

	return os.ReadFile(path)
}
