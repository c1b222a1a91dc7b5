// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ocr

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/pdiddy/research-engine/internal/container"
	"github.com/pdiddy/research-engine/internal/pipeline"
)

// imageStructuredOCR is the container image that performs structured
// extraction.
const imageStructuredOCR = "paddleocr:latest"

// StructuredExtractor runs a PDF through a container image that emits a tar
// stream contract: "manifest.txt" (two lines: total_pages, processed_pages),
// "document.md" (the markdown body, with imgs/<name> references), and
// "imgs/<name>" entries for each referenced image.
type StructuredExtractor struct {
	runtime container.Runtime
}

// NewStructuredExtractor verifies the structured-OCR image exists before returning.
func NewStructuredExtractor(rt container.Runtime) (*StructuredExtractor, error) {
	if err := rt.ImageExists(imageStructuredOCR); err != nil {
		return nil, fmt.Errorf("structured OCR image not available in %s: %w", rt.Name(), err)
	}
	return &StructuredExtractor{runtime: rt}, nil
}

// Result is the structured-mode output: markdown text plus a map from
// relative image path (e.g. "imgs/fig1.png") to image blob.
type Result struct {
	Markdown string
	Images   map[string][]byte
	Status   StatusInfo
}

// Extract pipes pdfBytes through the structured-OCR container and unpacks
// its tar-stream response.
func (s *StructuredExtractor) Extract(pdfBytes []byte) (Result, error) {
	var out bytes.Buffer
	if err := s.runtime.Run(imageStructuredOCR, bytes.NewReader(pdfBytes), &out); err != nil {
		return Result{}, pipeline.Wrap(pipeline.OCRFailed, fmt.Errorf("running structured OCR: %w", err))
	}

	markdown, images, totalPages, processedPages, err := unpackTar(out.Bytes())
	if err != nil {
		return Result{}, pipeline.Wrap(pipeline.OCRFailed, err)
	}
	if strings.TrimSpace(markdown) == "" {
		return Result{}, pipeline.Wrap(pipeline.OCRFailed, errZeroPages(ModeStructured))
	}

	return Result{
		Markdown: markdown,
		Images:   images,
		Status:   statusInfo(ModeStructured, totalPages, processedPages, markdown),
	}, nil
}

func unpackTar(data []byte) (markdown string, images map[string][]byte, totalPages, processedPages int, err error) {
	images = make(map[string][]byte)
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, 0, 0, fmt.Errorf("reading structured OCR output: %w", err)
		}

		content, readErr := io.ReadAll(tr)
		if readErr != nil {
			return "", nil, 0, 0, fmt.Errorf("reading entry %s: %w", hdr.Name, readErr)
		}

		switch {
		case hdr.Name == "document.md":
			markdown = string(content)
		case hdr.Name == "manifest.txt":
			totalPages, processedPages = parseManifest(content)
		case strings.HasPrefix(hdr.Name, "imgs/"):
			images[path.Clean(hdr.Name)] = content
		}
	}
	return markdown, images, totalPages, processedPages, nil
}

func parseManifest(content []byte) (total, processed int) {
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) > 0 {
		total, _ = strconv.Atoi(strings.TrimSpace(lines[0]))
	}
	if len(lines) > 1 {
		processed, _ = strconv.Atoi(strings.TrimSpace(lines[1]))
	}
	return total, processed
}
