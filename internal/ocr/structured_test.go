// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ocr

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/pdiddy/research-engine/internal/pipeline"
)

type fakeRuntime struct {
	imageOK bool
	tarData []byte
	runErr  error
}

func (f *fakeRuntime) Name() string     { return "fake" }
func (f *fakeRuntime) Available() bool  { return true }
func (f *fakeRuntime) ImageExists(image string) error {
	if f.imageOK {
		return nil
	}
	return io.ErrUnexpectedEOF
}
func (f *fakeRuntime) Run(image string, stdin io.Reader, stdout io.Writer) error {
	if f.runErr != nil {
		return f.runErr
	}
	_, err := stdout.Write(f.tarData)
	return err
}

func buildTar(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStructuredExtractHappyPath(t *testing.T) {
	tarData := buildTar(t, map[string]string{
		"manifest.txt":  "10\n8\n",
		"document.md":   "# Title\n\n![fig](imgs/fig1.png)\n",
		"imgs/fig1.png": "binary-image-data",
	})
	rt := &fakeRuntime{imageOK: true, tarData: tarData}

	se, err := NewStructuredExtractor(rt)
	if err != nil {
		t.Fatalf("NewStructuredExtractor() error = %v", err)
	}

	result, err := se.Extract([]byte("%PDF-fake"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Markdown == "" {
		t.Error("Markdown is empty")
	}
	if len(result.Images) != 1 {
		t.Fatalf("len(Images) = %d, want 1", len(result.Images))
	}
	if _, ok := result.Images["imgs/fig1.png"]; !ok {
		t.Errorf("Images = %v, missing imgs/fig1.png", result.Images)
	}
	if result.Status.TotalPages != 10 || result.Status.ProcessedPages != 8 {
		t.Errorf("Status = %+v", result.Status)
	}
}

func TestStructuredExtractEmptyMarkdownFails(t *testing.T) {
	tarData := buildTar(t, map[string]string{"manifest.txt": "1\n1\n"})
	rt := &fakeRuntime{imageOK: true, tarData: tarData}
	se, _ := NewStructuredExtractor(rt)

	_, err := se.Extract([]byte("%PDF-fake"))
	if pipeline.KindOf(err) != pipeline.OCRFailed {
		t.Errorf("KindOf(err) = %q, want %q", pipeline.KindOf(err), pipeline.OCRFailed)
	}
}

func TestNewStructuredExtractorMissingImage(t *testing.T) {
	rt := &fakeRuntime{imageOK: false}
	_, err := NewStructuredExtractor(rt)
	if err == nil {
		t.Fatal("NewStructuredExtractor() error = nil, want error")
	}
}
