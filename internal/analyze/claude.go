// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package analyze

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

const analysisPrompt = `You are a research analyst. Read the attached paper (Markdown text and any figures) and produce a long-form analysis covering: motivation, method, key results, and limitations. Respond with Markdown only, no preamble.

Paper:
`

// ClaudeBackend drives the deep-analysis agent workflow via the Claude
// Messages API, attaching each OCR image as a base64 image content block.
type ClaudeBackend struct {
	APIKey string
	Client *http.Client
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *claudeImgSource `json:"source,omitempty"`
}

type claudeImgSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Analyze implements Backend. threadID is accepted for interface
// compatibility with multi-turn agent runtimes but this single-turn
// implementation does not maintain conversation state across calls.
func (c *ClaudeBackend) Analyze(ctx context.Context, model, markdown string, images map[string][]byte, threadID string) (StructuredResult, string, error) {
	blocks := []claudeBlock{{Type: "text", Text: analysisPrompt + markdown}}
	for name, data := range images {
		blocks = append(blocks, claudeBlock{
			Type: "image",
			Source: &claudeImgSource{
				Type:      "base64",
				MediaType: mediaTypeFor(name),
				Data:      base64.StdEncoding.EncodeToString(data),
			},
		})
	}

	reqBody := claudeRequest{
		Model:     model,
		MaxTokens: 8192,
		Messages:  []claudeMessage{{Role: "user", Content: blocks}},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return StructuredResult{}, "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return StructuredResult{}, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return StructuredResult{}, "", fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return StructuredResult{}, "", fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return StructuredResult{}, "", fmt.Errorf("decoding Claude response: %w", err)
	}

	var report strings.Builder
	for _, block := range cResp.Content {
		if block.Type == "text" {
			report.WriteString(block.Text)
		}
	}
	return StructuredResult{Summary: firstParagraph(report.String())}, report.String(), nil
}

func mediaTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	case strings.HasSuffix(name, ".jpg"), strings.HasSuffix(name, ".jpeg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func firstParagraph(s string) string {
	if i := strings.Index(s, "\n\n"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
