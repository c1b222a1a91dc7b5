// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package score

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/template"
)

// scoringPromptTmpl asks the model for a strict JSON verdict with a
// "respond with JSON, nothing else" contract.
var scoringPromptTmpl = template.Must(template.New("scoring").Parse(`You are a research relevance judge. Decide whether the following text is relevant to the stated requirements.

Requirements:
{{.Requirements}}

Text:
{{.Text}}

Respond with a JSON object: {"is_relevant": bool, "score": float between 0.0 and 1.0, "justification": "one or two sentences"}. Do not include any text outside the JSON object.
`))

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

// ClaudeBackend scores text by calling the Claude Messages API.
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
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type verdictJSON struct {
	IsRelevant    bool    `json:"is_relevant"`
	Score         float64 `json:"score"`
	Justification string  `json:"justification"`
}

// Score implements Backend by calling the Claude API with model.
func (c *ClaudeBackend) Score(ctx context.Context, model, text, requirements string) (Verdict, error) {
	var buf bytes.Buffer
	if err := scoringPromptTmpl.Execute(&buf, struct{ Text, Requirements string }{text, requirements}); err != nil {
		return Verdict{}, fmt.Errorf("rendering prompt: %w", err)
	}

	reqBody := claudeRequest{
		Model:     model,
		MaxTokens: 1024,
		Messages:  []claudeMessage{{Role: "user", Content: buf.String()}},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return Verdict{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claudeAPIURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return Verdict{}, fmt.Errorf("creating request: %w", err)
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
		return Verdict{}, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Verdict{}, fmt.Errorf("Claude API returned %d: %s", resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return Verdict{}, fmt.Errorf("decoding Claude response: %w", err)
	}

	for _, block := range cResp.Content {
		if block.Type != "text" {
			continue
		}
		var v verdictJSON
		if err := json.Unmarshal([]byte(block.Text), &v); err != nil {
			return Verdict{}, fmt.Errorf("parsing verdict JSON: %w", err)
		}
		return Verdict{IsRelevant: v.IsRelevant, Score: v.Score, Justification: v.Justification}, nil
	}

	return Verdict{}, fmt.Errorf("no text content in Claude API response")
}
