package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIImageSource generates images through an OpenAI-compatible API.
// Expected endpoint: POST {baseURL}/images/generations
// Expected response: {"data":[{"url":"https://..."}]} or {"data":[{"b64_json":"..."}]}
type OpenAIImageSource struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewOpenAIImageSource(baseURL, apiKey, model string) *OpenAIImageSource {
	if model == "" {
		model = "gpt-image-1"
	}
	return &OpenAIImageSource{
		client:  &http.Client{Timeout: 180 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

func (p *OpenAIImageSource) Name() string { return "generate" }

// Find generates count vertical illustrations of query.
func (p *OpenAIImageSource) Find(ctx context.Context, query string, count int) ([]Candidate, error) {
	payload := map[string]any{
		"model":  p.model,
		"prompt": fmt.Sprintf("A vivid vertical photograph illustrating: %s. No text, no watermark.", query),
		"size":   "1024x1536",
		"n":      count,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/images/generations", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call image API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("image API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode image API response: %w", err)
	}

	candidates := make([]Candidate, 0, len(result.Data))
	for _, d := range result.Data {
		switch {
		case strings.TrimSpace(d.URL) != "":
			candidates = append(candidates, Candidate{URL: d.URL, Width: 1024, Height: 1536})
		case d.B64JSON != "":
			data, err := base64.StdEncoding.DecodeString(d.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("invalid b64_json image: %w", err)
			}
			candidates = append(candidates, Candidate{Data: data, Width: 1024, Height: 1536})
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("image API returned no images")
	}
	return candidates, nil
}
