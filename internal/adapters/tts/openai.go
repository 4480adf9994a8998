package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

// OpenAISpeech narrates with an OpenAI-compatible /audio/speech endpoint.
type OpenAISpeech struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	model    string
	voice    string
	prober   DurationProber
	fallback string
}

func NewOpenAISpeech(baseURL, apiKey, model, voice string, prober DurationProber, fallbackDir string) *OpenAISpeech {
	if model == "" {
		model = "tts-1"
	}
	if voice == "" {
		voice = "alloy"
	}
	return &OpenAISpeech{
		client:   &http.Client{Timeout: 120 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		model:    model,
		voice:    voice,
		prober:   prober,
		fallback: fallbackDir,
	}
}

func (s *OpenAISpeech) Synthesize(ctx context.Context, text string) (domain.AudioRef, error) {
	if strings.TrimSpace(text) == "" {
		return domain.AudioRef{}, domain.NewSynthesisError("nothing to narrate", nil)
	}
	output, err := narrationPath(ctx, s.fallback)
	if err != nil {
		return domain.AudioRef{}, err
	}

	payload, err := json.Marshal(map[string]string{
		"model":           s.model,
		"input":           text,
		"voice":           s.voice,
		"response_format": "mp3",
	})
	if err != nil {
		return domain.AudioRef{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return domain.AudioRef{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.AudioRef{}, ctx.Err()
		}
		return domain.AudioRef{}, domain.NewSynthesisError("speech API request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.AudioRef{}, domain.NewSynthesisError(fmt.Sprintf("speech API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	f, err := os.Create(output)
	if err != nil {
		return domain.AudioRef{}, domain.NewSynthesisError("failed to create audio file", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return domain.AudioRef{}, domain.NewSynthesisError("failed to save narration", err)
	}
	if err := f.Close(); err != nil {
		return domain.AudioRef{}, domain.NewSynthesisError("failed to save narration", err)
	}
	return measure(ctx, s.prober, output)
}
