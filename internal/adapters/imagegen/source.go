package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Candidate is an image a source found but has not downloaded yet.
type Candidate struct {
	URL    string
	Width  int
	Height int
	// Data holds the image bytes when the source returns them inline.
	Data []byte
}

// Source finds candidate images for a query.
type Source interface {
	Name() string
	Find(ctx context.Context, query string, count int) ([]Candidate, error)
}

func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, decode func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return decode(resp.Body)
}
