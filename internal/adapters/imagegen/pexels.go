package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const pexelsBaseURL = "https://api.pexels.com/v1"

// PexelsSource searches Pexels stock photos in portrait orientation.
type PexelsSource struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewPexelsSource(apiKey string) *PexelsSource {
	return &PexelsSource{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: pexelsBaseURL,
		apiKey:  apiKey,
	}
}

// WithBaseURL points the source at another API root.
func (s *PexelsSource) WithBaseURL(baseURL string) *PexelsSource {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *PexelsSource) Name() string { return "pexels" }

func (s *PexelsSource) Find(ctx context.Context, query string, count int) ([]Candidate, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(count))
	q.Set("orientation", "portrait")

	var result struct {
		Photos []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
			Src    struct {
				Original string `json:"original"`
				Large2x  string `json:"large2x"`
				Portrait string `json:"portrait"`
			} `json:"src"`
		} `json:"photos"`
	}

	header := http.Header{}
	header.Set("Authorization", s.apiKey)
	err := getJSON(ctx, s.client, s.baseURL+"/search?"+q.Encode(), header, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&result)
	})
	if err != nil {
		return nil, fmt.Errorf("pexels search: %w", err)
	}

	candidates := make([]Candidate, 0, len(result.Photos))
	for _, p := range result.Photos {
		link := firstNonEmpty(p.Src.Large2x, p.Src.Portrait, p.Src.Original)
		if link == "" {
			continue
		}
		candidates = append(candidates, Candidate{URL: link, Width: p.Width, Height: p.Height})
	}
	return candidates, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
