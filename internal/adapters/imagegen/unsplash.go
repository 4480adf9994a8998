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

const unsplashBaseURL = "https://api.unsplash.com"

// UnsplashSource searches Unsplash photos in portrait orientation.
type UnsplashSource struct {
	client    *http.Client
	baseURL   string
	accessKey string
}

func NewUnsplashSource(accessKey string) *UnsplashSource {
	return &UnsplashSource{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   unsplashBaseURL,
		accessKey: accessKey,
	}
}

// WithBaseURL points the source at another API root.
func (s *UnsplashSource) WithBaseURL(baseURL string) *UnsplashSource {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *UnsplashSource) Name() string { return "unsplash" }

func (s *UnsplashSource) Find(ctx context.Context, query string, count int) ([]Candidate, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("per_page", strconv.Itoa(count))
	q.Set("orientation", "portrait")

	var result struct {
		Results []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
			URLs   struct {
				Regular string `json:"regular"`
				Full    string `json:"full"`
			} `json:"urls"`
		} `json:"results"`
	}

	header := http.Header{}
	header.Set("Authorization", "Client-ID "+s.accessKey)
	header.Set("Accept-Version", "v1")
	err := getJSON(ctx, s.client, s.baseURL+"/search/photos?"+q.Encode(), header, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&result)
	})
	if err != nil {
		return nil, fmt.Errorf("unsplash search: %w", err)
	}

	candidates := make([]Candidate, 0, len(result.Results))
	for _, p := range result.Results {
		link := firstNonEmpty(p.URLs.Regular, p.URLs.Full)
		if link == "" {
			continue
		}
		candidates = append(candidates, Candidate{URL: link, Width: p.Width, Height: p.Height})
	}
	return candidates, nil
}
