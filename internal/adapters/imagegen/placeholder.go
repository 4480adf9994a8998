package imagegen

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

const picsumBaseURL = "https://picsum.photos"

// PlaceholderSource returns keyless Lorem Picsum images, seeded by the query
// so a topic always gets the same pictures.
type PlaceholderSource struct {
	baseURL string
	width   int
	height  int
}

func NewPlaceholderSource(width, height int) *PlaceholderSource {
	return &PlaceholderSource{baseURL: picsumBaseURL, width: width, height: height}
}

// WithBaseURL points the source at another image host.
func (s *PlaceholderSource) WithBaseURL(baseURL string) *PlaceholderSource {
	s.baseURL = strings.TrimRight(baseURL, "/")
	return s
}

func (s *PlaceholderSource) Name() string { return "placeholder" }

func (s *PlaceholderSource) Find(_ context.Context, query string, count int) ([]Candidate, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(query)))
	seed := h.Sum32()

	candidates := make([]Candidate, count)
	for i := range candidates {
		candidates[i] = Candidate{
			URL:    fmt.Sprintf("%s/seed/%d-%d/%d/%d", s.baseURL, seed, i, s.width, s.height),
			Width:  s.width,
			Height: s.height,
		}
	}
	return candidates, nil
}
