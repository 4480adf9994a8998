package imagegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manthysbr/reelforge/internal/core/domain"
)

const (
	minImageBytes = 100
	maxImageBytes = 25 << 20
)

// Collector implements domain.ImageProvider. It asks each source in order
// until it has enough candidates, then downloads them into the job workspace.
type Collector struct {
	logger   *slog.Logger
	client   *http.Client
	sources  []Source
	attempts int
	backoff  time.Duration
	fallback string
}

// NewCollector chains sources. fallbackDir is used when the context carries
// no job workspace.
func NewCollector(logger *slog.Logger, sources []Source, attempts int, fallbackDir string) *Collector {
	if attempts < 1 {
		attempts = 1
	}
	return &Collector{
		logger:   logger,
		client:   &http.Client{Timeout: 60 * time.Second},
		sources:  sources,
		attempts: attempts,
		backoff:  time.Second,
		fallback: fallbackDir,
	}
}

// WithBackoff sets the base delay between download attempts.
func (c *Collector) WithBackoff(d time.Duration) *Collector {
	c.backoff = d
	return c
}

func (c *Collector) Search(ctx context.Context, topic string, count int) ([]domain.ImageRef, error) {
	if len(c.sources) == 0 {
		return nil, domain.NewProviderError("no image sources configured", nil)
	}

	dir := filepath.Join(domain.WorkspaceDir(ctx, c.fallback), "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.NewProviderError("failed to create image directory", err)
	}

	var (
		refs    []domain.ImageRef
		lastErr error
	)
	for _, src := range c.sources {
		need := count - len(refs)
		if need <= 0 {
			break
		}
		candidates, err := src.Find(ctx, topic, need)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("image source failed", "source", src.Name(), "error", err)
			lastErr = err
			continue
		}
		c.logger.Debug("image candidates found", "source", src.Name(), "count", len(candidates))

		for _, cand := range candidates {
			if len(refs) >= count {
				break
			}
			path := filepath.Join(dir, fmt.Sprintf("img_%03d.jpg", len(refs)))
			if err := c.store(ctx, cand, path); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				c.logger.Warn("image download failed", "source", src.Name(), "url", cand.URL, "error", err)
				lastErr = err
				continue
			}
			refs = append(refs, domain.ImageRef{
				Location: path,
				Width:    cand.Width,
				Height:   cand.Height,
				Source:   src.Name(),
			})
		}
	}

	if len(refs) == 0 {
		return nil, domain.NewProviderError(fmt.Sprintf("no images collected for %q", topic), lastErr)
	}
	return refs, nil
}

func (c *Collector) store(ctx context.Context, cand Candidate, path string) error {
	if cand.Data != nil {
		if err := checkImage(cand.Data, ""); err != nil {
			return err
		}
		return os.WriteFile(path, cand.Data, 0o644)
	}

	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		var data []byte
		data, err = c.download(ctx, cand.URL)
		if err == nil {
			return os.WriteFile(path, data, 0o644)
		}
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("after %d attempts: %w", c.attempts, err)
}

func (c *Collector) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	if err := checkImage(data, resp.Header.Get("Content-Type")); err != nil {
		return nil, err
	}
	return data, nil
}

var errNotImage = errors.New("response is not an image")

func checkImage(data []byte, contentType string) error {
	if len(data) < minImageBytes {
		return fmt.Errorf("%w: only %d bytes", errNotImage, len(data))
	}
	if strings.HasPrefix(contentType, "text/html") {
		return fmt.Errorf("%w: got %s", errNotImage, contentType)
	}
	head := bytes.ToLower(bytes.TrimSpace(data[:min(len(data), 64)]))
	if bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html")) {
		return fmt.Errorf("%w: got html", errNotImage)
	}
	return nil
}
