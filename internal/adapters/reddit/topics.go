package reddit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vartanbeno/go-reddit/v2/reddit"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/manthysbr/reelforge/internal/core/ports"
)

const maxLimit = 100

// TopicSource lists hot posts from a subreddit as video topics. Without
// script-app credentials it falls back to Reddit's read-only JSON endpoints.
type TopicSource struct {
	logger    *slog.Logger
	client    *reddit.Client
	subreddit string
	limit     int
}

var _ ports.TopicSource = (*TopicSource)(nil)

// NewTopicSource builds a client from cfg. Extra options (a base URL in
// tests) are appended to the defaults.
func NewTopicSource(logger *slog.Logger, cfg domain.RedditConfig, opts ...reddit.Opt) (*TopicSource, error) {
	opts = append([]reddit.Opt{reddit.WithUserAgent(cfg.UserAgent)}, opts...)

	var (
		client *reddit.Client
		err    error
	)
	if cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.Username != "" && cfg.Password != "" {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       cfg.ClientID,
			Secret:   cfg.ClientSecret,
			Username: cfg.Username,
			Password: cfg.Password,
		}, opts...)
	} else {
		logger.Debug("reddit credentials incomplete, using read-only client")
		client, err = reddit.NewReadonlyClient(opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create reddit client: %w", err)
	}

	return &TopicSource{
		logger:    logger,
		client:    client,
		subreddit: cfg.Subreddit,
		limit:     cfg.Limit,
	}, nil
}

// TrendingTopics returns up to limit hot posts, skipping stickied and NSFW
// ones. Empty arguments use the configured defaults.
func (s *TopicSource) TrendingTopics(ctx context.Context, subreddit string, limit int) ([]ports.Topic, error) {
	subreddit = strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	if subreddit == "" {
		subreddit = s.subreddit
	}
	if limit <= 0 {
		limit = s.limit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	posts, _, err := s.client.Subreddit.HotPosts(ctx, subreddit, &reddit.ListOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch hot posts from r/%s: %w", subreddit, err)
	}

	topics := make([]ports.Topic, 0, len(posts))
	for _, p := range posts {
		if p.Stickied || p.NSFW {
			continue
		}
		t := ports.Topic{
			ID:          p.ID,
			Title:       p.Title,
			Subreddit:   p.SubredditName,
			Author:      p.Author,
			Score:       p.Score,
			NumComments: p.NumberOfComments,
			URL:         p.URL,
			Permalink:   absolutePermalink(p.Permalink),
		}
		if p.Created != nil {
			t.Created = p.Created.Time
		}
		topics = append(topics, t)
	}

	s.logger.Info("retrieved trending topics", "subreddit", subreddit, "count", len(topics))
	return topics, nil
}

func absolutePermalink(link string) string {
	if link == "" || strings.HasPrefix(link, "http") {
		return link
	}
	return "https://www.reddit.com" + link
}
