package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSSSource fetches raw articles from an RSS or Atom feed.
type RSSSource struct {
	name   string
	url    string
	client *http.Client
}

// NewRSSSource creates an RSS adapter with the given HTTP timeout.
func NewRSSSource(name, url string, timeout time.Duration) *RSSSource {
	return &RSSSource{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name implements Source.
func (s *RSSSource) Name() string { return s.name }

// Fetch implements Source. Items without a publish timestamp keep a
// zero PublishedAt; the normalizer rejects those as malformed.
func (s *RSSSource) Fetch(ctx context.Context) ([]RawArticle, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "storywatch/0.1")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	now := time.Now()
	raws := make([]RawArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}

		body := item.Content
		if body == "" {
			body = item.Description
		}

		raws = append(raws, RawArticle{
			URL:         item.Link,
			Title:       item.Title,
			SourceName:  s.name,
			RawText:     body,
			PublishedAt: published,
			FetchedAt:   now,
		})
	}
	return raws, nil
}
