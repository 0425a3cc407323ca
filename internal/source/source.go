// Package source defines the raw article records the pipeline ingests
// and the adapters that supply them. The pipeline never fetches or
// parses HTML itself beyond what the adapters hand over.
package source

import (
	"context"
	"time"
)

// RawArticle is what a source adapter supplies: unprocessed content
// plus the metadata the normalizer needs.
type RawArticle struct {
	URL         string
	Title       string
	SourceName  string
	RawText     string
	PublishedAt time.Time
	FetchedAt   time.Time
}

// Source produces raw articles from some upstream feed or API.
type Source interface {
	// Name identifies the source in logs and article metadata.
	Name() string

	// Fetch retrieves the current batch of raw articles. Respects
	// context cancellation.
	Fetch(ctx context.Context) ([]RawArticle, error)
}
