// Package article turns raw source records into normalized, analyzed
// articles ready for clustering.
package article

import (
	"time"

	"storywatch/internal/analysis"
)

// Article is a normalized, analyzed news article. Immutable once built:
// stories reference articles by ID but never own or modify them.
type Article struct {
	ID          string // first 16 hex chars of SHA-256(canonical URL)
	Source      string
	Title       string
	URL         string // canonical form
	Published   time.Time
	FetchedAt   time.Time
	RawText     string
	Text        string // cleaned, truncated body
	Fingerprint uint64
	Analysis    analysis.Result
}
