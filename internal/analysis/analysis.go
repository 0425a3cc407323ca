// Package analysis mediates calls to NLP providers. A shared cache keyed
// by content hash deduplicates work, a token bucket paces outbound
// requests, and concurrent identical requests coalesce into one call.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Kind selects which analysis a caller is interested in. Providers
// compute the full result either way; the kind scopes the cache key so
// partial providers can coexist.
type Kind string

const (
	KindSentiment Kind = "sentiment"
	KindEntities  Kind = "entities"
	KindTopics    Kind = "topics"
	KindBias      Kind = "bias"
	KindFull      Kind = "full"
)

// EntityType categorizes extracted entities
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityTicker       EntityType = "ticker"
)

// Entity is a named thing mentioned in the text.
type Entity struct {
	Text string
	Type EntityType
}

// Result is an immutable analysis outcome. Cached copies are shared
// across callers and must never be mutated.
type Result struct {
	Sentiment      float64 // compound score in [-1, 1]
	SentimentLabel string  // "positive", "negative", "neutral"
	Entities       []Entity
	Topics         []float64 // distribution over TopicVocabulary, sums to 1 or all-zero
	Bias           float64   // [-1, 1], negative = critical framing
	Provider       string
	ComputedAt     time.Time
}

// Provider is an external NLP service. Implementations may be slow,
// rate-limited, and unreliable; the Cache absorbs all of that.
type Provider interface {
	// Name returns the provider name (e.g., "keyword", "remote")
	Name() string

	// Analyze computes sentiment, entities, topics, and bias for text.
	Analyze(ctx context.Context, kind Kind, text string) (Result, error)
}

// TopicVocabulary fixes the topic-vector dimensions. Every topic vector
// produced or consumed in this process has exactly this length, in this
// order.
var TopicVocabulary = []string{
	"markets",
	"finance",
	"regulation",
	"legal",
	"innovation",
	"partnerships",
	"energy",
	"automotive",
	"conflict",
	"politics",
	"health",
	"technology",
}

// TopicDim is the required topic-vector dimension.
var TopicDim = len(TopicVocabulary)

// Key derives the cache key for a (kind, text) pair.
func Key(kind Kind, text string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// SentimentLabel maps a compound score to its label. Thresholds follow
// the usual VADER convention.
func SentimentLabel(compound float64) string {
	switch {
	case compound >= 0.05:
		return "positive"
	case compound <= -0.05:
		return "negative"
	default:
		return "neutral"
	}
}
