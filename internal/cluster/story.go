// Package cluster groups normalized articles into evolving stories.
// Matching combines topic-vector similarity with fingerprint distance;
// candidate search runs over an HNSW index of member topic vectors.
package cluster

import (
	"sync"
	"time"

	"storywatch/internal/analysis"
)

// State is a story's lifecycle phase. Transitions are driven solely by
// elapsed time since the last member addition, evaluated at
// aggregation ticks. Closed is terminal.
type State string

const (
	StateActive  State = "active"
	StateDormant State = "dormant"
	StateClosed  State = "closed"
)

// Member records one article's contribution to a story. Articles are
// referenced, never owned: the record carries just what trend
// aggregation needs so readers avoid a second lookup. AddedAt is the
// wall-clock join time and drives lifecycle and window attribution;
// Published is carried as data only.
type Member struct {
	ArticleID string
	AddedAt   time.Time
	Published time.Time
	Sentiment float64
	Bias      float64
	Entities  []analysis.Entity
}

// TrendPoint is one step of a story's rolling sentiment sequence.
type TrendPoint struct {
	Time  time.Time
	Value float64
}

// story is the mutable aggregate, owned exclusively by the Clusterer.
// All field access happens under mu; the lock is never held across a
// provider call. firstSeen and lastSeen are member-addition times, so
// a feed backlog of old articles still counts as fresh activity.
type story struct {
	mu sync.Mutex

	id           string
	centroid     []float64
	members      []Member
	fingerprints []uint64
	firstSeen    time.Time
	lastSeen     time.Time
	sentiment    []TrendPoint
	state        State
}

// Snapshot is an immutable copy of a story's state, taken under the
// story lock. Safe to retain and share.
type Snapshot struct {
	ID             string
	Centroid       []float64
	Members        []Member
	FirstSeen      time.Time
	LastSeen       time.Time
	SentimentTrend []TrendPoint
	State          State
}

// snapshot copies the story under its lock.
func (s *story) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	centroid := make([]float64, len(s.centroid))
	copy(centroid, s.centroid)
	members := make([]Member, len(s.members))
	copy(members, s.members)
	trend := make([]TrendPoint, len(s.sentiment))
	copy(trend, s.sentiment)

	return Snapshot{
		ID:             s.id,
		Centroid:       centroid,
		Members:        members,
		FirstSeen:      s.firstSeen,
		LastSeen:       s.lastSeen,
		SentimentTrend: trend,
		State:          s.state,
	}
}
