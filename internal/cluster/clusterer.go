package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"storywatch/internal/analysis"
	"storywatch/internal/article"
	"storywatch/internal/fingerprint"
	"storywatch/internal/logging"
)

// ErrContractViolation marks programming errors such as topic-vector
// dimension mismatches. The operation fails; other stories are
// unaffected. Never retried.
var ErrContractViolation = errors.New("clustering contract violation")

// candidateNeighbors is how many index neighbors seed candidate search.
const candidateNeighbors = 10

// Config holds the story-matching thresholds.
type Config struct {
	TopicThreshold       float64 // θ_topic: min centroid cosine similarity
	FingerprintThreshold int     // θ_dup: max member fingerprint Hamming distance
}

// Transition records a lifecycle change applied during a tick.
type Transition struct {
	StoryID string
	From    State
	To      State
	At      time.Time
}

// Clusterer incrementally assigns articles to stories. Safe for
// concurrent use: candidate search and scoring run in parallel, and
// the final commit of a member happens under the clusterer lock so a
// given article ID lands in exactly one story exactly once.
type Clusterer struct {
	cfg Config
	now func() time.Time

	mu           sync.RWMutex
	stories      map[string]*story
	articleStory map[string]string // article ID -> story ID
	index        *hnsw.Graph[string]
}

// New creates a Clusterer.
func New(cfg Config) *Clusterer {
	g := hnsw.NewGraph[string]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 32

	return &Clusterer{
		cfg:          cfg,
		now:          time.Now,
		stories:      make(map[string]*story),
		articleStory: make(map[string]string),
		index:        g,
	}
}

// SetClock overrides the time source used to stamp member additions.
// Tests use it to drive lifecycle deterministically.
func (c *Clusterer) SetClock(now func() time.Time) {
	c.now = now
}

// Assign places the article into the best-matching open story, or
// creates a new one. Assigning an already-known article returns its
// existing story, including when two assignments for the same ID race.
// The only failure mode is a malformed topic vector.
func (c *Clusterer) Assign(a article.Article) (string, error) {
	if len(a.Analysis.Topics) != analysis.TopicDim {
		return "", fmt.Errorf("%w: topic vector has %d dims, want %d",
			ErrContractViolation, len(a.Analysis.Topics), analysis.TopicDim)
	}

	c.mu.RLock()
	if id, ok := c.articleStory[a.ID]; ok {
		c.mu.RUnlock()
		return id, nil
	}
	candidates := c.candidatesLocked(a)
	c.mu.RUnlock()

	best := c.pickBest(a, candidates)

	vec := toFloat32(a.Analysis.Topics)
	now := c.now()

	// Commit phase. The write lock claims the article ID atomically:
	// a racing assignment for the same ID re-checks here and returns
	// the winner's story instead of joining twice.
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.articleStory[a.ID]; ok {
		return id, nil
	}

	if best != nil && c.joinLocked(best, a, now) {
		c.commitLocked(a.ID, best.id, vec)
		return best.id, nil
	}

	st := c.newStoryLocked(a, now)
	c.commitLocked(a.ID, st.id, vec)
	logging.Debug("new story", "story", st.id, "seed", a.ID, "title", a.Title)
	return st.id, nil
}

// candidatesLocked finds stories near the article's topic vector.
// Caller holds at least a read lock.
func (c *Clusterer) candidatesLocked(a article.Article) []*story {
	vec := toFloat32(a.Analysis.Topics)
	if isZero(vec) || c.index.Len() == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var out []*story
	for _, n := range c.index.Search(vec, candidateNeighbors) {
		storyID, ok := c.articleStory[n.Key]
		if !ok || seen[storyID] {
			continue
		}
		seen[storyID] = true
		if st := c.stories[storyID]; st != nil {
			out = append(out, st)
		}
	}
	return out
}

// pickBest scores candidates and returns the winner, or nil. A story
// qualifies only when its centroid cosine clears θ_topic AND its best
// member fingerprint is within θ_dup. Among qualifiers the highest
// combined score wins; ties go to the most recently updated story,
// favoring topical continuity.
func (c *Clusterer) pickBest(a article.Article, candidates []*story) *story {
	const tieEpsilon = 1e-9

	var best *story
	var bestScore float64
	var bestSeen time.Time

	for _, st := range candidates {
		score, lastSeen, ok := c.scoreStory(st, a)
		if !ok {
			continue
		}
		if best == nil || score > bestScore+tieEpsilon ||
			(math.Abs(score-bestScore) <= tieEpsilon && lastSeen.After(bestSeen)) {
			best = st
			bestScore = score
			bestSeen = lastSeen
		}
	}
	return best
}

// scoreStory evaluates one candidate under its lock.
func (c *Clusterer) scoreStory(st *story, a article.Article) (score float64, lastSeen time.Time, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state == StateClosed {
		return 0, time.Time{}, false
	}

	cos := cosine(st.centroid, a.Analysis.Topics)
	if cos < c.cfg.TopicThreshold {
		return 0, time.Time{}, false
	}

	bestDist := 65
	for _, fp := range st.fingerprints {
		if !fingerprint.Similar(fp, a.Fingerprint, 64) {
			continue
		}
		if d := fingerprint.Distance(fp, a.Fingerprint); d < bestDist {
			bestDist = d
		}
	}
	if bestDist > c.cfg.FingerprintThreshold {
		return 0, time.Time{}, false
	}

	fpSim := float64(64-bestDist) / 64.0
	return (cos + fpSim) / 2, st.lastSeen, true
}

// joinLocked adds the article to the story at wall-clock time now.
// Caller holds c.mu; lock order is always c.mu before st.mu. Returns
// false if the story closed since scoring.
func (c *Clusterer) joinLocked(st *story, a article.Article, now time.Time) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.state == StateClosed {
		return false
	}

	// Incremental weighted mean: the nth member moves the centroid by
	// 1/n of its displacement, so late arrivals nudge rather than drag.
	n := float64(len(st.members) + 1)
	for i := range st.centroid {
		st.centroid[i] += (a.Analysis.Topics[i] - st.centroid[i]) / n
	}

	st.members = append(st.members, memberOf(a, now))
	if a.Fingerprint != 0 {
		st.fingerprints = append(st.fingerprints, a.Fingerprint)
	}
	if now.After(st.lastSeen) {
		st.lastSeen = now
	}
	st.sentiment = append(st.sentiment, TrendPoint{Time: now, Value: a.Analysis.Sentiment})
	st.state = StateActive
	return true
}

// newStoryLocked seeds a new story with the article. Caller holds c.mu.
func (c *Clusterer) newStoryLocked(a article.Article, now time.Time) *story {
	centroid := make([]float64, len(a.Analysis.Topics))
	copy(centroid, a.Analysis.Topics)

	st := &story{
		id:        uuid.NewString(),
		centroid:  centroid,
		members:   []Member{memberOf(a, now)},
		firstSeen: now,
		lastSeen:  now,
		sentiment: []TrendPoint{{Time: now, Value: a.Analysis.Sentiment}},
		state:     StateActive,
	}
	if a.Fingerprint != 0 {
		st.fingerprints = []uint64{a.Fingerprint}
	}
	c.stories[st.id] = st
	return st
}

// commitLocked records the article's story membership and index vector.
// Caller holds c.mu.
func (c *Clusterer) commitLocked(articleID, storyID string, vec []float32) {
	c.articleStory[articleID] = storyID
	if !isZero(vec) {
		c.index.Add(hnsw.MakeNode(articleID, vec))
	}
}

func memberOf(a article.Article, now time.Time) Member {
	return Member{
		ArticleID: a.ID,
		AddedAt:   now,
		Published: a.Published,
		Sentiment: a.Analysis.Sentiment,
		Bias:      a.Analysis.Bias,
		Entities:  a.Analysis.Entities,
	}
}

// GetStory returns a consistent snapshot of one story.
func (c *Clusterer) GetStory(id string) (Snapshot, bool) {
	c.mu.RLock()
	st, ok := c.stories[id]
	c.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(), true
}

// StoryOf returns the story an article was assigned to.
func (c *Clusterer) StoryOf(articleID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.articleStory[articleID]
	return id, ok
}

// ListOpen returns snapshots of all non-closed stories, most recently
// updated first.
func (c *Clusterer) ListOpen() []Snapshot {
	snaps := c.SnapshotAll()
	open := snaps[:0]
	for _, s := range snaps {
		if s.State != StateClosed {
			open = append(open, s)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		return open[i].LastSeen.After(open[j].LastSeen)
	})
	return open
}

// SnapshotAll copies every story, each under its own lock. No global
// quiescence is assumed: assignments may interleave between stories.
func (c *Clusterer) SnapshotAll() []Snapshot {
	c.mu.RLock()
	stories := make([]*story, 0, len(c.stories))
	for _, st := range c.stories {
		stories = append(stories, st)
	}
	c.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(stories))
	for _, st := range stories {
		snaps = append(snaps, st.snapshot())
	}
	return snaps
}

// AdvanceLifecycle applies time-driven state transitions as of now:
// active stories idle past dormantAfter turn dormant, and stories idle
// past inactivity close for good. Idleness is measured from the last
// member addition, never from article publish times. Returns the
// transitions applied.
func (c *Clusterer) AdvanceLifecycle(now time.Time, dormantAfter, inactivity time.Duration) []Transition {
	c.mu.RLock()
	stories := make([]*story, 0, len(c.stories))
	for _, st := range c.stories {
		stories = append(stories, st)
	}
	c.mu.RUnlock()

	var transitions []Transition
	for _, st := range stories {
		st.mu.Lock()
		if st.state == StateClosed {
			st.mu.Unlock()
			continue
		}
		idle := now.Sub(st.lastSeen)
		next := st.state
		switch {
		case idle >= inactivity:
			next = StateClosed
		case idle >= dormantAfter:
			next = StateDormant
		default:
			next = StateActive
		}
		if next != st.state {
			transitions = append(transitions, Transition{
				StoryID: st.id, From: st.state, To: next, At: now,
			})
			logging.Info("story transition", "story", st.id, "from", st.state, "to", next, "idle", idle)
			st.state = next
		}
		st.mu.Unlock()
	}
	return transitions
}

// Len returns the number of stories, closed included.
func (c *Clusterer) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stories)
}

// cosine computes cosine similarity; zero vectors score 0.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func isZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
