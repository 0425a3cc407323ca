// Package trend computes time-windowed statistics per story and
// detects emerging and decaying trends. The aggregator derives from
// story state but never mutates it; lifecycle transitions go through
// the clusterer.
package trend

import (
	"sort"
	"sync"
	"time"

	"storywatch/internal/cluster"
	"storywatch/internal/logging"
)

// Config tunes windowing and event detection.
type Config struct {
	DormantAfter     time.Duration // idle time before a story turns dormant
	InactivityWindow time.Duration // idle time before a story closes
	TopEntities      int           // dominant entities per snapshot
	EmergingFactor   float64       // volume multiple over baseline that signals emergence
}

// Snapshot is an immutable per-story summary of one aggregation window.
type Snapshot struct {
	StoryID          string
	WindowStart      time.Time
	WindowEnd        time.Time
	Volume           int
	MeanSentiment    float64
	SentimentDelta   float64
	DominantEntities []string
	BiasSkew         float64
	TakenAt          time.Time
}

// EventType classifies trend events.
type EventType string

const (
	EventEmerging EventType = "emerging"
	EventDecaying EventType = "decaying"
)

// Event signals a notable change in a story's trajectory.
type Event struct {
	Type     EventType
	StoryID  string
	At       time.Time
	Volume   int
	Baseline float64
}

// baselineWindows is the minimum number of prior snapshots before
// emergence detection kicks in. One window is no history.
const baselineWindows = 2

// Aggregator produces trend snapshots at each tick and retains them
// for historical query.
type Aggregator struct {
	cfg       Config
	clusterer *cluster.Clusterer

	mu       sync.Mutex
	lastTick time.Time
	history  map[string][]Snapshot
}

// New creates an Aggregator over the clusterer's stories.
func New(cfg Config, c *cluster.Clusterer) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		clusterer: c,
		history:   make(map[string][]Snapshot),
	}
}

// Tick advances story lifecycles to now, then summarizes every open
// story that gained members since the previous tick. The first tick
// covers all activity up to now. Safe to call while ingestion runs;
// each story is read as a consistent point-in-time copy.
func (a *Aggregator) Tick(now time.Time) ([]Snapshot, []Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var events []Event
	for _, tr := range a.clusterer.AdvanceLifecycle(now, a.cfg.DormantAfter, a.cfg.InactivityWindow) {
		if tr.To == cluster.StateClosed {
			events = append(events, Event{Type: EventDecaying, StoryID: tr.StoryID, At: now})
		}
	}

	windowStart := a.lastTick
	var snapshots []Snapshot
	for _, st := range a.clusterer.SnapshotAll() {
		if st.State == cluster.StateClosed {
			continue
		}
		snap, ok := a.summarize(st, windowStart, now)
		if !ok {
			continue
		}
		if ev, ok := a.detectEmerging(snap); ok {
			events = append(events, ev)
			logging.Info("emerging trend", "story", snap.StoryID, "volume", ev.Volume, "baseline", ev.Baseline)
		}
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].StoryID < snapshots[j].StoryID })

	for _, s := range snapshots {
		a.history[s.StoryID] = append(a.history[s.StoryID], s)
	}
	a.lastTick = now
	return snapshots, events
}

// summarize computes one window's statistics. Returns false when the
// story had no member activity in the window.
func (a *Aggregator) summarize(st cluster.Snapshot, start, end time.Time) (Snapshot, bool) {
	var volume int
	var sentimentSum, biasSum float64
	entityCounts := make(map[string]int)

	for _, m := range st.Members {
		if !start.IsZero() && !m.AddedAt.After(start) {
			continue
		}
		if m.AddedAt.After(end) {
			continue
		}
		volume++
		sentimentSum += m.Sentiment
		biasSum += m.Bias
		for _, e := range m.Entities {
			entityCounts[e.Text]++
		}
	}
	if volume == 0 {
		return Snapshot{}, false
	}

	mean := sentimentSum / float64(volume)
	snap := Snapshot{
		StoryID:          st.ID,
		WindowStart:      start,
		WindowEnd:        end,
		Volume:           volume,
		MeanSentiment:    mean,
		DominantEntities: topEntities(entityCounts, a.cfg.TopEntities),
		BiasSkew:         biasSum / float64(volume),
		TakenAt:          end,
	}
	if prior := a.history[st.ID]; len(prior) > 0 {
		snap.SentimentDelta = mean - prior[len(prior)-1].MeanSentiment
	}
	return snap, true
}

// detectEmerging compares window volume against the mean volume of the
// story's prior windows. Requires an established baseline.
func (a *Aggregator) detectEmerging(snap Snapshot) (Event, bool) {
	prior := a.history[snap.StoryID]
	if len(prior) < baselineWindows || a.cfg.EmergingFactor <= 0 {
		return Event{}, false
	}
	var sum float64
	for _, p := range prior {
		sum += float64(p.Volume)
	}
	baseline := sum / float64(len(prior))
	if float64(snap.Volume) <= a.cfg.EmergingFactor*baseline {
		return Event{}, false
	}
	return Event{
		Type:     EventEmerging,
		StoryID:  snap.StoryID,
		At:       snap.TakenAt,
		Volume:   snap.Volume,
		Baseline: baseline,
	}, true
}

// topEntities ranks entities by window frequency, alphabetical on
// ties, truncated to k.
func topEntities(counts map[string]int, k int) []string {
	if k <= 0 || len(counts) == 0 {
		return nil
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > k {
		names = names[:k]
	}
	return names
}

// History returns the story's snapshots with TakenAt in [from, to].
// Zero bounds are open-ended.
func (a *Aggregator) History(storyID string, from, to time.Time) []Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Snapshot
	for _, s := range a.history[storyID] {
		if !from.IsZero() && s.TakenAt.Before(from) {
			continue
		}
		if !to.IsZero() && s.TakenAt.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}
