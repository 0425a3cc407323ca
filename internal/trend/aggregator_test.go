package trend

import (
	"testing"
	"time"

	"storywatch/internal/analysis"
	"storywatch/internal/article"
	"storywatch/internal/cluster"
	"storywatch/internal/fingerprint"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

const fedText = "the federal reserve raised its benchmark interest rate by a quarter " +
	"point on wednesday citing persistent inflation pressure across housing energy " +
	"and services while signaling two further increases before the end of the year"

const chipText = "a semiconductor startup unveiled a new accelerator chip promising " +
	"double the throughput of existing designs at half the power draw with first " +
	"silicon expected to reach data center customers early next spring"

// testClusterer returns a clusterer with its clock pinned to a mutable
// instant, so member-addition times are deterministic.
func testClusterer() (*cluster.Clusterer, *time.Time) {
	c := cluster.New(cluster.Config{TopicThreshold: 0.60, FingerprintThreshold: 12})
	now := t0
	c.SetClock(func() time.Time { return now })
	return c, &now
}

func testAggregator(c *cluster.Clusterer) *Aggregator {
	return New(Config{
		DormantAfter:     2 * time.Hour,
		InactivityWindow: 6 * time.Hour,
		TopEntities:      5,
		EmergingFactor:   2.0,
	}, c)
}

func makeArticle(id string, topicDim int, text string, published time.Time, sentiment float64, entities ...string) article.Article {
	topics := make([]float64, analysis.TopicDim)
	topics[topicDim] = 1
	var ents []analysis.Entity
	for _, e := range entities {
		ents = append(ents, analysis.Entity{Text: e, Type: analysis.EntityOrganization})
	}
	h := fingerprint.New(fingerprint.DefaultShingleSize)
	return article.Article{
		ID:          id,
		Source:      "test-feed",
		Title:       "article " + id,
		Published:   published,
		Text:        text,
		Fingerprint: h.Hash(text),
		Analysis:    analysis.Result{Topics: topics, Sentiment: sentiment, Entities: ents},
	}
}

func mustAssign(t *testing.T, c *cluster.Clusterer, a article.Article) string {
	t.Helper()
	id, err := c.Assign(a)
	if err != nil {
		t.Fatalf("assign %s: %v", a.ID, err)
	}
	return id
}

func TestTickReportsPerStoryVolume(t *testing.T) {
	c, now := testClusterer()
	agg := testAggregator(c)

	fed := mustAssign(t, c, makeArticle("a1", 0, fedText, t0, -0.2, "Federal Reserve"))
	*now = t0.Add(10 * time.Minute)
	if got := mustAssign(t, c, makeArticle("a2", 0, fedText, t0, -0.4, "Federal Reserve")); got != fed {
		t.Fatalf("near-duplicates split into stories %s and %s", fed, got)
	}
	*now = t0.Add(20 * time.Minute)
	chip := mustAssign(t, c, makeArticle("a3", 5, chipText, t0, 0.5))
	if chip == fed {
		t.Fatalf("unrelated article joined the fed story")
	}

	snaps, events := agg.Tick(t0.Add(time.Hour))
	if len(events) != 0 {
		t.Errorf("unexpected events on first tick: %+v", events)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}

	byStory := make(map[string]Snapshot)
	for _, s := range snaps {
		byStory[s.StoryID] = s
	}
	if got := byStory[fed].Volume; got != 2 {
		t.Errorf("fed story volume = %d, want 2", got)
	}
	if got := byStory[chip].Volume; got != 1 {
		t.Errorf("chip story volume = %d, want 1", got)
	}
	if got, want := byStory[fed].MeanSentiment, -0.3; !approx(got, want) {
		t.Errorf("fed mean sentiment = %v, want %v", got, want)
	}
	if got := byStory[fed].DominantEntities; len(got) != 1 || got[0] != "Federal Reserve" {
		t.Errorf("fed dominant entities = %v", got)
	}
}

func TestTickSkipsIdleStories(t *testing.T) {
	c, _ := testClusterer()
	agg := testAggregator(c)

	mustAssign(t, c, makeArticle("a1", 0, fedText, t0, 0.1))
	if snaps, _ := agg.Tick(t0.Add(30 * time.Minute)); len(snaps) != 1 {
		t.Fatalf("first tick snapshots = %d, want 1", len(snaps))
	}

	// No new members: second tick produces nothing for the story.
	snaps, _ := agg.Tick(t0.Add(time.Hour))
	if len(snaps) != 0 {
		t.Errorf("idle story produced snapshot: %+v", snaps)
	}
}

func TestSentimentDelta(t *testing.T) {
	c, now := testClusterer()
	agg := testAggregator(c)

	id := mustAssign(t, c, makeArticle("a1", 0, fedText, t0, -0.2))
	agg.Tick(t0.Add(30 * time.Minute))

	*now = t0.Add(45 * time.Minute)
	mustAssign(t, c, makeArticle("a2", 0, fedText, t0, 0.4))
	snaps, _ := agg.Tick(t0.Add(time.Hour))
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	if snaps[0].StoryID != id {
		t.Fatalf("snapshot for story %s, want %s", snaps[0].StoryID, id)
	}
	if got, want := snaps[0].SentimentDelta, 0.6; !approx(got, want) {
		t.Errorf("sentiment delta = %v, want %v", got, want)
	}
}

func TestDecayingEventClosesStory(t *testing.T) {
	c, _ := testClusterer()
	agg := testAggregator(c)

	id := mustAssign(t, c, makeArticle("a1", 0, fedText, t0, 0.0))
	agg.Tick(t0.Add(time.Hour))

	snaps, events := agg.Tick(t0.Add(10 * time.Hour))
	if len(snaps) != 0 {
		t.Errorf("closed story produced snapshots: %+v", snaps)
	}
	if len(events) != 1 || events[0].Type != EventDecaying || events[0].StoryID != id {
		t.Fatalf("events = %+v, want one decaying for %s", events, id)
	}

	if snap, ok := c.GetStory(id); !ok || snap.State != cluster.StateClosed {
		t.Errorf("story state = %v, want closed", snap.State)
	}
	// History survives closure.
	if hist := agg.History(id, time.Time{}, time.Time{}); len(hist) != 1 {
		t.Errorf("history length = %d, want 1", len(hist))
	}
}

func TestBacklogArticlesSurviveFirstTick(t *testing.T) {
	c, _ := testClusterer()
	agg := testAggregator(c)

	// Published long before the inactivity window, ingested just now.
	// Lifecycle and window attribution follow the ingestion time, so
	// the story reports a snapshot instead of closing immediately.
	mustAssign(t, c, makeArticle("a1", 0, fedText, t0.Add(-8*time.Hour), 0.0))

	snaps, events := agg.Tick(t0)
	if len(events) != 0 {
		t.Fatalf("backlog article triggered events: %+v", events)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	if snaps[0].Volume != 1 {
		t.Errorf("volume = %d, want 1", snaps[0].Volume)
	}
}

func TestEmergingEvent(t *testing.T) {
	c, now := testClusterer()
	agg := New(Config{
		DormantAfter:     24 * time.Hour,
		InactivityWindow: 48 * time.Hour,
		TopEntities:      5,
		EmergingFactor:   2.0,
	}, c)

	id := mustAssign(t, c, makeArticle("a1", 0, fedText, t0, 0.0))
	agg.Tick(t0.Add(time.Hour))

	*now = t0.Add(90 * time.Minute)
	mustAssign(t, c, makeArticle("a2", 0, fedText, t0, 0.0))
	if _, events := agg.Tick(t0.Add(2 * time.Hour)); len(events) != 0 {
		t.Fatalf("emerged without an established baseline: %+v", events)
	}

	for i := 0; i < 3; i++ {
		*now = t0.Add(2*time.Hour + time.Duration(i+1)*10*time.Minute)
		mustAssign(t, c, makeArticle("burst"+string(rune('a'+i)), 0, fedText, t0, 0.0))
	}
	_, events := agg.Tick(t0.Add(3 * time.Hour))
	if len(events) != 1 {
		t.Fatalf("events = %+v, want one emerging", events)
	}
	ev := events[0]
	if ev.Type != EventEmerging || ev.StoryID != id {
		t.Errorf("event = %+v, want emerging for %s", ev, id)
	}
	if ev.Volume != 3 || !approx(ev.Baseline, 1.0) {
		t.Errorf("volume/baseline = %d/%v, want 3/1", ev.Volume, ev.Baseline)
	}
}

func TestDominantEntityRanking(t *testing.T) {
	c, now := testClusterer()
	agg := New(Config{
		DormantAfter:     24 * time.Hour,
		InactivityWindow: 48 * time.Hour,
		TopEntities:      2,
		EmergingFactor:   2.0,
	}, c)

	mustAssign(t, c, makeArticle("a1", 0, fedText, t0, 0.0, "SEC", "Treasury"))
	*now = t0.Add(time.Minute)
	mustAssign(t, c, makeArticle("a2", 0, fedText, t0, 0.0, "SEC", "Congress"))

	snaps, _ := agg.Tick(t0.Add(time.Hour))
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	want := []string{"SEC", "Congress"}
	got := snaps[0].DominantEntities
	if len(got) != len(want) {
		t.Fatalf("dominant entities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dominant[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestHistoryRange(t *testing.T) {
	c, now := testClusterer()
	agg := New(Config{
		DormantAfter:     24 * time.Hour,
		InactivityWindow: 48 * time.Hour,
		TopEntities:      5,
		EmergingFactor:   2.0,
	}, c)

	id := mustAssign(t, c, makeArticle("a1", 0, fedText, t0, 0.0))
	agg.Tick(t0.Add(1 * time.Hour))
	*now = t0.Add(90 * time.Minute)
	mustAssign(t, c, makeArticle("a2", 0, fedText, t0, 0.0))
	agg.Tick(t0.Add(2 * time.Hour))
	*now = t0.Add(150 * time.Minute)
	mustAssign(t, c, makeArticle("a3", 0, fedText, t0, 0.0))
	agg.Tick(t0.Add(3 * time.Hour))

	if all := agg.History(id, time.Time{}, time.Time{}); len(all) != 3 {
		t.Fatalf("full history length = %d, want 3", len(all))
	}
	ranged := agg.History(id, t0.Add(90*time.Minute), t0.Add(150*time.Minute))
	if len(ranged) != 1 || !ranged[0].TakenAt.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("ranged history = %+v, want single snapshot at +2h", ranged)
	}
	if unknown := agg.History("nope", time.Time{}, time.Time{}); len(unknown) != 0 {
		t.Errorf("unknown story history = %+v, want empty", unknown)
	}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
