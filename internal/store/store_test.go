package store

import (
	"testing"
	"time"

	"storywatch/internal/analysis"
	"storywatch/internal/article"
	"storywatch/internal/cluster"
	"storywatch/internal/trend"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleArticle(id string) article.Article {
	return article.Article{
		ID:          id,
		Source:      "reuters",
		Title:       "Fed raises rates",
		URL:         "https://example.com/fed-rates",
		Published:   t0,
		FetchedAt:   t0.Add(time.Minute),
		Text:        "the federal reserve raised rates",
		Fingerprint: 0xdeadbeefcafef00d,
		Analysis: analysis.Result{
			Sentiment:      -0.3,
			SentimentLabel: "negative",
			Entities:       []analysis.Entity{{Text: "Federal Reserve", Type: analysis.EntityOrganization}},
			Topics:         []float64{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
			Provider:       "keyword",
			ComputedAt:     t0,
		},
	}
}

func TestArticleRoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := sampleArticle("a1")
	n, err := s.SaveArticles([]article.Article{want})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if n != 1 {
		t.Errorf("new count = %d, want 1", n)
	}

	got, ok, err := s.GetArticle("a1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Fingerprint != want.Fingerprint {
		t.Errorf("fingerprint = %x, want %x", got.Fingerprint, want.Fingerprint)
	}
	if got.Analysis.SentimentLabel != "negative" || len(got.Analysis.Entities) != 1 {
		t.Errorf("analysis round trip mangled: %+v", got.Analysis)
	}
	if !got.Published.Equal(want.Published) {
		t.Errorf("published = %v, want %v", got.Published, want.Published)
	}
}

func TestSaveArticlesIgnoresDuplicates(t *testing.T) {
	s := openTestStore(t)

	a := sampleArticle("a1")
	if _, err := s.SaveArticles([]article.Article{a}); err != nil {
		t.Fatalf("save: %v", err)
	}
	n, err := s.SaveArticles([]article.Article{a, sampleArticle("a2")})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if n != 1 {
		t.Errorf("new count = %d, want 1", n)
	}
	count, err := s.ArticleCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("article count = %d, want 2", count)
	}
}

func TestGetArticleMissing(t *testing.T) {
	s := openTestStore(t)
	if _, ok, err := s.GetArticle("nope"); ok || err != nil {
		t.Errorf("missing article: ok=%v err=%v", ok, err)
	}
}

func TestStoryUpsert(t *testing.T) {
	s := openTestStore(t)

	st := cluster.Snapshot{
		ID:        "story-1",
		Centroid:  []float64{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		Members:   []cluster.Member{{ArticleID: "a1", AddedAt: t0, Published: t0.Add(-time.Hour), Sentiment: -0.3}},
		FirstSeen: t0,
		LastSeen:  t0,
		SentimentTrend: []cluster.TrendPoint{
			{Time: t0, Value: -0.3},
		},
		State: cluster.StateActive,
	}
	if err := s.SaveStories([]cluster.Snapshot{st}); err != nil {
		t.Fatalf("save: %v", err)
	}

	st.Members = append(st.Members, cluster.Member{ArticleID: "a2", AddedAt: t0.Add(time.Hour), Sentiment: 0.1})
	st.LastSeen = t0.Add(time.Hour)
	st.State = cluster.StateDormant
	if err := s.SaveStories([]cluster.Snapshot{st}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, ok, err := s.GetStory("story-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(got.Members) != 2 {
		t.Errorf("members = %d, want 2", len(got.Members))
	}
	if got.State != cluster.StateDormant {
		t.Errorf("state = %s, want dormant", got.State)
	}
	if !got.FirstSeen.Equal(t0) {
		t.Errorf("first seen = %v, want %v", got.FirstSeen, t0)
	}
}

func TestSnapshotRangeQuery(t *testing.T) {
	s := openTestStore(t)

	var snaps []trend.Snapshot
	for i := 1; i <= 3; i++ {
		snaps = append(snaps, trend.Snapshot{
			StoryID:          "story-1",
			WindowEnd:        t0.Add(time.Duration(i) * time.Hour),
			Volume:           i,
			MeanSentiment:    0.1 * float64(i),
			DominantEntities: []string{"Federal Reserve"},
			TakenAt:          t0.Add(time.Duration(i) * time.Hour),
		})
	}
	if err := s.SaveSnapshots(snaps); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := s.GetSnapshots("story-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d snapshots, want 3", len(all))
	}
	if all[0].Volume != 1 || all[2].Volume != 3 {
		t.Errorf("snapshots out of order: %+v", all)
	}
	if all[0].DominantEntities[0] != "Federal Reserve" {
		t.Errorf("entities = %v", all[0].DominantEntities)
	}

	ranged, err := s.GetSnapshots("story-1", t0.Add(2*time.Hour), t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("get range: %v", err)
	}
	if len(ranged) != 1 || ranged[0].Volume != 2 {
		t.Errorf("ranged = %+v, want single volume-2 snapshot", ranged)
	}

	if other, _ := s.GetSnapshots("other", time.Time{}, time.Time{}); len(other) != 0 {
		t.Errorf("unrelated story returned snapshots: %+v", other)
	}
}
