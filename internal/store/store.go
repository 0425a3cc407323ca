// Package store provides SQLite persistence for articles, stories and
// trend snapshots. Persistence is a collaborator of the pipeline, not
// a source of truth: the clusterer and aggregator run from memory and
// the store lets history survive restarts.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"storywatch/internal/article"
	"storywatch/internal/cluster"
	"storywatch/internal/trend"
)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates a Store at the given database path, creating tables as
// needed. File-based databases run in WAL mode; ":memory:" is
// supported for tests.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		source_name TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT,
		published_at DATETIME NOT NULL,
		fetched_at DATETIME NOT NULL,
		text TEXT,
		fingerprint TEXT NOT NULL,
		analysis TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at DESC);
	CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source_name);

	CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		centroid TEXT NOT NULL,
		members TEXT NOT NULL,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		sentiment_trend TEXT NOT NULL,
		state TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stories_last_seen ON stories(last_seen DESC);
	CREATE INDEX IF NOT EXISTS idx_stories_state ON stories(state);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		story_id TEXT NOT NULL,
		window_start DATETIME,
		window_end DATETIME NOT NULL,
		volume INTEGER NOT NULL,
		mean_sentiment REAL NOT NULL,
		sentiment_delta REAL NOT NULL,
		dominant_entities TEXT NOT NULL,
		bias_skew REAL NOT NULL,
		taken_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_story ON snapshots(story_id, taken_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// SaveArticles inserts new articles, ignoring duplicates. Returns the
// count of rows actually inserted.
func (s *Store) SaveArticles(articles []article.Article) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(articles) == 0 {
		return 0, nil
	}

	stmt, err := s.db.Prepare(`
		INSERT OR IGNORE INTO articles (
			id, source_name, title, url, published_at, fetched_at,
			text, fingerprint, analysis
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	newCount := 0
	for _, a := range articles {
		analysisJSON, err := json.Marshal(a.Analysis)
		if err != nil {
			return newCount, fmt.Errorf("marshal analysis for %s: %w", a.ID, err)
		}
		result, err := stmt.Exec(
			a.ID,
			a.Source,
			a.Title,
			a.URL,
			a.Published,
			a.FetchedAt,
			a.Text,
			strconv.FormatUint(a.Fingerprint, 16),
			string(analysisJSON),
		)
		if err != nil {
			return newCount, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return newCount, err
		}
		if affected > 0 {
			newCount++
		}
	}
	return newCount, nil
}

// GetArticle loads one article. Returns ok=false when absent.
func (s *Store) GetArticle(id string) (article.Article, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a article.Article
	var fp, analysisJSON string
	err := s.db.QueryRow(`
		SELECT id, source_name, title, url, published_at, fetched_at, text, fingerprint, analysis
		FROM articles WHERE id = ?
	`, id).Scan(&a.ID, &a.Source, &a.Title, &a.URL, &a.Published, &a.FetchedAt, &a.Text, &fp, &analysisJSON)
	if err == sql.ErrNoRows {
		return article.Article{}, false, nil
	}
	if err != nil {
		return article.Article{}, false, err
	}

	if a.Fingerprint, err = strconv.ParseUint(fp, 16, 64); err != nil {
		return article.Article{}, false, fmt.Errorf("parse fingerprint for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(analysisJSON), &a.Analysis); err != nil {
		return article.Article{}, false, fmt.Errorf("unmarshal analysis for %s: %w", id, err)
	}
	return a, true, nil
}

// ArticleCount returns the stored article count.
func (s *Store) ArticleCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM articles").Scan(&count)
	return count, err
}

// SaveStories upserts story snapshots, replacing prior state per id.
func (s *Store) SaveStories(stories []cluster.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(stories) == 0 {
		return nil
	}

	stmt, err := s.db.Prepare(`
		INSERT INTO stories (id, centroid, members, first_seen, last_seen, sentiment_trend, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			centroid = excluded.centroid,
			members = excluded.members,
			last_seen = excluded.last_seen,
			sentiment_trend = excluded.sentiment_trend,
			state = excluded.state
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range stories {
		centroid, err := json.Marshal(st.Centroid)
		if err != nil {
			return fmt.Errorf("marshal centroid for %s: %w", st.ID, err)
		}
		members, err := json.Marshal(st.Members)
		if err != nil {
			return fmt.Errorf("marshal members for %s: %w", st.ID, err)
		}
		sentimentTrend, err := json.Marshal(st.SentimentTrend)
		if err != nil {
			return fmt.Errorf("marshal trend for %s: %w", st.ID, err)
		}
		if _, err := stmt.Exec(st.ID, string(centroid), string(members),
			st.FirstSeen, st.LastSeen, string(sentimentTrend), string(st.State)); err != nil {
			return err
		}
	}
	return nil
}

// GetStory loads one story snapshot. Returns ok=false when absent.
func (s *Store) GetStory(id string) (cluster.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st cluster.Snapshot
	var centroid, members, sentimentTrend, state string
	err := s.db.QueryRow(`
		SELECT id, centroid, members, first_seen, last_seen, sentiment_trend, state
		FROM stories WHERE id = ?
	`, id).Scan(&st.ID, &centroid, &members, &st.FirstSeen, &st.LastSeen, &sentimentTrend, &state)
	if err == sql.ErrNoRows {
		return cluster.Snapshot{}, false, nil
	}
	if err != nil {
		return cluster.Snapshot{}, false, err
	}

	if err := json.Unmarshal([]byte(centroid), &st.Centroid); err != nil {
		return cluster.Snapshot{}, false, fmt.Errorf("unmarshal centroid for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(members), &st.Members); err != nil {
		return cluster.Snapshot{}, false, fmt.Errorf("unmarshal members for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(sentimentTrend), &st.SentimentTrend); err != nil {
		return cluster.Snapshot{}, false, fmt.Errorf("unmarshal trend for %s: %w", id, err)
	}
	st.State = cluster.State(state)
	return st, true, nil
}

// SaveSnapshots appends trend snapshots. Snapshots are immutable, so
// this is insert-only.
func (s *Store) SaveSnapshots(snaps []trend.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(snaps) == 0 {
		return nil
	}

	stmt, err := s.db.Prepare(`
		INSERT INTO snapshots (
			story_id, window_start, window_end, volume, mean_sentiment,
			sentiment_delta, dominant_entities, bias_skew, taken_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, snap := range snaps {
		entities, err := json.Marshal(snap.DominantEntities)
		if err != nil {
			return fmt.Errorf("marshal entities for %s: %w", snap.StoryID, err)
		}
		if _, err := stmt.Exec(snap.StoryID, snap.WindowStart, snap.WindowEnd,
			snap.Volume, snap.MeanSentiment, snap.SentimentDelta,
			string(entities), snap.BiasSkew, snap.TakenAt); err != nil {
			return err
		}
	}
	return nil
}

// GetSnapshots returns a story's snapshots with taken_at in [from, to],
// oldest first. Zero bounds are open-ended.
func (s *Store) GetSnapshots(storyID string, from, to time.Time) ([]trend.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT story_id, window_start, window_end, volume, mean_sentiment,
			sentiment_delta, dominant_entities, bias_skew, taken_at
		FROM snapshots
		WHERE story_id = ?
	`
	args := []any{storyID}
	if !from.IsZero() {
		query += " AND taken_at >= ?"
		args = append(args, from)
	}
	if !to.IsZero() {
		query += " AND taken_at <= ?"
		args = append(args, to)
	}
	query += " ORDER BY taken_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []trend.Snapshot
	for rows.Next() {
		var snap trend.Snapshot
		var windowStart sql.NullTime
		var entities string
		err := rows.Scan(&snap.StoryID, &windowStart, &snap.WindowEnd, &snap.Volume,
			&snap.MeanSentiment, &snap.SentimentDelta, &entities, &snap.BiasSkew, &snap.TakenAt)
		if err != nil {
			return nil, err
		}
		snap.WindowStart = windowStart.Time
		if err := json.Unmarshal([]byte(entities), &snap.DominantEntities); err != nil {
			return nil, fmt.Errorf("unmarshal entities for %s: %w", snap.StoryID, err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}
