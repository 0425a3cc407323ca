// Package pipeline wires ingestion, analysis, clustering and trend
// aggregation into one runnable unit.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"storywatch/internal/analysis"
	"storywatch/internal/article"
	"storywatch/internal/cluster"
	"storywatch/internal/config"
	"storywatch/internal/events"
	"storywatch/internal/fingerprint"
	"storywatch/internal/logging"
	"storywatch/internal/source"
	"storywatch/internal/store"
	"storywatch/internal/trend"
)

// Report counts the outcomes of one ingestion batch. Dropped and
// failed articles are counted, never silently lost.
type Report struct {
	Received           int
	Ingested           int
	DroppedMalformed   int
	FailedAnalysis     int
	Cancelled          int
	ContractViolations int
}

func (r *Report) add(other Report) {
	r.Received += other.Received
	r.Ingested += other.Ingested
	r.DroppedMalformed += other.DroppedMalformed
	r.FailedAnalysis += other.FailedAnalysis
	r.Cancelled += other.Cancelled
	r.ContractViolations += other.ContractViolations
}

// Pipeline runs the ingestion-to-trend flow. The store is optional;
// without one the pipeline runs purely in memory.
type Pipeline struct {
	cfg        config.Config
	sources    []source.Source
	cache      *analysis.Cache
	normalizer *article.Normalizer
	clusterer  *cluster.Clusterer
	aggregator *trend.Aggregator
	store      *store.Store
	journal    *events.Journal

	mu     sync.Mutex
	totals Report
}

// New assembles a Pipeline around the given provider and sources.
func New(cfg config.Config, provider analysis.Provider, st *store.Store, sources []source.Source) *Pipeline {
	cache := analysis.NewCache(provider, analysis.CacheConfig{
		TTL:         cfg.Analysis.CacheTTL.Std(),
		RateLimit:   cfg.Analysis.RateLimit,
		Burst:       cfg.Analysis.Burst,
		MaxAttempts: cfg.Analysis.MaxAttempts,
		BaseBackoff: cfg.Analysis.BaseBackoff.Std(),
	})
	clusterer := cluster.New(cluster.Config{
		TopicThreshold:       cfg.Cluster.TopicThreshold,
		FingerprintThreshold: cfg.Cluster.FingerprintThreshold,
	})
	return &Pipeline{
		cfg:        cfg,
		sources:    sources,
		cache:      cache,
		normalizer: article.NewNormalizer(fingerprint.New(cfg.Ingest.ShingleSize), cache, cfg.Ingest.MaxTextLength),
		clusterer:  clusterer,
		aggregator: trend.New(trend.Config{
			DormantAfter:     cfg.Trend.DormantAfter.Std(),
			InactivityWindow: cfg.Trend.InactivityWindow.Std(),
			TopEntities:      cfg.Trend.TopEntities,
			EmergingFactor:   cfg.Trend.EmergingFactor,
		}, clusterer),
		store:   st,
		journal: events.NewNullJournal(),
	}
}

// AttachJournal replaces the discard journal. Call before Run.
func (p *Pipeline) AttachJournal(j *events.Journal) {
	p.journal = j
}

// RecentEvents returns up to n journaled events, newest first.
func (p *Pipeline) RecentEvents(n int) []events.Event {
	return p.journal.Recent(n)
}

// Ingest normalizes and clusters a batch of raw articles. Each article
// is independent: one failure never aborts the batch. The returned
// Report covers this batch only; Totals accumulates across batches.
func (p *Pipeline) Ingest(ctx context.Context, raws []source.RawArticle) Report {
	report := Report{Received: len(raws)}
	var reportMu sync.Mutex
	var ingested []article.Article

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Ingest.Workers)
	for _, raw := range raws {
		raw := raw
		g.Go(func() error {
			a, err := p.normalizer.Normalize(ctx, raw)
			if err != nil {
				reportMu.Lock()
				switch {
				case errors.Is(err, article.ErrMalformedInput):
					report.DroppedMalformed++
					logging.Warn("dropped malformed article", "source", raw.SourceName, "url", raw.URL, "error", err)
				case errors.Is(err, analysis.ErrCancelled):
					report.Cancelled++
				default:
					report.FailedAnalysis++
					logging.Warn("analysis failed", "source", raw.SourceName, "url", raw.URL, "error", err)
				}
				reportMu.Unlock()
				return nil
			}

			storyID, err := p.clusterer.Assign(a)
			reportMu.Lock()
			defer reportMu.Unlock()
			if err != nil {
				report.ContractViolations++
				logging.Error("story assignment failed", "article", a.ID, "error", err)
				return nil
			}
			report.Ingested++
			ingested = append(ingested, a)
			logging.Debug("article ingested", "article", a.ID, "story", storyID, "source", a.Source)
			return nil
		})
	}
	g.Wait()

	p.persistArticles(ingested)

	p.mu.Lock()
	p.totals.add(report)
	p.mu.Unlock()
	return report
}

func (p *Pipeline) persistArticles(articles []article.Article) {
	if p.store == nil || len(articles) == 0 {
		return
	}
	if _, err := p.store.SaveArticles(articles); err != nil {
		logging.Error("persist articles", "count", len(articles), "error", err)
	}
}

// Tick advances story lifecycles and produces trend snapshots as of
// now, persisting snapshots and story state when a store is attached.
func (p *Pipeline) Tick(now time.Time) ([]trend.Snapshot, []trend.Event) {
	snaps, trendEvents := p.aggregator.Tick(now)
	for _, ev := range trendEvents {
		logging.Info("trend event", "type", ev.Type, "story", ev.StoryID, "volume", ev.Volume)
		kind := events.KindEmerging
		if ev.Type == trend.EventDecaying {
			kind = events.KindDecaying
		}
		p.journal.Emit(events.Event{
			Time: ev.At, Kind: kind, StoryID: ev.StoryID,
			Volume: ev.Volume, Baseline: ev.Baseline,
		})
	}

	if p.store != nil {
		if err := p.store.SaveSnapshots(snaps); err != nil {
			logging.Error("persist snapshots", "count", len(snaps), "error", err)
			p.journal.Emit(events.Event{Kind: events.KindStoreError, Err: err.Error()})
		}
		if err := p.store.SaveStories(p.clusterer.SnapshotAll()); err != nil {
			logging.Error("persist stories", "error", err)
			p.journal.Emit(events.Event{Kind: events.KindStoreError, Err: err.Error()})
		}
	}

	p.cache.Purge(now)
	return snaps, trendEvents
}

// Run fetches sources and ticks aggregation on the configured interval
// until ctx is cancelled. In-flight work drains before return.
func (p *Pipeline) Run(ctx context.Context) error {
	interval := p.cfg.Trend.TickInterval.Std()
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	logging.Info("pipeline started", "sources", len(p.sources), "interval", interval)
	p.cycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("pipeline stopped", "totals", p.Totals())
			return ctx.Err()
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle runs one fetch-ingest-tick pass.
func (p *Pipeline) cycle(ctx context.Context) {
	raws := p.fetchAll(ctx)
	if ctx.Err() != nil {
		return
	}
	report := p.Ingest(ctx, raws)
	logging.Info("ingestion cycle",
		"received", report.Received, "ingested", report.Ingested,
		"malformed", report.DroppedMalformed, "failed", report.FailedAnalysis,
		"cancelled", report.Cancelled)
	p.journal.Emit(events.Event{
		Kind:     events.KindCycle,
		Received: report.Received,
		Ingested: report.Ingested,
		Dropped:  report.DroppedMalformed,
		Failed:   report.FailedAnalysis,
	})
	p.Tick(time.Now())
}

// fetchAll pulls every source concurrently. Source failures are logged
// and skipped; the cycle proceeds with whatever arrived.
func (p *Pipeline) fetchAll(ctx context.Context) []source.RawArticle {
	var mu sync.Mutex
	var all []source.RawArticle

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Ingest.Workers)
	for _, src := range p.sources {
		src := src
		g.Go(func() error {
			raws, err := src.Fetch(ctx)
			if err != nil {
				logging.Warn("source fetch failed", "source", src.Name(), "error", err)
				p.journal.Emit(events.Event{Kind: events.KindSourceError, Source: src.Name(), Err: err.Error()})
				return nil
			}
			mu.Lock()
			all = append(all, raws...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return all
}

// GetStory returns a point-in-time copy of one story.
func (p *Pipeline) GetStory(id string) (cluster.Snapshot, bool) {
	return p.clusterer.GetStory(id)
}

// ListOpenStories returns all active and dormant stories, most
// recently updated first.
func (p *Pipeline) ListOpenStories() []cluster.Snapshot {
	return p.clusterer.ListOpen()
}

// GetTrendHistory returns a story's snapshots with TakenAt in
// [from, to]. Zero bounds are open-ended.
func (p *Pipeline) GetTrendHistory(storyID string, from, to time.Time) []trend.Snapshot {
	return p.aggregator.History(storyID, from, to)
}

// CacheStats exposes analysis cache counters.
func (p *Pipeline) CacheStats() analysis.Stats {
	return p.cache.Stats()
}

// Totals returns cumulative ingestion counts since start.
func (p *Pipeline) Totals() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totals
}
