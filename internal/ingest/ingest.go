// Package ingest is C12: the ingestion pipeline that turns configured RSS/
// Atom feeds into persisted, narrative-linked articles. It polls each feed
// (internal/feeds), pulls body text for new items (internal/fetch), gates on
// the rule-based relevance classifier (internal/relevance) before ever
// spending an LLM call, batches the survivors through C6 extraction
// (internal/extraction), and hands the result to the C8 lifecycle engine
// (internal/narrative) and the entity-mention log behind C9's signals.
// Tier-1 (irrelevant) articles are still persisted — every ingested article
// is retained regardless of tier — but never reach the LLM or a narrative.
//
// Feed poll state (ETag/Last-Modified) lives in-process rather than as a
// ninth persisted collection: a missed poll after a restart just re-fetches
// once, which conditional GETs make cheap.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"narrative-core/internal/config"
	"narrative-core/internal/core"
	"narrative-core/internal/extraction"
	"narrative-core/internal/feeds"
	"narrative-core/internal/fetch"
	"narrative-core/internal/logger"
	"narrative-core/internal/narrative"
	"narrative-core/internal/persistence"
	"narrative-core/internal/relevance"
)

// maxArticlesPerMinute caps the LLM-bound extraction rate; tier-1 articles
// bypass the limiter since they never reach the LLM.
const maxArticlesPerMinute = 20

// Pipeline runs one pass of C12: poll every configured feed, fetch and
// classify new items, and extract+link the ones worth an LLM call.
type Pipeline struct {
	feedMgr   *feeds.Manager
	fetcher   *fetch.Fetcher
	extractor *extraction.Generator // nil: persist at rule tier, skip linking
	engine    *narrative.Engine
	articles  persistence.ArticleRepository
	mentions  persistence.EntityMentionRepository
	limiter   *rate.Limiter

	sources    []string
	maxPerFeed int

	mu        sync.Mutex
	feedState map[string]core.Feed
}

// New builds a Pipeline from the feeds section of configuration. extractor
// may be nil (e.g. in contexts where the LLM isn't wired), in which case
// every article is persisted at whatever relevance tier it lands and
// narrative linking is skipped entirely.
func New(cfg config.Feeds, articles persistence.ArticleRepository, mentions persistence.EntityMentionRepository, extractor *extraction.Generator, engine *narrative.Engine) *Pipeline {
	maxPerFeed := cfg.MaxItemsPerFeed
	if maxPerFeed <= 0 {
		maxPerFeed = 50
	}
	return &Pipeline{
		feedMgr:    feeds.NewManager(cfg.UserAgent, cfg.Timeout),
		fetcher:    fetch.NewFetcher(cfg.UserAgent, cfg.Timeout),
		extractor:  extractor,
		engine:     engine,
		articles:   articles,
		mentions:   mentions,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/maxArticlesPerMinute), 1),
		sources:    cfg.Sources,
		maxPerFeed: maxPerFeed,
		feedState:  make(map[string]core.Feed),
	}
}

// Run polls every configured source once and ingests any new items,
// returning the number of articles newly persisted. A single feed's poll
// failure is logged and skipped rather than aborting the whole run.
func (p *Pipeline) Run(ctx context.Context) (int, error) {
	log := logger.With("ingest")
	total := 0
	for _, source := range p.sources {
		n, err := p.pollOne(ctx, source)
		if err != nil {
			log.Error().Err(err).Str("feed", source).Msg("feed poll failed")
			continue
		}
		total += n
	}
	return total, nil
}

func (p *Pipeline) pollOne(ctx context.Context, source string) (int, error) {
	p.mu.Lock()
	feed, ok := p.feedState[source]
	p.mu.Unlock()
	if !ok {
		feed = core.Feed{URL: source}
	}

	result, err := p.feedMgr.Poll(ctx, feed)
	if err != nil {
		return 0, fmt.Errorf("polling %s: %w", source, err)
	}

	p.mu.Lock()
	p.feedState[source] = result.Feed
	p.mu.Unlock()

	if result.NotModified {
		return 0, nil
	}

	items := result.Items
	if len(items) > p.maxPerFeed {
		items = items[:p.maxPerFeed]
	}

	log := logger.With("ingest")
	count := 0
	for _, item := range items {
		ingested, err := p.ingestItem(ctx, source, item)
		if err != nil {
			log.Warn().Err(err).Str("url", item.URL).Msg("ingesting item failed")
			continue
		}
		if ingested {
			count++
		}
	}
	return count, nil
}

func (p *Pipeline) ingestItem(ctx context.Context, source string, item feeds.Item) (bool, error) {
	if item.URL == "" {
		return false, nil
	}
	if existing, err := p.articles.GetByURL(ctx, item.URL); err == nil && existing != nil {
		return false, nil
	}

	title, body, err := p.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return false, fmt.Errorf("fetching body: %w", err)
	}
	if title == "" {
		title = item.Title
	}

	classified := relevance.Classify(title, body)

	article := &core.Article{
		ID:               uuid.NewString(),
		URL:              item.URL,
		Source:           source,
		PublishedAt:      item.Published,
		Title:            title,
		Body:             body,
		RelevanceTier:    classified.Tier,
		Sentiment:        core.SentimentNeutral,
		ExtractionMethod: core.ExtractionRule,
		CreatedAt:        time.Now().UTC(),
	}

	if classified.Tier == core.TierIrrelevant || p.extractor == nil {
		return true, p.articles.Upsert(ctx, article)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("waiting for ingestion rate limit: %w", err)
	}

	outputs, failed, err := p.extractor.ExtractBatch(ctx, []extraction.Input{{ID: article.ID, Title: title, Body: body}})
	if err != nil {
		return false, fmt.Errorf("extracting: %w", err)
	}
	if len(failed) > 0 || len(outputs) == 0 {
		// Extraction gave up on this article; keep the rule-classified
		// article rather than dropping it.
		return true, p.articles.Upsert(ctx, article)
	}

	output := outputs[0]
	article.Entities = output.Entities
	article.Sentiment = output.Sentiment
	article.ExtractionMethod = output.ExtractionMethod

	if err := p.articles.Upsert(ctx, article); err != nil {
		return false, fmt.Errorf("persisting article: %w", err)
	}

	if err := p.linkNarrative(ctx, article, output); err != nil {
		return true, fmt.Errorf("linking narrative: %w", err)
	}
	return true, nil
}

// linkNarrative assigns the article to a narrative via the lifecycle engine
// and records each extracted entity's mention, using the highest-confidence
// entity as the fingerprint's nucleus.
func (p *Pipeline) linkNarrative(ctx context.Context, article *core.Article, output extraction.Output) error {
	ranked := extraction.ByConfidence(output.Entities)
	if len(ranked) == 0 {
		return nil
	}
	nucleus := ranked[0].Name

	actors := make([]string, 0, 5)
	for _, e := range ranked {
		actors = append(actors, e.Name)
		if len(actors) == 5 {
			break
		}
	}

	now := time.Now().UTC()
	fp := narrative.ComputeFingerprint(nucleus, actors, output.NarrativeFocus, output.KeyActions, now)

	contribution := narrative.ArticleContribution{
		ID:          article.ID,
		PublishedAt: article.PublishedAt,
		Sentiment:   sentimentScore(article.Sentiment),
		Actors:      actors,
		Entities:    entityNames(output.Entities),
	}

	narrativeID, err := p.engine.Process(ctx, fp, now, []narrative.ArticleContribution{contribution})
	if err != nil {
		return err
	}
	if err := p.articles.SetNarrativeID(ctx, article.ID, narrativeID); err != nil {
		return fmt.Errorf("setting narrative_id: %w", err)
	}

	for _, e := range output.Entities {
		mention := persistence.EntityMention{
			Entity:      e.Name,
			EntityType:  e.Type,
			ArticleID:   article.ID,
			Source:      article.Source,
			Sentiment:   article.Sentiment,
			NarrativeID: narrativeID,
			Timestamp:   article.PublishedAt,
		}
		if err := p.mentions.Insert(ctx, mention); err != nil {
			return fmt.Errorf("recording entity mention for %s: %w", e.Name, err)
		}
	}
	return nil
}

func entityNames(entities []core.Entity) []string {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	return names
}

func sentimentScore(s core.Sentiment) float64 {
	switch s {
	case core.SentimentPositive:
		return 1
	case core.SentimentNegative:
		return -1
	default:
		return 0
	}
}
