// Package persistence is C2: the document-store wrapper over Postgres+JSONB
// exposing the eight named collections (articles, narratives,
// entity_mentions, signals_cache, briefings, briefing_patterns, cost_records,
// llm_cache — the last served durably by internal/store's sqlite cache
// instead, see DESIGN.md) behind small, context-first repository interfaces,
// one repository per collection, each built around idempotent upserts.
package persistence

import (
	"context"
	"time"

	"narrative-core/internal/core"
)

// ArticleRepository persists the articles collection. Mutations are
// idempotent upserts keyed on the unique url column.
type ArticleRepository interface {
	Upsert(ctx context.Context, article *core.Article) error
	Get(ctx context.Context, id string) (*core.Article, error)
	GetByURL(ctx context.Context, url string) (*core.Article, error)
	ListRecent(ctx context.Context, limit int) ([]core.Article, error)
	SetNarrativeID(ctx context.Context, articleID, narrativeID string) error
}

// NarrativeRepository persists the narratives collection. Mutations are
// idempotent upserts keyed on id, following a "document-level
// conditional update" ordering guarantee.
type NarrativeRepository interface {
	Upsert(ctx context.Context, narrative *core.Narrative) error
	Get(ctx context.Context, id string) (*core.Narrative, error)
	// CandidatesByNucleus returns non-archived narratives sharing nucleus,
	// first_seen within the last 90 days — the matcher's input set.
	CandidatesByNucleus(ctx context.Context, nucleus string, since time.Time) ([]core.Narrative, error)
	ListActive(ctx context.Context, limit int) ([]core.Narrative, error)
	ListArchived(ctx context.Context, limit int) ([]core.Narrative, error)
	ListReactivated(ctx context.Context, limit int) ([]core.Narrative, error)
	// ListActiveNucleiWithDuplicates returns distinct nucleus_entity values with at least
	// two active (non-archived, non-dormant) narratives, for the
	// consolidation pass.
	ListActiveNucleiWithDuplicates(ctx context.Context) ([]string, error)
	// NoFingerprintHash returns narratives lacking fingerprint.hash, for the
	// one-shot backfill.
	NoFingerprintHash(ctx context.Context, limit int) ([]core.Narrative, error)
	// NoNarrativeFocus returns narratives with an empty narrative_focus, for
	// the one-shot narrative-focus backfill.
	NoNarrativeFocus(ctx context.Context, limit int) ([]core.Narrative, error)
}

// EntityMention is one article's contribution to an entity's mention
// history, the raw material for C9's signal scoring.
type EntityMention struct {
	Entity      string
	EntityType  core.EntityType
	ArticleID   string
	Source      string
	Sentiment   core.Sentiment
	NarrativeID string
	Timestamp   time.Time
}

// EntityMentionRepository persists entity_mentions, indexed by
// (entity, timestamp) compound index.
type EntityMentionRepository interface {
	Insert(ctx context.Context, m EntityMention) error
	Since(ctx context.Context, entity string, since time.Time) ([]EntityMention, error)
	// DistinctEntitiesSince lists entities with at least one mention since
	// the given time, the seed set C9 fans its 16-way worker pool over.
	DistinctEntitiesSince(ctx context.Context, since time.Time) ([]string, error)
}

// SignalsCacheRepository is the shared layer of C9's two-layer cache. The
// only implementation is Postgres-backed; there is no Redis implementation.
type SignalsCacheRepository interface {
	Get(ctx context.Context, key string) ([]core.Signal, bool, error)
	Set(ctx context.Context, key string, signals []core.Signal, ttl time.Duration) error
}

// BriefingRepository persists the briefings collection.
type BriefingRepository interface {
	Insert(ctx context.Context, briefing *core.Briefing) error
	LatestByType(ctx context.Context, briefingType core.BriefingType) (*core.Briefing, error)
	ByTypeAndDate(ctx context.Context, briefingType core.BriefingType, localDate string) (*core.Briefing, error)
	// ExistsForPeriod backs the at-most-one-per-period guard.
	ExistsForPeriod(ctx context.Context, briefingType core.BriefingType, localDate string) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// BriefingPattern is one cross-narrative correlation/divergence surfaced by
// a past briefing, retained for the briefing generator's grounded-input set.
type BriefingPattern struct {
	ID          string
	Description string
	NarrativeIDs []string
	DetectedAt  time.Time
}

// BriefingPatternRepository persists briefing_patterns.
type BriefingPatternRepository interface {
	Insert(ctx context.Context, p BriefingPattern) error
	Recent(ctx context.Context, limit int) ([]BriefingPattern, error)
}

// CostRecordRepository persists cost_records and satisfies internal/cost.Store.
type CostRecordRepository interface {
	InsertCostRecord(ctx context.Context, rec core.CostRecord) error
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
	SumCostBetween(ctx context.Context, from, to time.Time) (float64, error)
	SumByModelSince(ctx context.Context, since time.Time) (map[string]float64, error)
}

// Store aggregates every repository behind one handle, the persistence
// layer's single entry point for the rest of the pipeline.
type Store interface {
	Articles() ArticleRepository
	Narratives() NarrativeRepository
	EntityMentions() EntityMentionRepository
	SignalsCache() SignalsCacheRepository
	Briefings() BriefingRepository
	BriefingPatterns() BriefingPatternRepository
	CostRecords() CostRecordRepository
	Close() error
	Ping(ctx context.Context) error
}
