// Package core defines the domain types shared by every subsystem of the
// narrative intelligence pipeline: articles, narratives, signals, briefings
// and cost records. Types here are persisted as-is by internal/persistence;
// nothing in this package talks to the network or the store.
package core

import "time"

// RelevanceTier is the 3-tier output of the rule-based relevance classifier,
// computed before any LLM call is made.
type RelevanceTier int

const (
	// TierIrrelevant means the article matched no crypto-adjacent terms at all.
	TierIrrelevant RelevanceTier = 1
	// TierAdjacent means the article matched finance/tech terms but no
	// crypto-native vocabulary.
	TierAdjacent RelevanceTier = 2
	// TierCryptoNative means the article matched clear crypto-native terms
	// (tickers, project names, on-chain vocabulary) and is worth an LLM call.
	TierCryptoNative RelevanceTier = 3
)

// EntityType enumerates the kinds of entities the extractor recognizes.
type EntityType string

const (
	EntityTicker       EntityType = "ticker"
	EntityProject      EntityType = "project"
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityEvent        EntityType = "event"
	EntityConcept      EntityType = "concept"
)

// Sentiment is the coarse three-way sentiment label attached to an article.
type Sentiment string

const (
	SentimentPositive Sentiment = "pos"
	SentimentNegative Sentiment = "neg"
	SentimentNeutral  Sentiment = "neu"
)

// ExtractionMethod records whether an article's entities/focus came from the
// LLM extractor or the rule-based fallback used on degenerate extractions.
type ExtractionMethod string

const (
	ExtractionLLM  ExtractionMethod = "llm"
	ExtractionRule ExtractionMethod = "rule"
)

// Entity is a single named entity mentioned in an article, with the
// extractor's confidence in the mention.
type Entity struct {
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
}

// Article is a single ingested news item, enriched once by the extractor and
// immutable thereafter except for narrative backfill.
type Article struct {
	ID               string           `json:"id"`
	URL              string           `json:"url"`
	Source           string           `json:"source"`
	PublishedAt      time.Time        `json:"published_at"`
	Title            string           `json:"title"`
	Body             string           `json:"body"`
	Fingerprint      string           `json:"fingerprint"` // sha256 of normalized title+body
	RelevanceTier    RelevanceTier    `json:"relevance_tier"`
	Entities         []Entity         `json:"entities"`
	Sentiment        Sentiment        `json:"sentiment"`
	NarrativeID      string           `json:"narrative_id,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extraction_method"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Feed is one configured RSS/Atom source, carrying the conditional-GET
// caching state C12 needs to avoid re-downloading unchanged feeds.
type Feed struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	ETag          string    `json:"etag,omitempty"`
	LastModified  string    `json:"last_modified,omitempty"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
}

// LifecycleState is a narrative's position in the C8 state machine.
type LifecycleState string

const (
	StateEmerging    LifecycleState = "emerging"
	StateRising      LifecycleState = "rising"
	StateHot         LifecycleState = "hot"
	StateCooling     LifecycleState = "cooling"
	StateDormant     LifecycleState = "dormant"
	StateReactivated LifecycleState = "reactivated"
)

// LifecycleEvent is one entry in a narrative's append-only history log.
type LifecycleEvent struct {
	State             LifecycleState `json:"state"`
	EnteredAt         time.Time      `json:"entered_at"`
	ArticleCountAtEntry int          `json:"article_count_at_entry"`
}

// Fingerprint is the matching key for a narrative: a nucleus entity, a short
// focus phrase, and the actors/actions salient at the time it was computed.
type Fingerprint struct {
	NucleusEntity  string    `json:"nucleus_entity"`
	NarrativeFocus string    `json:"narrative_focus"`
	TopActors      []string  `json:"top_actors"` // desc salience, <=5
	KeyActions     []string  `json:"key_actions"` // <=3
	Timestamp      time.Time `json:"timestamp"`
	Hash           string    `json:"hash"` // sha1 of nucleus + sorted(top_actors)
}

// TimelinePoint is one day-bucketed entry in a narrative's activity timeline.
type TimelinePoint struct {
	Date         string  `json:"date"` // YYYY-MM-DD, UTC
	ArticleCount int     `json:"article_count"`
	Velocity     float64 `json:"velocity"`
}

// Narrative is a persistent cluster of articles about the same developing
// story. It is mutated only by the lifecycle engine (internal/narrative).
type Narrative struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Summary         string           `json:"summary"`
	NucleusEntity   string           `json:"nucleus_entity"`
	NarrativeFocus  string           `json:"narrative_focus"`
	TopActors       []string         `json:"top_actors"`  // <=5, salience-sorted desc
	KeyActions      []string         `json:"key_actions"` // <=3
	Entities        []string         `json:"entities"`    // union of article entities
	ArticleIDs      []string         `json:"article_ids"` // deduped
	ArticleCount    int              `json:"article_count"`
	FirstSeen       time.Time        `json:"first_seen"`
	LastUpdated     time.Time        `json:"last_updated"`
	LastArticleAt   time.Time        `json:"last_article_at"`
	LifecycleState  LifecycleState   `json:"lifecycle_state"`
	DormantSince    *time.Time       `json:"dormant_since,omitempty"`
	ReactivatedCount int             `json:"reactivated_count"`
	LifecycleHistory []LifecycleEvent `json:"lifecycle_history"`
	Fingerprint     Fingerprint      `json:"fingerprint"`
	AvgSentiment    float64          `json:"avg_sentiment"` // [-1, 1]
	Velocity        float64         `json:"velocity"`       // articles/day, plain rate; not EMA-smoothed
	TimelineData    []TimelinePoint  `json:"timeline_data"`
	Archived        bool             `json:"archived"` // set by consolidation when merged away
}

// Signal is a derived, periodically recomputed score for an entity showing
// unusual recent activity. It is never hand-edited; internal/signals owns it.
type Signal struct {
	Entity       string             `json:"entity"`
	EntityType   EntityType         `json:"entity_type"`
	SignalScore  float64            `json:"signal_score"` // [0,1]
	Velocity     float64            `json:"velocity"`      // mentions/hr over 24h
	SourceCount  int                `json:"source_count"`
	Sentiment    float64            `json:"sentiment"`
	IsEmerging   bool               `json:"is_emerging"`
	Narratives   []SignalNarrative  `json:"narratives"`
	LastUpdated  time.Time          `json:"last_updated"`
	ComputedAt   time.Time          `json:"computed_at"`
}

// SignalNarrative is the narrative linkage embedded in a Signal.
type SignalNarrative struct {
	ID    string `json:"id"`
	Theme string `json:"theme"`
}

// BriefingType is the time-of-day slot a briefing belongs to.
type BriefingType string

const (
	BriefingMorning   BriefingType = "morning"
	BriefingAfternoon BriefingType = "afternoon"
	BriefingEvening   BriefingType = "evening"
)

// Recommendation is one actionable suggestion surfaced in a briefing, with an
// optional link back to the narrative that inspired it.
type Recommendation struct {
	Title       string `json:"title"`
	NarrativeID string `json:"narrative_id,omitempty"`
}

// BriefingContent is the LLM-composed body of a briefing.
type BriefingContent struct {
	Narrative         string            `json:"narrative"`
	KeyInsights       []string          `json:"key_insights"`
	EntitiesMentioned []string          `json:"entities_mentioned"`
	DetectedPatterns  []string          `json:"detected_patterns"`
	Recommendations   []Recommendation  `json:"recommendations"`
}

// BriefingMetadata records how a briefing was produced, for observability.
type BriefingMetadata struct {
	Model               string  `json:"model"`
	Confidence          float64 `json:"confidence"`
	SignalCount         int     `json:"signal_count"`
	NarrativeCount      int     `json:"narrative_count"`
	PatternCount        int     `json:"pattern_count"`
	RefinementIterations int    `json:"refinement_iterations"`
}

// Briefing is a periodic human-readable synthesis of active narratives and
// signals. It is immutable once Published is true.
type Briefing struct {
	ID          string           `json:"id"`
	Type        BriefingType     `json:"type"`
	GeneratedAt time.Time        `json:"generated_at"`
	Version     int              `json:"version"`
	Content     BriefingContent  `json:"content"`
	Metadata    BriefingMetadata `json:"metadata"`
	IsSmoke     bool             `json:"is_smoke"`
	Published   bool             `json:"published"`
	TaskID      string           `json:"task_id,omitempty"`
}

// PlaceholderBriefing is what API reads return when no briefing has been
// generated yet for the requested slot, so callers never have to special-case
// a missing-data error, as a clearly-typed placeholder.
func PlaceholderBriefing(briefingType BriefingType) Briefing {
	return Briefing{
		ID:        "placeholder",
		Type:      briefingType,
		Published: false,
	}
}

// CostRecord is one append-only entry in the LLM cost ledger.
type CostRecord struct {
	Model         string    `json:"model"`
	Operation     string    `json:"operation"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	Cached        bool      `json:"cached"`
	Timestamp     time.Time `json:"timestamp"`
	ComputedCost  float64   `json:"computed_cost"`
}
