package core

import (
	"testing"
	"time"
)

func TestArticleCreation(t *testing.T) {
	now := time.Now()
	article := Article{
		ID:            "article-1",
		URL:           "https://example.com/btc-rallies",
		Source:        "https://example.com/feed",
		PublishedAt:   now,
		Title:         "BTC rallies past 100k",
		Body:          "Bitcoin surged today on ETF inflows.",
		Fingerprint:   "deadbeef",
		RelevanceTier: TierCryptoNative,
		Entities: []Entity{
			{Name: "$BTC", Type: EntityTicker, Confidence: 0.95},
		},
		Sentiment:        SentimentPositive,
		ExtractionMethod: ExtractionLLM,
		CreatedAt:        now,
	}

	if article.ID != "article-1" {
		t.Errorf("expected ID 'article-1', got %s", article.ID)
	}
	if article.RelevanceTier != TierCryptoNative {
		t.Errorf("expected tier %v, got %v", TierCryptoNative, article.RelevanceTier)
	}
	if len(article.Entities) != 1 || article.Entities[0].Name != "$BTC" {
		t.Errorf("expected one $BTC entity, got %+v", article.Entities)
	}
}

func TestFingerprintCreation(t *testing.T) {
	now := time.Now()
	fp := Fingerprint{
		NucleusEntity:  "$BTC",
		NarrativeFocus: "etf inflows drive rally",
		TopActors:      []string{"BlackRock", "Fidelity"},
		KeyActions:     []string{"files s-1", "launches etf"},
		Timestamp:      now,
		Hash:           "abc123",
	}

	if fp.NucleusEntity != "$BTC" {
		t.Errorf("expected nucleus '$BTC', got %s", fp.NucleusEntity)
	}
	if len(fp.TopActors) != 2 {
		t.Errorf("expected 2 top actors, got %d", len(fp.TopActors))
	}
	if len(fp.KeyActions) != 2 {
		t.Errorf("expected 2 key actions, got %d", len(fp.KeyActions))
	}
}

func TestNarrativeCreation(t *testing.T) {
	now := time.Now()
	n := Narrative{
		ID:             "narrative-1",
		Title:          "BTC ETF rally",
		NucleusEntity:  "$BTC",
		NarrativeFocus: "etf inflows drive rally",
		TopActors:      []string{"BlackRock"},
		ArticleIDs:     []string{"article-1", "article-2"},
		ArticleCount:   2,
		FirstSeen:      now,
		LastUpdated:    now,
		LastArticleAt:  now,
		LifecycleState: StateEmerging,
		AvgSentiment:   0.6,
		Velocity:       1.5,
	}

	if n.LifecycleState != StateEmerging {
		t.Errorf("expected state %v, got %v", StateEmerging, n.LifecycleState)
	}
	if n.ArticleCount != 2 {
		t.Errorf("expected article count 2, got %d", n.ArticleCount)
	}
	if len(n.ArticleIDs) != 2 {
		t.Errorf("expected 2 article ids, got %d", len(n.ArticleIDs))
	}
}

func TestSignalCreation(t *testing.T) {
	now := time.Now()
	s := Signal{
		Entity:      "$ETH",
		EntityType:  EntityTicker,
		SignalScore: 0.82,
		Velocity:    12.5,
		SourceCount: 6,
		Sentiment:   0.3,
		IsEmerging:  true,
		Narratives:  []SignalNarrative{{ID: "narrative-1", Theme: "ETH staking upgrade"}},
		LastUpdated: now,
		ComputedAt:  now,
	}

	if s.Entity != "$ETH" {
		t.Errorf("expected entity '$ETH', got %s", s.Entity)
	}
	if !s.IsEmerging {
		t.Errorf("expected IsEmerging true")
	}
	if len(s.Narratives) != 1 {
		t.Errorf("expected 1 linked narrative, got %d", len(s.Narratives))
	}
}

func TestPlaceholderBriefing(t *testing.T) {
	b := PlaceholderBriefing(BriefingMorning)

	if b.Type != BriefingMorning {
		t.Errorf("expected type %v, got %v", BriefingMorning, b.Type)
	}
	if b.Published {
		t.Errorf("expected placeholder briefing to be unpublished")
	}
}

func TestFeedCreation(t *testing.T) {
	now := time.Now()
	feed := Feed{
		URL:           "https://example.com/rss",
		Title:         "Crypto Wire",
		ETag:          `"abc123"`,
		LastModified:  "Wed, 01 Jan 2025 00:00:00 GMT",
		LastFetchedAt: now,
	}

	if feed.URL != "https://example.com/rss" {
		t.Errorf("expected URL 'https://example.com/rss', got %s", feed.URL)
	}
	if feed.ETag != `"abc123"` {
		t.Errorf("expected ETag to round-trip, got %s", feed.ETag)
	}
}
