package signals

import (
	"context"
	"testing"
	"time"

	"narrative-core/internal/core"
	"narrative-core/internal/persistence"
)

type fakeMentionStore struct {
	byEntity map[string][]persistence.EntityMention
}

func (f *fakeMentionStore) Insert(ctx context.Context, m persistence.EntityMention) error {
	f.byEntity[m.Entity] = append(f.byEntity[m.Entity], m)
	return nil
}

func (f *fakeMentionStore) Since(ctx context.Context, entity string, since time.Time) ([]persistence.EntityMention, error) {
	var out []persistence.EntityMention
	for _, m := range f.byEntity[entity] {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMentionStore) DistinctEntitiesSince(ctx context.Context, since time.Time) ([]string, error) {
	var out []string
	for e, ms := range f.byEntity {
		for _, m := range ms {
			if !m.Timestamp.Before(since) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

type fakeNarrativeLister struct {
	active []core.Narrative
}

func (f *fakeNarrativeLister) Upsert(ctx context.Context, n *core.Narrative) error { return nil }
func (f *fakeNarrativeLister) Get(ctx context.Context, id string) (*core.Narrative, error) { return nil, nil }
func (f *fakeNarrativeLister) CandidatesByNucleus(ctx context.Context, nucleus string, since time.Time) ([]core.Narrative, error) {
	return nil, nil
}
func (f *fakeNarrativeLister) ListActive(ctx context.Context, limit int) ([]core.Narrative, error) {
	return f.active, nil
}
func (f *fakeNarrativeLister) ListArchived(ctx context.Context, limit int) ([]core.Narrative, error) { return nil, nil }
func (f *fakeNarrativeLister) ListReactivated(ctx context.Context, limit int) ([]core.Narrative, error) { return nil, nil }
func (f *fakeNarrativeLister) ListActiveNucleiWithDuplicates(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeNarrativeLister) NoFingerprintHash(ctx context.Context, limit int) ([]core.Narrative, error) { return nil, nil }
func (f *fakeNarrativeLister) NoNarrativeFocus(ctx context.Context, limit int) ([]core.Narrative, error) { return nil, nil }

func TestDetector_ComputeRanksByVelocityAndRecency(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mentions := &fakeMentionStore{byEntity: map[string][]persistence.EntityMention{
		"$BTC": {
			{Entity: "$BTC", EntityType: core.EntityTicker, Source: "coindesk", Timestamp: now.Add(-1 * time.Hour), Sentiment: core.SentimentPositive},
			{Entity: "$BTC", EntityType: core.EntityTicker, Source: "theblock", Timestamp: now.Add(-2 * time.Hour), Sentiment: core.SentimentPositive},
			{Entity: "$BTC", EntityType: core.EntityTicker, Source: "decrypt", Timestamp: now.Add(-3 * time.Hour), Sentiment: core.SentimentNeutral},
		},
		"$OBSCURE": {
			{Entity: "$OBSCURE", EntityType: core.EntityTicker, Source: "onesite", Timestamp: now.Add(-20 * time.Hour), Sentiment: core.SentimentNeutral},
		},
	}}
	narratives := &fakeNarrativeLister{}

	d := NewDetector(mentions, narratives, nil)
	signals, err := d.Compute(context.Background(), now, Query{Limit: 10, Timeframe: 24 * time.Hour})
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Entity != "$BTC" {
		t.Fatalf("expected $BTC to rank first, got %s", signals[0].Entity)
	}
	if signals[0].SourceCount != 3 {
		t.Fatalf("expected source count 3, got %d", signals[0].SourceCount)
	}
}

func TestDetector_EmergingFloorAppliesBelowThreeMentionsWithNoNarrative(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mentions := &fakeMentionStore{byEntity: map[string][]persistence.EntityMention{
		"$NEWCOIN": {
			{Entity: "$NEWCOIN", EntityType: core.EntityTicker, Source: "onesite", Timestamp: now.Add(-30 * 24 * time.Hour), Sentiment: core.SentimentNeutral},
		},
	}}
	narratives := &fakeNarrativeLister{}

	d := NewDetector(mentions, narratives, nil)
	signals, err := d.Compute(context.Background(), now, Query{Limit: 10, Timeframe: 60 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if !signals[0].IsEmerging {
		t.Fatalf("expected is_emerging true")
	}
	if signals[0].SignalScore < emergingFloor {
		t.Fatalf("expected score floor %.2f, got %.2f", emergingFloor, signals[0].SignalScore)
	}
}

func TestDetector_LinksActiveNarrativesContainingEntity(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mentions := &fakeMentionStore{byEntity: map[string][]persistence.EntityMention{
		"$ETH": {{Entity: "$ETH", EntityType: core.EntityTicker, Source: "theblock", Timestamp: now.Add(-1 * time.Hour), Sentiment: core.SentimentPositive}},
	}}
	narratives := &fakeNarrativeLister{active: []core.Narrative{
		{ID: "n1", NarrativeFocus: "eth upgrade", LifecycleState: core.StateRising, Entities: []string{"$ETH"}},
		{ID: "n2", NarrativeFocus: "unrelated", LifecycleState: core.StateRising, Entities: []string{"$SOL"}},
	}}

	d := NewDetector(mentions, narratives, nil)
	signals, err := d.Compute(context.Background(), now, Query{Limit: 10, Timeframe: 24 * time.Hour})
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if len(signals[0].Narratives) != 1 || signals[0].Narratives[0].ID != "n1" {
		t.Fatalf("expected linkage to n1 only, got %+v", signals[0].Narratives)
	}
}

func TestDetector_CachesWithinInProcessTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	mentions := &fakeMentionStore{byEntity: map[string][]persistence.EntityMention{
		"$BTC": {{Entity: "$BTC", EntityType: core.EntityTicker, Source: "coindesk", Timestamp: now.Add(-1 * time.Hour), Sentiment: core.SentimentPositive}},
	}}
	narratives := &fakeNarrativeLister{}

	d := NewDetector(mentions, narratives, nil)
	q := Query{Limit: 10, Timeframe: 24 * time.Hour}

	first, err := d.Compute(context.Background(), now, q)
	if err != nil {
		t.Fatalf("first compute failed: %v", err)
	}

	// Mutate the underlying store; a cache hit should still return the
	// first result rather than recomputing.
	mentions.byEntity["$ETH"] = []persistence.EntityMention{
		{Entity: "$ETH", EntityType: core.EntityTicker, Source: "decrypt", Timestamp: now.Add(-1 * time.Hour)},
	}

	second, err := d.Compute(context.Background(), now, q)
	if err != nil {
		t.Fatalf("second compute failed: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("expected cached result with %d signals, got %d", len(first), len(second))
	}
}
