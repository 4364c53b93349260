// Package signals is C9: the trending-entity detector. For each entity with
// recent mentions it computes a bounded [0,1] signal score from mention
// velocity, source diversity, recency decay and sentiment, then links the
// entity to any active narrative that mentions it. Per-entity queries fan
// out over a semaphore-bounded worker pool rather than one batch scan.
package signals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"narrative-core/internal/core"
	"narrative-core/internal/logger"
	"narrative-core/internal/persistence"
)

const (
	maxConcurrency  = 16
	recencyHalfLife = 12 * time.Hour
	emergingFloor   = 0.2
	emergingMentionCeiling = 3
)

// Detector computes signals for entities with recent mentions.
type Detector struct {
	mentions   persistence.EntityMentionRepository
	narratives persistence.NarrativeRepository
	cache      *twoLayerCache
}

// NewDetector builds a Detector. sharedCache may be nil, in which case only
// the in-process layer is used (the shared layer is optional and fails open
// per entity).
func NewDetector(mentions persistence.EntityMentionRepository, narratives persistence.NarrativeRepository, sharedCache persistence.SignalsCacheRepository) *Detector {
	return &Detector{
		mentions:   mentions,
		narratives: narratives,
		cache:      newTwoLayerCache(sharedCache),
	}
}

// Query parameterizes Compute; also doubles as the cache key.
type Query struct {
	Limit      int
	MinScore   float64
	EntityType core.EntityType // "" means any type
	Timeframe  time.Duration
}

func (q Query) cacheKey() string {
	return fmt.Sprintf("%d|%.3f|%s|%s", q.Limit, q.MinScore, q.EntityType, q.Timeframe)
}

// Compute returns ranked signals for entities with mentions inside
// q.Timeframe, consulting the two-layer cache first.
func (d *Detector) Compute(ctx context.Context, now time.Time, q Query) ([]core.Signal, error) {
	key := q.cacheKey()
	if cached, ok := d.cache.get(ctx, key); ok {
		return cached, nil
	}

	since := now.Add(-q.Timeframe)
	entities, err := d.mentions.DistinctEntitiesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("listing distinct entities: %w", err)
	}

	signals, err := d.computeParallel(ctx, now, since, entities, q.EntityType)
	if err != nil {
		return nil, err
	}

	filtered := signals[:0]
	for _, s := range signals {
		if s.SignalScore >= q.MinScore {
			filtered = append(filtered, s)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].SignalScore > filtered[j].SignalScore })
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}

	d.cache.set(ctx, key, filtered)
	return filtered, nil
}

// computeParallel fans out per-entity indexed queries at bounded
// concurrency instead of one $in-style batch scan.
func (d *Detector) computeParallel(ctx context.Context, now, since time.Time, entities []string, entityTypeFilter core.EntityType) ([]core.Signal, error) {
	log := logger.Get().With().Str("component", "signals").Logger()

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var out []core.Signal
	var firstErr error

	for _, entity := range entities {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(entity string) {
			defer wg.Done()
			defer func() { <-sem }()

			signal, ok, err := d.computeOne(ctx, now, since, entity, entityTypeFilter)
			if err != nil {
				log.Error().Err(err).Str("entity", entity).Msg("computing signal failed")
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if !ok {
				return
			}

			mu.Lock()
			out = append(out, signal)
			mu.Unlock()
		}(entity)
	}

	wg.Wait()
	if firstErr != nil {
		return out, firstErr
	}
	return out, nil
}

func (d *Detector) computeOne(ctx context.Context, now, since time.Time, entity string, entityTypeFilter core.EntityType) (core.Signal, bool, error) {
	mentions, err := d.mentions.Since(ctx, entity, since)
	if err != nil {
		return core.Signal{}, false, fmt.Errorf("loading mentions for %s: %w", entity, err)
	}
	if len(mentions) == 0 {
		return core.Signal{}, false, nil
	}
	if entityTypeFilter != "" && mentions[0].EntityType != entityTypeFilter {
		return core.Signal{}, false, nil
	}

	windowHours := math.Max(now.Sub(since).Hours(), 1)
	velocity := emaVelocity(mentions, now)
	sourceDiversity := diversityScore(mentions)
	recency := recencyScore(mentions, now)
	sentiment := meanSentiment(mentions)

	score := clamp01(0.4*normVelocity(velocity) + 0.3*sourceDiversity + 0.2*recency + 0.1*math.Abs(sentiment))

	isEmerging := len(mentions) < emergingMentionCeiling
	if isEmerging {
		narrativeLinked, err := d.hasActiveNarrativeLink(ctx, entity)
		if err != nil {
			return core.Signal{}, false, err
		}
		isEmerging = !narrativeLinked
		if isEmerging && score < emergingFloor {
			score = emergingFloor
		}
	}

	narratives, err := d.linkedNarratives(ctx, entity)
	if err != nil {
		return core.Signal{}, false, err
	}

	_ = windowHours
	return core.Signal{
		Entity:      entity,
		EntityType:  mentions[0].EntityType,
		SignalScore: score,
		Velocity:    velocity,
		SourceCount: len(distinctSources(mentions)),
		Sentiment:   sentiment,
		IsEmerging:  isEmerging,
		Narratives:  narratives,
		LastUpdated: now,
		ComputedAt:  now,
	}, true, nil
}

// emaVelocity computes mentions/hour EMA-smoothed with alpha=0.3 per day,
// bucketing mentions into hourly counts across the window.
func emaVelocity(mentions []persistence.EntityMention, now time.Time) float64 {
	if len(mentions) == 0 {
		return 0
	}
	sort.Slice(mentions, func(i, j int) bool { return mentions[i].Timestamp.Before(mentions[j].Timestamp) })

	oldest := mentions[0].Timestamp
	hours := int(math.Ceil(now.Sub(oldest).Hours()))
	if hours < 1 {
		hours = 1
	}

	buckets := make(map[int]int)
	for _, m := range mentions {
		h := int(now.Sub(m.Timestamp).Hours())
		buckets[h]++
	}

	const alphaPerDay = 0.3
	alphaPerHour := 1 - math.Pow(1-alphaPerDay, 1.0/24.0)

	ema := 0.0
	for h := hours; h >= 0; h-- {
		ema = alphaPerHour*float64(buckets[h]) + (1-alphaPerHour)*ema
	}
	return ema
}

// normVelocity squashes velocity (mentions/hr) into [0,1] with a soft cap
// around 5 mentions/hr, beyond which additional velocity adds little.
func normVelocity(v float64) float64 {
	return clamp01(v / (v + 2))
}

func diversityScore(mentions []persistence.EntityMention) float64 {
	sources := distinctSources(mentions)
	denom := math.Min(10, float64(len(mentions)))
	if denom == 0 {
		return 0
	}
	return clamp01(float64(len(sources)) / denom)
}

func distinctSources(mentions []persistence.EntityMention) map[string]bool {
	sources := make(map[string]bool)
	for _, m := range mentions {
		sources[m.Source] = true
	}
	return sources
}

// recencyScore is an exponential decay with half-life recencyHalfLife,
// evaluated at the most recent mention's age.
func recencyScore(mentions []persistence.EntityMention, now time.Time) float64 {
	latest := mentions[0].Timestamp
	for _, m := range mentions {
		if m.Timestamp.After(latest) {
			latest = m.Timestamp
		}
	}
	age := now.Sub(latest)
	if age < 0 {
		age = 0
	}
	lambda := math.Ln2 / recencyHalfLife.Hours()
	return math.Exp(-lambda * age.Hours())
}

func meanSentiment(mentions []persistence.EntityMention) float64 {
	if len(mentions) == 0 {
		return 0
	}
	var sum float64
	for _, m := range mentions {
		switch m.Sentiment {
		case core.SentimentPositive:
			sum += 1
		case core.SentimentNegative:
			sum -= 1
		}
	}
	return sum / float64(len(mentions))
}

var activeLinkStates = map[core.LifecycleState]bool{
	core.StateEmerging:    true,
	core.StateRising:      true,
	core.StateHot:         true,
	core.StateReactivated: true,
}

func (d *Detector) hasActiveNarrativeLink(ctx context.Context, entity string) (bool, error) {
	narratives, err := d.linkedNarratives(ctx, entity)
	if err != nil {
		return false, err
	}
	return len(narratives) > 0, nil
}

// linkedNarratives lists active narratives whose entity set contains entity.
func (d *Detector) linkedNarratives(ctx context.Context, entity string) ([]core.SignalNarrative, error) {
	active, err := d.narratives.ListActive(ctx, 500)
	if err != nil {
		return nil, fmt.Errorf("listing active narratives: %w", err)
	}

	var out []core.SignalNarrative
	for _, n := range active {
		if !activeLinkStates[n.LifecycleState] {
			continue
		}
		for _, e := range n.Entities {
			if e == entity {
				out = append(out, core.SignalNarrative{ID: n.ID, Theme: n.NarrativeFocus})
				break
			}
		}
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
