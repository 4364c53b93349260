// Package narrative is C8: the lifecycle engine owning every mutation to a
// narrative document — extend, create, reactivate, consolidate duplicates,
// and the one-shot fingerprint backfill.
package narrative

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"narrative-core/internal/core"
	"narrative-core/internal/logger"
	"narrative-core/internal/matcher"
	"narrative-core/internal/persistence"
)

// Engine mutates narratives in persistence, applying the lifecycle state
// machine and consolidation pass.
type Engine struct {
	store persistence.NarrativeRepository
}

// NewEngine builds an Engine over the narrative repository.
func NewEngine(store persistence.NarrativeRepository) *Engine {
	return &Engine{store: store}
}

// ArticleContribution is the minimal per-article data an Extend/Create/
// Reactivate needs, independent of the persistence.ArticleRepository shape.
type ArticleContribution struct {
	ID           string
	PublishedAt  time.Time
	Sentiment    float64 // -1..1
	Actors       []string
	Entities     []string
}

// Process runs the matcher against current candidates for the given
// fingerprint, then dispatches to Create, Extend, or Reactivate and returns
// the resulting (possibly new) narrative ID.
func (e *Engine) Process(ctx context.Context, fp core.Fingerprint, now time.Time, articles []ArticleContribution) (string, error) {
	since := now.AddDate(0, 0, -90)
	candidates, err := e.store.CandidatesByNucleus(ctx, fp.NucleusEntity, since)
	if err != nil {
		return "", fmt.Errorf("loading narrative candidates: %w", err)
	}

	matchCandidates := make([]matcher.Candidate, 0, len(candidates))
	for _, n := range candidates {
		matchCandidates = append(matchCandidates, matcher.Candidate{
			NarrativeID:   n.ID,
			Fingerprint:   n.Fingerprint,
			State:         n.LifecycleState,
			LastArticleAt: n.LastArticleAt,
			DormantSince:  n.DormantSince,
		})
	}

	decision := matcher.Match(fp, now, matchCandidates)

	switch decision.Kind {
	case matcher.Extend:
		return decision.NarrativeID, e.extend(ctx, decision.NarrativeID, fp, now, articles, false)
	case matcher.Reactivate:
		return decision.NarrativeID, e.extend(ctx, decision.NarrativeID, fp, now, articles, true)
	default:
		return e.create(ctx, fp, now, articles)
	}
}

// create inserts a brand-new narrative in the emerging state.
func (e *Engine) create(ctx context.Context, fp core.Fingerprint, now time.Time, articles []ArticleContribution) (string, error) {
	ids := make([]string, 0, len(articles))
	for _, a := range articles {
		ids = append(ids, a.ID)
	}
	ids = dedupStrings(ids)

	lastArticleAt := now
	for _, a := range articles {
		if a.PublishedAt.After(lastArticleAt) {
			lastArticleAt = a.PublishedAt
		}
	}

	n := &core.Narrative{
		ID:             uuid.NewString(),
		Title:          fp.NarrativeFocus,
		NucleusEntity:  fp.NucleusEntity,
		NarrativeFocus: fp.NarrativeFocus,
		TopActors:      topActorsFrom(articles, 5),
		KeyActions:     fp.KeyActions,
		Entities:       unionEntities(articles),
		ArticleIDs:     ids,
		ArticleCount:   len(ids),
		FirstSeen:      now,
		LastUpdated:    now,
		LastArticleAt:  lastArticleAt,
		LifecycleState: core.StateEmerging,
		LifecycleHistory: []core.LifecycleEvent{
			{State: core.StateEmerging, EnteredAt: now, ArticleCountAtEntry: len(ids)},
		},
		AvgSentiment: weightedSentiment(articles),
		Velocity:     velocityFor(len(ids), now, now),
		TimelineData: appendTimelineBucket(nil, now, len(ids)),
	}
	n.Fingerprint = computeFingerprint(n.NucleusEntity, n.TopActors, n.NarrativeFocus, n.KeyActions, now)

	if err := e.store.Upsert(ctx, n); err != nil {
		return "", fmt.Errorf("creating narrative: %w", err)
	}
	return n.ID, nil
}

// extend applies the Extend (or, when reactivating is true, Reactivate)
// operation to an existing narrative.
func (e *Engine) extend(ctx context.Context, narrativeID string, fp core.Fingerprint, now time.Time, articles []ArticleContribution, reactivating bool) error {
	n, err := e.store.Get(ctx, narrativeID)
	if err != nil {
		return fmt.Errorf("loading narrative %s: %w", narrativeID, err)
	}

	newIDs := make([]string, 0, len(articles))
	for _, a := range articles {
		newIDs = append(newIDs, a.ID)
	}
	merged := dedupStrings(append(append([]string{}, n.ArticleIDs...), newIDs...))

	prevCount := n.ArticleCount
	n.AvgSentiment = reweightSentiment(n.AvgSentiment, prevCount, articles)
	n.ArticleIDs = merged
	n.ArticleCount = len(merged)

	n.Entities = dedupStrings(append(append([]string{}, n.Entities...), unionEntities(articles)...))
	n.TopActors = mergeTopActors(n.TopActors, topActorsFrom(articles, 5), 5)

	for _, a := range articles {
		if a.PublishedAt.After(n.LastArticleAt) {
			n.LastArticleAt = a.PublishedAt
		}
	}
	n.LastUpdated = now

	nucleusOrActorsChanged := n.NucleusEntity != fp.NucleusEntity || !equalStringSlices(n.Fingerprint.TopActors, n.TopActors)
	if fp.NucleusEntity != "" {
		n.NucleusEntity = fp.NucleusEntity
	}
	if fp.NarrativeFocus != "" {
		n.NarrativeFocus = fp.NarrativeFocus
	}

	if reactivating {
		wasDormant := n.LifecycleState == core.StateDormant
		n.LifecycleState = core.StateReactivated
		n.DormantSince = nil
		if wasDormant {
			n.ReactivatedCount++
		}
		n.LifecycleHistory = append(n.LifecycleHistory, core.LifecycleEvent{
			State: core.StateReactivated, EnteredAt: now, ArticleCountAtEntry: n.ArticleCount,
		})
	} else {
		newState := nextState(n, now)
		if newState != n.LifecycleState {
			if newState == core.StateDormant {
				t := now
				n.DormantSince = &t
			}
			n.LifecycleState = newState
			n.LifecycleHistory = append(n.LifecycleHistory, core.LifecycleEvent{
				State: newState, EnteredAt: now, ArticleCountAtEntry: n.ArticleCount,
			})
		}
	}

	if nucleusOrActorsChanged {
		n.Fingerprint = computeFingerprint(n.NucleusEntity, n.TopActors, n.NarrativeFocus, n.KeyActions, now)
	}

	n.Velocity = velocityFor(len(newIDs), n.FirstSeen, now)
	n.TimelineData = appendTimelineBucket(n.TimelineData, now, len(newIDs))

	if err := e.store.Upsert(ctx, n); err != nil {
		return fmt.Errorf("extending narrative %s: %w", narrativeID, err)
	}
	return nil
}

// nextState evaluates the narrative lifecycle state machine against
// the narrative's current article-count window. It never transitions a
// narrative out of dormant; that only happens via Reactivate.
func nextState(n *core.Narrative, now time.Time) core.LifecycleState {
	if n.LifecycleState == core.StateDormant {
		return core.StateDormant
	}

	last24h, last7d := articlesInWindows(n, now)
	sinceLast := now.Sub(n.LastArticleAt)

	risingCondition := last24h >= 3
	hotCondition := last7d >= 10
	cooling48h := sinceLast >= 48*time.Hour
	dormant7d := sinceLast >= 7*24*time.Hour

	switch n.LifecycleState {
	case core.StateEmerging:
		if hotCondition {
			return core.StateHot
		}
		if risingCondition {
			return core.StateRising
		}
		if cooling48h {
			return core.StateCooling
		}
		return core.StateEmerging
	case core.StateRising:
		if risingCondition || hotCondition {
			return core.StateHot
		}
		if cooling48h {
			return core.StateCooling
		}
		return core.StateRising
	case core.StateHot:
		if dormant7d {
			return core.StateDormant
		}
		if cooling48h {
			return core.StateCooling
		}
		return core.StateHot
	case core.StateCooling, core.StateReactivated:
		if dormant7d {
			return core.StateDormant
		}
		if hotCondition {
			return core.StateHot
		}
		if risingCondition {
			return core.StateRising
		}
		if n.LifecycleState == core.StateCooling && !cooling48h {
			return core.StateCooling
		}
		if n.LifecycleState == core.StateReactivated && cooling48h {
			return core.StateCooling
		}
		return n.LifecycleState
	default:
		return n.LifecycleState
	}
}

// articlesInWindows counts timeline-bucketed articles falling in the last
// 24h and last 7d relative to now.
func articlesInWindows(n *core.Narrative, now time.Time) (last24h, last7d int) {
	for _, p := range n.TimelineData {
		d, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			continue
		}
		age := now.Sub(d)
		if age <= 7*24*time.Hour {
			last7d += p.ArticleCount
		}
		if age <= 24*time.Hour {
			last24h += p.ArticleCount
		}
	}
	return last24h, last7d
}

const consolidateThreshold = 0.85
const consolidateSafetyCap = 20

// Consolidate runs one idempotent consolidation pass: for every nucleus with
// two or more active narratives, merges pairs whose similarity is at least
// consolidateThreshold, up to consolidateSafetyCap merges.
func (e *Engine) Consolidate(ctx context.Context, now time.Time) (int, error) {
	log := logger.Get().With().Str("component", "narrative.consolidate").Logger()

	nuclei, err := e.store.ListActiveNucleiWithDuplicates(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing nuclei with duplicates: %w", err)
	}

	merges := 0
	for _, nucleus := range nuclei {
		if merges >= consolidateSafetyCap {
			break
		}

		since := now.AddDate(0, 0, -90)
		group, err := e.store.CandidatesByNucleus(ctx, nucleus, since)
		if err != nil {
			return merges, fmt.Errorf("loading consolidation group for %s: %w", nucleus, err)
		}
		active := filterActive(group)

		for i := 0; i < len(active) && merges < consolidateSafetyCap; i++ {
			for j := i + 1; j < len(active) && merges < consolidateSafetyCap; j++ {
				sim := matcher.Similarity(active[i].Fingerprint, active[j].Fingerprint)
				if sim < consolidateThreshold {
					continue
				}

				survivor, loser := pickSurvivor(active[i], active[j])
				if err := e.mergeInto(ctx, survivor, loser, now); err != nil {
					return merges, fmt.Errorf("merging narrative %s into %s: %w", loser.ID, survivor.ID, err)
				}
				log.Info().Str("survivor", survivor.ID).Str("loser", loser.ID).Float64("similarity", sim).Msg("consolidated narratives")
				merges++
			}
		}
	}

	return merges, nil
}

// MergeCandidate is one pair Consolidate would merge, surfaced read-only for
// the admin dry-run viewer.
type MergeCandidate struct {
	Survivor   core.Narrative
	Loser      core.Narrative
	Similarity float64
}

// PreviewConsolidation reports the merges a Consolidate run would perform
// without mutating any narrative, for the admin consolidate --dry-run
// command. It mirrors Consolidate's nucleus/pair/threshold/safety-cap logic
// exactly so the preview never drifts from what a real run would do.
func (e *Engine) PreviewConsolidation(ctx context.Context, now time.Time) ([]MergeCandidate, error) {
	nuclei, err := e.store.ListActiveNucleiWithDuplicates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nuclei with duplicates: %w", err)
	}

	var candidates []MergeCandidate
	for _, nucleus := range nuclei {
		if len(candidates) >= consolidateSafetyCap {
			break
		}

		since := now.AddDate(0, 0, -90)
		group, err := e.store.CandidatesByNucleus(ctx, nucleus, since)
		if err != nil {
			return candidates, fmt.Errorf("loading consolidation group for %s: %w", nucleus, err)
		}
		active := filterActive(group)

		for i := 0; i < len(active) && len(candidates) < consolidateSafetyCap; i++ {
			for j := i + 1; j < len(active) && len(candidates) < consolidateSafetyCap; j++ {
				sim := matcher.Similarity(active[i].Fingerprint, active[j].Fingerprint)
				if sim < consolidateThreshold {
					continue
				}
				survivor, loser := pickSurvivor(active[i], active[j])
				candidates = append(candidates, MergeCandidate{Survivor: survivor, Loser: loser, Similarity: sim})
			}
		}
	}

	return candidates, nil
}

func filterActive(narratives []core.Narrative) []core.Narrative {
	out := make([]core.Narrative, 0, len(narratives))
	for _, n := range narratives {
		if !n.Archived && n.LifecycleState != core.StateDormant {
			out = append(out, n)
		}
	}
	return out
}

// pickSurvivor implements the tie-break rule: smaller article_count loses;
// ties broken by earlier first_seen winning as survivor.
func pickSurvivor(a, b core.Narrative) (survivor, loser core.Narrative) {
	if a.ArticleCount != b.ArticleCount {
		if a.ArticleCount > b.ArticleCount {
			return a, b
		}
		return b, a
	}
	if a.FirstSeen.Before(b.FirstSeen) {
		return a, b
	}
	return b, a
}

// mergeInto folds loser into survivor by re-running extend() over a
// reconstructed contribution for each of loser's articles, so a merge
// updates avg_sentiment, timeline_data and the lifecycle state machine
// exactly the way a live Extend would, instead of hand-rolling a partial
// merge of the aggregate fields. loser is then archived.
func (e *Engine) mergeInto(ctx context.Context, survivor, loser core.Narrative, now time.Time) error {
	if err := e.extend(ctx, survivor.ID, survivor.Fingerprint, now, loserContributions(loser), false); err != nil {
		return fmt.Errorf("extending survivor %s with loser %s's articles: %w", survivor.ID, loser.ID, err)
	}

	loser.Archived = true
	loser.LastUpdated = now
	return e.store.Upsert(ctx, &loser)
}

// loserContributions rebuilds one ArticleContribution per loser article ID,
// carrying loser's aggregate sentiment (so reweightSentiment folds it in
// count-weighted) and attaching loser's actors/entities once rather than
// once per article, since topActorsFrom/unionEntities already just need
// them present, not repeated.
func loserContributions(loser core.Narrative) []ArticleContribution {
	contributions := make([]ArticleContribution, 0, len(loser.ArticleIDs))
	for i, id := range loser.ArticleIDs {
		c := ArticleContribution{
			ID:          id,
			PublishedAt: loser.LastArticleAt,
			Sentiment:   loser.AvgSentiment,
		}
		if i == 0 {
			c.Actors = loser.TopActors
			c.Entities = loser.Entities
		}
		contributions = append(contributions, c)
	}
	return contributions
}

// BackfillFingerprints computes fingerprint.hash for every narrative that
// lacks one. Idempotent: narratives with an existing hash are untouched.
func (e *Engine) BackfillFingerprints(ctx context.Context, now time.Time, batchSize int) (int, error) {
	narratives, err := e.store.NoFingerprintHash(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("listing narratives without fingerprint hash: %w", err)
	}

	count := 0
	for _, n := range narratives {
		if n.Fingerprint.Hash != "" {
			continue
		}
		n.Fingerprint = computeFingerprint(n.NucleusEntity, n.TopActors, n.NarrativeFocus, n.KeyActions, now)
		if err := e.store.Upsert(ctx, &n); err != nil {
			return count, fmt.Errorf("backfilling fingerprint for %s: %w", n.ID, err)
		}
		count++
	}
	return count, nil
}

// BackfillNarrativeFocus derives narrative_focus for narratives that predate
// the field (created before extraction started populating it). The focus is
// rebuilt from the narrative's own nucleus and key actions rather than
// re-reading source articles, so the pass stays idempotent and cheap;
// narratives that already carry a focus are left untouched.
func (e *Engine) BackfillNarrativeFocus(ctx context.Context, batchSize int) (int, error) {
	narratives, err := e.store.NoNarrativeFocus(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("listing narratives without narrative_focus: %w", err)
	}

	count := 0
	for _, n := range narratives {
		if n.NarrativeFocus != "" {
			continue
		}
		n.NarrativeFocus = deriveNarrativeFocus(n)
		if err := e.store.Upsert(ctx, &n); err != nil {
			return count, fmt.Errorf("backfilling narrative_focus for %s: %w", n.ID, err)
		}
		count++
	}
	return count, nil
}

// deriveNarrativeFocus reconstructs a focus phrase from nucleus entity and
// key actions when the original extraction focus was never recorded.
func deriveNarrativeFocus(n core.Narrative) string {
	if len(n.KeyActions) > 0 {
		return strings.ToLower(strings.TrimSpace(n.NucleusEntity + " " + n.KeyActions[0]))
	}
	if n.Title != "" {
		return strings.ToLower(strings.TrimSpace(n.Title))
	}
	return strings.ToLower(strings.TrimSpace(n.NucleusEntity))
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func unionEntities(articles []ArticleContribution) []string {
	var all []string
	for _, a := range articles {
		all = append(all, a.Entities...)
	}
	return dedupStrings(all)
}

// topActorsFrom ranks actors by mention frequency across the contributing
// articles, keeping the top n.
func topActorsFrom(articles []ArticleContribution, n int) []string {
	freq := make(map[string]int)
	var order []string
	for _, a := range articles {
		for _, actor := range a.Actors {
			if _, ok := freq[actor]; !ok {
				order = append(order, actor)
			}
			freq[actor]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// mergeTopActors combines two salience-ordered actor lists, deduplicating
// and keeping the earlier (higher-salience) occurrence, capped at n.
func mergeTopActors(existing, incoming []string, n int) []string {
	merged := dedupStrings(append(append([]string{}, existing...), incoming...))
	if len(merged) > n {
		merged = merged[:n]
	}
	return merged
}

func weightedSentiment(articles []ArticleContribution) float64 {
	if len(articles) == 0 {
		return 0
	}
	var sum float64
	for _, a := range articles {
		sum += a.Sentiment
	}
	return sum / float64(len(articles))
}

// reweightSentiment folds new articles into the existing count-weighted mean.
func reweightSentiment(existingAvg float64, existingCount int, articles []ArticleContribution) float64 {
	if len(articles) == 0 {
		return existingAvg
	}
	existingSum := existingAvg * float64(existingCount)
	var newSum float64
	for _, a := range articles {
		newSum += a.Sentiment
	}
	total := existingCount + len(articles)
	if total == 0 {
		return 0
	}
	return (existingSum + newSum) / float64(total)
}

// velocityFor is a simple articles-per-day rate from first activity to now;
// the signal detector (C9) owns EMA smoothing for entity-level velocity.
func velocityFor(newArticles int, firstSeen, now time.Time) float64 {
	days := now.Sub(firstSeen).Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(newArticles) / days
}

// appendTimelineBucket adds an entry for today, coalescing with an existing
// same-day bucket.
func appendTimelineBucket(timeline []core.TimelinePoint, now time.Time, articleCount int) []core.TimelinePoint {
	date := now.UTC().Format("2006-01-02")
	for i := range timeline {
		if timeline[i].Date == date {
			timeline[i].ArticleCount += articleCount
			return timeline
		}
	}
	return append(timeline, core.TimelinePoint{Date: date, ArticleCount: articleCount})
}

// ComputeFingerprint derives fingerprint.hash from nucleus + sorted
// top_actors, per core.Fingerprint's documented hash contract. Exported so
// internal/ingest can build the fingerprint C12 hands to Process from a
// fresh extraction.Output, without duplicating the hash rule.
func ComputeFingerprint(nucleus string, topActors []string, focus string, keyActions []string, now time.Time) core.Fingerprint {
	return computeFingerprint(nucleus, topActors, focus, keyActions, now)
}

func computeFingerprint(nucleus string, topActors []string, focus string, keyActions []string, now time.Time) core.Fingerprint {
	sorted := append([]string{}, topActors...)
	sort.Strings(sorted)
	return core.Fingerprint{
		NucleusEntity:  nucleus,
		NarrativeFocus: focus,
		TopActors:      topActors,
		KeyActions:     keyActions,
		Timestamp:      now,
		Hash:           sha1Hex(strings.ToLower(nucleus) + "|" + strings.Join(sorted, ",")),
	}
}
