// Package briefing is C10: periodic human-readable synthesis of active
// narratives and signals. It composes a first draft via the LLM façade, then
// runs a bounded critique-and-revise refinement loop, and links each
// recommendation back to a known narrative by normalized-title then fuzzy
// focus-similarity.
package briefing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"narrative-core/internal/core"
	"narrative-core/internal/llm"
	"narrative-core/internal/logger"
	"narrative-core/internal/matcher"
	"narrative-core/internal/persistence"
	"narrative-core/internal/signals"
)

const (
	maxRefinementIterations = 2
	confidenceStopThreshold = 0.9
	focusLinkThreshold      = 0.7
	topNarrativesForInput   = 10
)

// LLMClient is the narrow facade briefing needs from internal/llm.Client,
// kept as an interface so tests can substitute a fake.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, opts llm.CallOptions) (string, error)
}

// Generator composes and self-refines briefings.
type Generator struct {
	llmClient LLMClient
	store     persistence.Store
	signals   *signals.Detector
	model     string
}

// NewGenerator builds a Generator over an LLM client and the full store (it
// needs narratives, signals, briefing_patterns and the briefings collection
// itself for the at-most-one-per-period guard). signalDetector may be nil,
// in which case briefings are composed without a trending-entities section.
func NewGenerator(llmClient LLMClient, store persistence.Store, signalDetector *signals.Detector, model string) *Generator {
	return &Generator{llmClient: llmClient, store: store, signals: signalDetector, model: model}
}

// Options configures one Generate call.
type Options struct {
	Type    core.BriefingType
	Force   bool
	IsSmoke bool
}

// Generate produces and persists a briefing, or no-ops (logging) if one
// already exists for this type and local day and neither Force nor IsSmoke
// is set. The caller
// supplies now explicitly so a retried scheduler task is reproducible.
func (g *Generator) Generate(ctx context.Context, now time.Time, opts Options) (*core.Briefing, error) {
	log := logger.Get().With().Str("component", "briefing").Str("type", string(opts.Type)).Logger()
	generatedAt := now
	localDate := generatedAt.Format("2006-01-02")

	if !opts.Force && !opts.IsSmoke {
		exists, err := g.store.Briefings().ExistsForPeriod(ctx, opts.Type, localDate)
		if err != nil {
			return nil, fmt.Errorf("checking briefing period guard: %w", err)
		}
		if exists {
			log.Info().Str("local_date", localDate).Msg("briefing already generated for period, skipping")
			return nil, nil
		}
	}

	snapshot, err := g.gatherSnapshot(ctx, generatedAt)
	if err != nil {
		return nil, fmt.Errorf("gathering briefing snapshot: %w", err)
	}

	draft, iterations, confidence, err := g.composeWithRefinement(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("composing briefing: %w", err)
	}

	content := linkRecommendations(draft, snapshot.Narratives)

	b := &core.Briefing{
		ID:          uuid.NewString(),
		Type:        opts.Type,
		GeneratedAt: generatedAt,
		Version:     1,
		Content:     content,
		Metadata: core.BriefingMetadata{
			Model:                g.model,
			Confidence:           confidence,
			SignalCount:          len(snapshot.Signals),
			NarrativeCount:       len(snapshot.Narratives),
			PatternCount:         len(snapshot.Patterns),
			RefinementIterations: iterations,
		},
		IsSmoke:   opts.IsSmoke,
		Published: !opts.IsSmoke,
	}

	if err := g.store.Briefings().Insert(ctx, b); err != nil {
		return nil, fmt.Errorf("persisting briefing: %w", err)
	}
	return b, nil
}

// snapshot is the grounded input set handed to the LLM: nothing in the draft
// may reference facts outside this snapshot.
type snapshot struct {
	Narratives []core.Narrative
	Signals    []core.Signal
	Patterns   []persistence.BriefingPattern
}

func (g *Generator) gatherSnapshot(ctx context.Context, now time.Time) (snapshot, error) {
	narratives, err := g.store.Narratives().ListActive(ctx, topNarrativesForInput)
	if err != nil {
		return snapshot{}, fmt.Errorf("listing active narratives: %w", err)
	}
	patterns, err := g.store.BriefingPatterns().Recent(ctx, 10)
	if err != nil {
		return snapshot{}, fmt.Errorf("listing briefing patterns: %w", err)
	}

	var sigs []core.Signal
	if g.signals != nil {
		sigs, err = g.signals.Compute(ctx, now, signals.Query{Limit: 10, MinScore: 0.3, Timeframe: 24 * time.Hour})
		if err != nil {
			logger.Get().Warn().Err(err).Msg("computing signals for briefing snapshot failed, continuing without them")
			sigs = nil
		}
	}

	return snapshot{Narratives: narratives, Patterns: patterns, Signals: sigs}, nil
}

type draftResult struct {
	Narrative         string           `json:"narrative"`
	KeyInsights       []string         `json:"key_insights"`
	EntitiesMentioned []string         `json:"entities_mentioned"`
	DetectedPatterns  []string         `json:"detected_patterns"`
	Recommendations   []rawRecommendation `json:"recommendations"`
}

type rawRecommendation struct {
	Title             string `json:"title"`
	NarrativeTitleHint string `json:"narrative_title_hint"`
}

type critiqueResult struct {
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
}

// composeWithRefinement runs the first draft, then up to
// maxRefinementIterations critique+revise passes, stopping early once the
// critic reports confidence >= confidenceStopThreshold.
func (g *Generator) composeWithRefinement(ctx context.Context, snap snapshot) (draftResult, int, float64, error) {
	log := logger.Get().With().Str("component", "briefing").Logger()

	draft, err := g.compose(ctx, snap, nil)
	if err != nil {
		return draftResult{}, 0, 0, err
	}

	confidence := 0.0
	iterations := 0
	for iterations < maxRefinementIterations {
		critique, err := g.critique(ctx, snap, draft)
		if err != nil {
			log.Warn().Err(err).Msg("critique call failed, keeping current draft")
			break
		}
		confidence = critique.Confidence
		iterations++
		if confidence >= confidenceStopThreshold || len(critique.Issues) == 0 {
			break
		}

		revised, err := g.compose(ctx, snap, critique.Issues)
		if err != nil {
			log.Warn().Err(err).Msg("revision call failed, keeping prior draft")
			break
		}
		draft = revised
	}

	return draft, iterations, confidence, nil
}

func (g *Generator) compose(ctx context.Context, snap snapshot, issues []string) (draftResult, error) {
	prompt := buildCompositionPrompt(snap, issues)
	resp, err := g.llmClient.Generate(ctx, prompt, llm.CallOptions{
		Operation:      "briefing",
		Temperature:    0.4,
		MaxTokens:      1536,
		ResponseSchema: buildDraftSchema(),
	})
	if err != nil {
		return draftResult{}, fmt.Errorf("briefing composition call failed: %w", err)
	}

	var draft draftResult
	if err := json.Unmarshal([]byte(cleanJSONResponse(resp)), &draft); err != nil {
		return draftResult{}, fmt.Errorf("parsing briefing draft: %w", err)
	}
	return draft, nil
}

func (g *Generator) critique(ctx context.Context, snap snapshot, draft draftResult) (critiqueResult, error) {
	prompt := buildCritiquePrompt(snap, draft)
	resp, err := g.llmClient.Generate(ctx, prompt, llm.CallOptions{
		Operation:      "briefing_critique",
		Temperature:    0.1,
		MaxTokens:      512,
		ResponseSchema: buildCritiqueSchema(),
	})
	if err != nil {
		return critiqueResult{}, fmt.Errorf("critique call failed: %w", err)
	}

	var result critiqueResult
	if err := json.Unmarshal([]byte(cleanJSONResponse(resp)), &result); err != nil {
		return critiqueResult{}, fmt.Errorf("parsing critique result: %w", err)
	}
	return result, nil
}

func buildCompositionPrompt(snap snapshot, issues []string) string {
	var b strings.Builder
	b.WriteString("Write a crypto-news briefing grounded ONLY in the data below. ")
	b.WriteString("Do not invent facts, prices, or make promises about future price movement.\n\n")

	b.WriteString("Active narratives:\n")
	for _, n := range snap.Narratives {
		fmt.Fprintf(&b, "- %s (%s, %d articles): %s\n", n.Title, n.LifecycleState, n.ArticleCount, n.NarrativeFocus)
	}

	if len(snap.Signals) > 0 {
		b.WriteString("\nTrending entities:\n")
		for _, s := range snap.Signals {
			fmt.Fprintf(&b, "- %s (score %.2f, %s)\n", s.Entity, s.SignalScore, s.EntityType)
		}
	}

	if len(snap.Patterns) > 0 {
		b.WriteString("\nPreviously detected patterns:\n")
		for _, p := range snap.Patterns {
			fmt.Fprintf(&b, "- %s\n", p.Description)
		}
	}

	if len(issues) > 0 {
		b.WriteString("\nThe previous draft had these issues, fix them:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}

	b.WriteString("\nReturn narrative, key_insights, entities_mentioned, detected_patterns, ")
	b.WriteString("and recommendations (each with title and narrative_title_hint).\n")
	return b.String()
}

func buildCritiquePrompt(snap snapshot, draft draftResult) string {
	var b strings.Builder
	b.WriteString("Critique this briefing draft against the grounded inputs. ")
	b.WriteString("Flag any fact not present in the inputs, any fabricated price, and any promise about future performance. ")
	b.WriteString("Return confidence (0-1) and a list of issues (empty if none).\n\n")
	fmt.Fprintf(&b, "Draft narrative: %s\n", draft.Narrative)
	for _, insight := range draft.KeyInsights {
		fmt.Fprintf(&b, "- %s\n", insight)
	}
	return b.String()
}

func buildDraftSchema() *genai.Schema {
	recommendationSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":                {Type: genai.TypeString},
			"narrative_title_hint": {Type: genai.TypeString},
		},
		Required: []string{"title"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"narrative":          {Type: genai.TypeString},
			"key_insights":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"entities_mentioned": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"detected_patterns":  {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"recommendations":    {Type: genai.TypeArray, Items: recommendationSchema},
		},
		Required: []string{"narrative", "key_insights", "entities_mentioned", "detected_patterns", "recommendations"},
	}
}

func buildCritiqueSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"confidence": {Type: genai.TypeNumber},
			"issues":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		},
		Required: []string{"confidence", "issues"},
	}
}

func cleanJSONResponse(response string) string {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}

// linkRecommendations resolves each recommendation's narrative_title_hint to
// a known narrative ID: first by normalized-title equality, then by fuzzy
// focus-similarity >= focusLinkThreshold using the matcher's Jaccard helper.
// Unmatched recommendations keep a nil narrative ID.
func linkRecommendations(draft draftResult, narratives []core.Narrative) core.BriefingContent {
	recs := make([]core.Recommendation, 0, len(draft.Recommendations))
	for _, r := range draft.Recommendations {
		rec := core.Recommendation{Title: r.Title}
		if id, ok := resolveNarrativeHint(r.NarrativeTitleHint, narratives); ok {
			rec.NarrativeID = id
		}
		recs = append(recs, rec)
	}

	return core.BriefingContent{
		Narrative:         draft.Narrative,
		KeyInsights:       draft.KeyInsights,
		EntitiesMentioned: draft.EntitiesMentioned,
		DetectedPatterns:  draft.DetectedPatterns,
		Recommendations:   recs,
	}
}

func resolveNarrativeHint(hint string, narratives []core.Narrative) (string, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "", false
	}
	normalizedHint := normalizeTitle(hint)

	for _, n := range narratives {
		if normalizeTitle(n.Title) == normalizedHint {
			return n.ID, true
		}
	}

	bestID := ""
	bestSim := 0.0
	for _, n := range narratives {
		sim := matcher.FocusSimilarity(hint, n.NarrativeFocus)
		if sim > bestSim {
			bestSim = sim
			bestID = n.ID
		}
	}
	if bestSim >= focusLinkThreshold {
		return bestID, true
	}
	return "", false
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
