// Package extraction is C6: batched LLM-driven structured extraction of
// entities, narrative focus, top actors, key actions and sentiment from
// article text, with normalization and within-article deduplication. It
// runs a batched-LLM + JSON-schema response pattern (cleanJSONResponse,
// genai.Schema construction, per-item parse, partial-failure retry).
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/genai"

	"narrative-core/internal/core"
	"narrative-core/internal/llm"
)

const (
	maxBatchSize  = 10
	truncateChars = 2000
)

// LLMClient is the narrow facade extraction needs from internal/llm.Client,
// kept as an interface (the same narrowing briefing.Generator uses) so tests
// can substitute a fake instead of a live Gemini backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, opts llm.CallOptions) (string, error)
}

// Generator is the extraction façade: one LLM client, batched calls.
type Generator struct {
	llmClient LLMClient
}

// NewGenerator builds a Generator over an already-configured LLM client.
func NewGenerator(llmClient LLMClient) *Generator {
	return &Generator{llmClient: llmClient}
}

// Input is the minimal article view the extractor needs.
type Input struct {
	ID    string
	Title string
	Body  string
}

// Output is one article's extraction result, ready to be merged into
// core.Article.
type Output struct {
	ArticleID        string
	Entities         []core.Entity
	NarrativeFocus   string
	TopActors        []string
	KeyActions       []string
	Sentiment        core.Sentiment
	ExtractionMethod core.ExtractionMethod
}

// ExtractBatch extracts structured data for a batch of up to maxBatchSize
// articles in a single LLM call. On batch failure, each article is retried
// individually; the returned slice holds exactly one Output per successfully
// extracted article, in no guaranteed order, along with the subset of ids
// that never succeeded.
func (g *Generator) ExtractBatch(ctx context.Context, inputs []Input) ([]Output, []string, error) {
	var outputs []Output
	var failed []string

	for start := 0; start < len(inputs); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		batch := inputs[start:end]

		results, err := g.extractOne(ctx, batch)
		if err == nil {
			outputs = append(outputs, results...)
			continue
		}

		// Partial failure: retry each article of this batch individually so
		// one bad article doesn't sink its siblings.
		for _, item := range batch {
			single, err := g.extractOne(ctx, []Input{item})
			if err != nil {
				failed = append(failed, item.ID)
				continue
			}
			outputs = append(outputs, single...)
		}
	}

	return outputs, failed, nil
}

func (g *Generator) extractOne(ctx context.Context, batch []Input) ([]Output, error) {
	prompt := buildExtractionPrompt(batch)
	schema := buildExtractionSchema()

	resp, err := g.llmClient.Generate(ctx, prompt, llm.CallOptions{
		Operation:      "extraction",
		Temperature:    0.2,
		MaxTokens:      2048,
		ResponseSchema: schema,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	parsed, err := parseExtractionResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}
	if len(parsed) != len(batch) {
		return nil, fmt.Errorf("expected %d results, got %d", len(batch), len(parsed))
	}

	outputs := make([]Output, len(batch))
	for i, item := range batch {
		outputs[i] = normalize(item.ID, parsed[i])
	}
	return outputs, nil
}

func buildExtractionPrompt(batch []Input) string {
	var b strings.Builder
	b.WriteString("Extract structured crypto-news data from each article below. ")
	b.WriteString("For each article return: entities (name, type, confidence), ")
	b.WriteString("narrative_focus (a 2-5 word phrase describing the central action/event), ")
	b.WriteString("top_actors (ordered by salience, at most 5), key_actions (at most 3), ")
	b.WriteString("and sentiment (pos, neg, or neu).\n\n")
	b.WriteString("Entity types: ticker, project, person, organization, event, concept.\n\n")

	for i, a := range batch {
		body := a.Body
		if len(body) > truncateChars {
			body = body[:truncateChars]
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, a.Title, body)
	}

	b.WriteString("Return exactly one result object per article, in the same order.\n")
	return b.String()
}

func buildExtractionSchema() *genai.Schema {
	entitySchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"name":       {Type: genai.TypeString},
			"type":       {Type: genai.TypeString, Description: "ticker, project, person, organization, event, concept"},
			"confidence": {Type: genai.TypeNumber},
		},
		Required: []string{"name", "type", "confidence"},
	}

	resultSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"entities":        {Type: genai.TypeArray, Items: entitySchema},
			"narrative_focus": {Type: genai.TypeString},
			"top_actors":      {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"key_actions":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"sentiment":       {Type: genai.TypeString, Description: "pos, neg, or neu"},
		},
		Required: []string{"entities", "narrative_focus", "top_actors", "key_actions", "sentiment"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"results": {Type: genai.TypeArray, Items: resultSchema},
		},
		Required: []string{"results"},
	}
}

type rawEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type rawResult struct {
	Entities       []rawEntity `json:"entities"`
	NarrativeFocus string      `json:"narrative_focus"`
	TopActors      []string    `json:"top_actors"`
	KeyActions     []string    `json:"key_actions"`
	Sentiment      string      `json:"sentiment"`
}

func parseExtractionResponse(response string) ([]rawResult, error) {
	cleaned := cleanJSONResponse(response)

	var parsed struct {
		Results []rawResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	return parsed.Results, nil
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

// projectCanonical canonicalizes common project-name spellings, grounded in
// the pack's crypto-aggregator coin-name tables.
var projectCanonical = map[string]string{
	"bitcoin":  "Bitcoin",
	"ethereum": "Ethereum",
	"solana":   "Solana",
	"cardano":  "Cardano",
	"ripple":   "Ripple",
	"polygon":  "Polygon",
	"polkadot": "Polkadot",
	"avalanche": "Avalanche",
	"litecoin": "Litecoin",
	"chainlink": "Chainlink",
}

// tickerNames maps common lowercase aliases to their $-prefixed ticker form.
var tickerNames = map[string]string{
	"btc": "$BTC", "bitcoin": "$BTC",
	"eth": "$ETH", "ethereum": "$ETH", "ether": "$ETH",
	"sol": "$SOL", "solana": "$SOL",
	"ada": "$ADA", "cardano": "$ADA",
	"xrp": "$XRP", "ripple": "$XRP",
	"doge": "$DOGE", "dogecoin": "$DOGE",
}

// normalize applies ticker/project/event normalization and within-article
// deduplication (keeping the highest-confidence entity for each normalized
// name) to one raw LLM result.
func normalize(articleID string, raw rawResult) Output {
	best := make(map[string]core.Entity)
	order := make([]string, 0, len(raw.Entities))

	for _, e := range raw.Entities {
		entity := core.Entity{
			Name:       normalizeEntityName(e.Name, e.Type),
			Type:       core.EntityType(e.Type),
			Confidence: e.Confidence,
		}
		key := strings.ToLower(entity.Name) + "|" + string(entity.Type)
		if existing, ok := best[key]; !ok || entity.Confidence > existing.Confidence {
			if !ok {
				order = append(order, key)
			}
			best[key] = entity
		}
	}

	entities := make([]core.Entity, 0, len(order))
	for _, k := range order {
		entities = append(entities, best[k])
	}

	topActors := raw.TopActors
	if len(topActors) > 5 {
		topActors = topActors[:5]
	}
	keyActions := raw.KeyActions
	if len(keyActions) > 3 {
		keyActions = keyActions[:3]
	}

	sentiment := core.SentimentNeutral
	switch strings.ToLower(strings.TrimSpace(raw.Sentiment)) {
	case "pos", "positive":
		sentiment = core.SentimentPositive
	case "neg", "negative":
		sentiment = core.SentimentNegative
	}

	method := core.ExtractionLLM
	if raw.NarrativeFocus == "" && len(entities) == 0 {
		method = core.ExtractionRule
	}

	return Output{
		ArticleID:        articleID,
		Entities:         entities,
		NarrativeFocus:   strings.ToLower(strings.TrimSpace(raw.NarrativeFocus)),
		TopActors:        topActors,
		KeyActions:       normalizeEvents(keyActions),
		Sentiment:        sentiment,
		ExtractionMethod: method,
	}
}

func normalizeEntityName(name, entityType string) string {
	trimmed := strings.TrimSpace(name)
	lower := strings.ToLower(trimmed)

	if core.EntityType(entityType) == core.EntityTicker {
		clean := strings.TrimPrefix(lower, "$")
		if ticker, ok := tickerNames[clean]; ok {
			return ticker
		}
		return "$" + strings.ToUpper(clean)
	}

	if core.EntityType(entityType) == core.EntityProject {
		if canon, ok := projectCanonical[lower]; ok {
			return canon
		}
	}

	if core.EntityType(entityType) == core.EntityEvent {
		return lower
	}

	return trimmed
}

func normalizeEvents(actions []string) []string {
	normalized := make([]string, len(actions))
	for i, a := range actions {
		normalized[i] = strings.ToLower(strings.TrimSpace(a))
	}
	return normalized
}

// ByConfidence is a helper for callers that want entities sorted
// highest-confidence first (e.g. when building Narrative.TopActors).
func ByConfidence(entities []core.Entity) []core.Entity {
	sorted := make([]core.Entity, len(entities))
	copy(sorted, entities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	return sorted
}
