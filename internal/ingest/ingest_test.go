package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"narrative-core/internal/config"
	"narrative-core/internal/core"
	"narrative-core/internal/extraction"
	"narrative-core/internal/llm"
	"narrative-core/internal/narrative"
	"narrative-core/internal/persistence"
)

type fakeArticles struct {
	byURL map[string]*core.Article
}

func newFakeArticles() *fakeArticles { return &fakeArticles{byURL: make(map[string]*core.Article)} }

func (f *fakeArticles) Upsert(ctx context.Context, a *core.Article) error {
	cp := *a
	f.byURL[a.URL] = &cp
	return nil
}
func (f *fakeArticles) Get(ctx context.Context, id string) (*core.Article, error) {
	for _, a := range f.byURL {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, errNotFound
}
func (f *fakeArticles) GetByURL(ctx context.Context, url string) (*core.Article, error) {
	if a, ok := f.byURL[url]; ok {
		return a, nil
	}
	return nil, errNotFound
}
func (f *fakeArticles) ListRecent(ctx context.Context, limit int) ([]core.Article, error) {
	return nil, nil
}
func (f *fakeArticles) SetNarrativeID(ctx context.Context, articleID, narrativeID string) error {
	for _, a := range f.byURL {
		if a.ID == articleID {
			a.NarrativeID = narrativeID
		}
	}
	return nil
}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var errNotFound = notFoundError{}

type fakeMentions struct {
	inserted []persistence.EntityMention
}

func (f *fakeMentions) Insert(ctx context.Context, m persistence.EntityMention) error {
	f.inserted = append(f.inserted, m)
	return nil
}
func (f *fakeMentions) Since(ctx context.Context, entity string, since time.Time) ([]persistence.EntityMention, error) {
	return nil, nil
}
func (f *fakeMentions) DistinctEntitiesSince(ctx context.Context, since time.Time) ([]string, error) {
	return nil, nil
}

type fakeNarrativeStore struct {
	byID map[string]*core.Narrative
}

func newFakeNarrativeStore() *fakeNarrativeStore {
	return &fakeNarrativeStore{byID: make(map[string]*core.Narrative)}
}
func (f *fakeNarrativeStore) Upsert(ctx context.Context, n *core.Narrative) error {
	cp := *n
	f.byID[n.ID] = &cp
	return nil
}
func (f *fakeNarrativeStore) Get(ctx context.Context, id string) (*core.Narrative, error) {
	if n, ok := f.byID[id]; ok {
		return n, nil
	}
	return nil, errNotFound
}
func (f *fakeNarrativeStore) CandidatesByNucleus(ctx context.Context, nucleus string, since time.Time) ([]core.Narrative, error) {
	var out []core.Narrative
	for _, n := range f.byID {
		if n.NucleusEntity == nucleus {
			out = append(out, *n)
		}
	}
	return out, nil
}
func (f *fakeNarrativeStore) ListActive(ctx context.Context, limit int) ([]core.Narrative, error) {
	return nil, nil
}
func (f *fakeNarrativeStore) ListArchived(ctx context.Context, limit int) ([]core.Narrative, error) {
	return nil, nil
}
func (f *fakeNarrativeStore) ListReactivated(ctx context.Context, limit int) ([]core.Narrative, error) {
	return nil, nil
}
func (f *fakeNarrativeStore) ListActiveNucleiWithDuplicates(ctx context.Context) ([]string, error) {
	return nil, nil
}
func (f *fakeNarrativeStore) NoFingerprintHash(ctx context.Context, limit int) ([]core.Narrative, error) {
	return nil, nil
}
func (f *fakeNarrativeStore) NoNarrativeFocus(ctx context.Context, limit int) ([]core.Narrative, error) {
	return nil, nil
}

type fakeLLM struct {
	response string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.CallOptions) (string, error) {
	return f.response, nil
}

const sampleFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Crypto Wire</title>
<item><title>BTC rallies</title><link>%s</link><guid>g1</guid><pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate></item>
</channel></rss>`

const sampleArticleHTML = `<html><head><title>BTC rallies past 100k</title></head>
<body><article><p>Bitcoin surged after ETF inflows accelerated.</p></article></body></html>`

func TestPipeline_RunIngestsAndLinksNarrative(t *testing.T) {
	articlePage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleArticleHTML))
	}))
	defer articlePage.Close()

	var feedServer *httptest.Server
	feedServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedBody(articlePage.URL)))
	}))
	defer feedServer.Close()
	_ = feedServer

	extractResp := `{"results":[{"entities":[{"name":"btc","type":"ticker","confidence":0.9}],"narrative_focus":"BTC Rally","top_actors":["ETF issuers"],"key_actions":["drives inflows"],"sentiment":"pos"}]}`
	gen := extraction.NewGenerator(&fakeLLM{response: extractResp})

	articles := newFakeArticles()
	mentions := &fakeMentions{}
	store := newFakeNarrativeStore()
	engine := narrative.NewEngine(store)

	cfg := config.Feeds{Sources: []string{feedServer.URL}, UserAgent: "test-agent", Timeout: 5 * time.Second, MaxItemsPerFeed: 10}
	pipeline := New(cfg, articles, mentions, gen, engine)

	count, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 article ingested, got %d", count)
	}

	stored, ok := articles.byURL[articlePage.URL]
	if !ok {
		t.Fatalf("expected article to be persisted")
	}
	if stored.NarrativeID == "" {
		t.Fatalf("expected article to be linked to a narrative")
	}
	if len(mentions.inserted) != 1 {
		t.Fatalf("expected 1 entity mention recorded, got %d", len(mentions.inserted))
	}

	// Re-running should not re-ingest the same URL.
	count2, err := pipeline.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if count2 != 0 {
		t.Fatalf("expected second run to ingest nothing new, got %d", count2)
	}
}

func feedBody(articleURL string) string {
	return fmt.Sprintf(sampleFeed, articleURL)
}
