package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"narrative-core/internal/config"
	"narrative-core/internal/core"
	"narrative-core/internal/persistence"
)

type fakeStore struct {
	narratives []core.Narrative
	articles   map[string]*core.Article
	briefings  []core.Briefing
}

func (f *fakeStore) Articles() persistence.ArticleRepository         { return &fakeArticleRepo{f} }
func (f *fakeStore) Narratives() persistence.NarrativeRepository     { return &fakeNarrativeRepo{f} }
func (f *fakeStore) EntityMentions() persistence.EntityMentionRepository { return nil }
func (f *fakeStore) SignalsCache() persistence.SignalsCacheRepository   { return nil }
func (f *fakeStore) Briefings() persistence.BriefingRepository       { return &fakeBriefingRepo{f} }
func (f *fakeStore) BriefingPatterns() persistence.BriefingPatternRepository { return nil }
func (f *fakeStore) CostRecords() persistence.CostRecordRepository   { return &fakeCostRepo{} }
func (f *fakeStore) Close() error                  { return nil }
func (f *fakeStore) Ping(ctx context.Context) error { return nil }

type fakeArticleRepo struct{ s *fakeStore }

func (r *fakeArticleRepo) Upsert(ctx context.Context, a *core.Article) error { return nil }
func (r *fakeArticleRepo) Get(ctx context.Context, id string) (*core.Article, error) {
	return r.s.articles[id], nil
}
func (r *fakeArticleRepo) GetByURL(ctx context.Context, url string) (*core.Article, error) { return nil, nil }
func (r *fakeArticleRepo) ListRecent(ctx context.Context, limit int) ([]core.Article, error) {
	return nil, nil
}
func (r *fakeArticleRepo) SetNarrativeID(ctx context.Context, articleID, narrativeID string) error {
	return nil
}

type fakeNarrativeRepo struct{ s *fakeStore }

func (r *fakeNarrativeRepo) Upsert(ctx context.Context, n *core.Narrative) error { return nil }
func (r *fakeNarrativeRepo) Get(ctx context.Context, id string) (*core.Narrative, error) {
	for _, n := range r.s.narratives {
		if n.ID == id {
			cp := n
			return &cp, nil
		}
	}
	return nil, nil
}
func (r *fakeNarrativeRepo) CandidatesByNucleus(ctx context.Context, nucleus string, since time.Time) ([]core.Narrative, error) {
	return nil, nil
}
func (r *fakeNarrativeRepo) ListActive(ctx context.Context, limit int) ([]core.Narrative, error) {
	return r.s.narratives, nil
}
func (r *fakeNarrativeRepo) ListArchived(ctx context.Context, limit int) ([]core.Narrative, error) { return nil, nil }
func (r *fakeNarrativeRepo) ListReactivated(ctx context.Context, limit int) ([]core.Narrative, error) { return nil, nil }
func (r *fakeNarrativeRepo) ListActiveNucleiWithDuplicates(ctx context.Context) ([]string, error) { return nil, nil }
func (r *fakeNarrativeRepo) NoFingerprintHash(ctx context.Context, limit int) ([]core.Narrative, error) { return nil, nil }
func (r *fakeNarrativeRepo) NoNarrativeFocus(ctx context.Context, limit int) ([]core.Narrative, error) { return nil, nil }

type fakeBriefingRepo struct{ s *fakeStore }

func (r *fakeBriefingRepo) Insert(ctx context.Context, b *core.Briefing) error { return nil }
func (r *fakeBriefingRepo) LatestByType(ctx context.Context, t core.BriefingType) (*core.Briefing, error) {
	var latest *core.Briefing
	for i := range r.s.briefings {
		b := r.s.briefings[i]
		if b.Type == t && (latest == nil || b.GeneratedAt.After(latest.GeneratedAt)) {
			latest = &b
		}
	}
	return latest, nil
}
func (r *fakeBriefingRepo) ByTypeAndDate(ctx context.Context, t core.BriefingType, localDate string) (*core.Briefing, error) {
	return nil, nil
}
func (r *fakeBriefingRepo) ExistsForPeriod(ctx context.Context, t core.BriefingType, localDate string) (bool, error) {
	return false, nil
}
func (r *fakeBriefingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) { return 0, nil }

type fakeCostRepo struct{}

func (r *fakeCostRepo) InsertCostRecord(ctx context.Context, rec core.CostRecord) error { return nil }
func (r *fakeCostRepo) SumCostSince(ctx context.Context, since time.Time) (float64, error) { return 0, nil }
func (r *fakeCostRepo) SumCostBetween(ctx context.Context, from, to time.Time) (float64, error) {
	return 1.5, nil
}
func (r *fakeCostRepo) SumByModelSince(ctx context.Context, since time.Time) (map[string]float64, error) {
	return map[string]float64{"gemini-2.0-flash": 3.2}, nil
}

func newTestServer(store *fakeStore, apiKey string) *Server {
	cfg := config.Server{
		Host:   "localhost",
		Port:   0,
		APIKey: apiKey,
	}
	return New(cfg, Dependencies{Store: store})
}

func TestServer_HealthIsUnauthenticated(t *testing.T) {
	s := newTestServer(&fakeStore{}, "secret")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestServer_APIRoutesRejectMissingKey(t *testing.T) {
	s := newTestServer(&fakeStore{}, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/articles/recent", nil)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestServer_APIRoutesRejectWhenNoKeyConfigured(t *testing.T) {
	s := newTestServer(&fakeStore{}, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/articles/recent", nil)
	req.Header.Set("X-API-Key", "anything")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when no api key is configured, got %d", rr.Code)
	}
}

func TestServer_NarrativeArticlesRouteWinsOverByID(t *testing.T) {
	store := &fakeStore{
		narratives: []core.Narrative{{ID: "n1", ArticleIDs: []string{"a1", "a2"}}},
		articles:   map[string]*core.Article{"a1": {ID: "a1"}, "a2": {ID: "a2"}},
	}
	s := newTestServer(store, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/narratives/n1/articles", nil)
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestServer_BriefingMissingReturnsPlaceholderNotError(t *testing.T) {
	s := newTestServer(&fakeStore{}, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/briefing/morning", nil)
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with placeholder, got %d", rr.Code)
	}
}

func TestServer_CostByModelReportsPerModelTotals(t *testing.T) {
	s := newTestServer(&fakeStore{}, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/api-costs/by-model?days=7", nil)
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"gemini-2.0-flash":3.2`) {
		t.Fatalf("expected per-model total for gemini-2.0-flash in body, got %s", rr.Body.String())
	}
}
