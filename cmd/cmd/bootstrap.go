package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"narrative-core/internal/briefing"
	"narrative-core/internal/config"
	"narrative-core/internal/cost"
	"narrative-core/internal/extraction"
	"narrative-core/internal/ingest"
	"narrative-core/internal/llm"
	"narrative-core/internal/logger"
	"narrative-core/internal/narrative"
	"narrative-core/internal/persistence"
	"narrative-core/internal/signals"
	"narrative-core/internal/store"
)

// app bundles every long-lived dependency a subcommand might need. Not every
// field is populated by every constructor below; callers only build what
// they use.
type app struct {
	cfg      *config.Config
	store    *persistence.PostgresStore
	llmCache *store.Store
	llm      *llm.Client
	ledger   *cost.Ledger
	signals  *signals.Detector
	engine   *narrative.Engine
	briefing *briefing.Generator
	ingest   *ingest.Pipeline
}

// Close releases every resource the app opened, in reverse dependency order.
func (a *app) Close() {
	if a.llmCache != nil {
		_ = a.llmCache.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// newApp loads configuration, connects to Postgres and runs pending
// migrations, and wires as much of the dependency graph as withLLM requests.
// Every long-running or one-shot command starts here.
func newApp(ctx context.Context, withLLM bool) (*app, error) {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	pgStore, err := persistence.NewPostgresStore(cfg.Store.URI)
	if err != nil {
		return nil, fmt.Errorf("connecting to store: %w", err)
	}
	a.store = pgStore

	if err := persistence.NewMigrationManager(pgStore.DB()).Migrate(); err != nil {
		pgStore.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	a.signals = signals.NewDetector(pgStore.EntityMentions(), pgStore.Narratives(), pgStore.SignalsCache())
	a.engine = narrative.NewEngine(pgStore.Narratives())

	if !withLLM {
		a.ingest = ingest.New(cfg.Feeds, pgStore.Articles(), pgStore.EntityMentions(), nil, a.engine)
		return a, nil
	}

	// store.NewStore takes the cache's containing directory and names the
	// database file itself; cfg.Cache.SQLitePath names the file, so strip it.
	llmCache, err := store.NewStore(filepath.Dir(cfg.Cache.SQLitePath))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening llm cache: %w", err)
	}
	a.llmCache = llmCache

	log := logger.With("cost")
	ledger := cost.NewLedger(pgStore.CostRecords(), cfg.LLM.MonthlyBudgetUSD, cfg.LLM.AlertThresholdPct,
		func(spent, budget float64) {
			log.Warn().Float64("spent_usd", spent).Float64("budget_usd", budget).Msg("monthly LLM budget threshold crossed")
		})
	if err := ledger.Refresh(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("loading month-to-date spend: %w", err)
	}
	a.ledger = ledger

	llmClient, err := llm.NewClient(ctx, llm.Config{
		APIKey:        cfg.LLM.APIKey,
		PrimaryModel:  cfg.LLM.PrimaryModel,
		FallbackModel: cfg.LLM.FallbackModel,
		Cache:         llmCache,
		CacheTTL:      cfg.LLM.CacheTTL,
		Ledger:        ledger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	a.llm = llmClient

	a.briefing = briefing.NewGenerator(llmClient, pgStore, a.signals, cfg.LLM.PrimaryModel)
	a.ingest = ingest.New(cfg.Feeds, pgStore.Articles(), pgStore.EntityMentions(), extraction.NewGenerator(llmClient), a.engine)

	return a, nil
}
