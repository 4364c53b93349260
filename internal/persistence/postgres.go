package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"narrative-core/internal/core"
)

// PostgresStore implements Store over Postgres with JSONB columns for the
// flexible nested fields (entities, fingerprint, lifecycle_history,
// timeline_data), using native jsonb columns rather than marshaling to a
// plain text column. Queries filter on scalar columns; no jsonb containment
// operators are used.
type PostgresStore struct {
	db                *sql.DB
	articles          *postgresArticleRepo
	narratives        *postgresNarrativeRepo
	entityMentions    *postgresEntityMentionRepo
	signalsCache      *postgresSignalsCacheRepo
	briefings         *postgresBriefingRepo
	briefingPatterns  *postgresBriefingPatternRepo
	costRecords       *postgresCostRecordRepo
}

// NewPostgresStore opens a connection pool against connectionString and
// wires every repository over it.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if err := NewMigrationManager(db).Migrate(); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &PostgresStore{
		db:               db,
		articles:         &postgresArticleRepo{db: db},
		narratives:       &postgresNarrativeRepo{db: db},
		entityMentions:   &postgresEntityMentionRepo{db: db},
		signalsCache:     &postgresSignalsCacheRepo{db: db},
		briefings:        &postgresBriefingRepo{db: db},
		briefingPatterns: &postgresBriefingPatternRepo{db: db},
		costRecords:      &postgresCostRecordRepo{db: db},
	}, nil
}

func (p *PostgresStore) Articles() ArticleRepository                 { return p.articles }
func (p *PostgresStore) Narratives() NarrativeRepository             { return p.narratives }
func (p *PostgresStore) EntityMentions() EntityMentionRepository     { return p.entityMentions }
func (p *PostgresStore) SignalsCache() SignalsCacheRepository        { return p.signalsCache }
func (p *PostgresStore) Briefings() BriefingRepository               { return p.briefings }
func (p *PostgresStore) BriefingPatterns() BriefingPatternRepository { return p.briefingPatterns }
func (p *PostgresStore) CostRecords() CostRecordRepository           { return p.costRecords }
func (p *PostgresStore) Close() error                                { return p.db.Close() }
func (p *PostgresStore) Ping(ctx context.Context) error              { return p.db.PingContext(ctx) }

// DB exposes the underlying connection pool for callers that need it
// directly, such as MigrationManager at startup.
func (p *PostgresStore) DB() *sql.DB { return p.db }

// ---- articles ----

type postgresArticleRepo struct{ db *sql.DB }

func (r *postgresArticleRepo) Upsert(ctx context.Context, a *core.Article) error {
	entitiesJSON, err := json.Marshal(a.Entities)
	if err != nil {
		return fmt.Errorf("marshaling entities: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO articles (
			id, url, source, published_at, title, body, fingerprint,
			relevance_tier, entities, sentiment, narrative_id, extraction_method, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (url) DO UPDATE SET
			relevance_tier = EXCLUDED.relevance_tier,
			entities = EXCLUDED.entities,
			sentiment = EXCLUDED.sentiment,
			narrative_id = COALESCE(articles.narrative_id, EXCLUDED.narrative_id),
			extraction_method = EXCLUDED.extraction_method
	`, a.ID, a.URL, a.Source, a.PublishedAt, a.Title, a.Body, a.Fingerprint,
		a.RelevanceTier, entitiesJSON, a.Sentiment, nullableString(a.NarrativeID), a.ExtractionMethod, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting article: %w", err)
	}
	return nil
}

func (r *postgresArticleRepo) Get(ctx context.Context, id string) (*core.Article, error) {
	return r.scan(r.db.QueryRowContext(ctx, articleSelect+" WHERE id = $1", id))
}

func (r *postgresArticleRepo) GetByURL(ctx context.Context, url string) (*core.Article, error) {
	return r.scan(r.db.QueryRowContext(ctx, articleSelect+" WHERE url = $1", url))
}

func (r *postgresArticleRepo) ListRecent(ctx context.Context, limit int) ([]core.Article, error) {
	rows, err := r.db.QueryContext(ctx, articleSelect+" ORDER BY published_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent articles: %w", err)
	}
	defer rows.Close()

	var out []core.Article
	for rows.Next() {
		a, err := scanArticleRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *postgresArticleRepo) SetNarrativeID(ctx context.Context, articleID, narrativeID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE articles SET narrative_id = $2 WHERE id = $1`, articleID, narrativeID)
	if err != nil {
		return fmt.Errorf("setting article narrative_id: %w", err)
	}
	return nil
}

const articleSelect = `
	SELECT id, url, source, published_at, title, body, fingerprint,
	       relevance_tier, entities, sentiment, COALESCE(narrative_id, ''), extraction_method, created_at
	FROM articles`

func (r *postgresArticleRepo) scan(row *sql.Row) (*core.Article, error) {
	var a core.Article
	var entitiesJSON []byte
	err := row.Scan(&a.ID, &a.URL, &a.Source, &a.PublishedAt, &a.Title, &a.Body, &a.Fingerprint,
		&a.RelevanceTier, &entitiesJSON, &a.Sentiment, &a.NarrativeID, &a.ExtractionMethod, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("article not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning article: %w", err)
	}
	if len(entitiesJSON) > 0 {
		if err := json.Unmarshal(entitiesJSON, &a.Entities); err != nil {
			return nil, fmt.Errorf("unmarshaling entities: %w", err)
		}
	}
	return &a, nil
}

func scanArticleRows(rows *sql.Rows) (*core.Article, error) {
	var a core.Article
	var entitiesJSON []byte
	err := rows.Scan(&a.ID, &a.URL, &a.Source, &a.PublishedAt, &a.Title, &a.Body, &a.Fingerprint,
		&a.RelevanceTier, &entitiesJSON, &a.Sentiment, &a.NarrativeID, &a.ExtractionMethod, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning article row: %w", err)
	}
	if len(entitiesJSON) > 0 {
		if err := json.Unmarshal(entitiesJSON, &a.Entities); err != nil {
			return nil, fmt.Errorf("unmarshaling entities: %w", err)
		}
	}
	return &a, nil
}

// ---- narratives ----

type postgresNarrativeRepo struct{ db *sql.DB }

const narrativeSelect = `
	SELECT id, title, summary, nucleus_entity, narrative_focus, top_actors, key_actions,
	       entities, article_ids, article_count, first_seen, last_updated, last_article_at,
	       lifecycle_state, dormant_since, reactivated_count, lifecycle_history,
	       fingerprint, avg_sentiment, velocity, timeline_data, archived
	FROM narratives`

func (r *postgresNarrativeRepo) Upsert(ctx context.Context, n *core.Narrative) error {
	topActors, _ := json.Marshal(n.TopActors)
	keyActions, _ := json.Marshal(n.KeyActions)
	entities, _ := json.Marshal(n.Entities)
	articleIDs, _ := json.Marshal(n.ArticleIDs)
	history, _ := json.Marshal(n.LifecycleHistory)
	fingerprint, _ := json.Marshal(n.Fingerprint)
	timeline, _ := json.Marshal(n.TimelineData)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO narratives (
			id, title, summary, nucleus_entity, narrative_focus, top_actors, key_actions,
			entities, article_ids, article_count, first_seen, last_updated, last_article_at,
			lifecycle_state, dormant_since, reactivated_count, lifecycle_history,
			fingerprint, avg_sentiment, velocity, timeline_data, archived
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, summary = EXCLUDED.summary,
			narrative_focus = EXCLUDED.narrative_focus, top_actors = EXCLUDED.top_actors,
			key_actions = EXCLUDED.key_actions, entities = EXCLUDED.entities,
			article_ids = EXCLUDED.article_ids, article_count = EXCLUDED.article_count,
			last_updated = EXCLUDED.last_updated, last_article_at = EXCLUDED.last_article_at,
			lifecycle_state = EXCLUDED.lifecycle_state, dormant_since = EXCLUDED.dormant_since,
			reactivated_count = EXCLUDED.reactivated_count, lifecycle_history = EXCLUDED.lifecycle_history,
			fingerprint = EXCLUDED.fingerprint, avg_sentiment = EXCLUDED.avg_sentiment,
			velocity = EXCLUDED.velocity, timeline_data = EXCLUDED.timeline_data,
			archived = EXCLUDED.archived
	`, n.ID, n.Title, n.Summary, n.NucleusEntity, n.NarrativeFocus, topActors, keyActions,
		entities, articleIDs, n.ArticleCount, n.FirstSeen, n.LastUpdated, n.LastArticleAt,
		n.LifecycleState, n.DormantSince, n.ReactivatedCount, history,
		fingerprint, n.AvgSentiment, n.Velocity, timeline, n.Archived)
	if err != nil {
		return fmt.Errorf("upserting narrative: %w", err)
	}
	return nil
}

func (r *postgresNarrativeRepo) Get(ctx context.Context, id string) (*core.Narrative, error) {
	row := r.db.QueryRowContext(ctx, narrativeSelect+" WHERE id = $1", id)
	return scanNarrative(row)
}

func (r *postgresNarrativeRepo) CandidatesByNucleus(ctx context.Context, nucleus string, since time.Time) ([]core.Narrative, error) {
	rows, err := r.db.QueryContext(ctx,
		narrativeSelect+` WHERE nucleus_entity = $1 AND first_seen >= $2 AND archived = false`,
		nucleus, since)
	if err != nil {
		return nil, fmt.Errorf("querying narrative candidates: %w", err)
	}
	defer rows.Close()
	return scanNarrativeRowsAll(rows)
}

func (r *postgresNarrativeRepo) ListActive(ctx context.Context, limit int) ([]core.Narrative, error) {
	rows, err := r.db.QueryContext(ctx, narrativeSelect+`
		WHERE archived = false AND lifecycle_state NOT IN ('dormant')
		ORDER BY (velocity * article_count) DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing active narratives: %w", err)
	}
	defer rows.Close()
	return scanNarrativeRowsAll(rows)
}

func (r *postgresNarrativeRepo) ListArchived(ctx context.Context, limit int) ([]core.Narrative, error) {
	rows, err := r.db.QueryContext(ctx, narrativeSelect+`
		WHERE lifecycle_state = 'dormant' ORDER BY dormant_since DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing archived narratives: %w", err)
	}
	defer rows.Close()
	return scanNarrativeRowsAll(rows)
}

func (r *postgresNarrativeRepo) ListReactivated(ctx context.Context, limit int) ([]core.Narrative, error) {
	rows, err := r.db.QueryContext(ctx, narrativeSelect+`
		WHERE lifecycle_state = 'reactivated' ORDER BY last_updated DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing reactivated narratives: %w", err)
	}
	defer rows.Close()
	return scanNarrativeRowsAll(rows)
}

func (r *postgresNarrativeRepo) ListActiveNucleiWithDuplicates(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT nucleus_entity FROM narratives
		WHERE archived = false AND lifecycle_state != 'dormant'
		GROUP BY nucleus_entity HAVING COUNT(*) >= 2`)
	if err != nil {
		return nil, fmt.Errorf("listing nuclei with duplicates: %w", err)
	}
	defer rows.Close()

	var nuclei []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		nuclei = append(nuclei, n)
	}
	return nuclei, rows.Err()
}

func (r *postgresNarrativeRepo) NoFingerprintHash(ctx context.Context, limit int) ([]core.Narrative, error) {
	rows, err := r.db.QueryContext(ctx, narrativeSelect+`
		WHERE fingerprint->>'hash' IS NULL OR fingerprint->>'hash' = ''
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing narratives without fingerprint hash: %w", err)
	}
	defer rows.Close()
	return scanNarrativeRowsAll(rows)
}

func (r *postgresNarrativeRepo) NoNarrativeFocus(ctx context.Context, limit int) ([]core.Narrative, error) {
	rows, err := r.db.QueryContext(ctx, narrativeSelect+`
		WHERE narrative_focus IS NULL OR narrative_focus = ''
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing narratives without narrative_focus: %w", err)
	}
	defer rows.Close()
	return scanNarrativeRowsAll(rows)
}

func scanNarrative(row *sql.Row) (*core.Narrative, error) {
	var n core.Narrative
	var topActors, keyActions, entities, articleIDs, history, fingerprint, timeline []byte
	err := row.Scan(&n.ID, &n.Title, &n.Summary, &n.NucleusEntity, &n.NarrativeFocus, &topActors, &keyActions,
		&entities, &articleIDs, &n.ArticleCount, &n.FirstSeen, &n.LastUpdated, &n.LastArticleAt,
		&n.LifecycleState, &n.DormantSince, &n.ReactivatedCount, &history,
		&fingerprint, &n.AvgSentiment, &n.Velocity, &timeline, &n.Archived)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("narrative not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning narrative: %w", err)
	}
	if err := unmarshalNarrativeJSON(&n, topActors, keyActions, entities, articleIDs, history, fingerprint, timeline); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanNarrativeRowsAll(rows *sql.Rows) ([]core.Narrative, error) {
	var out []core.Narrative
	for rows.Next() {
		var n core.Narrative
		var topActors, keyActions, entities, articleIDs, history, fingerprint, timeline []byte
		if err := rows.Scan(&n.ID, &n.Title, &n.Summary, &n.NucleusEntity, &n.NarrativeFocus, &topActors, &keyActions,
			&entities, &articleIDs, &n.ArticleCount, &n.FirstSeen, &n.LastUpdated, &n.LastArticleAt,
			&n.LifecycleState, &n.DormantSince, &n.ReactivatedCount, &history,
			&fingerprint, &n.AvgSentiment, &n.Velocity, &timeline, &n.Archived); err != nil {
			return nil, fmt.Errorf("scanning narrative row: %w", err)
		}
		if err := unmarshalNarrativeJSON(&n, topActors, keyActions, entities, articleIDs, history, fingerprint, timeline); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func unmarshalNarrativeJSON(n *core.Narrative, topActors, keyActions, entities, articleIDs, history, fingerprint, timeline []byte) error {
	for _, pair := range []struct {
		data []byte
		dst  interface{}
	}{
		{topActors, &n.TopActors},
		{keyActions, &n.KeyActions},
		{entities, &n.Entities},
		{articleIDs, &n.ArticleIDs},
		{history, &n.LifecycleHistory},
		{fingerprint, &n.Fingerprint},
		{timeline, &n.TimelineData},
	} {
		if len(pair.data) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.data, pair.dst); err != nil {
			return fmt.Errorf("unmarshaling narrative field: %w", err)
		}
	}
	return nil
}

// ---- entity_mentions ----

type postgresEntityMentionRepo struct{ db *sql.DB }

func (r *postgresEntityMentionRepo) Insert(ctx context.Context, m EntityMention) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entity_mentions (entity, entity_type, article_id, source, sentiment, narrative_id, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, m.Entity, m.EntityType, m.ArticleID, m.Source, m.Sentiment, nullableString(m.NarrativeID), m.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting entity mention: %w", err)
	}
	return nil
}

func (r *postgresEntityMentionRepo) Since(ctx context.Context, entity string, since time.Time) ([]EntityMention, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity, entity_type, article_id, source, sentiment, COALESCE(narrative_id, ''), timestamp
		FROM entity_mentions WHERE entity = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
	`, entity, since)
	if err != nil {
		return nil, fmt.Errorf("querying entity mentions: %w", err)
	}
	defer rows.Close()

	var out []EntityMention
	for rows.Next() {
		var m EntityMention
		if err := rows.Scan(&m.Entity, &m.EntityType, &m.ArticleID, &m.Source, &m.Sentiment, &m.NarrativeID, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *postgresEntityMentionRepo) DistinctEntitiesSince(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT entity FROM entity_mentions WHERE timestamp >= $1
	`, since)
	if err != nil {
		return nil, fmt.Errorf("listing distinct entities: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- signals_cache ----

type postgresSignalsCacheRepo struct{ db *sql.DB }

func (r *postgresSignalsCacheRepo) Get(ctx context.Context, key string) ([]core.Signal, bool, error) {
	var payload []byte
	var expiresAt time.Time
	err := r.db.QueryRowContext(ctx, `SELECT payload, expires_at FROM signals_cache WHERE cache_key = $1`, key).
		Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading signals cache: %w", err)
	}
	if time.Now().UTC().After(expiresAt) {
		return nil, false, nil
	}
	var signals []core.Signal
	if err := json.Unmarshal(payload, &signals); err != nil {
		return nil, false, fmt.Errorf("unmarshaling cached signals: %w", err)
	}
	return signals, true, nil
}

func (r *postgresSignalsCacheRepo) Set(ctx context.Context, key string, signals []core.Signal, ttl time.Duration) error {
	payload, err := json.Marshal(signals)
	if err != nil {
		return fmt.Errorf("marshaling signals: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO signals_cache (cache_key, payload, expires_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (cache_key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at
	`, key, payload, time.Now().UTC().Add(ttl))
	if err != nil {
		return fmt.Errorf("writing signals cache: %w", err)
	}
	return nil
}

// ---- briefings ----

type postgresBriefingRepo struct{ db *sql.DB }

func (r *postgresBriefingRepo) Insert(ctx context.Context, b *core.Briefing) error {
	content, _ := json.Marshal(b.Content)
	metadata, _ := json.Marshal(b.Metadata)
	localDate := b.GeneratedAt.Format("2006-01-02")

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO briefings (id, type, generated_at, local_date, version, content, metadata, is_smoke, published, task_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, b.ID, b.Type, b.GeneratedAt, localDate, b.Version, content, metadata, b.IsSmoke, b.Published, nullableString(b.TaskID))
	if err != nil {
		return fmt.Errorf("inserting briefing: %w", err)
	}
	return nil
}

const briefingSelect = `
	SELECT id, type, generated_at, version, content, metadata, is_smoke, published, COALESCE(task_id, '')
	FROM briefings`

func (r *postgresBriefingRepo) LatestByType(ctx context.Context, t core.BriefingType) (*core.Briefing, error) {
	row := r.db.QueryRowContext(ctx, briefingSelect+`
		WHERE type = $1 AND published = true AND is_smoke = false
		ORDER BY generated_at DESC LIMIT 1`, t)
	return scanBriefing(row)
}

func (r *postgresBriefingRepo) ByTypeAndDate(ctx context.Context, t core.BriefingType, localDate string) (*core.Briefing, error) {
	row := r.db.QueryRowContext(ctx, briefingSelect+`
		WHERE type = $1 AND local_date = $2 AND published = true AND is_smoke = false
		ORDER BY generated_at DESC LIMIT 1`, t, localDate)
	return scanBriefing(row)
}

func (r *postgresBriefingRepo) ExistsForPeriod(ctx context.Context, t core.BriefingType, localDate string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM briefings WHERE type = $1 AND local_date = $2 AND is_smoke = false)
	`, t, localDate).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking briefing period guard: %w", err)
	}
	return exists, nil
}

func (r *postgresBriefingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM briefings WHERE generated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up old briefings: %w", err)
	}
	return res.RowsAffected()
}

func scanBriefing(row *sql.Row) (*core.Briefing, error) {
	var b core.Briefing
	var content, metadata []byte
	err := row.Scan(&b.ID, &b.Type, &b.GeneratedAt, &b.Version, &content, &metadata, &b.IsSmoke, &b.Published, &b.TaskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning briefing: %w", err)
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &b.Content); err != nil {
			return nil, fmt.Errorf("unmarshaling briefing content: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &b.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling briefing metadata: %w", err)
		}
	}
	return &b, nil
}

// ---- briefing_patterns ----

type postgresBriefingPatternRepo struct{ db *sql.DB }

func (r *postgresBriefingPatternRepo) Insert(ctx context.Context, p BriefingPattern) error {
	narrativeIDs, _ := json.Marshal(p.NarrativeIDs)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO briefing_patterns (id, description, narrative_ids, detected_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.Description, narrativeIDs, p.DetectedAt)
	if err != nil {
		return fmt.Errorf("inserting briefing pattern: %w", err)
	}
	return nil
}

func (r *postgresBriefingPatternRepo) Recent(ctx context.Context, limit int) ([]BriefingPattern, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, description, narrative_ids, detected_at FROM briefing_patterns
		ORDER BY detected_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing briefing patterns: %w", err)
	}
	defer rows.Close()

	var out []BriefingPattern
	for rows.Next() {
		var p BriefingPattern
		var narrativeIDs []byte
		if err := rows.Scan(&p.ID, &p.Description, &narrativeIDs, &p.DetectedAt); err != nil {
			return nil, err
		}
		if len(narrativeIDs) > 0 {
			_ = json.Unmarshal(narrativeIDs, &p.NarrativeIDs)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---- cost_records ----

type postgresCostRecordRepo struct{ db *sql.DB }

func (r *postgresCostRecordRepo) InsertCostRecord(ctx context.Context, rec core.CostRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cost_records (model, operation, input_tokens, output_tokens, cached, timestamp, computed_cost)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.Model, rec.Operation, rec.InputTokens, rec.OutputTokens, rec.Cached, rec.Timestamp, rec.ComputedCost)
	if err != nil {
		return fmt.Errorf("inserting cost record: %w", err)
	}
	return nil
}

func (r *postgresCostRecordRepo) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `SELECT SUM(computed_cost) FROM cost_records WHERE timestamp >= $1`, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing cost records: %w", err)
	}
	return total.Float64, nil
}

func (r *postgresCostRecordRepo) SumCostBetween(ctx context.Context, from, to time.Time) (float64, error) {
	var total sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `SELECT SUM(computed_cost) FROM cost_records WHERE timestamp >= $1 AND timestamp < $2`, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing cost records between: %w", err)
	}
	return total.Float64, nil
}

func (r *postgresCostRecordRepo) SumByModelSince(ctx context.Context, since time.Time) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT model, SUM(computed_cost) FROM cost_records WHERE timestamp >= $1 GROUP BY model
	`, since)
	if err != nil {
		return nil, fmt.Errorf("summing cost by model: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var model string
		var total float64
		if err := rows.Scan(&model, &total); err != nil {
			return nil, err
		}
		out[model] = total
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
