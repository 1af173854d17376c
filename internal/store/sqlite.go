package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, no cgo

	"github.com/chanforge/chanforge/internal/cferr"
	"github.com/chanforge/chanforge/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	url TEXT NOT NULL,
	credentials_json TEXT,
	cron_schedule TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	last_ingested_at TEXT,
	linked_source_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	tvg_id TEXT, tvg_name TEXT, tvg_logo TEXT, tvg_shift TEXT, tvg_chno TEXT,
	group_title TEXT, channel_name TEXT NOT NULL, stream_url TEXT NOT NULL,
	codec TEXT, dedup_key TEXT NOT NULL,
	created_at TEXT NOT NULL, updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_channels_source ON channels(source_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_dedup ON channels(source_id, dedup_key);

CREATE TABLE IF NOT EXISTS programs (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	channel_name TEXT NOT NULL,
	title TEXT NOT NULL, description TEXT, category TEXT,
	start_time TEXT NOT NULL, end_time TEXT NOT NULL,
	language TEXT, icon TEXT
);
CREATE INDEX IF NOT EXISTS idx_programs_source ON programs(source_id);
CREATE INDEX IF NOT EXISTS idx_programs_channel ON programs(channel_id, start_time);

CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	proxy_id TEXT NOT NULL,
	name TEXT NOT NULL,
	source_kind TEXT NOT NULL,
	scope TEXT NOT NULL,
	sort_order INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	expression TEXT NOT NULL,
	created_at TEXT NOT NULL, updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_proxy ON rules(proxy_id);

CREATE TABLE IF NOT EXISTS filter_attachments (
	id TEXT PRIMARY KEY,
	proxy_id TEXT NOT NULL,
	filter_id TEXT NOT NULL, filter_name TEXT NOT NULL,
	source_kind TEXT NOT NULL, starting_channel_number INTEGER NOT NULL DEFAULT 0,
	is_inverse INTEGER NOT NULL DEFAULT 0, expression TEXT NOT NULL,
	priority_order INTEGER NOT NULL DEFAULT 0, active INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_filters_proxy ON filter_attachments(proxy_id);

CREATE TABLE IF NOT EXISTS proxies (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	stream_source_ids_json TEXT NOT NULL DEFAULT '[]',
	epg_source_ids_json TEXT NOT NULL DEFAULT '[]',
	starting_channel_number INTEGER NOT NULL DEFAULT 1,
	output_mode TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS proxy_artifacts (
	proxy_id TEXT PRIMARY KEY,
	artifact TEXT NOT NULL,
	generated_at TEXT NOT NULL
);
`

// SQLiteStore is the reference Store adapter over modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) the database at path, in WAL
// mode with a busy timeout so concurrent ingestion/regeneration writers
// don't fail outright on lock contention, and runs the schema migration.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// sqlTx wraps *sql.Tx so it satisfies the Store Tx interface.
type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func (s *SQLiteStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

func unwrap(tx Tx) (*sql.Tx, error) {
	t, ok := tx.(*sqlTx)
	if !ok {
		return nil, fmt.Errorf("store: tx not produced by this store")
	}
	return t.tx, nil
}

func (s *SQLiteStore) UpsertChannels(ctx context.Context, tx Tx, sourceID string, channels []model.Channel) error {
	t, err := unwrap(tx)
	if err != nil {
		return err
	}

	if _, err := t.ExecContext(ctx, `DELETE FROM channels WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("clear channels for source %s: %w", sourceID, err)
	}

	stmt, err := t.PrepareContext(ctx, `
		INSERT INTO channels (id, source_id, tvg_id, tvg_name, tvg_logo, tvg_shift, tvg_chno,
			group_title, channel_name, stream_url, codec, dedup_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare channel insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range channels {
		_, err := stmt.ExecContext(ctx,
			c.ID, sourceID, c.TvgID, c.TvgName, c.TvgLogo, c.TvgShift, c.TvgChno,
			c.GroupTitle, c.ChannelName, c.StreamURL, c.Codec, c.DedupKey,
			c.CreatedAt.UTC().Format(time.RFC3339), c.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("insert channel %s: %w", c.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertPrograms(ctx context.Context, tx Tx, sourceID string, programs []model.Program) error {
	t, err := unwrap(tx)
	if err != nil {
		return err
	}

	if _, err := t.ExecContext(ctx, `DELETE FROM programs WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("clear programs for source %s: %w", sourceID, err)
	}

	stmt, err := t.PrepareContext(ctx, `
		INSERT INTO programs (id, source_id, channel_id, channel_name, title, description,
			category, start_time, end_time, language, icon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare program insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range programs {
		_, err := stmt.ExecContext(ctx,
			p.ID, sourceID, p.ChannelID, p.ChannelName, p.Title, p.Description, p.Category,
			p.StartTime.UTC().Format(time.RFC3339), p.EndTime.UTC().Format(time.RFC3339),
			p.Language, p.Icon,
		)
		if err != nil {
			return fmt.Errorf("insert program %s: %w", p.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListChannels(ctx context.Context, sourceIDs []string) ([]model.Channel, error) {
	query, args := inListQuery(`
		SELECT id, source_id, tvg_id, tvg_name, tvg_logo, tvg_shift, tvg_chno,
			group_title, channel_name, stream_url, codec, dedup_key, created_at, updated_at
		FROM channels`, "source_id", sourceIDs)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		var c model.Channel
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.TvgID, &c.TvgName, &c.TvgLogo, &c.TvgShift, &c.TvgChno,
			&c.GroupTitle, &c.ChannelName, &c.StreamURL, &c.Codec, &c.DedupKey, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListPrograms(ctx context.Context, sourceIDs []string) ([]model.Program, error) {
	query, args := inListQuery(`
		SELECT id, source_id, channel_id, channel_name, title, description, category,
			start_time, end_time, language, icon
		FROM programs`, "source_id", sourceIDs)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	var out []model.Program
	for rows.Next() {
		var p model.Program
		var start, end string
		if err := rows.Scan(&p.ID, &p.SourceID, &p.ChannelID, &p.ChannelName, &p.Title, &p.Description,
			&p.Category, &start, &end, &p.Language, &p.Icon); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		p.StartTime, _ = time.Parse(time.RFC3339, start)
		p.EndTime, _ = time.Parse(time.RFC3339, end)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, url, credentials_json, cron_schedule, active, last_ingested_at, linked_source_id
		FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetSource(ctx context.Context, id string) (model.Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, url, credentials_json, cron_schedule, active, last_ingested_at, linked_source_id
		FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (model.Source, error) {
	var s model.Source
	var credsJSON sql.NullString
	var lastIngested sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &s.Kind, &s.URL, &credsJSON, &s.CronSchedule, &s.Active, &lastIngested, &s.LinkedSourceID); err != nil {
		return model.Source{}, fmt.Errorf("scan source: %w", err)
	}
	if credsJSON.Valid && credsJSON.String != "" {
		var creds model.Credentials
		if err := json.Unmarshal([]byte(credsJSON.String), &creds); err != nil {
			return model.Source{}, fmt.Errorf("decode source credentials: %w", err)
		}
		s.Credentials = &creds
	}
	if lastIngested.Valid && lastIngested.String != "" {
		t, err := time.Parse(time.RFC3339, lastIngested.String)
		if err == nil {
			s.LastIngestedAt = &t
		}
	}
	return s, nil
}

func (s *SQLiteStore) ListRules(ctx context.Context, proxyID string) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, source_kind, scope, sort_order, active, expression, created_at, updated_at
		FROM rules WHERE proxy_id = ? ORDER BY sort_order, created_at`, proxyID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		var r model.Rule
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.SourceKind, &r.Scope, &r.SortOrder, &r.Active,
			&r.Expression, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFilters(ctx context.Context, proxyID string) ([]model.FilterAttachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filter_id, filter_name, source_kind, starting_channel_number, is_inverse, expression,
			priority_order, active
		FROM filter_attachments WHERE proxy_id = ? ORDER BY priority_order`, proxyID)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	defer rows.Close()

	var out []model.FilterAttachment
	for rows.Next() {
		var a model.FilterAttachment
		if err := rows.Scan(&a.Filter.ID, &a.Filter.Name, &a.Filter.SourceKind, &a.Filter.StartingChannelNumber,
			&a.Filter.IsInverse, &a.Filter.Expression, &a.PriorityOrder, &a.Active); err != nil {
			return nil, fmt.Errorf("scan filter attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetProxy(ctx context.Context, id string) (model.Proxy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, stream_source_ids_json, epg_source_ids_json, starting_channel_number, output_mode
		FROM proxies WHERE id = ?`, id)
	p, err := scanProxy(row)
	if err != nil {
		return model.Proxy{}, err
	}
	filters, err := s.ListFilters(ctx, id)
	if err != nil {
		return model.Proxy{}, err
	}
	p.Filters = filters
	return p, nil
}

func (s *SQLiteStore) ListProxies(ctx context.Context) ([]model.Proxy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, stream_source_ids_json, epg_source_ids_json, starting_channel_number, output_mode
		FROM proxies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var out []model.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		filters, err := s.ListFilters(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Filters = filters
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProxy(row rowScanner) (model.Proxy, error) {
	var p model.Proxy
	var streamIDsJSON, epgIDsJSON string
	if err := row.Scan(&p.ID, &p.Name, &streamIDsJSON, &epgIDsJSON, &p.StartingChannelNumber, &p.OutputMode); err != nil {
		return model.Proxy{}, fmt.Errorf("scan proxy: %w", err)
	}
	if err := json.Unmarshal([]byte(streamIDsJSON), &p.StreamSourceIDs); err != nil {
		return model.Proxy{}, fmt.Errorf("decode proxy stream source ids: %w", err)
	}
	if err := json.Unmarshal([]byte(epgIDsJSON), &p.EPGSourceIDs); err != nil {
		return model.Proxy{}, fmt.Errorf("decode proxy epg source ids: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) SaveProxyArtifact(ctx context.Context, tx Tx, proxyID, artifact string, generatedAt time.Time) error {
	t, err := unwrap(tx)
	if err != nil {
		return err
	}
	_, err = t.ExecContext(ctx, `
		INSERT INTO proxy_artifacts (proxy_id, artifact, generated_at) VALUES (?, ?, ?)
		ON CONFLICT(proxy_id) DO UPDATE SET artifact = excluded.artifact, generated_at = excluded.generated_at
	`, proxyID, artifact, generatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save proxy artifact %s: %w", proxyID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProxyArtifact(ctx context.Context, proxyID string) (string, time.Time, error) {
	row := s.db.QueryRowContext(ctx, `SELECT artifact, generated_at FROM proxy_artifacts WHERE proxy_id = ?`, proxyID)
	var artifact, generatedAt string
	if err := row.Scan(&artifact, &generatedAt); err != nil {
		if err == sql.ErrNoRows {
			return "", time.Time{}, cferr.NotFound(fmt.Sprintf("no artifact generated yet for proxy %s", proxyID))
		}
		return "", time.Time{}, fmt.Errorf("get proxy artifact: %w", err)
	}
	t, _ := time.Parse(time.RFC3339, generatedAt)
	return artifact, t, nil
}

// inListQuery appends a "WHERE col IN (?, ?, ...)" clause when ids is
// non-empty, satisfying the "in-list" relational querying requirement from
// §6 without pulling in a query-builder dependency for one clause shape.
func inListQuery(base, col string, ids []string) (string, []any) {
	if len(ids) == 0 {
		return base, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',', '?')
		} else {
			placeholders = append(placeholders, '?')
		}
		args[i] = id
	}
	return fmt.Sprintf("%s WHERE %s IN (%s)", base, col, string(placeholders)), args
}
