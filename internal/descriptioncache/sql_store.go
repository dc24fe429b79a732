package descriptioncache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store over database/sql, grounded on the teacher's
// internal/jobs.CockroachStore (same sql.Open + pool tuning + ping shape),
// generalized to dual postgres/sqlite3 drivers per SPEC_FULL.md §4.1.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// SQLConfig tunes the underlying connection pool.
type SQLConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig mirrors the teacher's DefaultCockroachConfig values.
func DefaultSQLConfig() *SQLConfig {
	return &SQLConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewSQLStore opens driver ("postgres" or "sqlite3") against dsn, ensures
// the tool_description table exists, and returns a ready Store.
func NewSQLStore(driver, dsn string, cfg *SQLConfig) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultSQLConfig()
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS tool_description (
			model_id          TEXT NOT NULL,
			tool_name         TEXT NOT NULL,
			schema_text       TEXT NOT NULL,
			annotations       TEXT NOT NULL,
			generation_millis BIGINT NOT NULL,
			created_at        TIMESTAMP NOT NULL,
			last_used_at      TIMESTAMP NOT NULL,
			usage_count       BIGINT NOT NULL,
			PRIMARY KEY (model_id, tool_name)
		)`
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("migrate tool_description: %w", err)
	}
	return nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Lookup(key Key) (CachedDescription, bool, error) {
	q := fmt.Sprintf(`SELECT model_id, tool_name, schema_text, annotations, generation_millis, created_at, last_used_at, usage_count
		FROM tool_description WHERE model_id = %s AND tool_name = %s`, s.placeholder(1), s.placeholder(2))
	row := s.db.QueryRow(q, key.ModelID, key.ToolName)

	var d CachedDescription
	var annotationsJSON string
	if err := row.Scan(&d.ModelID, &d.ToolName, &d.SchemaText, &annotationsJSON, &d.GenerationMillis, &d.CreatedAt, &d.LastUsedAt, &d.UsageCount); err != nil {
		if err == sql.ErrNoRows {
			return CachedDescription{}, false, nil
		}
		return CachedDescription{}, false, fmt.Errorf("lookup description: %w", err)
	}
	if annotationsJSON != "" {
		if err := json.Unmarshal([]byte(annotationsJSON), &d.Annotations); err != nil {
			return CachedDescription{}, false, fmt.Errorf("decode annotations: %w", err)
		}
	}
	return d, true, nil
}

func (s *SQLStore) Store(desc CachedDescription) error {
	annotationsJSON, err := json.Marshal(desc.Annotations)
	if err != nil {
		return fmt.Errorf("encode annotations: %w", err)
	}

	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO tool_description (model_id, tool_name, schema_text, annotations, generation_millis, created_at, last_used_at, usage_count)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (model_id, tool_name) DO UPDATE SET
				schema_text = EXCLUDED.schema_text,
				annotations = EXCLUDED.annotations,
				generation_millis = EXCLUDED.generation_millis,
				last_used_at = EXCLUDED.last_used_at,
				usage_count = EXCLUDED.usage_count`
	} else {
		q = `INSERT INTO tool_description (model_id, tool_name, schema_text, annotations, generation_millis, created_at, last_used_at, usage_count)
			VALUES (?,?,?,?,?,?,?,?)
			ON CONFLICT (model_id, tool_name) DO UPDATE SET
				schema_text = excluded.schema_text,
				annotations = excluded.annotations,
				generation_millis = excluded.generation_millis,
				last_used_at = excluded.last_used_at,
				usage_count = excluded.usage_count`
	}

	_, err = s.db.Exec(q, desc.ModelID, desc.ToolName, desc.SchemaText, string(annotationsJSON), desc.GenerationMillis, desc.CreatedAt, desc.LastUsedAt, desc.UsageCount)
	if err != nil {
		return fmt.Errorf("store description: %w", err)
	}
	return nil
}

func (s *SQLStore) Touch(key Key, at time.Time) error {
	q := fmt.Sprintf(`UPDATE tool_description SET last_used_at = %s, usage_count = usage_count + 1
		WHERE model_id = %s AND tool_name = %s`, s.placeholder(1), s.placeholder(2), s.placeholder(3))
	_, err := s.db.Exec(q, at, key.ModelID, key.ToolName)
	if err != nil {
		return fmt.Errorf("touch description: %w", err)
	}
	return nil
}

func (s *SQLStore) StatsByProvider() ([]ModelStats, error) {
	q := `SELECT model_id, COALESCE(SUM(usage_count), 0), COALESCE(AVG(generation_millis), 0)
		FROM tool_description GROUP BY model_id ORDER BY model_id`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("stats by provider: %w", err)
	}
	defer rows.Close()

	var out []ModelStats
	for rows.Next() {
		var m ModelStats
		if err := rows.Scan(&m.ModelID, &m.Count, &m.AvgGenMillis); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats by provider: %w", err)
	}
	return out, nil
}

func (s *SQLStore) EvictOlderThan(cutoff time.Time) (int, error) {
	q := fmt.Sprintf(`DELETE FROM tool_description WHERE last_used_at < %s`, s.placeholder(1))
	res, err := s.db.Exec(q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("evict descriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}
