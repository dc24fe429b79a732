package taskexec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store over database/sql, grounded on the teacher's
// internal/jobs.CockroachStore, generalized to dual postgres/sqlite3
// drivers matching internal/descriptioncache.SQLStore's shape.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(driver, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connectTimeout time.Duration) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
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
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agent_task (
			task_id          TEXT PRIMARY KEY,
			tool_name        TEXT NOT NULL,
			arguments        TEXT NOT NULL,
			status           TEXT NOT NULL,
			progress_percent INTEGER NOT NULL,
			progress_message TEXT NOT NULL,
			requester_id     TEXT NOT NULL,
			created_at       TIMESTAMP NOT NULL,
			started_at       TIMESTAMP,
			completed_at     TIMESTAMP,
			timeout_seconds  INTEGER NOT NULL,
			max_retries      INTEGER NOT NULL,
			retries_so_far   INTEGER NOT NULL,
			result_payload   TEXT,
			error_details    TEXT,
			screenshots      TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate agent_task: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) placeholder(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) upsert(t *Task) error {
	screenshotsJSON, err := json.Marshal(t.Screenshots)
	if err != nil {
		return err
	}

	var q string
	if s.driver == "postgres" {
		q = `INSERT INTO agent_task (task_id, tool_name, arguments, status, progress_percent, progress_message, requester_id, created_at, started_at, completed_at, timeout_seconds, max_retries, retries_so_far, result_payload, error_details, screenshots)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			ON CONFLICT (task_id) DO UPDATE SET
				status = EXCLUDED.status, progress_percent = EXCLUDED.progress_percent,
				progress_message = EXCLUDED.progress_message, started_at = EXCLUDED.started_at,
				completed_at = EXCLUDED.completed_at, retries_so_far = EXCLUDED.retries_so_far,
				result_payload = EXCLUDED.result_payload, error_details = EXCLUDED.error_details,
				screenshots = EXCLUDED.screenshots`
	} else {
		q = `INSERT INTO agent_task (task_id, tool_name, arguments, status, progress_percent, progress_message, requester_id, created_at, started_at, completed_at, timeout_seconds, max_retries, retries_so_far, result_payload, error_details, screenshots)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (task_id) DO UPDATE SET
				status = excluded.status, progress_percent = excluded.progress_percent,
				progress_message = excluded.progress_message, started_at = excluded.started_at,
				completed_at = excluded.completed_at, retries_so_far = excluded.retries_so_far,
				result_payload = excluded.result_payload, error_details = excluded.error_details,
				screenshots = excluded.screenshots`
	}

	_, err = s.db.Exec(q, t.TaskID, t.ToolName, string(t.Arguments), string(t.Status), t.ProgressPercent, t.ProgressMessage,
		t.RequesterID, t.CreatedAt, nullTime(t.StartedAt), nullTime(t.CompletedAt), t.TimeoutSeconds, t.MaxRetries,
		t.RetriesSoFar, string(t.ResultPayload), t.ErrorDetails, string(screenshotsJSON))
	return err
}

func (s *SQLStore) Create(t *Task) error { return s.upsert(t) }
func (s *SQLStore) Update(t *Task) error { return s.upsert(t) }

func (s *SQLStore) Get(taskID string) (*Task, bool, error) {
	q := fmt.Sprintf(`SELECT task_id, tool_name, arguments, status, progress_percent, progress_message, requester_id, created_at, started_at, completed_at, timeout_seconds, max_retries, retries_so_far, result_payload, error_details, screenshots
		FROM agent_task WHERE task_id = %s`, s.placeholder(1))
	row := s.db.QueryRow(q, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (s *SQLStore) List(limit, offset int) ([]*Task, error) {
	q := `SELECT task_id, tool_name, arguments, status, progress_percent, progress_message, requester_id, created_at, started_at, completed_at, timeout_seconds, max_retries, retries_so_far, result_payload, error_details, screenshots
		FROM agent_task ORDER BY created_at ASC`
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var all []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, t)
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

func (s *SQLStore) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	terminal := []string{string(StatusCompleted), string(StatusFailed), string(StatusCancelled), string(StatusTimedOut)}
	placeholders := make([]string, len(terminal))
	args := make([]interface{}, 0, len(terminal)+1)
	for i, st := range terminal {
		placeholders[i] = s.placeholder(i + 1)
		args = append(args, st)
	}
	args = append(args, cutoff)
	q := fmt.Sprintf(`DELETE FROM agent_task WHERE status IN (%s) AND completed_at < %s`,
		strings.Join(placeholders, ","), s.placeholder(len(terminal)+1))

	res, err := s.db.Exec(q, args...)
	if err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scannable) (*Task, error) {
	var t Task
	var status, arguments, resultPayload, screenshotsJSON string
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(&t.TaskID, &t.ToolName, &arguments, &status, &t.ProgressPercent, &t.ProgressMessage,
		&t.RequesterID, &t.CreatedAt, &startedAt, &completedAt, &t.TimeoutSeconds, &t.MaxRetries,
		&t.RetriesSoFar, &resultPayload, &t.ErrorDetails, &screenshotsJSON); err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.Arguments = json.RawMessage(arguments)
	t.ResultPayload = json.RawMessage(resultPayload)
	if startedAt.Valid {
		t.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	if screenshotsJSON != "" {
		_ = json.Unmarshal([]byte(screenshotsJSON), &t.Screenshots)
	}
	return &t, nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
