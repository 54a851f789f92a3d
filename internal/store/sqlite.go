package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/intel-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	process_id   TEXT PRIMARY KEY,
	subject      TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'running',
	stage        TEXT NOT NULL DEFAULT '',
	stage_status TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	summary      TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS provider_responses (
	id         TEXT PRIMARY KEY,
	process_id TEXT NOT NULL,
	provider   TEXT NOT NULL,
	response   TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letters (
	process_id   TEXT PRIMARY KEY,
	subject      TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	failed_stage TEXT NOT NULL,
	error        TEXT NOT NULL,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_subject ON runs(subject);
CREATE INDEX IF NOT EXISTS idx_responses_process_id ON provider_responses(process_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, pc *model.PipelineContext) error {
	now := time.Now().UTC()
	// Upsert so a queued subject transitions to running under the same
	// process id.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (process_id, subject, category, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(process_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		pc.ProcessID, pc.Subject, pc.Category, string(RunStatusRunning), now, now,
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) QueueSubjects(ctx context.Context, subjects []Subject) (int, error) {
	if len(subjects) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin queue tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, sub := range subjects {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (process_id, subject, category, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), sub.Name, sub.Category, string(RunStatusQueued), now, now,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: queue subject %s", sub.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit queue tx")
	}
	return len(subjects), nil
}

func (s *SQLiteStore) UpdateRunStage(ctx context.Context, processID string, stage model.Stage, status model.StageStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET stage = ?, stage_status = ?, updated_at = ? WHERE process_id = ?`,
		string(stage), string(status), time.Now().UTC(), processID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run stage %s", processID)
	}
	return checkRowsAffected(res, "run", processID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, processID string, summary *model.PipelineSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE process_id = ?`,
		string(RunStatusCompleted), string(summaryJSON), time.Now().UTC(), processID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", processID)
	}
	return checkRowsAffected(res, "run", processID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, processID string, stage model.Stage, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stage = ?, error = ?, updated_at = ? WHERE process_id = ?`,
		string(RunStatusFailed), string(stage), errMsg, time.Now().UTC(), processID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", processID)
	}
	return checkRowsAffected(res, "run", processID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, processID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT process_id, subject, category, status, stage, stage_status, error, summary, created_at, updated_at
		 FROM runs WHERE process_id = ?`,
		processID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT process_id, subject, category, status, stage, stage_status, error, summary, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, filter.Subject)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveResponse(ctx context.Context, processID string, resp *model.ProviderResponse) (string, error) {
	id := uuid.New().String()
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal response")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO provider_responses (id, process_id, provider, response, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, processID, resp.Provider, string(respJSON), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert response for %s", processID)
	}
	return id, nil
}

func (s *SQLiteStore) ListResponses(ctx context.Context, processID string) ([]SavedResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, process_id, provider, response, created_at
		 FROM provider_responses WHERE process_id = ? ORDER BY created_at`,
		processID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list responses")
	}
	defer rows.Close()

	var saved []SavedResponse
	for rows.Next() {
		var sr SavedResponse
		var respJSON string
		if err := rows.Scan(&sr.ID, &sr.ProcessID, &sr.Provider, &respJSON, &sr.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan response")
		}
		if err := json.Unmarshal([]byte(respJSON), &sr.Response); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal response")
		}
		saved = append(saved, sr)
	}
	return saved, eris.Wrap(rows.Err(), "sqlite: list responses iterate")
}

func (s *SQLiteStore) SaveDeadLetter(ctx context.Context, entry model.DeadLetterEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (process_id, subject, category, failed_stage, error, retry_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(process_id) DO UPDATE SET
		   failed_stage = excluded.failed_stage,
		   error        = excluded.error,
		   retry_count  = excluded.retry_count`,
		entry.ProcessID, entry.Subject, entry.Category, string(entry.FailedStage),
		entry.Error, entry.RetryCount, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: save dead letter")
}

func (s *SQLiteStore) DeleteDeadLetter(ctx context.Context, processID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dead_letters WHERE process_id = ?`, processID,
	)
	return eris.Wrapf(err, "sqlite: delete dead letter %s", processID)
}

func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT process_id, subject, category, failed_stage, error, retry_count, created_at
		 FROM dead_letters ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dead letters")
	}
	defer rows.Close()

	var entries []model.DeadLetterEntry
	for rows.Next() {
		var e model.DeadLetterEntry
		var stage string
		if err := rows.Scan(&e.ProcessID, &e.Subject, &e.Category, &stage, &e.Error, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dead letter")
		}
		e.FailedStage = model.Stage(stage)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dead letters iterate")
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM runs),
			(SELECT COUNT(*) FROM runs WHERE status = 'running'),
			(SELECT COUNT(*) FROM runs WHERE status = 'completed'),
			(SELECT COUNT(*) FROM runs WHERE status = 'failed'),
			(SELECT COUNT(*) FROM provider_responses),
			(SELECT COUNT(*) FROM dead_letters)`)
	err := row.Scan(&c.RunsTotal, &c.RunsRunning, &c.RunsCompleted, &c.RunsFailed, &c.Responses, &c.DeadLetters)
	return c, eris.Wrap(err, "sqlite: counts")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var status, stage, stageStatus string
	var summaryJSON sql.NullString

	err := row.Scan(&r.ProcessID, &r.Subject, &r.Category, &status, &stage, &stageStatus,
		&r.Error, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Status = RunStatus(status)
	r.Stage = model.Stage(stage)
	r.StageStatus = model.StageStatus(stageStatus)
	if summaryJSON.Valid && summaryJSON.String != "" {
		r.Summary = &model.PipelineSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
