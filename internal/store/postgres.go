package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-engine/internal/db"
	"github.com/sells-group/intel-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests inject pgxmock here.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	process_id   TEXT PRIMARY KEY,
	subject      TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'running',
	stage        TEXT NOT NULL DEFAULT '',
	stage_status TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	summary      JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS provider_responses (
	id         TEXT PRIMARY KEY,
	process_id TEXT NOT NULL,
	provider   TEXT NOT NULL,
	response   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letters (
	process_id   TEXT PRIMARY KEY,
	subject      TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	failed_stage TEXT NOT NULL,
	error        TEXT NOT NULL,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_subject ON runs(subject);
CREATE INDEX IF NOT EXISTS idx_responses_process_id ON provider_responses(process_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, pc *model.PipelineContext) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (process_id, subject, category, status)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (process_id) DO UPDATE SET status = excluded.status, updated_at = now()`,
		pc.ProcessID, pc.Subject, pc.Category, string(RunStatusRunning),
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRunStage(ctx context.Context, processID string, stage model.Stage, status model.StageStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET stage = $1, stage_status = $2, updated_at = now() WHERE process_id = $3`,
		string(stage), string(status), processID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run stage %s", processID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", processID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, processID string, summary *model.PipelineSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, updated_at = now() WHERE process_id = $3`,
		string(RunStatusCompleted), summaryJSON, processID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", processID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", processID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, processID string, stage model.Stage, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, stage = $2, error = $3, updated_at = now() WHERE process_id = $4`,
		string(RunStatusFailed), string(stage), errMsg, processID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", processID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", processID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, processID string) (*Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT process_id, subject, category, status, stage, stage_status, error, summary, created_at, updated_at
		 FROM runs WHERE process_id = $1`,
		processID,
	)
	return scanPgRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT process_id, subject, category, status, stage, stage_status, error, summary, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Subject != "" {
		args = append(args, filter.Subject)
		query += ` AND subject = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// QueueSubjects bulk-loads queued runs through the COPY protocol.
func (s *PostgresStore) QueueSubjects(ctx context.Context, subjects []Subject) (int, error) {
	now := time.Now().UTC()
	rows := make([][]any, len(subjects))
	for i, sub := range subjects {
		rows[i] = []any{uuid.New().String(), sub.Name, sub.Category, string(RunStatusQueued), now, now}
	}
	n, err := db.CopyFrom(ctx, s.pool, "runs",
		[]string{"process_id", "subject", "category", "status", "created_at", "updated_at"}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: queue subjects")
	}
	return int(n), nil
}

func (s *PostgresStore) SaveResponse(ctx context.Context, processID string, resp *model.ProviderResponse) (string, error) {
	id := uuid.New().String()
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal response")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO provider_responses (id, process_id, provider, response) VALUES ($1, $2, $3, $4)`,
		id, processID, resp.Provider, respJSON,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert response for %s", processID)
	}
	return id, nil
}

func (s *PostgresStore) ListResponses(ctx context.Context, processID string) ([]SavedResponse, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, process_id, provider, response, created_at
		 FROM provider_responses WHERE process_id = $1 ORDER BY created_at`,
		processID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list responses")
	}
	defer rows.Close()

	var saved []SavedResponse
	for rows.Next() {
		var sr SavedResponse
		var respJSON []byte
		if err := rows.Scan(&sr.ID, &sr.ProcessID, &sr.Provider, &respJSON, &sr.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan response")
		}
		if err := json.Unmarshal(respJSON, &sr.Response); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal response")
		}
		saved = append(saved, sr)
	}
	return saved, eris.Wrap(rows.Err(), "postgres: list responses iterate")
}

func (s *PostgresStore) SaveDeadLetter(ctx context.Context, entry model.DeadLetterEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letters (process_id, subject, category, failed_stage, error, retry_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (process_id) DO UPDATE SET
		   failed_stage = excluded.failed_stage,
		   error        = excluded.error,
		   retry_count  = excluded.retry_count`,
		entry.ProcessID, entry.Subject, entry.Category, string(entry.FailedStage),
		entry.Error, entry.RetryCount, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save dead letter")
}

func (s *PostgresStore) DeleteDeadLetter(ctx context.Context, processID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM dead_letters WHERE process_id = $1`, processID,
	)
	return eris.Wrapf(err, "postgres: delete dead letter %s", processID)
}

func (s *PostgresStore) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT process_id, subject, category, failed_stage, error, retry_count, created_at
		 FROM dead_letters ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dead letters")
	}
	defer rows.Close()

	var entries []model.DeadLetterEntry
	for rows.Next() {
		var e model.DeadLetterEntry
		var stage string
		if err := rows.Scan(&e.ProcessID, &e.Subject, &e.Category, &stage, &e.Error, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dead letter")
		}
		e.FailedStage = model.Stage(stage)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dead letters iterate")
}

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM runs),
			(SELECT COUNT(*) FROM runs WHERE status = 'running'),
			(SELECT COUNT(*) FROM runs WHERE status = 'completed'),
			(SELECT COUNT(*) FROM runs WHERE status = 'failed'),
			(SELECT COUNT(*) FROM provider_responses),
			(SELECT COUNT(*) FROM dead_letters)`)
	err := row.Scan(&c.RunsTotal, &c.RunsRunning, &c.RunsCompleted, &c.RunsFailed, &c.Responses, &c.DeadLetters)
	return c, eris.Wrap(err, "postgres: counts")
}

func scanPgRun(row pgx.Row) (*Run, error) {
	var r Run
	var status, stage, stageStatus string
	var summaryJSON []byte

	err := row.Scan(&r.ProcessID, &r.Subject, &r.Category, &status, &stage, &stageStatus,
		&r.Error, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}

	r.Status = RunStatus(status)
	r.Stage = model.Stage(stage)
	r.StageStatus = model.StageStatus(stageStatus)
	if len(summaryJSON) > 0 {
		r.Summary = &model.PipelineSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}

