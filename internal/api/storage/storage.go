package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/script-studio/internal/api/domain"
	"github.com/cuongbtq/script-studio/internal/api/model"
	"github.com/cuongbtq/script-studio/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Migrations holds the runs ledger schema
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations holding the goose files
const MigrationsDir = "migrations"

const runColumns = `
	job_id, creator_handle, topic, status, state,
	progress, label, message, script,
	created_at, updated_at, finished_at`

type Storage struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewStorage(pg *postgresql.Client) *Storage {
	return NewStorageFromDB(pg.GetDB())
}

func NewStorageFromDB(db *sqlx.DB) *Storage {
	return &Storage{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Storage) CreateRun(ctx context.Context, run *model.Run) error {
	query := `
		INSERT INTO runs (
			job_id, creator_handle, topic, status, state,
			progress, label, message, script,
			created_at, updated_at
		) VALUES (
			:job_id, :creator_handle, :topic, :status, :state,
			:progress, :label, :message, :script,
			:created_at, :updated_at
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Storage) GetRun(ctx context.Context, jobID string) (*model.Run, error) {
	var run model.Run
	query := `SELECT ` + runColumns + ` FROM runs WHERE job_id = $1`

	if err := s.db.GetContext(ctx, &run, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// UpdateProgress records a non-terminal state. Finished runs are left alone.
func (s *Storage) UpdateProgress(ctx context.Context, jobID, state string, progress int, label, message string) error {
	query := `
		UPDATE runs
		SET state = $2, progress = $3, label = $4, message = $5, updated_at = $6
		WHERE job_id = $1 AND status = $7
	`

	res, err := s.db.ExecContext(ctx, query, jobID, state, progress, label, message, s.now(), domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return expectRow(res)
}

// CompleteRun records the outcome of the polling session. Only a running
// run can be completed.
func (s *Storage) CompleteRun(ctx context.Context, jobID, status, message, script string) error {
	now := s.now()
	query := `
		UPDATE runs
		SET status = $2, message = $3, script = $4, updated_at = $5, finished_at = $5
		WHERE job_id = $1 AND status = $6
	`

	res, err := s.db.ExecContext(ctx, query, jobID, status, message, script, now, domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return expectRow(res)
}

func (s *Storage) DeleteRun(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return expectRow(res)
}

type RunFilter struct {
	Status   string
	PageSize int
	Cursor   *RunCursor
}

type RunCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListRuns returns up to PageSize+1 runs, newest first. The extra row tells
// the caller whether another page exists.
func (s *Storage) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query, args := buildListQuery(filter)

	var runs []model.Run
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func buildListQuery(filter RunFilter) (string, []interface{}) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	return query, args
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}
