package procsync

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

const (
	postgresTaskTable        = "tasksync_tasks"
	postgresLinkTable        = "tasksync_process_links"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStore implements TaskStore and ProcessLinks on one database.
type PostgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStore{dsn: dsn, openDB: sql.Open}, nil
}

const taskColumns = `id, process_id, remote_id, origin, title, notes, completed, completed_at,
	assignee_id, assignee_name, assignee_email, start_on, due_on,
	section_id, section_name, phase, parent_remote_id, is_subtask, permalink,
	synced_at, created_at`

func (s *PostgresStore) ListRemoteSourced(ctx context.Context, processID string) ([]TaskRecord, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := `SELECT ` + taskColumns + ` FROM ` + postgresTaskTable + ` WHERE process_id = $1 AND origin = $2 ORDER BY remote_id`
	rows, err := s.db.QueryContext(opCtx, query, processID, string(OriginRemote))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		record, err := scanTaskRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, record TaskRecord) error {
	if strings.TrimSpace(record.ProcessID) == "" || !record.Origin.Valid() {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := `
		INSERT INTO ` + postgresTaskTable + ` (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err := s.db.ExecContext(opCtx, query,
		record.ID, record.ProcessID, record.RemoteID, string(record.Origin),
		record.Title, record.Notes, record.Completed, record.CompletedAt,
		record.AssigneeID, record.AssigneeName, record.AssigneeEmail,
		record.StartOn, record.DueOn,
		record.SectionID, record.SectionName, string(record.Phase),
		record.ParentRemoteID, record.IsSubtask, record.Permalink,
		record.SyncedAt, record.CreatedAt)
	return err
}

func (s *PostgresStore) Update(ctx context.Context, record TaskRecord) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := `
		UPDATE ` + postgresTaskTable + ` SET
			title = $4, notes = $5, completed = $6, completed_at = $7,
			assignee_id = $8, assignee_name = $9, assignee_email = $10,
			start_on = $11, due_on = $12,
			section_id = $13, section_name = $14, phase = $15,
			parent_remote_id = $16, is_subtask = $17, permalink = $18,
			synced_at = $19
		WHERE process_id = $1 AND remote_id = $2 AND origin = $3`
	result, err := s.db.ExecContext(opCtx, query,
		record.ProcessID, record.RemoteID, string(record.Origin),
		record.Title, record.Notes, record.Completed, record.CompletedAt,
		record.AssigneeID, record.AssigneeName, record.AssigneeEmail,
		record.StartOn, record.DueOn,
		record.SectionID, record.SectionName, string(record.Phase),
		record.ParentRemoteID, record.IsSubtask, record.Permalink,
		record.SyncedAt)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, processID, remoteID string, origin Origin) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := `DELETE FROM ` + postgresTaskTable + ` WHERE process_id = $1 AND remote_id = $2 AND origin = $3`
	_, err := s.db.ExecContext(opCtx, query, processID, remoteID, string(origin))
	return err
}

func (s *PostgresStore) Link(ctx context.Context, processID string) (ProcessLink, error) {
	if err := s.ensureReady(); err != nil {
		return ProcessLink{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := `SELECT process_id, project_id, owner_id FROM ` + postgresLinkTable + ` WHERE process_id = $1`
	var link ProcessLink
	err := s.db.QueryRowContext(opCtx, query, processID).Scan(&link.ProcessID, &link.ProjectID, &link.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ProcessLink{}, ErrNotFound
	}
	if err != nil {
		return ProcessLink{}, err
	}
	return link, nil
}

func (s *PostgresStore) SetLink(ctx context.Context, link ProcessLink) error {
	if strings.TrimSpace(link.ProcessID) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := `
		INSERT INTO ` + postgresLinkTable + ` (process_id, project_id, owner_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (process_id)
		DO UPDATE SET project_id = EXCLUDED.project_id, owner_id = EXCLUDED.owner_id`
	_, err := s.db.ExecContext(opCtx, query, link.ProcessID, link.ProjectID, link.OwnerID)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		statements := []string{
			`CREATE TABLE IF NOT EXISTS ` + postgresTaskTable + ` (
				id TEXT PRIMARY KEY,
				process_id TEXT NOT NULL,
				remote_id TEXT NOT NULL DEFAULT '',
				origin TEXT NOT NULL,
				title TEXT NOT NULL DEFAULT '',
				notes TEXT NOT NULL DEFAULT '',
				completed BOOLEAN NOT NULL DEFAULT FALSE,
				completed_at TIMESTAMPTZ,
				assignee_id TEXT NOT NULL DEFAULT '',
				assignee_name TEXT NOT NULL DEFAULT '',
				assignee_email TEXT NOT NULL DEFAULT '',
				start_on TEXT NOT NULL DEFAULT '',
				due_on TEXT NOT NULL DEFAULT '',
				section_id TEXT NOT NULL DEFAULT '',
				section_name TEXT NOT NULL DEFAULT '',
				phase TEXT NOT NULL DEFAULT 'plan',
				parent_remote_id TEXT NOT NULL DEFAULT '',
				is_subtask BOOLEAN NOT NULL DEFAULT FALSE,
				permalink TEXT NOT NULL DEFAULT '',
				synced_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			// One remote-sourced mirror row per (process, remote id).
			`CREATE UNIQUE INDEX IF NOT EXISTS tasksync_tasks_remote_key
				ON ` + postgresTaskTable + ` (process_id, remote_id)
				WHERE origin = 'remote'`,
			`CREATE TABLE IF NOT EXISTS ` + postgresLinkTable + ` (
				process_id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				owner_id TEXT NOT NULL
			)`,
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				s.initErr = err
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRecord(row rowScanner) (TaskRecord, error) {
	var record TaskRecord
	var origin, phase string
	var completedAt, syncedAt sql.NullTime
	err := row.Scan(
		&record.ID, &record.ProcessID, &record.RemoteID, &origin,
		&record.Title, &record.Notes, &record.Completed, &completedAt,
		&record.AssigneeID, &record.AssigneeName, &record.AssigneeEmail,
		&record.StartOn, &record.DueOn,
		&record.SectionID, &record.SectionName, &phase,
		&record.ParentRemoteID, &record.IsSubtask, &record.Permalink,
		&syncedAt, &record.CreatedAt)
	if err != nil {
		return TaskRecord{}, err
	}
	record.Origin = Origin(origin)
	record.Phase = Phase(phase)
	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	if syncedAt.Valid {
		record.SyncedAt = syncedAt.Time
	}
	return record, nil
}
