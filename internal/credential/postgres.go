package credential

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresCredentialTable  = "tasksync_credentials"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

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

func (s *PostgresStore) Get(ctx context.Context, ownerID string) (*Credential, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := `SELECT access_token, refresh_token, obtained_at FROM ` + postgresCredentialTable + ` WHERE owner_id = $1`
	cred := Credential{OwnerID: ownerID}
	err := s.db.QueryRowContext(opCtx, query, ownerID).Scan(&cred.AccessToken, &cred.RefreshToken, &cred.ObtainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *PostgresStore) Put(ctx context.Context, cred *Credential) error {
	if cred == nil || strings.TrimSpace(cred.OwnerID) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := `
		INSERT INTO ` + postgresCredentialTable + ` (owner_id, access_token, refresh_token, obtained_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id)
		DO UPDATE SET access_token = EXCLUDED.access_token, refresh_token = EXCLUDED.refresh_token, obtained_at = EXCLUDED.obtained_at`
	_, err := s.db.ExecContext(opCtx, query, cred.OwnerID, cred.AccessToken, cred.RefreshToken, cred.ObtainedAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, ownerID string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := `DELETE FROM ` + postgresCredentialTable + ` WHERE owner_id = $1`
	_, err := s.db.ExecContext(opCtx, query, ownerID)
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
		schema := `
			CREATE TABLE IF NOT EXISTS ` + postgresCredentialTable + ` (
				owner_id TEXT PRIMARY KEY,
				access_token TEXT NOT NULL,
				refresh_token TEXT NOT NULL DEFAULT '',
				obtained_at TIMESTAMPTZ NOT NULL
			)`
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}
