package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the query surface shared by pgxpool.Pool and pgx.Tx, so the
// same repository code serves both pooled and transactional access.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresStore struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewPostgresStore wires a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &postgresStore{db: pool, pool: pool}
}

func (s *postgresStore) Assets() AssetRepository {
	return &postgresAssetRepository{db: s.db}
}

func (s *postgresStore) Changes() ChangeEventRepository {
	return &postgresChangeEventRepository{db: s.db}
}

func (s *postgresStore) RawSnapshots() RawSnapshotRepository {
	return &postgresRawSnapshotRepository{db: s.db}
}

func (s *postgresStore) Snapshots() SnapshotMetadataRepository {
	return &postgresSnapshotMetadataRepository{db: s.db}
}

// WithinTx runs fn inside one serializable transaction. On any error the
// whole transaction rolls back and no partial state is visible.
func (s *postgresStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		// Already inside a transaction; nested units share it.
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresStore{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
