package anchor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Record calls. The value is arbitrary but must be consistent
// across every linechain process sharing the database.
const advisoryLockKey = int64(1_402_551_907)

const checkpointColumns = `idx, id, log_name, records, head, algorithm, anchored_at, prev_hash, hash`

// PostgresStore persists the checkpoint chain to a PostgreSQL database,
// outside the trust domain of the host that writes the logs.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

func scanCheckpoint(row pgx.Row) (*Checkpoint, error) {
	cp := &Checkpoint{}
	if err := row.Scan(
		&cp.Index, &cp.ID, &cp.LogName, &cp.Records, &cp.Head,
		&cp.Algorithm, &cp.AnchoredAt, &cp.PrevHash, &cp.Hash,
	); err != nil {
		return nil, err
	}
	cp.AnchoredAt = cp.AnchoredAt.UTC()
	return cp, nil
}

// Record implements Store.
// It acquires a PostgreSQL advisory lock, reads the chain tail, computes the
// new checkpoint hash, and inserts it within a single transaction.
func (s *PostgresStore) Record(ctx context.Context, logName string, records int, head, algorithm string) (*Checkpoint, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The lock is released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var latestRecords int
	err = tx.QueryRow(ctx,
		"SELECT records FROM chain_anchors WHERE log_name = $1 ORDER BY idx DESC LIMIT 1", logName,
	).Scan(&latestRecords)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("read latest checkpoint: %w", err)
	case records < latestRecords:
		return nil, fmt.Errorf("%w: %d < %d", ErrRegression, records, latestRecords)
	}

	prevIdx, prevHash := -1, GenesisHash
	err = tx.QueryRow(ctx,
		"SELECT idx, hash FROM chain_anchors ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read anchor tail: %w", err)
	}

	cp := newCheckpoint(prevIdx, prevHash, logName, records, head, algorithm)
	if _, err := tx.Exec(ctx,
		`INSERT INTO chain_anchors (`+checkpointColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cp.Index, cp.ID, cp.LogName, cp.Records, cp.Head,
		cp.Algorithm, cp.AnchoredAt, cp.PrevHash, cp.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit checkpoint tx: %w", err)
	}

	s.logger.Debug("checkpoint recorded",
		zap.Int("idx", cp.Index),
		zap.String("log", cp.LogName),
		zap.Int("records", cp.Records),
	)
	return cp, nil
}

// Latest implements Store.
func (s *PostgresStore) Latest(ctx context.Context, logName string) (*Checkpoint, error) {
	cp, err := scanCheckpoint(s.pool.QueryRow(ctx,
		`SELECT `+checkpointColumns+` FROM chain_anchors
		 WHERE log_name = $1 ORDER BY idx DESC LIMIT 1`, logName,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest checkpoint for %s: %w", logName, err)
	}
	return cp, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, logName string, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkpointColumns+` FROM chain_anchors
		 WHERE log_name = $1 ORDER BY idx DESC LIMIT $2`, logName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint row: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Verify implements Store. It streams all rows ordered by idx and validates
// the hash chain. O(n) in the number of checkpoints.
func (s *PostgresStore) Verify(ctx context.Context) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+checkpointColumns+` FROM chain_anchors ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	prevHash := GenesisHash
	for rows.Next() {
		curr, err := scanCheckpoint(rows)
		if err != nil {
			return fmt.Errorf("scan checkpoint row: %w", err)
		}
		if err := verifyLink(prevHash, curr); err != nil {
			return err
		}
		prevHash = curr.Hash
	}
	return rows.Err()
}
