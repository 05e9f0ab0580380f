//go:build integration

package anchor_test

import (
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupPostgres(t *testing.T) *anchor.PostgresStore {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Ping(ctx))

	_, err = anchor.Migrate(ctx, db, zap.NewNop())
	require.NoError(t, err)

	// The append-only trigger forbids DELETE; TRUNCATE is not row-level.
	_, err = db.Exec(ctx, "TRUNCATE chain_anchors")
	require.NoError(t, err)

	return anchor.NewPostgresStore(db, zap.NewNop())
}

func TestPostgresStore_recordAndVerify(t *testing.T) {
	s := setupPostgres(t)

	c1, err := s.Record(ctx, "a.log", 2, "aa", "sha256")
	require.NoError(t, err)
	c2, err := s.Record(ctx, "a.log", 5, "bb", "sha256")
	require.NoError(t, err)
	assert.Equal(t, c1.Hash, c2.PrevHash)

	_, err = s.Record(ctx, "a.log", 4, "cc", "sha256")
	assert.ErrorIs(t, err, anchor.ErrRegression)

	latest, err := s.Latest(ctx, "a.log")
	require.NoError(t, err)
	assert.Equal(t, c2.ID, latest.ID)
	assert.Equal(t, c2.Hash, latest.Hash)

	list, err := s.List(ctx, "a.log", 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.Latest(ctx, "missing.log")
	assert.ErrorIs(t, err, anchor.ErrNotFound)

	assert.NoError(t, s.Verify(ctx))
}

func TestPostgresStore_anchorArtifact(t *testing.T) {
	s := setupPostgres(t)
	logPath, artifactPath := build(t, t.TempDir(), "A1,t1", "A2,t2")

	_, next, err := anchor.Anchor(ctx, s, logPath, artifactPath)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Records)
	assert.NoError(t, anchor.Confirm(ctx, next, artifactPath))
}
