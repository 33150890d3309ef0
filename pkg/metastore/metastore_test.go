package metastore

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestListMissing(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.MarkPresent(ctx, "inputs/a", "inputs/c"))

	missing, err := s.ListMissing(ctx, []string{"inputs/a", "inputs/b", "inputs/c", "inputs/d", "inputs/b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"inputs/b", "inputs/d"}, missing)

	missing, err = s.ListMissing(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestListMissingChunks(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	var keys, present []string
	for i := 0; i < 250; i++ {
		k := fmt.Sprintf("inputs/%03d", i)
		keys = append(keys, k)
		if i%2 == 0 {
			present = append(present, k)
		}
	}
	require.NoError(t, s.MarkPresent(ctx, present...))

	missing, err := s.ListMissing(ctx, keys)
	require.NoError(t, err)
	assert.Len(t, missing, 125)
	assert.Equal(t, "inputs/001", missing[0])
}

func TestMarkPresentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	require.NoError(t, s.MarkPresent(ctx, "derivations/x.webp"))
	require.NoError(t, s.MarkPresent(ctx, "derivations/x.webp"))

	ok, err := s.HasKey(ctx, "derivations/x.webp")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasKey(ctx, "derivations/y.webp")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLatestRevision(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, err := s.LatestRevision(ctx)
	assert.ErrorIs(t, err, ErrNoRevision)

	require.NoError(t, s.RecordRevision(ctx, "r1", "revpaks/r1"))
	require.NoError(t, s.RecordRevision(ctx, "r2", "revpaks/r2"))

	rev, err := s.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", rev.ID)
	assert.Equal(t, "revpaks/r2", rev.BlobKey)
	assert.False(t, rev.UploadedAt.IsZero())
}

func TestReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.RecordRevision(ctx, "r1", "revpaks/r1"))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	rev, err := s.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", rev.ID)
	assert.FileExists(t, Path(dir))
}

func TestQueryShapes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS objectstore_entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := New(db)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key FROM objectstore_entries WHERE key IN (?,?)")).
		WithArgs("inputs/a", "inputs/b").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("inputs/a"))

	missing, err := s.ListMissing(context.Background(), []string{"inputs/a", "inputs/b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"inputs/b"}, missing)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, blob_key, uploaded_at FROM revisions ORDER BY uploaded_at DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "blob_key", "uploaded_at"}).
			AddRow("r9", "revpaks/r9", "2024-05-01 10:00:00.123"))

	rev, err := s.LatestRevision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r9", rev.ID)
	assert.Equal(t, 2024, rev.UploadedAt.Year())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key FROM objectstore_entries")).
		WillReturnError(fmt.Errorf("disk I/O error"))
	_, err = s.ListMissing(context.Background(), []string{"inputs/z"})
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
