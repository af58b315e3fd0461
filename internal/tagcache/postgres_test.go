package tagcache

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewPostgresWithPool(mock, "tags", nil)
	require.NoError(t, err)
	return store, mock
}

func TestPostgresEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tags")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupHit(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT type FROM tags WHERE tag = $1")).
		WithArgs("kaa").
		WillReturnRows(pgxmock.NewRows([]string{"type"}).AddRow(4))

	tag, ok, err := store.Lookup(context.Background(), "kaa")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, booru.Tag{Name: "kaa", Type: booru.TagTypeCharacter}, tag)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupMiss(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT type FROM tags").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.Lookup(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLookupError(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostgres(t)
	mock.ExpectQuery("SELECT type FROM tags").
		WithArgs("x").
		WillReturnError(errors.New("connection reset"))

	_, _, err := store.Lookup(context.Background(), "x")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertIfAbsent(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostgres(t)
	insert := regexp.QuoteMeta("INSERT INTO tags (tag,type) VALUES ($1,$2) ON CONFLICT (tag) DO NOTHING")
	mock.ExpectExec(insert).
		WithArgs("some_artist", 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(insert).
		WithArgs("some_artist", 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.InsertIfAbsent(context.Background(), "some_artist", booru.TagTypeArtist)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.InsertIfAbsent(context.Background(), "some_artist", booru.TagTypeGeneral)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCounts(t *testing.T) {
	t.Parallel()

	store, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT type, COUNT(*) FROM tags GROUP BY type")).
		WillReturnRows(pgxmock.NewRows([]string{"type", "count"}).
			AddRow(0, int64(12)).
			AddRow(1, int64(3)))

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[booru.TagType]int{booru.TagTypeGeneral: 12, booru.TagTypeArtist: 3}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresWithPool(nil, "tags", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewPostgresWithPool(mock, "bad-name", nil)
	require.Error(t, err)
}
