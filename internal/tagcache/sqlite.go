package tagcache

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

// SQLite is the default file-backed cache.
type SQLite struct {
	db       *sql.DB
	q        queries
	inMemory bool
	logger   *zap.Logger
}

var _ booru.TagCache = (*SQLite)(nil)

// OpenSQLite opens (or creates) the cache database at path. Writes are
// serialized over a single connection so pragmas apply to every statement.
func OpenSQLite(ctx context.Context, path, table string, logger *zap.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("cache.path is required for the sqlite driver")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite cache")
	}

	db.SetMaxOpenConns(1)
	inMemory := path == ":memory:"
	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "apply pragma %q", pragma)
		}
	}

	s := &SQLite{
		db:       db,
		q:        queries{table: table, format: sq.Question},
		inMemory: inMemory,
		logger:   logger,
	}
	if _, err := db.ExecContext(ctx, s.q.schema()); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create cache table")
	}
	logger.Info("tag cache opened", zap.String("driver", DriverSQLite), zap.String("path", path))
	return s, nil
}

// Lookup returns the stored type for name.
func (s *SQLite) Lookup(ctx context.Context, name string) (booru.Tag, bool, error) {
	query, args, err := s.q.lookup(name)
	if err != nil {
		return booru.Tag{}, false, errors.Wrap(err, "build lookup")
	}
	var kind int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&kind)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return booru.Tag{}, false, nil
	case err != nil:
		return booru.Tag{}, false, errors.Wrapf(err, "lookup tag %q", name)
	}
	return booru.Tag{Name: name, Type: booru.TagType(kind)}, true, nil
}

// InsertIfAbsent stores name -> kind unless name is already known.
func (s *SQLite) InsertIfAbsent(ctx context.Context, name string, kind booru.TagType) (bool, error) {
	query, args, err := s.q.insertIfAbsent(name, kind)
	if err != nil {
		return false, errors.Wrap(err, "build insert")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "insert tag %q", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		s.logger.Debug("tag already learned", zap.String("tag", name))
		return false, nil
	}
	s.logger.Debug("learned tag", zap.String("tag", name), zap.Stringer("type", kind))
	return true, nil
}

// Flush checkpoints the write-ahead log into the main database file.
func (s *SQLite) Flush(ctx context.Context) error {
	if s.inMemory {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return errors.Wrap(err, "checkpoint cache")
	}
	return nil
}

// Counts returns how many tags of each type are stored.
func (s *SQLite) Counts(ctx context.Context) (map[booru.TagType]int, error) {
	query, args, err := s.q.counts()
	if err != nil {
		return nil, errors.Wrap(err, "build counts")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query counts")
	}
	defer rows.Close()

	out := make(map[booru.TagType]int)
	for rows.Next() {
		var kind, n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, errors.Wrap(err, "scan counts")
		}
		out[booru.TagType(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate counts")
	}
	return out, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
