// Package archive writes hash -> tag mappings to the output sink.
package archive

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

// Hash types understood by tag archive readers.
const (
	HashTypeMD5    = 0
	HashTypeSHA1   = 1
	HashTypeSHA256 = 2
	HashTypeSHA512 = 3
)

var hashTypes = map[string]int{
	"md5":    HashTypeMD5,
	"sha1":   HashTypeSHA1,
	"sha256": HashTypeSHA256,
	"sha512": HashTypeSHA512,
}

// ParseHashType maps a hash name to its archive code.
func ParseHashType(name string) (int, error) {
	code, ok := hashTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.Newf("unknown hash type %q", name)
	}
	return code, nil
}

var archiveSchema = []string{
	"CREATE TABLE IF NOT EXISTS hash_type (hash_type INTEGER)",
	"CREATE TABLE IF NOT EXISTS hashes (hash_id INTEGER PRIMARY KEY, hash BLOB_BYTES)",
	"CREATE UNIQUE INDEX IF NOT EXISTS hashes_hash_index ON hashes (hash)",
	"CREATE TABLE IF NOT EXISTS mappings (hash_id INTEGER, tag_id INTEGER, PRIMARY KEY (hash_id, tag_id))",
	"CREATE TABLE IF NOT EXISTS namespaces (namespace TEXT)",
	"CREATE UNIQUE INDEX IF NOT EXISTS namespaces_namespace_index ON namespaces (namespace)",
	"CREATE TABLE IF NOT EXISTS tags (tag_id INTEGER PRIMARY KEY, tag TEXT)",
	"CREATE UNIQUE INDEX IF NOT EXISTS tags_tag_index ON tags (tag)",
}

// TagArchive is a SQLite tag archive. Each batch is one transaction.
type TagArchive struct {
	mu     sync.Mutex
	db     *sql.DB
	tx     *sql.Tx
	logger *zap.Logger
}

var (
	_ booru.Sink    = (*TagArchive)(nil)
	_ booru.Aborter = (*TagArchive)(nil)
)

// OpenTagArchive opens (or creates) the archive at path and records hashType.
func OpenTagArchive(ctx context.Context, path string, hashType int, logger *zap.Logger) (*TagArchive, error) {
	if path == "" {
		return nil, errors.New("archive.path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open tag archive")
	}
	db.SetMaxOpenConns(1)
	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "apply pragma %q", pragma)
		}
	}

	a := NewTagArchive(db, logger)
	if err := a.EnsureSchema(ctx, hashType); err != nil {
		_ = db.Close()
		return nil, err
	}
	a.logger.Info("tag archive opened", zap.String("path", path), zap.Int("hash_type", hashType))
	return a, nil
}

// NewTagArchive wraps an existing database handle (primarily for testing).
func NewTagArchive(db *sql.DB, logger *zap.Logger) *TagArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagArchive{db: db, logger: logger.Named("archive")}
}

// EnsureSchema creates the archive tables and sets the hash type when unset.
func (a *TagArchive) EnsureSchema(ctx context.Context, hashType int) error {
	for _, stmt := range archiveSchema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "create archive schema")
		}
	}
	var existing int
	err := a.db.QueryRowContext(ctx, "SELECT hash_type FROM hash_type").Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := a.db.ExecContext(ctx, "INSERT INTO hash_type (hash_type) VALUES (?)", hashType); err != nil {
			return errors.Wrap(err, "set hash type")
		}
	case err != nil:
		return errors.Wrap(err, "read hash type")
	case existing != hashType:
		return errors.Newf("archive hash type is %d, configured %d", existing, hashType)
	}
	return nil
}

// BeginBatch opens the batch transaction.
func (a *TagArchive) BeginBatch(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tx != nil {
		return errors.New("batch already open")
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin batch")
	}
	a.tx = tx
	return nil
}

// AddMapping records tags for hash inside the open batch. Tags are trimmed and
// lower-cased; blank tags and repeated mappings are ignored.
func (a *TagArchive) AddMapping(ctx context.Context, hash []byte, tags []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tx == nil {
		return errors.New("no open batch")
	}
	if len(hash) == 0 {
		return errors.New("empty hash")
	}

	hashID, err := a.internID(ctx, "hashes", "hash_id", "hash", hash)
	if err != nil {
		return errors.Wrap(err, "store hash")
	}
	for _, raw := range tags {
		tag := cleanTag(raw)
		if tag == "" {
			continue
		}
		tagID, err := a.internID(ctx, "tags", "tag_id", "tag", tag)
		if err != nil {
			return errors.Wrapf(err, "store tag %q", tag)
		}
		if err := a.exec(ctx, sq.Insert("mappings").Options("OR IGNORE").Columns("hash_id", "tag_id").Values(hashID, tagID)); err != nil {
			return errors.Wrap(err, "store mapping")
		}
		if ns, _, ok := strings.Cut(tag, ":"); ok && ns != "" {
			if err := a.exec(ctx, sq.Insert("namespaces").Options("OR IGNORE").Columns("namespace").Values(ns)); err != nil {
				return errors.Wrap(err, "store namespace")
			}
		}
	}
	return nil
}

// CommitBatch commits the open batch.
func (a *TagArchive) CommitBatch(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tx == nil {
		return errors.New("no open batch")
	}
	err := a.tx.Commit()
	a.tx = nil
	if err != nil {
		return errors.Wrap(err, "commit batch")
	}
	return nil
}

// Abort rolls back the open batch, if any.
func (a *TagArchive) Abort(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rollbackLocked()
}

// Close rolls back any open batch and closes the database.
func (a *TagArchive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rbErr := a.rollbackLocked()
	if err := a.db.Close(); err != nil {
		return errors.Wrap(err, "close tag archive")
	}
	return rbErr
}

func (a *TagArchive) rollbackLocked() error {
	if a.tx == nil {
		return nil
	}
	err := a.tx.Rollback()
	a.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "rollback batch")
	}
	return nil
}

// internID returns the row id for value, inserting it first when new. Byte
// slices are bound as a single BLOB rather than expanded into a list.
func (a *TagArchive) internID(ctx context.Context, table, idColumn, column string, value any) (int64, error) {
	if err := a.exec(ctx, sq.Insert(table).Options("OR IGNORE").Columns(column).Values(value)); err != nil {
		return 0, err
	}
	query, args, err := sq.Select(idColumn).From(table).Where(sq.Expr(column+" = ?", value)).ToSql()
	if err != nil {
		return 0, err
	}
	var id int64
	if err := a.tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (a *TagArchive) exec(ctx context.Context, b sq.InsertBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = a.tx.ExecContext(ctx, query, args...)
	return err
}

func cleanTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
