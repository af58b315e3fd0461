// Package tagcache persists learned tag classifications.
//
// Every backend stores one row per tag and never overwrites it: the first
// writer wins, and that answer is reused by every later lookup, including
// after a restart. Inserts are committed before they return.
package tagcache

import (
	"context"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const defaultTable = "tags"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config selects and configures a backend.
type Config struct {
	Driver   string
	Path     string
	DSN      string
	Table    string
	MaxConns int32
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (booru.TagCache, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return OpenSQLite(ctx, cfg.Path, cfg.Table, logger)
	case DriverPostgres:
		return NewPostgres(ctx, PostgresConfig{DSN: cfg.DSN, Table: cfg.Table, MaxConns: cfg.MaxConns}, logger)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, errors.Newf("unknown cache driver %q", cfg.Driver)
	}
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", errors.Newf("invalid table name %q", table)
	}
	return table, nil
}

// queries builds the statements shared by the SQL backends.
type queries struct {
	table  string
	format sq.PlaceholderFormat
}

func (q queries) lookup(name string) (string, []any, error) {
	return sq.Select("type").
		From(q.table).
		Where(sq.Eq{"tag": name}).
		PlaceholderFormat(q.format).
		ToSql()
}

func (q queries) insertIfAbsent(name string, kind booru.TagType) (string, []any, error) {
	return sq.Insert(q.table).
		Columns("tag", "type").
		Values(name, int(kind)).
		Suffix("ON CONFLICT (tag) DO NOTHING").
		PlaceholderFormat(q.format).
		ToSql()
}

func (q queries) counts() (string, []any, error) {
	return sq.Select("type", "COUNT(*)").
		From(q.table).
		GroupBy("type").
		PlaceholderFormat(q.format).
		ToSql()
}

func (q queries) schema() string {
	return "CREATE TABLE IF NOT EXISTS " + q.table + " (tag TEXT PRIMARY KEY, type INTEGER NOT NULL)"
}
