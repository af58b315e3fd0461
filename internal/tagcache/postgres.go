package tagcache

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

// PostgresConfig controls the Postgres connection pool used for the cache.
type PostgresConfig struct {
	DSN      string
	Table    string
	MaxConns int32
}

type pgPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Postgres shares one cache between crawler hosts.
type Postgres struct {
	pool   pgPool
	q      queries
	logger *zap.Logger
}

var _ booru.TagCache = (*Postgres)(nil)

// NewPostgres connects to Postgres and ensures the cache table exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("cache.dsn is required for the postgres driver")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	store, err := NewPostgresWithPool(pool, cfg.Table, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	store.logger.Info("tag cache opened", zap.String("driver", DriverPostgres), zap.String("table", store.q.table))
	return store, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresWithPool(pool pgPool, table string, logger *zap.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{
		pool:   pool,
		q:      queries{table: table, format: sq.Dollar},
		logger: logger,
	}, nil
}

// EnsureSchema creates the cache table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, p.q.schema()); err != nil {
		return errors.Wrap(err, "create cache table")
	}
	return nil
}

// Lookup returns the stored type for name.
func (p *Postgres) Lookup(ctx context.Context, name string) (booru.Tag, bool, error) {
	query, args, err := p.q.lookup(name)
	if err != nil {
		return booru.Tag{}, false, errors.Wrap(err, "build lookup")
	}
	var kind int
	err = p.pool.QueryRow(ctx, query, args...).Scan(&kind)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return booru.Tag{}, false, nil
	case err != nil:
		return booru.Tag{}, false, errors.Wrapf(err, "lookup tag %q", name)
	}
	return booru.Tag{Name: name, Type: booru.TagType(kind)}, true, nil
}

// InsertIfAbsent stores name -> kind unless name is already known.
func (p *Postgres) InsertIfAbsent(ctx context.Context, name string, kind booru.TagType) (bool, error) {
	query, args, err := p.q.insertIfAbsent(name, kind)
	if err != nil {
		return false, errors.Wrap(err, "build insert")
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, errors.Wrapf(err, "insert tag %q", name)
	}
	if tag.RowsAffected() == 0 {
		p.logger.Debug("tag already learned", zap.String("tag", name))
		return false, nil
	}
	p.logger.Debug("learned tag", zap.String("tag", name), zap.Stringer("type", kind))
	return true, nil
}

// Flush is a no-op: every statement is committed on its own.
func (p *Postgres) Flush(context.Context) error {
	return nil
}

// Counts returns how many tags of each type are stored.
func (p *Postgres) Counts(ctx context.Context) (map[booru.TagType]int, error) {
	query, args, err := p.q.counts()
	if err != nil {
		return nil, errors.Wrap(err, "build counts")
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query counts")
	}
	defer rows.Close()

	out := make(map[booru.TagType]int)
	for rows.Next() {
		var kind int
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, errors.Wrap(err, "scan counts")
		}
		out[booru.TagType(kind)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate counts")
	}
	return out, nil
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() error {
	if p == nil || p.pool == nil {
		return nil
	}
	p.pool.Close()
	return nil
}
