// Package config loads and validates crawler configuration via Viper.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/JakeFAU/booru-tag-crawler/internal/booru"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Lock     LockConfig     `mapstructure:"lock"`
}

// APIConfig points the crawler at the catalog API.
type APIConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	PostsPath         string        `mapstructure:"posts_path"`
	TagsPath          string        `mapstructure:"tags_path"`
	PageSize          int           `mapstructure:"page_size"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// RetryConfig sets the jittered retry window.
type RetryConfig struct {
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// ResolverConfig bounds concurrent tag resolutions.
type ResolverConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// EnrichConfig controls synthesized and namespaced tags.
type EnrichConfig struct {
	DomainTag   string `mapstructure:"domain_tag"`
	SourceTag   string `mapstructure:"source_tag"`
	HashPrefix  string `mapstructure:"hash_prefix"`
	IDPrefix    string `mapstructure:"id_prefix"`
	CommitEvery int    `mapstructure:"commit_every"`
	// Namespaces overrides the default prefix per tag kind name ("artist")
	// or number. An empty prefix disables that kind.
	Namespaces map[string]string `mapstructure:"namespaces"`
}

// CacheConfig selects the tag cache backend.
type CacheConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig locates the tag archive. The memory driver keeps batches in
// process and is meant for dry runs.
type ArchiveConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	HashType string `mapstructure:"hash_type"`
}

// CrawlConfig paces full crawls.
type CrawlConfig struct {
	WindowPages int           `mapstructure:"window_pages"`
	WindowPause time.Duration `mapstructure:"window_pause"`
	LoopPause   time.Duration `mapstructure:"loop_pause"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LockConfig sets the single-instance lock file.
type LockConfig struct {
	Path string `mapstructure:"path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOORU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://hypnohub.net")
	v.SetDefault("api.posts_path", "/post/index.json")
	v.SetDefault("api.tags_path", "/tag/index.json")
	v.SetDefault("api.page_size", 200)
	v.SetDefault("api.user_agent", "booru-tag-crawler/0.1")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.requests_per_second", 0)
	v.SetDefault("api.burst", 1)
	v.SetDefault("retry.min_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 2500*time.Millisecond)
	v.SetDefault("retry.max_attempts", 0)
	v.SetDefault("resolver.concurrency", 3)
	v.SetDefault("enrich.domain_tag", "hypnosis")
	v.SetDefault("enrich.source_tag", "booru:hypnohub")
	v.SetDefault("enrich.hash_prefix", "hash:")
	v.SetDefault("enrich.id_prefix", "id:")
	v.SetDefault("enrich.commit_every", 1)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "succ.db")
	v.SetDefault("cache.table", "tags")
	v.SetDefault("cache.max_conns", 4)
	v.SetDefault("archive.driver", "sqlite")
	v.SetDefault("archive.path", "succ-archive.db")
	v.SetDefault("archive.hash_type", "md5")
	v.SetDefault("crawl.window_pages", 4)
	v.SetDefault("crawl.window_pause", 2*time.Second)
	v.SetDefault("crawl.loop_pause", 5*time.Minute)
	v.SetDefault("logging.development", true)
	v.SetDefault("lock.path", "succ.lock")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.PageSize <= 0 {
		return errors.New("api.page_size must be > 0")
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be > 0")
	}
	if c.API.RequestsPerSecond < 0 {
		return errors.New("api.requests_per_second must be >= 0")
	}
	if c.Retry.MinDelay < 0 || c.Retry.MaxDelay < c.Retry.MinDelay {
		return errors.New("retry.min_delay must be >= 0 and <= retry.max_delay")
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.max_attempts must be >= 0")
	}
	if c.Resolver.Concurrency <= 0 {
		return errors.New("resolver.concurrency must be > 0")
	}
	if c.Enrich.CommitEvery <= 0 {
		return errors.New("enrich.commit_every must be > 0")
	}
	if _, err := c.Enrich.NamespaceMap(); err != nil {
		return err
	}
	switch c.Cache.Driver {
	case "sqlite":
		if c.Cache.Path == "" {
			return errors.New("cache.path must be set for the sqlite driver")
		}
	case "postgres":
		if c.Cache.DSN == "" {
			return errors.New("cache.dsn must be set for the postgres driver")
		}
	case "memory":
	default:
		return errors.Newf("cache.driver must be sqlite, postgres or memory, got %q", c.Cache.Driver)
	}
	switch c.Archive.Driver {
	case "sqlite":
		if c.Archive.Path == "" {
			return errors.New("archive.path must be set")
		}
	case "memory":
	default:
		return errors.Newf("archive.driver must be sqlite or memory, got %q", c.Archive.Driver)
	}
	if c.Crawl.WindowPages <= 0 {
		return errors.New("crawl.window_pages must be > 0")
	}
	if c.Crawl.WindowPause < 0 || c.Crawl.LoopPause < 0 {
		return errors.New("crawl pauses must be >= 0")
	}
	return nil
}

// NamespaceMap lays the configured overrides over the default namespaces.
func (e EnrichConfig) NamespaceMap() (booru.Namespaces, error) {
	out := booru.DefaultNamespaces()
	for name, prefix := range e.Namespaces {
		kind, ok := booru.ParseTagType(name)
		if !ok {
			return nil, errors.Newf("enrich.namespaces: unknown tag kind %q", name)
		}
		out[kind] = prefix
	}
	return out, nil
}
