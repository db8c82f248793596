// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/results-harvester/internal/hallticket"
	"github.com/JakeFAU/results-harvester/internal/logging"
	"github.com/JakeFAU/results-harvester/internal/results"
	"github.com/JakeFAU/results-harvester/internal/telemetry"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_DB_DSN.
const EnvPrefix = "HARVESTER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Auth      AuthConfig           `mapstructure:"auth"`
	Portal    PortalConfig         `mapstructure:"portal"`
	Scraper   ScraperConfig        `mapstructure:"scraper"`
	DB        DBConfig             `mapstructure:"db"`
	Cache     CacheConfig          `mapstructure:"cache"`
	Storage   StorageConfig        `mapstructure:"storage"`
	PubSub    PubSubConfig         `mapstructure:"pubsub"`
	Watcher   WatcherConfig        `mapstructure:"watcher"`
	Logging   logging.Config       `mapstructure:"logging"`
	Telemetry telemetry.Config     `mapstructure:"telemetry"`
	Progress  ProgressConfig       `mapstructure:"progress"`
	Profiles  []hallticket.Profile `mapstructure:"profiles"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PortalConfig describes the results portal and how hard it may be hit.
type PortalConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	ResultPath string        `mapstructure:"result_path"`
	ExamCode   string        `mapstructure:"exam_code"`
	UserAgent  string        `mapstructure:"user_agent"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RPS        float64       `mapstructure:"rps"`
	Burst      int           `mapstructure:"burst"`
	// BusyMinBytes and BusyKeywords flag overload pages that must not be
	// read as "no result".
	BusyMinBytes int      `mapstructure:"busy_min_bytes"`
	BusyKeywords []string `mapstructure:"busy_keywords"`
}

// ScraperConfig governs batches and the worker pool.
type ScraperConfig struct {
	Workers        int           `mapstructure:"workers"`
	MaxWorkers     int           `mapstructure:"max_workers"`
	PoolSize       int           `mapstructure:"pool_size"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	Delay          time.Duration `mapstructure:"delay"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	MaxInlineIDs   int64         `mapstructure:"max_inline_ids"`
	NumericWidths  []int         `mapstructure:"numeric_widths"`
}

// DBConfig controls access to the system of record.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	RefreshCatalog  bool          `mapstructure:"refresh_catalog"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CacheConfig selects the read tier in front of the store.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addrs       []string      `mapstructure:"addrs"`
	DB          int           `mapstructure:"db"`
	Password    string        `mapstructure:"password"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	MasterName  string        `mapstructure:"master_name"`
}

// StorageConfig sets where raw pages are archived.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	BaseDir        string `mapstructure:"base_dir"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	Prefix         string `mapstructure:"prefix"`
	ArchiveSuccess bool   `mapstructure:"archive_success"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Backend   string            `mapstructure:"backend"`
	ProjectID string            `mapstructure:"project_id"`
	Topics    map[string]string `mapstructure:"topics"`
}

// WatcherConfig controls the portal index poll.
type WatcherConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	IndexURL   string        `mapstructure:"index_url"`
	Interval   time.Duration `mapstructure:"interval"`
	AutoSubmit bool          `mapstructure:"auto_submit"`
	Profile    string        `mapstructure:"profile"`
	Workers    int           `mapstructure:"workers"`
}

// ProgressConfig controls the chunk event stream.
type ProgressConfig struct {
	// LogEvents adds a structured log line per finished chunk.
	LogEvents      bool          `mapstructure:"log_events"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// Backend names.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config: %w", results.ErrConfiguration, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: unmarshal config: %w", results.ErrConfiguration, err)
	}
	cfg.Cache.Redis.Addrs = splitList(cfg.Cache.Redis.Addrs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("portal.base_url", "http://results.jntuh.ac.in")
	v.SetDefault("portal.result_path", "/resultAction")
	v.SetDefault("portal.exam_code", "1323")
	v.SetDefault("portal.user_agent", "results-harvester/1.0")
	v.SetDefault("portal.timeout", "10s")
	v.SetDefault("portal.rps", 0)
	v.SetDefault("portal.burst", 1)
	v.SetDefault("portal.busy_min_bytes", 200)
	v.SetDefault("portal.busy_keywords", []string{})
	v.SetDefault("scraper.workers", 10)
	v.SetDefault("scraper.max_workers", 1000)
	v.SetDefault("scraper.pool_size", 10)
	v.SetDefault("scraper.queue_depth", 1024)
	v.SetDefault("scraper.delay", "100ms")
	v.SetDefault("scraper.enqueue_timeout", "5s")
	v.SetDefault("scraper.max_inline_ids", 10000)
	v.SetDefault("scraper.numeric_widths", []int{hallticket.RegularIDWidth})
	v.SetDefault("db.driver", BackendPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.refresh_catalog", false)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.ttl", "604800s")
	v.SetDefault("cache.redis.addrs", []string{})
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.master_name", "")
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.base_dir", "data/pages")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.archive_success", false)
	v.SetDefault("pubsub.backend", BackendNone)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("watcher.enabled", false)
	v.SetDefault("watcher.index_url", "")
	v.SetDefault("watcher.interval", "15m")
	v.SetDefault("watcher.auto_submit", false)
	v.SetDefault("watcher.profile", "")
	v.SetDefault("watcher.workers", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "results-harvester")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 0.1)
	v.SetDefault("progress.log_events", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "1s")
}

// Validate enforces required values and reasonable limits. Failures wrap
// results.ErrConfiguration and are fatal at startup.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0, "server.port must be > 0")
	check(c.Auth.APIKey != "" || !c.Auth.Enabled, "auth.api_key must be set when auth is enabled")
	check(c.Portal.BaseURL != "", "portal.base_url is required")
	check(c.Portal.ExamCode != "", "portal.exam_code is required")
	check(c.Portal.Timeout > 0, "portal.timeout must be > 0")
	check(c.Scraper.Workers > 0, "scraper.workers must be > 0")
	check(c.Scraper.MaxWorkers >= c.Scraper.Workers, "scraper.max_workers must be >= scraper.workers")
	check(c.Scraper.PoolSize > 0, "scraper.pool_size must be > 0")
	check(c.Scraper.QueueDepth > 0, "scraper.queue_depth must be > 0")
	check(c.Scraper.Delay >= 0, "scraper.delay must be >= 0")

	check(oneOf(c.DB.Driver, BackendPostgres, BackendMemory), "db.driver %q must be postgres or memory", c.DB.Driver)
	check(c.DB.Driver != BackendPostgres || c.DB.DSN != "", "db.dsn is required for the postgres driver")
	check(oneOf(c.Cache.Backend, BackendNone, BackendMemory, BackendRedis),
		"cache.backend %q must be none, memory or redis", c.Cache.Backend)
	check(c.Cache.Backend != BackendRedis || len(c.Cache.Redis.Addrs) > 0, "cache.redis.addrs is required for the redis cache")
	check(oneOf(c.Storage.Backend, BackendNone, BackendMemory, BackendLocal, BackendGCS),
		"storage.backend %q must be none, memory, local or gcs", c.Storage.Backend)
	check(c.Storage.Backend != BackendLocal || c.Storage.BaseDir != "", "storage.base_dir is required for local storage")
	check(c.Storage.Backend != BackendGCS || c.Storage.GCSBucket != "", "storage.gcs_bucket is required for gcs storage")
	check(oneOf(c.PubSub.Backend, BackendNone, BackendMemory, BackendPubSub),
		"pubsub.backend %q must be none, memory or pubsub", c.PubSub.Backend)
	check(c.PubSub.Backend != BackendPubSub || c.PubSub.ProjectID != "", "pubsub.project_id is required for pubsub")

	if c.Watcher.Enabled {
		check(c.Watcher.IndexURL != "", "watcher.index_url is required when the watcher is enabled")
		check(c.Watcher.Interval > 0, "watcher.interval must be > 0")
		check(!c.Watcher.AutoSubmit || c.Watcher.Profile != "", "watcher.profile is required for auto_submit")
	}

	if c.Telemetry.Enabled {
		check(c.Telemetry.ServiceName != "", "telemetry.service_name is required when tracing is enabled")
		check(c.Telemetry.SampleRatio >= 0 && c.Telemetry.SampleRatio <= 1, "telemetry.sample_ratio must be within [0, 1]")
	}
	if _, err := c.Logging.ParseLevel(); err != nil {
		errs = append(errs, err)
	}
	check(c.Progress.BufferSize >= 0, "progress.buffer_size must be >= 0")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", results.ErrConfiguration, errors.Join(errs...))
}

// AllProfiles returns the built-in profiles followed by configured ones, so
// a configured profile with a built-in name replaces it.
func (c Config) AllProfiles() []hallticket.Profile {
	return append(hallticket.Builtin(), c.Profiles...)
}

func oneOf(v string, allowed ...string) bool {
	return slices.Contains(allowed, v)
}

// splitList lets HARVESTER_CACHE_REDIS_ADDRS carry a comma-separated list.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for part := range strings.SplitSeq(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
