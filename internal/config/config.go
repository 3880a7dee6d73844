package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/photo-dedup/internal/constants"
)

type Config struct {
	Source Source `yaml:"source"`
	Store  Store  `yaml:"store"`
	Scan   Scan   `yaml:"scan"`
}

type Source struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// DatabaseDSN enables direct MariaDB listing instead of the HTTP API
	// (e.g. photoprism:photoprism@tcp(mariadb:3306)/photoprism)
	DatabaseDSN string `yaml:"database_dsn"`
	ThumbSize   int    `yaml:"thumb_size"`
}

type Store struct {
	// Driver selects the store backend: "sqlite" (default) or "postgres"
	Driver string `yaml:"driver"`
	// Path is the SQLite database file location
	Path string `yaml:"path"`
	// URL is the PostgreSQL connection URL
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type Scan struct {
	// Threshold is the maximum Hamming distance for a similarity match
	Threshold int `yaml:"threshold"`
	// Workers is the thumbnail fetch pool size
	Workers  int `yaml:"workers"`
	PageSize int `yaml:"page_size"`
	// FetchRetries bounds retries of transient thumbnail fetch errors
	FetchRetries int           `yaml:"fetch_retries"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envStr reads an environment variable, falling back to a default when unset.
func envStr(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Source: Source{
			URL:         os.Getenv("SOURCE_URL"),
			Username:    os.Getenv("SOURCE_USERNAME"),
			Password:    os.Getenv("SOURCE_PASSWORD"),
			DatabaseDSN: os.Getenv("SOURCE_DATABASE_DSN"),
			ThumbSize:   envInt("SOURCE_THUMB_SIZE", constants.DefaultThumbSize),
		},
		Store: Store{
			Driver:       envStr("STORE_DRIVER", "sqlite"),
			Path:         envStr("STORE_PATH", constants.DefaultSQLitePath),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", constants.DefaultMaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", constants.DefaultMaxIdleConns),
		},
		Scan: Scan{
			Threshold:    envInt("SCAN_THRESHOLD", constants.DefaultThreshold),
			Workers:      envInt("SCAN_WORKERS", constants.WorkerPoolSize),
			PageSize:     envInt("SCAN_PAGE_SIZE", constants.DefaultPageSize),
			FetchRetries: envInt("SCAN_FETCH_RETRIES", constants.DefaultFetchRetries),
			FetchTimeout: time.Duration(envInt("SCAN_FETCH_TIMEOUT_SEC", constants.DefaultFetchTimeoutSec)) * time.Second,
		},
	}
}

// LoadFile overlays values from a YAML config file on top of the env-based
// config. Only fields present in the file override the environment.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is an operator-provided config location
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks settings that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Scan.Threshold < 0 || c.Scan.Threshold > constants.HashBits {
		return fmt.Errorf("scan threshold must be between 0 and %d, got %d", constants.HashBits, c.Scan.Threshold)
	}
	if c.Scan.Workers < 1 {
		return fmt.Errorf("scan workers must be at least 1, got %d", c.Scan.Workers)
	}
	if c.Scan.PageSize < 1 {
		return fmt.Errorf("scan page size must be at least 1, got %d", c.Scan.PageSize)
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.Store.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store driver %q (want sqlite or postgres)", c.Store.Driver)
	}
	return nil
}
