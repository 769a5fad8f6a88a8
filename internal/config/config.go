// Package config loads the cartsync process configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/remote"
	"github.com/fjod/go_cart/cartsync/internal/session"
	"github.com/fjod/go_cart/cartsync/internal/store"
	"github.com/fjod/go_cart/cartsync/internal/synchronizer"
	"gopkg.in/yaml.v3"
)

// Store drivers accepted by StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	HTTP        HTTPConfig          `yaml:"http"`
	Log         LogConfig           `yaml:"log"`
	Remote      remote.Config       `yaml:"remote"`
	Redis       RedisConfig         `yaml:"redis"`
	Kafka       KafkaConfig         `yaml:"kafka"`
	Firebase    FirebaseConfig      `yaml:"firebase"`
	Sync        synchronizer.Config `yaml:"sync"`
	Session     session.Config      `yaml:"session"`
	Store       StoreConfig         `yaml:"store"`
	CatalogPath string              `yaml:"catalog_path"`
	SnapshotTTL time.Duration       `yaml:"snapshot_ttl"`
}

type HTTPConfig struct {
	Port            string        `yaml:"port"`
	StorePort       string        `yaml:"store_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RedisConfig struct {
	// Addr empty keeps cart snapshots in process memory.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	// Brokers empty disables the checkout poller.
	Brokers []string `yaml:"brokers"`
}

type FirebaseConfig struct {
	// ProjectID empty falls back to treating bearer tokens as user ids. Local use only.
	ProjectID string `yaml:"project_id"`
}

type StoreConfig struct {
	Driver     string            `yaml:"driver"`
	MongoURI   string            `yaml:"mongo_uri"`
	MongoDB    string            `yaml:"mongo_db"`
	Postgres   store.Credentials `yaml:"postgres"`
	SQLitePath string            `yaml:"sqlite_path"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            "8080",
			StorePort:       "1337",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Remote: remote.Config{
			BaseURL: "http://localhost:1337/api",
			Timeout: 10 * time.Second,
			Breaker: remote.BreakerConfig{
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
				HalfOpenRequests: 1,
			},
		},
		Sync:        synchronizer.DefaultConfig(),
		Session:     session.DefaultConfig(),
		SnapshotTTL: 2 * time.Minute,
		Store: StoreConfig{
			Driver:     DriverMemory,
			MongoURI:   "mongodb://localhost:27017",
			MongoDB:    "cartsync",
			SQLitePath: "cartsync.db",
			Postgres: store.Credentials{
				Host:    "localhost",
				Port:    5432,
				User:    "postgres",
				DBName:  "cartsync",
				SSLMode: "disable",
			},
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults; environment
// overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	c.HTTP.Port = getEnv("HTTP_PORT", c.HTTP.Port)
	c.HTTP.StorePort = getEnv("STORE_HTTP_PORT", c.HTTP.StorePort)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Remote.BaseURL = getEnv("REMOTE_BASE_URL", c.Remote.BaseURL)
	c.Remote.Token = getEnv("REMOTE_API_TOKEN", c.Remote.Token)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}

	c.Firebase.ProjectID = getEnv("FIREBASE_PROJECT_ID", c.Firebase.ProjectID)
	c.CatalogPath = getEnv("CATALOG_PATH", c.CatalogPath)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.MongoURI = getEnv("MONGO_URI", c.Store.MongoURI)
	c.Store.MongoDB = getEnv("MONGO_DB_NAME", c.Store.MongoDB)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.Postgres.Host = getEnv("DB_HOST", c.Store.Postgres.Host)
	c.Store.Postgres.User = getEnv("DB_USER", c.Store.Postgres.User)
	c.Store.Postgres.Password = getEnv("DB_PASSWORD", c.Store.Postgres.Password)
	c.Store.Postgres.DBName = getEnv("DB_NAME", c.Store.Postgres.DBName)
	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid DB_PORT %q: %w", port, err)
		}
		c.Store.Postgres.Port = p
	}
	return nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTP.Port == "" {
		errs = append(errs, errors.New("http.port is required"))
	}
	if c.Remote.BaseURL == "" {
		errs = append(errs, errors.New("remote.base_url is required"))
	}
	if err := c.Sync.Lookup.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sync.lookup: %w", err))
	}
	if err := c.Sync.Mutation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sync.mutation: %w", err))
	}
	if c.Sync.ReconcileConcurrency < 1 {
		errs = append(errs, errors.New("sync.reconcile_concurrency must be positive"))
	}
	switch c.Store.Driver {
	case DriverMemory, DriverMongo, DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
