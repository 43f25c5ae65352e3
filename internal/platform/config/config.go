// Package config loads service configuration from defaults, a YAML file,
// CERTREG_ environment variables and command-line flags, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	id "certreg/pkg/domain"
	pstrings "certreg/pkg/platform/strings"
)

// EnvPrefix is the prefix for environment overrides.
// CERTREG_REGISTRY_REVOCATION_INVALIDATES maps to registry.revocation_invalidates.
const EnvPrefix = "CERTREG_"

// Journal drivers.
const (
	JournalMemory   = "memory"
	JournalPostgres = "postgres"
	JournalRedis    = "redis"
)

// Audit sinks.
const (
	AuditSinkLog   = "log"
	AuditSinkKafka = "kafka"
	AuditSinkNone  = "none"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Registry RegistryConfig `koanf:"registry"`
	Auth     AuthConfig     `koanf:"auth"`
	Journal  JournalConfig  `koanf:"journal"`
	Postgres PostgresConfig `koanf:"postgres"`
	Redis    RedisConfig    `koanf:"redis"`
	Audit    AuditConfig    `koanf:"audit"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RegistryConfig holds the registry's identity and policy.
type RegistryConfig struct {
	// Admin is the administrator address fixed for the lifetime of the journal.
	Admin string `koanf:"admin"`

	// RevocationInvalidates makes verification report certificates of
	// currently unapproved organizations as invalid.
	RevocationInvalidates bool `koanf:"revocation_invalidates"`

	// MaxBatchSize bounds POST /v1/certificates/batch.
	MaxBatchSize int `koanf:"max_batch_size"`
}

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	SigningKey string        `koanf:"signing_key"`
	Issuer     string        `koanf:"issuer"`
	TokenTTL   time.Duration `koanf:"token_ttl"`
}

// JournalConfig selects the journal backend.
type JournalConfig struct {
	Driver string `koanf:"driver"`
}

// PostgresConfig configures the PostgreSQL journal.
type PostgresConfig struct {
	DSN             string        `koanf:"dsn"`
	Schema          string        `koanf:"schema"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// RedisConfig configures the Redis journal.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	Key          string        `koanf:"key"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// AuditConfig selects where audit events go.
type AuditConfig struct {
	Sink              string        `koanf:"sink"`
	Brokers           string        `koanf:"brokers"`
	Topic             string        `koanf:"topic"`
	Partitions        int32         `koanf:"partitions"`
	ReplicationFactor int16         `koanf:"replication_factor"`
	FailureThreshold  int           `koanf:"failure_threshold"`
	Cooldown          time.Duration `koanf:"cooldown"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Registry: RegistryConfig{
			MaxBatchSize: 100,
		},
		Auth: AuthConfig{
			Issuer:   "certreg",
			TokenTTL: time.Hour,
		},
		Journal: JournalConfig{Driver: JournalMemory},
		Postgres: PostgresConfig{
			Schema:          "public",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Key:          "certreg:journal",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Audit: AuditConfig{
			Sink:              AuditSinkLog,
			Topic:             "certreg.audit",
			Partitions:        1,
			ReplicationFactor: 1,
			FailureThreshold:  5,
			Cooldown:          30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load layers the YAML file at path (optional), the environment and the
// changed flags in flags (optional) over Defaults, then validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := Read(path, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that need only part of the
// configuration.
func Read(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// envKey turns CERTREG_SECTION_SOME_KEY into section.some_key.
func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	admin, err := c.AdminIdentity()
	if err != nil {
		return err
	}
	if admin.IsZero() {
		return fmt.Errorf("registry.admin must not be the zero address")
	}
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return fmt.Errorf("auth.signing_key is required")
	}
	if c.Registry.MaxBatchSize <= 0 {
		return fmt.Errorf("registry.max_batch_size must be positive")
	}

	switch c.Journal.Driver {
	case JournalMemory:
	case JournalPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres journal")
		}
	case JournalRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis journal")
		}
	default:
		return fmt.Errorf("unknown journal.driver %q", c.Journal.Driver)
	}

	switch c.Audit.Sink {
	case AuditSinkLog, AuditSinkNone:
	case AuditSinkKafka:
		if len(c.Audit.BrokerList()) == 0 {
			return fmt.Errorf("audit.brokers is required for the kafka sink")
		}
		if c.Audit.Topic == "" {
			return fmt.Errorf("audit.topic is required for the kafka sink")
		}
	default:
		return fmt.Errorf("unknown audit.sink %q", c.Audit.Sink)
	}
	return nil
}

// AdminIdentity parses registry.admin.
func (c *Config) AdminIdentity() (id.Identity, error) {
	admin, err := id.ParseIdentity(c.Registry.Admin)
	if err != nil {
		return "", fmt.Errorf("registry.admin: %w", err)
	}
	return admin, nil
}

// BrokerList splits the comma separated broker setting.
func (a AuditConfig) BrokerList() []string {
	return pstrings.SplitList(a.Brokers)
}
