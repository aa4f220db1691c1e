package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/assessor/internal/db"
	"github.com/rpattn/assessor/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. ASSESSOR_DATABASE_HOST.
const EnvPrefix = "ASSESSOR"

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Job tracker backends.
const (
	JobsMemory = "memory"
	JobsRedis  = "redis"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig
	Driver   string
	Database db.Config
	SQLite   SQLiteConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	Recalc   RecalcConfig
	Log      LogConfig
	CORS     CORSConfig
	// File is the config file that was read, empty when only defaults and
	// environment applied.
	File string
}

type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JobsConfig struct {
	Backend       string
	Retention     time.Duration
	SweepInterval time.Duration
	Timeout       time.Duration
}

// KindRecalc tunes bulk recalculation. Zero fields inherit.
type KindRecalc struct {
	BatchSize int
	Tolerance float64
}

type RecalcConfig struct {
	KindRecalc
	Kinds map[domain.EntityKind]KindRecalc
}

// For returns the settings of kind with global values filling gaps.
func (c RecalcConfig) For(kind domain.EntityKind) KindRecalc {
	out := c.KindRecalc
	if override, ok := c.Kinds[kind]; ok {
		if override.BatchSize > 0 {
			out.BatchSize = override.BatchSize
		}
		if override.Tolerance > 0 {
			out.Tolerance = override.Tolerance
		}
	}
	return out
}

type LogConfig struct {
	Level  string
	Format string
}

type CORSConfig struct {
	AllowedOrigins []string
}

var kinds = []domain.EntityKind{
	domain.KindLandAssessment,
	domain.KindBuildingConfig,
	domain.KindPropertyView,
	domain.KindLandRateConfig,
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)
	v.SetDefault("database.min_conns", dbDefaults.MinConns)
	v.SetDefault("database.max_conn_lifetime", dbDefaults.MaxConnLifetime)
	v.SetDefault("database.max_conn_idle_time", dbDefaults.MaxConnIdleTime)

	v.SetDefault("sqlite.path", "data/assessor.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jobs.backend", JobsMemory)
	v.SetDefault("jobs.retention", time.Hour)
	v.SetDefault("jobs.sweep_interval", 5*time.Minute)
	v.SetDefault("jobs.timeout", 30*time.Minute)

	v.SetDefault("recalc.batch_size", 100)
	v.SetDefault("recalc.tolerance", 0.01)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
}

// Load reads config.yaml from configPath when present, then applies
// ASSESSOR_* environment overrides on top of the defaults. A missing file is
// not an error; a malformed one is.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, kind := range kinds {
		// nested per-kind keys have no default, so env lookups need binding
		_ = v.BindEnv(kindKey(kind, "batch_size"))
		_ = v.BindEnv(kindKey(kind, "tolerance"))
	}

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	} else {
		cfg.File = v.ConfigFileUsed()
	}

	cfg.Server = ServerConfig{
		Addr:            v.GetString("server.addr"),
		ReadTimeout:     v.GetDuration("server.read_timeout"),
		WriteTimeout:    v.GetDuration("server.write_timeout"),
		ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
	}
	cfg.Driver = strings.ToLower(v.GetString("database.driver"))
	cfg.Database = db.Config{
		Host:            v.GetString("database.host"),
		Port:            v.GetInt("database.port"),
		User:            v.GetString("database.user"),
		Password:        v.GetString("database.password"),
		DBName:          v.GetString("database.dbname"),
		SSLMode:         v.GetString("database.sslmode"),
		MaxConns:        v.GetInt32("database.max_conns"),
		MinConns:        v.GetInt32("database.min_conns"),
		MaxConnLifetime: v.GetDuration("database.max_conn_lifetime"),
		MaxConnIdleTime: v.GetDuration("database.max_conn_idle_time"),
	}
	cfg.SQLite = SQLiteConfig{Path: v.GetString("sqlite.path")}
	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}
	cfg.Jobs = JobsConfig{
		Backend:       strings.ToLower(v.GetString("jobs.backend")),
		Retention:     v.GetDuration("jobs.retention"),
		SweepInterval: v.GetDuration("jobs.sweep_interval"),
		Timeout:       v.GetDuration("jobs.timeout"),
	}
	cfg.Recalc = RecalcConfig{
		KindRecalc: KindRecalc{
			BatchSize: v.GetInt("recalc.batch_size"),
			Tolerance: v.GetFloat64("recalc.tolerance"),
		},
		Kinds: map[domain.EntityKind]KindRecalc{},
	}
	for _, kind := range kinds {
		override := KindRecalc{
			BatchSize: v.GetInt(kindKey(kind, "batch_size")),
			Tolerance: v.GetFloat64(kindKey(kind, "tolerance")),
		}
		if override != (KindRecalc{}) {
			cfg.Recalc.Kinds[kind] = override
		}
	}
	cfg.Log = LogConfig{Level: v.GetString("log.level"), Format: v.GetString("log.format")}
	cfg.CORS = CORSConfig{AllowedOrigins: v.GetStringSlice("cors.allowed_origins")}

	return cfg, cfg.Validate()
}

func kindKey(kind domain.EntityKind, field string) string {
	return fmt.Sprintf("recalc.kinds.%s.%s", kind, field)
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	switch c.Jobs.Backend {
	case JobsMemory, JobsRedis:
	default:
		return fmt.Errorf("unsupported jobs backend %q", c.Jobs.Backend)
	}
	if c.Recalc.BatchSize <= 0 {
		return fmt.Errorf("recalc.batch_size must be positive, got %d", c.Recalc.BatchSize)
	}
	if c.Recalc.Tolerance < 0 {
		return fmt.Errorf("recalc.tolerance must not be negative, got %v", c.Recalc.Tolerance)
	}
	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("jobs.retention must be positive, got %s", c.Jobs.Retention)
	}
	return nil
}
