package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port                   int      `mapstructure:"port"`
		CorsAllowedOrigins     []string `mapstructure:"cors_allowed_origins"`
		CorsAllowedMethods     []string `mapstructure:"cors_allowed_methods"`
		CorsAllowedHeaders     []string `mapstructure:"cors_allowed_headers"`
		ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	} `mapstructure:"server"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`

	Storage struct {
		// Backend is one of postgres, objectstore, redis or offline.
		Backend                 string `mapstructure:"backend"`
		OfflineDir              string `mapstructure:"offline_dir"`
		InitRetries             uint64 `mapstructure:"init_retries"`
		InitTimeoutSeconds      int    `mapstructure:"init_timeout_seconds"`
		OperationTimeoutSeconds int    `mapstructure:"operation_timeout_seconds"`
	} `mapstructure:"storage"`

	// Shop is printed on exported bills.
	Shop struct {
		Name         string   `mapstructure:"name"`
		AddressLines []string `mapstructure:"address_lines"`
		Phone        string   `mapstructure:"phone"`
	} `mapstructure:"shop"`

	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// Configured reports whether enough parameters are present to try a
// connection. A password is required unless a full URL is given.
func (d DatabaseConfig) Configured() bool {
	if d.URL != "" {
		return true
	}
	return d.Host != "" && d.User != "" && d.Password != "" && d.Name != ""
}

func (d DatabaseConfig) ConnectionString() string {
	if d.URL != "" {
		return d.URL
	}
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Name, sslmode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Configured() bool {
	return r.Addr != ""
}

// ObjectStoreConfig points at an S3-compatible bucket (Cloudflare R2 in
// production).
type ObjectStoreConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`
}

func (o ObjectStoreConfig) Configured() bool {
	return o.Bucket != "" && o.AccessKeyID != "" && o.SecretAccessKey != ""
}

var validBackends = map[string]bool{
	"postgres":    true,
	"objectstore": true,
	"redis":       true,
	"offline":     true,
}

// Load reads .env, the optional YAML file and the environment. configFile
// may be empty.
func Load(configFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults so the binary works without a config file
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "Authorization"})
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("storage.offline_dir", "data")
	v.SetDefault("storage.init_retries", 2)
	v.SetDefault("storage.init_timeout_seconds", 15)
	v.SetDefault("storage.operation_timeout_seconds", 10)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("redis.db", 0)
	v.SetDefault("objectstore.region", "auto")
	v.SetDefault("objectstore.prefix", "bills/")
	v.SetDefault("shop.name", "Baba Flower Mart")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "read config %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config unmarshal error")
	}

	applyEnvOverrides(&cfg)

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if !validBackends[cfg.Storage.Backend] {
		return nil, errors.Newf("unknown storage backend %q", cfg.Storage.Backend)
	}

	return &cfg, nil
}

// applyEnvOverrides maps the conventional variable names of each provider on
// top of the viper values.
func applyEnvOverrides(cfg *Config) {
	// PostgreSQL: full URL first, then discrete settings
	for _, key := range []string{"POSTGRES_URL", "DATABASE_URL"} {
		if v := os.Getenv(key); v != "" {
			cfg.Database.URL = v
			break
		}
	}
	overrideString(&cfg.Database.Host, "DB_HOST", "POSTGRES_HOST")
	overrideString(&cfg.Database.User, "DB_USER", "POSTGRES_USER")
	overrideString(&cfg.Database.Password, "DB_PASSWORD", "POSTGRES_PASSWORD")
	overrideString(&cfg.Database.Name, "DB_NAME", "POSTGRES_DATABASE")
	if port := os.Getenv("DB_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Database.Port = n
		}
	}

	// Redis: explicit address, or the K8s service variables
	overrideString(&cfg.Redis.Addr, "REDIS_ADDR")
	if cfg.Redis.Addr == "" {
		if host := os.Getenv("REDIS_SERVICE_HOST"); host != "" {
			port := os.Getenv("REDIS_SERVICE_PORT")
			if port == "" {
				port = "6379"
			}
			cfg.Redis.Addr = host + ":" + port
		}
	}
	overrideString(&cfg.Redis.Password, "REDIS_PASSWORD")

	// Object store (R2)
	overrideString(&cfg.ObjectStore.Endpoint, "R2_ENDPOINT")
	overrideString(&cfg.ObjectStore.Bucket, "R2_BUCKET")
	overrideString(&cfg.ObjectStore.AccessKeyID, "R2_ACCESS_KEY_ID")
	overrideString(&cfg.ObjectStore.SecretAccessKey, "R2_SECRET_ACCESS_KEY")
}

func overrideString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}
