package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig  `mapstructure:"server"`
	Environment string        `mapstructure:"environment"`
	Storage     StorageConfig `mapstructure:"storage"`
	Cache       CacheConfig   `mapstructure:"cache"`
	Lock        LockConfig    `mapstructure:"lock"`
	Player      PlayerConfig  `mapstructure:"player"`
	Auth        AuthConfig    `mapstructure:"auth"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Sentry      SentryConfig  `mapstructure:"sentry"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type StorageConfig struct {
	// Driver is "minio" or "s3".
	Driver    string `mapstructure:"driver"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

type CacheConfig struct {
	Root               string        `mapstructure:"root"`
	MaxArchiveSizeMB   int64         `mapstructure:"max_archive_size_mb"`
	MaxExtractedSizeMB int64         `mapstructure:"max_extracted_size_mb"`
	PresignExpiry      time.Duration `mapstructure:"presign_expiry"`
}

type LockConfig struct {
	// Driver is "local" for a single replica or "redis" when replicas
	// share the cache root.
	Driver string          `mapstructure:"driver"`
	TTL    time.Duration   `mapstructure:"ttl"`
	Redis  RedisLockConfig `mapstructure:"redis"`
}

type RedisLockConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

type PlayerConfig struct {
	BasePath  string `mapstructure:"base_path"`
	AssetsURL string `mapstructure:"assets_url"`
	// Language is a locale or "auto" to follow Accept-Language.
	Language string `mapstructure:"language"`
}

type AuthConfig struct {
	Users []UserAuth `mapstructure:"users"`
}

type UserAuth struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File enables a rotating log file in addition to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

type SentryConfig struct {
	Dsn     string `mapstructure:"dsn"`
	Enabled bool   `mapstructure:"enabled"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "/etc/certs/tls.crt")
	v.SetDefault("server.tls.key_file", "/etc/certs/tls.key")

	v.SetDefault("environment", "production")

	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "h5p")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("cache.root", "h5p/content")
	v.SetDefault("cache.max_archive_size_mb", 512)
	v.SetDefault("cache.max_extracted_size_mb", 2048)
	v.SetDefault("cache.presign_expiry", "1h")

	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.ttl", "5m")
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.namespace", "h5p-cache")

	v.SetDefault("player.base_path", "/h5p/play")
	v.SetDefault("player.assets_url", "/h5p")
	v.SetDefault("player.language", "auto")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("sentry.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.compress", true)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Enable environment variable overrides
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind the variable names existing deployments already set. The
	// first non-empty variable wins.
	v.BindEnv("environment", "ENVIRONMENT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY", "NEXT_PUBLIC_S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY", "NEXT_PUBLIC_S3_SECRET_KEY")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT", "NEXT_PUBLIC_S3_ENDPOINT")
	v.BindEnv("storage.region", "S3_REGION", "NEXT_PUBLIC_S3_REGION")
	v.BindEnv("storage.bucket", "S3_BUCKET", "NEXT_PUBLIC_S3_BUCKET")
	v.BindEnv("lock.redis.password", "REDIS_PASSWORD")
	v.BindEnv("sentry.dsn", "SENTRY_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "minio", "s3":
	default:
		return fmt.Errorf("storage.driver must be minio or s3, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "minio" && c.Storage.Endpoint == "" {
		return fmt.Errorf("storage.endpoint is required")
	}
	if c.Storage.AccessKey == "" {
		return fmt.Errorf("storage.access_key is required")
	}
	if c.Storage.SecretKey == "" {
		return fmt.Errorf("storage.secret_key is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Cache.Root == "" {
		return fmt.Errorf("cache.root is required")
	}
	if c.Cache.PresignExpiry <= 0 {
		return fmt.Errorf("cache.presign_expiry must be positive")
	}
	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required when lock.driver is redis")
		}
	default:
		return fmt.Errorf("lock.driver must be local or redis, got %q", c.Lock.Driver)
	}
	if !strings.HasPrefix(c.Player.BasePath, "/") {
		return fmt.Errorf("player.base_path must start with /")
	}
	for i, user := range c.Auth.Users {
		if user.Username == "" {
			return fmt.Errorf("auth.users[%d].username is required", i)
		}
		if user.Password == "" {
			return fmt.Errorf("auth.users[%d].password is required", i)
		}
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}
	return nil
}

// IsDev reports whether the service runs against a local development stack.
func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func (c *Config) MaxArchiveSizeBytes() int64 {
	return c.Cache.MaxArchiveSizeMB * 1024 * 1024
}

func (c *Config) MaxExtractedSizeBytes() int64 {
	return c.Cache.MaxExtractedSizeMB * 1024 * 1024
}
