package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends accepted by QUOTEFRIENDS_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config captures the runtime configuration for the QuoteFriends backend service.
type Config struct {
	AppPort  int    `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	Store    string `yaml:"store"`

	DatabaseURL      string        `yaml:"databaseUrl"`
	DBMaxConns       int           `yaml:"dbMaxConns"`
	DBConnectTimeout time.Duration `yaml:"dbConnectTimeout"`
	PollInterval     time.Duration `yaml:"pollInterval"`

	MongoURI            string        `yaml:"mongoUri"`
	MongoDatabase       string        `yaml:"mongoDatabase"`
	MongoConnectTimeout time.Duration `yaml:"mongoConnectTimeout"`

	StoreReadTimeout  time.Duration `yaml:"storeReadTimeout"`
	StoreWriteTimeout time.Duration `yaml:"storeWriteTimeout"`
	StoreRetries      int           `yaml:"storeRetries"`

	AvatarBucket        string        `yaml:"avatarBucket"`
	AvatarRegion        string        `yaml:"avatarRegion"`
	AvatarEndpoint      string        `yaml:"avatarEndpoint"`
	AvatarPublicBaseURL string        `yaml:"avatarPublicBaseUrl"`
	AvatarURLExpiry     time.Duration `yaml:"avatarUrlExpiry"`

	WriteRateLimit float64 `yaml:"writeRateLimit"`
	WriteRateBurst int     `yaml:"writeRateBurst"`

	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`

	DirectoryTTL time.Duration `yaml:"directoryTtl"`
	LikeOverlay  time.Duration `yaml:"likeOverlayTtl"`
}

// Defaults returns the configuration used for local development.
func Defaults() Config {
	return Config{
		AppPort:             8080,
		LogLevel:            "info",
		Store:               StoreMemory,
		DatabaseURL:         "postgres://root@localhost:26257/quotefriends?sslmode=disable",
		DBMaxConns:          10,
		DBConnectTimeout:    5 * time.Second,
		PollInterval:        500 * time.Millisecond,
		MongoURI:            "mongodb://localhost:27017/?replicaSet=rs0",
		MongoDatabase:       "quotefriends",
		MongoConnectTimeout: 10 * time.Second,
		StoreReadTimeout:    5 * time.Second,
		StoreWriteTimeout:   5 * time.Second,
		StoreRetries:        1,
		AvatarRegion:        "us-east-1",
		AvatarURLExpiry:     15 * time.Minute,
		WriteRateLimit:      5,
		WriteRateBurst:      10,
		ReadHeaderTimeout:   5 * time.Second,
		IdleTimeout:         60 * time.Second,
		ShutdownTimeout:     10 * time.Second,
		DirectoryTTL:        time.Minute,
		LikeOverlay:         30 * time.Second,
	}
}

// Load reads configuration from an optional YAML file named by
// QUOTEFRIENDS_CONFIG_FILE and then from environment variables, which win.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("QUOTEFRIENDS_CONFIG_FILE")); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(contents, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.AppPort = getInt("QUOTEFRIENDS_PORT", cfg.AppPort)
	cfg.LogLevel = getString("QUOTEFRIENDS_LOG_LEVEL", cfg.LogLevel)
	cfg.Store = strings.ToLower(getString("QUOTEFRIENDS_STORE", cfg.Store))

	cfg.DatabaseURL = getString("QUOTEFRIENDS_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = getInt("QUOTEFRIENDS_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBConnectTimeout = getDuration("QUOTEFRIENDS_DB_CONNECT_TIMEOUT", cfg.DBConnectTimeout)
	cfg.PollInterval = getDuration("QUOTEFRIENDS_POLL_INTERVAL", cfg.PollInterval)

	cfg.MongoURI = getString("QUOTEFRIENDS_MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = getString("QUOTEFRIENDS_MONGO_DATABASE", cfg.MongoDatabase)
	cfg.MongoConnectTimeout = getDuration("QUOTEFRIENDS_MONGO_CONNECT_TIMEOUT", cfg.MongoConnectTimeout)

	cfg.StoreReadTimeout = getDuration("QUOTEFRIENDS_STORE_READ_TIMEOUT", cfg.StoreReadTimeout)
	cfg.StoreWriteTimeout = getDuration("QUOTEFRIENDS_STORE_WRITE_TIMEOUT", cfg.StoreWriteTimeout)
	cfg.StoreRetries = getInt("QUOTEFRIENDS_STORE_RETRIES", cfg.StoreRetries)

	cfg.AvatarBucket = getString("QUOTEFRIENDS_AVATAR_BUCKET", cfg.AvatarBucket)
	cfg.AvatarRegion = getString("QUOTEFRIENDS_AVATAR_REGION", cfg.AvatarRegion)
	cfg.AvatarEndpoint = getString("QUOTEFRIENDS_AVATAR_ENDPOINT", cfg.AvatarEndpoint)
	cfg.AvatarPublicBaseURL = getString("QUOTEFRIENDS_AVATAR_PUBLIC_BASE_URL", cfg.AvatarPublicBaseURL)
	cfg.AvatarURLExpiry = getDuration("QUOTEFRIENDS_AVATAR_URL_EXPIRY", cfg.AvatarURLExpiry)

	cfg.WriteRateLimit = getFloat("QUOTEFRIENDS_WRITE_RATE_LIMIT", cfg.WriteRateLimit)
	cfg.WriteRateBurst = getInt("QUOTEFRIENDS_WRITE_RATE_BURST", cfg.WriteRateBurst)

	cfg.ReadHeaderTimeout = getDuration("QUOTEFRIENDS_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.IdleTimeout = getDuration("QUOTEFRIENDS_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getDuration("QUOTEFRIENDS_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.DirectoryTTL = getDuration("QUOTEFRIENDS_DIRECTORY_TTL", cfg.DirectoryTTL)
	cfg.LikeOverlay = getDuration("QUOTEFRIENDS_LIKE_OVERLAY_TTL", cfg.LikeOverlay)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.AppPort))
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			errs = append(errs, errors.New("database url is required for the postgres store"))
		}
	case StoreMongo:
		if strings.TrimSpace(c.MongoURI) == "" || strings.TrimSpace(c.MongoDatabase) == "" {
			errs = append(errs, errors.New("mongo uri and database are required for the mongo store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.WriteRateLimit <= 0 || c.WriteRateBurst <= 0 {
		errs = append(errs, errors.New("write rate limit and burst must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
