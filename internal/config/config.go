package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cart storage backends
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Auth     AuthConfig
	Checkout CheckoutConfig
	CheckIn  CheckInConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// IsProduction reports whether ENV is production
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

type StorageConfig struct {
	Backend string
	CartKey string
}

type DatabaseConfig struct {
	URL        string // Full database URL
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type SessionConfig struct {
	Secret string
	// IdleTTL and MaxCarts bound the in-memory carts; persisted carts are
	// unaffected
	IdleTTL  time.Duration
	MaxCarts int
}

type AuthConfig struct {
	JWTSecret string
}

type CheckoutConfig struct {
	SettlementDelay  time.Duration
	ReleaseOnFailure bool
}

type CheckInConfig struct {
	EventID    string
	EventTitle string
	RateLimit  int
	RateWindow time.Duration
}

// Load reads the environment, after loading envFiles (default .env.local then
// .env) when they exist.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env.local", ".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "localhost"),
			Env:  getEnv("ENV", "development"),
		},
		Backend: BackendConfig{
			URL:     getEnv("EVENTURE_API_URL", "http://localhost:5000/api"),
			Timeout: getEnvAsDuration("EVENTURE_API_TIMEOUT", 30*time.Second),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("CART_STORAGE", StorageMemory)),
			CartKey: getEnv("CART_STORAGE_KEY", "eventure-cart"),
		},
		Database: parseDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			TTL:      getEnvAsDuration("REDIS_CART_TTL", 30*24*time.Hour),
		},
		Session: SessionConfig{
			Secret:   getEnv("SESSION_SECRET", "your-secret-key-change-in-production"),
			IdleTTL:  getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
			MaxCarts: getEnvAsInt("SESSION_MAX_CARTS", 10000),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Checkout: CheckoutConfig{
			SettlementDelay:  getEnvAsDuration("CHECKOUT_SETTLEMENT_DELAY", 2*time.Second),
			ReleaseOnFailure: getEnvAsBool("CHECKOUT_RELEASE_ON_FAILURE", true),
		},
		CheckIn: CheckInConfig{
			EventID:    getEnv("CHECKIN_EVENT_ID", ""),
			EventTitle: getEnv("CHECKIN_EVENT_TITLE", ""),
			RateLimit:  getEnvAsInt("CHECKIN_RATE_LIMIT", 30),
			RateWindow: getEnvAsDuration("CHECKIN_RATE_WINDOW", time.Minute),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageMemory, StorageSQLite, StoragePostgres, StorageRedis:
	default:
		return fmt.Errorf("invalid CART_STORAGE %q", c.Storage.Backend)
	}
	if _, err := url.ParseRequestURI(c.Backend.URL); err != nil {
		return fmt.Errorf("invalid EVENTURE_API_URL: %w", err)
	}
	if c.Server.IsProduction() && c.Session.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("SESSION_SECRET must be set in production")
	}
	if c.Session.MaxCarts < 1 {
		return fmt.Errorf("SESSION_MAX_CARTS must be positive")
	}
	if c.CheckIn.RateLimit < 1 {
		return fmt.Errorf("CHECKIN_RATE_LIMIT must be positive")
	}
	return nil
}

func parseDatabaseConfig() DatabaseConfig {
	sqlitePath := getEnv("SQLITE_PATH", "eventure.db")

	// Check if DATABASE_URL is provided
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL != "" {
		config := parseDatabaseURL(databaseURL)
		config.SQLitePath = sqlitePath
		return config
	}

	// Fall back to individual environment variables
	return DatabaseConfig{
		Host:       getEnv("DB_HOST", "localhost"),
		Port:       getEnvAsInt("DB_PORT", 5432),
		User:       getEnv("DB_USER", "postgres"),
		Password:   getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "eventure"),
		SSLMode:    getEnv("DB_SSLMODE", "disable"),
		SQLitePath: sqlitePath,
	}
}

func parseDatabaseURL(databaseURL string) DatabaseConfig {
	config := DatabaseConfig{
		URL: databaseURL,
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		// If parsing fails, return the URL as-is
		return config
	}

	config.Host = u.Hostname()
	if u.Port() != "" {
		config.Port, _ = strconv.Atoi(u.Port())
	} else {
		config.Port = 5432 // Default PostgreSQL port
	}

	if u.User != nil {
		config.User = u.User.Username()
		config.Password, _ = u.User.Password()
	}

	// Remove leading slash from path to get database name
	config.DBName = strings.TrimPrefix(u.Path, "/")

	config.SSLMode = u.Query().Get("sslmode")
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("2s") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
