package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendColly      = "colly"
	BackendPlaywright = "playwright"
	BackendChromedp   = "chromedp"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	History  HistoryConfig
	Fetcher  FetcherConfig
	Refresh  RefreshConfig
	Relay    RelayConfig
	Events   EventsConfig
	Logging  LoggingConfig
	Docs     DocsConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

type DatabaseConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	TTL time.Duration
}

type HistoryConfig struct {
	Path       string
	MaxEntries int
	// Retention of zero keeps entries forever.
	Retention time.Duration
}

type FetcherConfig struct {
	Backend       string
	AmazonBackend string
	UserAgent     string
	Timeout       time.Duration
	RateLimitMin  time.Duration
	RateLimitMax  time.Duration
	Adaptive      bool
	MaxRetries    int
	RetryDelay    time.Duration
	Headless      bool
	ChromePath    string
}

type RefreshConfig struct {
	Enabled   bool
	Interval  time.Duration
	StaleAge  time.Duration
	BatchSize int
	LeaseKey  string
	LeaseTTL  time.Duration
	MinDelay  time.Duration
	MaxDelay  time.Duration
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	StreamMaxLen int64
}

type EventsConfig struct {
	Group    string
	Consumer string
	// MinDropPercent is the smallest price decrease reported as an alert.
	MinDropPercent float64
}

type LoggingConfig struct {
	Level  string
	Format string
}

type DocsConfig struct {
	SpecDir string
	Title   string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 90*time.Second),
			RequestTimeout:  getDurationOrDefault("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:     getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "https://localhost:*"}),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", true),
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "price_tracker"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", true),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			TTL: getDurationOrDefault("CACHE_TTL", 6*time.Hour),
		},
		History: HistoryConfig{
			Path:       getEnvOrDefault("HISTORY_PATH", "./history.db"),
			MaxEntries: getIntOrDefault("HISTORY_MAX_ENTRIES", 500),
			Retention:  getDurationOrDefault("HISTORY_RETENTION", 0),
		},
		Fetcher: FetcherConfig{
			Backend:       getEnvOrDefault("FETCHER_BACKEND", BackendColly),
			AmazonBackend: getEnvOrDefault("FETCHER_AMAZON_BACKEND", ""),
			UserAgent:     getEnvOrDefault("FETCHER_USER_AGENT", ""),
			Timeout:       getDurationOrDefault("FETCHER_TIMEOUT", 30*time.Second),
			RateLimitMin:  getDurationOrDefault("FETCHER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:  getDurationOrDefault("FETCHER_RATE_LIMIT_MAX", 5*time.Second),
			Adaptive:      getBoolOrDefault("FETCHER_ADAPTIVE", true),
			MaxRetries:    getIntOrDefault("FETCHER_MAX_RETRIES", 2),
			RetryDelay:    getDurationOrDefault("FETCHER_RETRY_DELAY", 3*time.Second),
			Headless:      getBoolOrDefault("BROWSER_HEADLESS", true),
			ChromePath:    getEnvOrDefault("CHROME_PATH", ""),
		},
		Refresh: RefreshConfig{
			Enabled:   getBoolOrDefault("REFRESH_ENABLED", true),
			Interval:  getDurationOrDefault("REFRESH_INTERVAL", 15*time.Minute),
			StaleAge:  getDurationOrDefault("REFRESH_STALE_AGE", 6*time.Hour),
			BatchSize: getIntOrDefault("REFRESH_BATCH_SIZE", 50),
			LeaseKey:  getEnvOrDefault("REFRESH_LEASE_KEY", "lease:price-refresh"),
			LeaseTTL:  getDurationOrDefault("REFRESH_LEASE_TTL", 10*time.Minute),
			MinDelay:  getDurationOrDefault("REFRESH_MIN_DELAY", 0),
			MaxDelay:  getDurationOrDefault("REFRESH_MAX_DELAY", 0),
		},
		Relay: RelayConfig{
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
			StreamMaxLen: int64(getIntOrDefault("RELAY_STREAM_MAXLEN", 100000)),
		},
		Events: EventsConfig{
			Group:          getEnvOrDefault("EVENTS_GROUP", "price-alerts"),
			Consumer:       getEnvOrDefault("EVENTS_CONSUMER", hostnameOr("consumer-1")),
			MinDropPercent: getFloatOrDefault("EVENTS_MIN_DROP_PERCENT", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		Docs: DocsConfig{
			SpecDir: getEnvOrDefault("DOCS_SPEC_DIR", "./docs"),
			Title:   getEnvOrDefault("DOCS_TITLE", "BR Price Tracker API"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Enabled && c.Database.URL == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required when DATABASE_URL is not set")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required when DATABASE_URL is not set")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required when redis is enabled")
	}

	for _, backend := range []string{c.Fetcher.Backend, c.Fetcher.AmazonBackend} {
		switch backend {
		case "", BackendColly, BackendPlaywright, BackendChromedp:
		default:
			return fmt.Errorf("unknown fetcher backend %q", backend)
		}
	}
	if c.Fetcher.Backend == "" {
		return fmt.Errorf("FETCHER_BACKEND is required")
	}

	if c.Fetcher.RateLimitMin > c.Fetcher.RateLimitMax {
		return fmt.Errorf("FETCHER_RATE_LIMIT_MIN cannot be greater than FETCHER_RATE_LIMIT_MAX")
	}
	if c.Refresh.MinDelay > c.Refresh.MaxDelay {
		return fmt.Errorf("REFRESH_MIN_DELAY cannot be greater than REFRESH_MAX_DELAY")
	}

	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("FETCHER_MAX_RETRIES cannot be negative")
	}

	if c.Refresh.Enabled && c.Refresh.BatchSize < 1 {
		return fmt.Errorf("REFRESH_BATCH_SIZE must be at least 1")
	}

	if c.History.MaxEntries < 1 {
		return fmt.Errorf("HISTORY_MAX_ENTRIES must be at least 1")
	}

	if c.Events.MinDropPercent < 0 || c.Events.MinDropPercent > 100 {
		return fmt.Errorf("EVENTS_MIN_DROP_PERCENT must be between 0 and 100")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
