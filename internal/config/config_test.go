package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendColly, cfg.Fetcher.Backend)
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 500, cfg.History.MaxEntries)
	assert.Equal(t, "lease:price-refresh", cfg.Refresh.LeaseKey)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "price-alerts", cfg.Events.Group)
	assert.Equal(t, 5.0, cfg.Events.MinDropPercent)
	assert.Equal(t, int64(100000), cfg.Relay.StreamMaxLen)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/prices")
	t.Setenv("FETCHER_BACKEND", "chromedp")
	t.Setenv("FETCHER_AMAZON_BACKEND", "playwright")
	t.Setenv("CACHE_TTL", "30m")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("REFRESH_BATCH_SIZE", "not a number")
	t.Setenv("EVENTS_MIN_DROP_PERCENT", "12.5")
	t.Setenv("RELAY_STREAM_MAXLEN", "-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://u:p@db/prices", cfg.Database.URL)
	assert.Equal(t, BackendChromedp, cfg.Fetcher.Backend)
	assert.Equal(t, BackendPlaywright, cfg.Fetcher.AmazonBackend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 50, cfg.Refresh.BatchSize, "unparsable values fall back to the default")
	assert.Equal(t, 12.5, cfg.Events.MinDropPercent)
	assert.Equal(t, int64(-1), cfg.Relay.StreamMaxLen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, false},
		{"unknown backend", func(c *Config) { c.Fetcher.Backend = "curl" }, false},
		{"unknown amazon backend", func(c *Config) { c.Fetcher.AmazonBackend = "rod" }, false},
		{"inverted rate limit", func(c *Config) { c.Fetcher.RateLimitMin = time.Minute }, false},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, false},
		{"db url replaces host", func(c *Config) { c.Database.Host = ""; c.Database.URL = "postgres://db/x" }, true},
		{"db disabled", func(c *Config) { c.Database.Enabled = false; c.Database.Host = "" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, false},
		{"negative drop threshold", func(c *Config) { c.Events.MinDropPercent = -1 }, false},
		{"zero history cap", func(c *Config) { c.History.MaxEntries = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			if tt.valid {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
