package config

import "time"

// Config holds runtime settings for the sync client.
//
// Durations are time.Duration values; the JSON overlay also accepts strings
// like "5m" (see JsonConfig).
type Config struct {
	ServerURL           string
	DatabaseDSN         string
	AccessToken         string
	SyncInterval        time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	BatchSize           int
	SyncTables          []string
	ConflictStrategy    string
	TimestampField      string
	OnlineCheckInterval time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DatabaseDSN = "client.db"
	c.SyncInterval = 5 * time.Minute
	c.MaxRetries = 3
	c.RetryDelay = 2 * time.Second
	c.BatchSize = 100
	c.SyncTables = []string{"clients", "projects", "invoices", "budgets"}
	c.ConflictStrategy = "last-write-wins"
	c.TimestampField = "updatedAt"
	c.OnlineCheckInterval = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
