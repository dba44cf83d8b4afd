package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/bizkeeper/internal/flagx"
	"github.com/dmitrijs2005/bizkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so intervals can be strings like "5m" or integer
// nanoseconds. After parsing, values are copied into the runtime Config.
type JsonConfig struct {
	ServerURL           string         `json:"server_url"`
	DatabaseDSN         string         `json:"database_dsn"`
	AccessToken         string         `json:"access_token"`
	SyncInterval        timex.Duration `json:"sync_interval"`
	MaxRetries          int            `json:"max_retries"`
	RetryDelay          timex.Duration `json:"retry_delay"`
	BatchSize           int            `json:"batch_size"`
	SyncTables          []string       `json:"sync_tables"`
	ConflictStrategy    string         `json:"conflict_strategy"`
	TimestampField      string         `json:"timestamp_field"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// the -c/-config flags. Absent file path means no overlay; read or unmarshal
// errors panic. Empty JSON fields keep the current Config values.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerURL != "" {
		cfg.ServerURL = jc.ServerURL
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.AccessToken != "" {
		cfg.AccessToken = jc.AccessToken
	}
	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}
	if jc.MaxRetries > 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.RetryDelay.Duration > 0 {
		cfg.RetryDelay = time.Duration(jc.RetryDelay.Duration)
	}
	if jc.BatchSize > 0 {
		cfg.BatchSize = jc.BatchSize
	}
	if len(jc.SyncTables) > 0 {
		cfg.SyncTables = jc.SyncTables
	}
	if jc.ConflictStrategy != "" {
		cfg.ConflictStrategy = jc.ConflictStrategy
	}
	if jc.TimestampField != "" {
		cfg.TimestampField = jc.TimestampField
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
}
