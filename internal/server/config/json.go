package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/bizkeeper/internal/flagx"
	"github.com/dmitrijs2005/bizkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so durations can be strings like "720h" or integer
// nanoseconds. After parsing, values are copied into the runtime Config.
type JsonConfig struct {
	EndpointAddr       string         `json:"endpoint_addr"`
	DatabaseDSN        string         `json:"database_dsn"`
	SecretKey          string         `json:"secret_key"`
	SyncTables         []string       `json:"sync_tables"`
	TombstoneRetention timex.Duration `json:"tombstone_retention"`
	PurgeInterval      timex.Duration `json:"purge_interval"`
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

	if jc.EndpointAddr != "" {
		cfg.EndpointAddr = jc.EndpointAddr
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.SecretKey != "" {
		cfg.SecretKey = jc.SecretKey
	}
	if len(jc.SyncTables) > 0 {
		cfg.SyncTables = jc.SyncTables
	}
	if jc.TombstoneRetention.Duration > 0 {
		cfg.TombstoneRetention = time.Duration(jc.TombstoneRetention.Duration)
	}
	if jc.PurgeInterval.Duration > 0 {
		cfg.PurgeInterval = time.Duration(jc.PurgeInterval.Duration)
	}
}
