// internal/workers/maps/export-maps/config.go
package exportmaps

import (
	"time"

	"maps-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
	// InlineLimit caps the NDJSON returned in job variables when the export
	// is not uploaded. Zeebe rejects oversized variable documents.
	InlineLimit int
}

func LoadConfig(cfg *config.Config) *Config {
	timeout := config.GetDuration(config.GetWorkerConfig(cfg, TaskType).Timeout)
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Config{
		Timeout:     timeout,
		InlineLimit: 1 << 20,
	}
}
