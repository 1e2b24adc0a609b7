// internal/workers/maps/delete-maps/config.go
package deletemaps

import (
	"time"

	"maps-workers/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	timeout := config.GetDuration(config.GetWorkerConfig(cfg, TaskType).Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Config{Timeout: timeout}
}
