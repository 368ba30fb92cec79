package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides are the knobs an operator can flip without editing the config
// file (container/unit deployments).
type envOverrides struct {
	LogLevel    string `env:"TASKD_LOG_LEVEL"`
	HTTPAddr    string `env:"TASKD_HTTP_ADDR"`
	PoolWorkers int    `env:"TASKD_POOL_WORKERS"`
}

// applyEnv overlays environment overrides onto a parsed config.
func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return err
	}
	if strings.TrimSpace(o.LogLevel) != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if strings.TrimSpace(o.HTTPAddr) != "" {
		cfg.HTTP.Addr = o.HTTPAddr
	}
	if o.PoolWorkers > 0 {
		cfg.Pool.Workers = o.PoolWorkers
	}
	return nil
}
