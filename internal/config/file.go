package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/casparianflow/sentinel/internal/logger"
)

// FileOverrides is the shape of CASPARIAN_HOME/config.yaml. Every field is
// optional; env vars always take precedence over values read here (see
// SPEC_FULL.md ambient-stack section). This mirrors the layered
// config-file-then-env precedent of original_source's CLI config loader,
// generalized to the Sentinel/Worker binaries.
type FileOverrides struct {
	BindAddr       string `yaml:"bind_addr"`
	ControlAddr    string `yaml:"control_addr"`
	StateStore     string `yaml:"state_store"`
	MaxWorkers     int    `yaml:"max_workers"`
	HeartbeatSecs  int    `yaml:"heartbeat_interval_seconds"`
	DeadlineFactor int    `yaml:"heartbeat_deadline_factor"`
	MaxRetries     int    `yaml:"max_retries"`
	JobTimeoutMins int    `yaml:"job_timeout_minutes"`
	MaxFrameBytes  int    `yaml:"max_frame_bytes"`
}

// LoadFileOverrides reads CASPARIAN_HOME/config.yaml if present. A missing
// file is not an error; a malformed file is logged and ignored so a typo in
// an optional file never prevents startup.
func LoadFileOverrides(log *logger.Logger) FileOverrides {
	path := filepath.Join(Home(), "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && log != nil {
			log.Warn("failed to read config file, ignoring", "path", path, "error", err)
		}
		return FileOverrides{}
	}
	var overrides FileOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		if log != nil {
			log.Warn("failed to parse config file, ignoring", "path", path, "error", err)
		}
		return FileOverrides{}
	}
	if log != nil {
		log.Info("loaded config file overrides", "path", path)
	}
	return overrides
}

func coalesce(fileVal, hardDefault string) string {
	if fileVal != "" {
		return fileVal
	}
	return hardDefault
}

func coalesceInt(fileVal, hardDefault int) int {
	if fileVal != 0 {
		return fileVal
	}
	return hardDefault
}
