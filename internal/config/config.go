// Package config loads Sentinel and Worker configuration from environment
// variables, layered over an optional CASPARIAN_HOME/config.yaml, the way
// the teacher's internal/app.LoadConfig composes internal/utils.GetEnv
// calls, generalized with a file layer per SPEC_FULL.md.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/casparianflow/sentinel/internal/logger"
)

const (
	DefaultBind        = "tcp://127.0.0.1:5555"
	DefaultControlAddr  = "tcp://127.0.0.1:5556"
	DefaultMaxWorkers  = 4
	DefaultHeartbeat   = 10 * time.Second
	DefaultDeadlineX   = 3 // heartbeat_deadline = DefaultDeadlineX * heartbeat_interval
	DefaultMaxRetries  = 3
	DefaultJobTimeout  = 30 * time.Minute
	DefaultMaxFrame    = 16 * 1024 * 1024
)

// SentinelConfig holds everything the Sentinel binary needs to start.
type SentinelConfig struct {
	BindAddr          string
	ControlAddr       string
	StateStoreURL     string
	MaxWorkers        int
	HeartbeatInterval time.Duration
	HeartbeatDeadline time.Duration
	MaxRetries        int
	JobTimeout        time.Duration
	MaxFrameBytes     int
}

// LoadSentinelConfig builds a SentinelConfig from CASPARIAN_HOME/config.yaml
// overlaid with environment variables (env wins).
func LoadSentinelConfig(log *logger.Logger) SentinelConfig {
	file := LoadFileOverrides(log)

	bind := GetEnv("CASPARIAN_BIND", coalesce(file.BindAddr, DefaultBind), log)
	controlAddr := GetEnv("CASPARIAN_CONTROL_ADDR", coalesce(file.ControlAddr, DefaultControlAddr), log)
	maxWorkers := GetEnvAsInt("CASPARIAN_MAX_WORKERS", coalesceInt(file.MaxWorkers, DefaultMaxWorkers), log)

	heartbeatSecs := coalesceInt(file.HeartbeatSecs, int(DefaultHeartbeat.Seconds()))
	heartbeat := GetEnvAsDuration("CASPARIAN_HEARTBEAT_INTERVAL", time.Duration(heartbeatSecs)*time.Second, log)

	deadlineFactor := coalesceInt(file.DeadlineFactor, DefaultDeadlineX)
	deadline := heartbeat * time.Duration(deadlineFactor)

	maxRetries := GetEnvAsInt("CASPARIAN_MAX_RETRIES", coalesceInt(file.MaxRetries, DefaultMaxRetries), log)

	timeoutMins := coalesceInt(file.JobTimeoutMins, int(DefaultJobTimeout.Minutes()))
	jobTimeout := GetEnvAsDuration("CASPARIAN_JOB_TIMEOUT", time.Duration(timeoutMins)*time.Minute, log)

	maxFrame := GetEnvAsInt("CASPARIAN_MAX_FRAME_BYTES", coalesceInt(file.MaxFrameBytes, DefaultMaxFrame), log)

	stateStoreRaw := GetEnv("CASPARIAN_STATE_STORE", file.StateStore, log)
	stateStoreURL := ResolveStateStoreURL(stateStoreRaw)

	return SentinelConfig{
		BindAddr:          bind,
		ControlAddr:       controlAddr,
		StateStoreURL:     stateStoreURL,
		MaxWorkers:        maxWorkers,
		HeartbeatInterval: heartbeat,
		HeartbeatDeadline: deadline,
		MaxRetries:        maxRetries,
		JobTimeout:        jobTimeout,
		MaxFrameBytes:     maxFrame,
	}
}

// WorkerConfig holds everything the Worker binary needs to start.
type WorkerConfig struct {
	WorkerID          string
	SentinelAddr      string
	Capabilities      []string
	HeartbeatPeriod   time.Duration
	JobTimeout        time.Duration
	TerminationGrace  time.Duration
	MaxFrameBytes     int
}

// LoadWorkerConfig builds a WorkerConfig from the environment.
func LoadWorkerConfig(log *logger.Logger) WorkerConfig {
	sentinelAddr := GetEnv("CASPARIAN_BIND", DefaultBind, log)
	heartbeat := GetEnvAsDuration("CASPARIAN_HEARTBEAT_INTERVAL", DefaultHeartbeat, log)
	workerID := GetEnv("CASPARIAN_WORKER_ID", "", log)
	jobTimeout := GetEnvAsDuration("CASPARIAN_JOB_TIMEOUT", DefaultJobTimeout, log)
	grace := GetEnvAsDuration("CASPARIAN_TERMINATION_GRACE", 5*time.Second, log)
	maxFrame := GetEnvAsInt("CASPARIAN_MAX_FRAME_BYTES", DefaultMaxFrame, log)
	capabilities := splitCapabilities(GetEnv("CASPARIAN_CAPABILITIES", "*", log))
	return WorkerConfig{
		WorkerID:         workerID,
		SentinelAddr:     sentinelAddr,
		Capabilities:     capabilities,
		HeartbeatPeriod:  heartbeat,
		JobTimeout:       jobTimeout,
		TerminationGrace: grace,
		MaxFrameBytes:    maxFrame,
	}
}

// splitCapabilities parses a comma-separated CASPARIAN_CAPABILITIES value
// per spec §3's "capabilities | set of string | wildcard `*` means 'any
// plugin'" row, defaulting to the wildcard when unset.
func splitCapabilities(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// ResolveStateStoreURL mirrors original_source's
// casparian_sentinel/src/main.rs::resolve_state_store_url /
// normalize_state_store_url / looks_like_url: an empty value defaults to
// sqlite file state.sqlite under CASPARIAN_HOME; anything already carrying
// a recognized URL scheme passes through unchanged; anything else is
// treated as a bare sqlite path and prefixed with "sqlite:" as given.
func ResolveStateStoreURL(raw string) string {
	if raw == "" {
		return "sqlite:" + filepath.Join(Home(), "state.sqlite")
	}
	if looksLikeURL(raw) {
		return raw
	}
	return "sqlite:" + raw
}

func looksLikeURL(raw string) bool {
	prefixes := []string{"sqlite:", "postgres:", "postgresql:", "duckdb:", "sqlserver:"}
	for _, p := range prefixes {
		if len(raw) >= len(p) && raw[:len(p)] == p {
			return true
		}
	}
	return false
}
