package config

import (
	"os"
	"path/filepath"
)

// Home returns CASPARIAN_HOME, defaulting to ~/.casparian_flow.
func Home() string {
	if override := os.Getenv("CASPARIAN_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".casparian_flow")
}

// EnsureHome creates CASPARIAN_HOME (and a logs/ subdirectory) if missing.
func EnsureHome() (string, error) {
	home := Home()
	if err := os.MkdirAll(filepath.Join(home, "logs"), 0o755); err != nil {
		return "", err
	}
	return home, nil
}
