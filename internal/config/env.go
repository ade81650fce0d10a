package config

import (
	"os"
	"strconv"
	"time"

	"github.com/casparianflow/sentinel/internal/logger"
)

// GetEnv reads key from the environment, logging whether the default or an
// override was used. log may be nil.
func GetEnv(key, defaultVal string, log *logger.Logger) string {
	if log != nil {
		log = log.With("env_var", key)
	}
	val, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	if log != nil {
		log.Debug("environment variable found, using environment", "value", val)
	}
	return val
}

// GetEnvAsInt reads key as an int, falling back to defaultVal on absence or
// parse failure.
func GetEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	if log != nil {
		log = log.With("env_var", key)
	}
	valStr, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		if log != nil {
			log.Debug("environment variable could not be parsed as int, using default",
				"provided", valStr, "default", defaultVal, "error", err)
		}
		return defaultVal
	}
	return i
}

// GetEnvAsDuration reads key as a Go duration string (e.g. "30s"), falling
// back to defaultVal on absence or parse failure.
func GetEnvAsDuration(key string, defaultVal time.Duration, log *logger.Logger) time.Duration {
	if log != nil {
		log = log.With("env_var", key)
	}
	valStr, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	d, err := time.ParseDuration(valStr)
	if err != nil {
		if log != nil {
			log.Debug("environment variable could not be parsed as duration, using default",
				"provided", valStr, "default", defaultVal, "error", err)
		}
		return defaultVal
	}
	return d
}

// GetEnvAsBool reads key as a bool using strconv.ParseBool ("1", "t", "T",
// "TRUE", "true", "True" are true; "0", "f", "F", "FALSE", "false", "False"
// are false), falling back to defaultVal when key is unset or any other
// value is given.
func GetEnvAsBool(key string, defaultVal bool, log *logger.Logger) bool {
	if log != nil {
		log = log.With("env_var", key)
	}
	valStr, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	b, err := strconv.ParseBool(valStr)
	if err != nil {
		if log != nil {
			log.Debug("environment variable could not be parsed as bool, using default",
				"provided", valStr, "default", defaultVal, "error", err)
		}
		return defaultVal
	}
	return b
}
