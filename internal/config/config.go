/*
 * This file is part of Aegis (https://github.com/aegislabs/aegis).
 * Copyright (C) 2025 Aegis Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Aegis hub process.
// The monitored Config document (thresholds, keyword lists) is a separate
// JSON file owned by internal/configstore; this struct only covers how the
// hub itself runs.
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Detect  DetectConfig
	Whisper WhisperConfig
	Storage StorageConfig
	NATS    NATSConfig
	Notify  NotifyConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogRingSize  int
}

// BackendConfig holds inference backend process configuration
type BackendConfig struct {
	Command     string        // executable to spawn
	Args        []string      // arguments, space separated in the env var
	WorkDir     string        // working directory for the child
	StopTimeout time.Duration // grace period before the child is killed

	// Restart policy for unexpected exits
	RestartEnabled bool
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxRestarts    int           // consecutive failures before giving up
	StableUptime   time.Duration // uptime after which the backoff resets
}

// DetectConfig holds detection endpoint and poll loop configuration
type DetectConfig struct {
	URL            string        // POST endpoint accepting {image_base64}
	HealthURL      string        // liveness endpoint, any 200 is healthy
	PollInterval   time.Duration // frame poll cadence
	HealthInterval time.Duration // liveness poll cadence
	RequestTimeout time.Duration
	SnapshotDir    string // directory the backend writes frames into
	PersonAlertMin int    // person count that raises a multi_person incident
	AlertCooldown  time.Duration
}

// WhisperConfig holds local transcription configuration. Transcription
// of backend audio clips is only active in builds with the whisper tag.
type WhisperConfig struct {
	ModelPath  string // GGML model file for whisper.cpp
	SampleRate int    // assumed rate for clips that do not carry one
}

// StorageConfig holds file and database paths
type StorageConfig struct {
	ConfigPath    string // monitored JSON config document
	IncidentsPath string // backend-written JSON incident array
	DBPath        string // sqlite archive
	RetentionDays int    // archived rows older than this are purged
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	URL           string // empty disables publishing
	SubjectPrefix string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// NotifyConfig holds desktop notification configuration
type NotifyConfig struct {
	Enabled  bool
	Cooldown time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("AEGIS_HOST", "127.0.0.1"),
			Port:         getEnvInt("AEGIS_PORT", 8090),
			ReadTimeout:  getEnvDuration("AEGIS_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("AEGIS_WRITE_TIMEOUT", 30*time.Second),
			LogRingSize:  getEnvInt("AEGIS_LOG_RING_SIZE", 500),
		},
		Backend: BackendConfig{
			Command:        getEnvString("AEGIS_BACKEND_CMD", "python3"),
			Args:           getEnvArgs("AEGIS_BACKEND_ARGS", []string{"backend/app.py"}),
			WorkDir:        getEnvString("AEGIS_BACKEND_DIR", "."),
			StopTimeout:    getEnvDuration("AEGIS_BACKEND_STOP_TIMEOUT", 5*time.Second),
			RestartEnabled: getEnvBool("AEGIS_BACKEND_RESTART", true),
			BackoffInitial: getEnvDuration("AEGIS_BACKEND_BACKOFF", 1*time.Second),
			BackoffMax:     getEnvDuration("AEGIS_BACKEND_BACKOFF_MAX", 30*time.Second),
			MaxRestarts:    getEnvInt("AEGIS_BACKEND_MAX_RESTARTS", 5),
			StableUptime:   getEnvDuration("AEGIS_BACKEND_STABLE_UPTIME", 60*time.Second),
		},
		Detect: DetectConfig{
			URL:            getEnvString("AEGIS_DETECT_URL", "http://localhost:8000/detect"),
			HealthURL:      getEnvString("AEGIS_DETECT_HEALTH_URL", "http://localhost:8000/docs"),
			PollInterval:   getEnvDuration("AEGIS_DETECT_POLL_INTERVAL", 600*time.Millisecond),
			HealthInterval: getEnvDuration("AEGIS_HEALTH_POLL_INTERVAL", 2*time.Second),
			RequestTimeout: getEnvDuration("AEGIS_DETECT_TIMEOUT", 5*time.Second),
			SnapshotDir:    getEnvString("AEGIS_SNAPSHOT_DIR", "./data/frames"),
			PersonAlertMin: getEnvInt("AEGIS_PERSON_ALERT_MIN", 2),
			AlertCooldown:  getEnvDuration("AEGIS_ALERT_COOLDOWN", 10*time.Second),
		},
		Whisper: WhisperConfig{
			ModelPath:  getEnvString("AEGIS_WHISPER_MODEL", "./models/ggml-tiny.en.bin"),
			SampleRate: getEnvInt("AEGIS_WHISPER_SAMPLE_RATE", 16000),
		},
		Storage: StorageConfig{
			ConfigPath:    getEnvString("AEGIS_CONFIG_PATH", "./data/config.json"),
			IncidentsPath: getEnvString("AEGIS_INCIDENTS_PATH", "./data/incidents.json"),
			DBPath:        getEnvString("AEGIS_DB_PATH", "./data/aegis-hub.db"),
			RetentionDays: getEnvInt("AEGIS_RETENTION_DAYS", 30),
		},
		NATS: NATSConfig{
			URL:           getEnvString("NATS_URL", ""),
			SubjectPrefix: getEnvString("NATS_SUBJECT_PREFIX", "aegis"),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
		Notify: NotifyConfig{
			Enabled:  getEnvBool("AEGIS_NOTIFY", false),
			Cooldown: getEnvDuration("AEGIS_NOTIFY_COOLDOWN", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "console"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Backend.Command == "" {
		return fmt.Errorf("backend command must be provided")
	}

	if c.Backend.BackoffInitial <= 0 {
		return fmt.Errorf("backend backoff must be positive: %v", c.Backend.BackoffInitial)
	}

	if c.Backend.BackoffMax < c.Backend.BackoffInitial {
		return fmt.Errorf("backend backoff max %v below initial %v",
			c.Backend.BackoffMax, c.Backend.BackoffInitial)
	}

	if c.Detect.URL == "" {
		return fmt.Errorf("detect URL must be provided")
	}

	if c.Detect.HealthURL == "" {
		return fmt.Errorf("detect health URL must be provided")
	}

	if c.Detect.PollInterval <= 0 {
		return fmt.Errorf("detect poll interval must be positive: %v", c.Detect.PollInterval)
	}

	if c.Detect.HealthInterval <= 0 {
		return fmt.Errorf("health poll interval must be positive: %v", c.Detect.HealthInterval)
	}

	if c.Storage.ConfigPath == "" {
		return fmt.Errorf("config document path must be provided")
	}

	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative: %d", c.Storage.RetentionDays)
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvArgs(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Fields(value)
	}
	return defaultValue
}
