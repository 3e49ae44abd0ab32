// Package config handles recorder configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	apperrors "github.com/ai-and-i/recorder/internal/errors"
)

// Config holds daemon and CLI settings. Values come from defaults, then the
// optional TOML file, then the environment.
type Config struct {
	HTTPAddr      string `toml:"http_addr"`
	HealthAddr    string `toml:"health_addr"`
	RecordingsDir string `toml:"recordings_dir"`
	CatalogPath   string `toml:"catalog_path"`
	LogLevel      string `toml:"log_level"`

	SampleRate     int     `toml:"sample_rate"`
	Channels       int     `toml:"channels"`
	SegmentSeconds float64 `toml:"segment_seconds"`

	HealthCheckInterval time.Duration `toml:"health_check_interval"`
	RecoveryAttempts    int           `toml:"recovery_attempts"`
	RecoveryCooldown    time.Duration `toml:"recovery_cooldown"`
	SwapDebounce        time.Duration `toml:"swap_debounce"`
	SwapRateLimit       int           `toml:"swap_rate_limit"`
	SwapRateWindow      time.Duration `toml:"swap_rate_window"`
	MicAcquireRetries   int           `toml:"mic_acquire_retries"`

	RequireMic           bool     `toml:"require_mic"`
	RequireSystem        bool     `toml:"require_system"`
	SystemDeviceKeywords []string `toml:"system_device_keywords"`
	ExcludedAudioDevices []string `toml:"excluded_audio_devices"`

	GapTolerance      float64 `toml:"gap_tolerance"`      // seconds
	CoverageTolerance float64 `toml:"coverage_tolerance"` // seconds

	FFmpegPath         string        `toml:"ffmpeg_path"`
	AutoMix            bool          `toml:"auto_mix"`
	EventBuffer        int           `toml:"event_buffer"`
	CheckpointInterval time.Duration `toml:"checkpoint_interval"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		HTTPAddr:             ":8000",
		HealthAddr:           ":8001",
		RecordingsDir:        defaultRecordingsDir(),
		LogLevel:             "info",
		SampleRate:           48000,
		Channels:             1,
		SegmentSeconds:       60,
		HealthCheckInterval:  2 * time.Second,
		RecoveryAttempts:     3,
		RecoveryCooldown:     5 * time.Second,
		SwapDebounce:         time.Second,
		SwapRateLimit:        3,
		SwapRateWindow:       10 * time.Second,
		MicAcquireRetries:    3,
		RequireSystem:        true,
		SystemDeviceKeywords: []string{"blackhole", "loopback", "soundflower", "monitor of"},
		ExcludedAudioDevices: []string{"iphone", "teams"},
		GapTolerance:         1.0,
		CoverageTolerance:    0.5,
		FFmpegPath:           "ffmpeg",
		AutoMix:              true,
		EventBuffer:          64,
		CheckpointInterval:   5 * time.Second,
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := configFilePath(); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.CodeConfigInvalid, "decode %s", path)
		}
	}
	applyEnvOverrides(cfg)
	cfg.RecordingsDir = expandTilde(cfg.RecordingsDir)
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = filepath.Join(cfg.RecordingsDir, "recordings.sqlite")
	}
	cfg.CatalogPath = expandTilde(cfg.CatalogPath)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the recorder cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "sample_rate must be positive, got %d", c.SampleRate)
	case c.Channels <= 0:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "channels must be positive, got %d", c.Channels)
	case c.SegmentSeconds <= 0:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "segment_seconds must be positive, got %v", c.SegmentSeconds)
	case c.HealthCheckInterval <= 0:
		return apperrors.New(apperrors.CodeConfigInvalid, "health_check_interval must be positive")
	case c.RecoveryAttempts < 0:
		return apperrors.New(apperrors.CodeConfigInvalid, "recovery_attempts must not be negative")
	case c.GapTolerance < 0 || c.CoverageTolerance < 0:
		return apperrors.New(apperrors.CodeConfigInvalid, "tolerances must not be negative")
	case c.RecordingsDir == "":
		return apperrors.New(apperrors.CodeConfigInvalid, "recordings_dir is required")
	}
	return nil
}

// SegmentDuration converts SegmentSeconds.
func (c *Config) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentSeconds * float64(time.Second))
}

func applyEnvOverrides(c *Config) {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.HealthAddr = getEnv("HEALTH_ADDR", c.HealthAddr)
	c.RecordingsDir = getEnv("RECORDINGS_DIR", c.RecordingsDir)
	c.CatalogPath = getEnv("CATALOG_PATH", c.CatalogPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.Channels = getEnvInt("CHANNELS", c.Channels)
	c.SegmentSeconds = getEnvFloat("SEGMENT_SECONDS", c.SegmentSeconds)
	c.HealthCheckInterval = getEnvDuration("HEALTH_CHECK_INTERVAL", c.HealthCheckInterval)
	c.RecoveryAttempts = getEnvInt("RECOVERY_ATTEMPTS", c.RecoveryAttempts)
	c.RecoveryCooldown = getEnvDuration("RECOVERY_COOLDOWN", c.RecoveryCooldown)
	c.SwapDebounce = getEnvDuration("SWAP_DEBOUNCE", c.SwapDebounce)
	c.SwapRateLimit = getEnvInt("SWAP_RATE_LIMIT", c.SwapRateLimit)
	c.SwapRateWindow = getEnvDuration("SWAP_RATE_WINDOW", c.SwapRateWindow)
	c.MicAcquireRetries = getEnvInt("MIC_ACQUIRE_RETRIES", c.MicAcquireRetries)
	c.RequireMic = getEnvBool("REQUIRE_MIC", c.RequireMic)
	c.RequireSystem = getEnvBool("REQUIRE_SYSTEM", c.RequireSystem)
	c.SystemDeviceKeywords = getEnvList("SYSTEM_DEVICE_KEYWORDS", c.SystemDeviceKeywords)
	c.ExcludedAudioDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", c.ExcludedAudioDevices)
	c.GapTolerance = getEnvFloat("GAP_TOLERANCE", c.GapTolerance)
	c.CoverageTolerance = getEnvFloat("COVERAGE_TOLERANCE", c.CoverageTolerance)
	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.AutoMix = getEnvBool("AUTO_MIX", c.AutoMix)
	c.EventBuffer = getEnvInt("EVENT_BUFFER", c.EventBuffer)
	c.CheckpointInterval = getEnvDuration("CHECKPOINT_INTERVAL", c.CheckpointInterval)
}

// configFilePath returns AIANDI_CONFIG, or the user config file if present.
func configFilePath() string {
	if p := os.Getenv("AIANDI_CONFIG"); p != "" {
		return expandTilde(p)
	}
	var dir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dir = filepath.Join(xdg, "aiandi")
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", "aiandi")
	} else {
		return ""
	}
	path := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func defaultRecordingsDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Recordings", "ai-and-i")
	}
	return "recordings"
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
