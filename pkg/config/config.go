package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"snapmem/pkg/ratelimit"
)

const (
	ModeFull = "full"
	ModeTest = "test"

	// MinRequestSpacing is the floor for the gap between request starts in
	// sequential mode.
	MinRequestSpacing = ratelimit.SequentialSpacing
)

// Config holds all configuration options for a memories run
type Config struct {
	Input InputConfig `yaml:"input" json:"input"`

	Output OutputConfig `yaml:"output" json:"output"`

	Download DownloadConfig `yaml:"download" json:"download"`

	Retry RetryConfig `yaml:"retry" json:"retry"`

	// External composition tools
	Compositor CompositorConfig `yaml:"compositor" json:"compositor"`

	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// InputConfig selects the export document and how much of it to process
type InputConfig struct {
	HTMLPath string `yaml:"html_path" json:"html_path"`
	Mode     string `yaml:"mode" json:"mode"`
	// Limit caps the number of entries; it wins over test mode. 0 means no cap.
	Limit int `yaml:"limit" json:"limit"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	ProcessedDir string `yaml:"processed_dir" json:"processed_dir"`
	RawDir       string `yaml:"raw_dir" json:"raw_dir"`
	// RawBucketURL overrides RawDir with any gocloud blob URL.
	RawBucketURL       string `yaml:"raw_bucket_url" json:"raw_bucket_url"`
	LedgerIndex        string `yaml:"ledger_index" json:"ledger_index"`
	PreserveTimestamps bool   `yaml:"preserve_timestamps" json:"preserve_timestamps"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Workers        int           `yaml:"workers" json:"workers"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	RequestSpacing time.Duration `yaml:"request_spacing" json:"request_spacing"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
}

// RetryConfig holds the retry budget and backoff shape
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`
	JitterFactor float64       `yaml:"jitter_factor" json:"jitter_factor"`
}

type CompositorConfig struct {
	FFmpegPath     string        `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath    string        `yaml:"ffprobe_path" json:"ffprobe_path"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	MinOutputBytes int64         `yaml:"min_output_bytes" json:"min_output_bytes"`
	JPEGQuality    int           `yaml:"jpeg_quality" json:"jpeg_quality"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled          bool   `yaml:"enabled" json:"enabled"`
	OnComplete       bool   `yaml:"on_complete" json:"on_complete"`
	OnError          bool   `yaml:"on_error" json:"on_error"`
	NotificationType string `yaml:"notification_type" json:"notification_type"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Input: InputConfig{
			HTMLPath: "./html/memories_history.html",
			Mode:     ModeFull,
		},
		Output: OutputConfig{
			ProcessedDir:       "snapchat_memories_processed",
			RawDir:             "snapchat_memories_raw",
			PreserveTimestamps: true,
		},
		Download: DownloadConfig{
			Workers:        1,
			Timeout:        30 * time.Second,
			RequestSpacing: MinRequestSpacing,
			UserAgent:      "snapmem/1.0",
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			BaseDelay:    time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		Compositor: CompositorConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			Timeout:        5 * time.Minute,
			MinOutputBytes: 10000,
			JPEGQuality:    95,
		},
		Notifications: NotificationConfig{
			Enabled:          false,
			OnComplete:       true,
			OnError:          true,
			NotificationType: "terminal",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LedgerIndexPath returns the SQLite index location, defaulting to a hidden
// file inside the processed directory.
func (c *Config) LedgerIndexPath() string {
	if c.Output.LedgerIndex != "" {
		return c.Output.LedgerIndex
	}
	return filepath.Join(c.Output.ProcessedDir, ".snapmem-ledger.db")
}

// LoadFromEnv loads configuration from SNAPMEM_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := os.Getenv("SNAPMEM_HTML"); v != "" {
		c.Input.HTMLPath = v
	}
	if v := os.Getenv("SNAPMEM_MODE"); v != "" {
		c.Input.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("SNAPMEM_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SNAPMEM_LIMIT: %w", err))
		} else {
			c.Input.Limit = n
		}
	}

	if v := os.Getenv("SNAPMEM_PROCESSED_DIR"); v != "" {
		c.Output.ProcessedDir = v
	}
	if v := os.Getenv("SNAPMEM_RAW_DIR"); v != "" {
		c.Output.RawDir = v
	}
	if v := os.Getenv("SNAPMEM_RAW_BUCKET"); v != "" {
		c.Output.RawBucketURL = v
	}

	if v := os.Getenv("SNAPMEM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SNAPMEM_WORKERS: %w", err))
		} else {
			c.Download.Workers = n
		}
	}
	if v := os.Getenv("SNAPMEM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SNAPMEM_TIMEOUT: %w", err))
		} else {
			c.Download.Timeout = d
		}
	}
	if v := os.Getenv("SNAPMEM_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SNAPMEM_RETRIES: %w", err))
		} else {
			c.Retry.MaxRetries = n
		}
	}

	if v := os.Getenv("SNAPMEM_FFMPEG"); v != "" {
		c.Compositor.FFmpegPath = v
	}
	if v := os.Getenv("SNAPMEM_FFPROBE"); v != "" {
		c.Compositor.FFprobePath = v
	}

	if v := os.Getenv("SNAPMEM_NOTIFICATIONS_ENABLED"); v != "" {
		c.Notifications.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("SNAPMEM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SNAPMEM_LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".snapmem.yaml",
		".snapmem.yml",
		filepath.Join(home, ".config", "snapmem", "config.yaml"),
		filepath.Join(home, ".config", "snapmem", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Input.HTMLPath == "" {
		errs = append(errs, errors.New("html export path is required"))
	}
	if c.Input.Mode != ModeFull && c.Input.Mode != ModeTest {
		errs = append(errs, fmt.Errorf("mode must be %q or %q", ModeFull, ModeTest))
	}
	if c.Input.Limit < 0 {
		errs = append(errs, errors.New("limit cannot be negative"))
	}

	if c.Output.ProcessedDir == "" {
		errs = append(errs, errors.New("processed directory is required"))
	}
	if c.Output.RawDir == "" && c.Output.RawBucketURL == "" {
		errs = append(errs, errors.New("raw directory or raw bucket URL is required"))
	}
	if c.Output.ProcessedDir != "" && filepath.Clean(c.Output.ProcessedDir) == filepath.Clean(c.Output.RawDir) {
		errs = append(errs, errors.New("processed and raw directories must differ"))
	}

	if c.Download.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.RequestSpacing < MinRequestSpacing {
		errs = append(errs, fmt.Errorf("request spacing must be at least %s", MinRequestSpacing))
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry delays must satisfy 0 <= base_delay <= max_delay"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry jitter factor must be between 0 and 1"))
	}

	if c.Compositor.FFmpegPath == "" || c.Compositor.FFprobePath == "" {
		errs = append(errs, errors.New("ffmpeg and ffprobe paths are required"))
	}
	if c.Compositor.Timeout <= 0 {
		errs = append(errs, errors.New("compositor timeout must be positive"))
	}
	if c.Compositor.JPEGQuality < 1 || c.Compositor.JPEGQuality > 100 {
		errs = append(errs, errors.New("jpeg quality must be between 1 and 100"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	validNotifTypes := map[string]bool{
		"terminal": true, "desktop": true, "none": true,
	}
	if !validNotifTypes[strings.ToLower(c.Notifications.NotificationType)] {
		errs = append(errs, errors.New("invalid notification type"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges explicitly set command line flags into the
// configuration. Keys are flag names.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["html"].(string); ok && v != "" {
		c.Input.HTMLPath = v
	}
	if v, ok := flags["test"].(bool); ok && v {
		c.Input.Mode = ModeTest
	}
	if v, ok := flags["limit"].(int); ok && v > 0 {
		c.Input.Limit = v
	}
	if v, ok := flags["processed"].(string); ok && v != "" {
		c.Output.ProcessedDir = v
	}
	if v, ok := flags["raw"].(string); ok && v != "" {
		c.Output.RawDir = v
	}
	if v, ok := flags["workers"].(int); ok {
		c.Download.Workers = v
	}
	if v, ok := flags["retries"].(int); ok {
		c.Retry.MaxRetries = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["notify"].(bool); ok && v {
		c.Notifications.Enabled = true
		c.Notifications.NotificationType = "desktop"
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".snapmem.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
