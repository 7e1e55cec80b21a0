package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`

	// WorkflowsFile seeds the in-memory repository when no postgres DSN is set.
	WorkflowsFile string `toml:"workflows_file"`
}

// Store selects the durable job store backing the queues.
type Store struct {
	Backend string `toml:"backend"`
}

// Redis contains connection settings shared by the redis job store and the
// redis notification backend.
type Redis struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

// Postgres contains connection settings for the workflow repository.
type Postgres struct {
	DSN      string `toml:"dsn"`
	MaxConns int32  `toml:"max_conns"`
}

// Worker contains timing knobs for the queue worker pools.
type Worker struct {
	PollIntervalMS     int `toml:"poll_interval_ms"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	EventBuffer        int `toml:"event_buffer"`
	ShutdownTimeout    int `toml:"shutdown_timeout"`
}

// Retry is the default retry policy applied to every queue.
type Retry struct {
	Attempts    int    `toml:"attempts"`
	BackoffType string `toml:"backoff_type"`
	BackoffMS   int    `toml:"backoff_ms"`
}

// RowQueue configures the row-completion queue.
type RowQueue struct {
	Concurrency int `toml:"concurrency"`
}

// Queue overrides or extends the built-in (provider, model) queue table.
type Queue struct {
	Provider        string `toml:"provider"`
	Model           string `toml:"model"`
	Concurrency     int    `toml:"concurrency"`
	LimiterMax      int    `toml:"limiter_max"`
	LimiterWindowMS int    `toml:"limiter_window_ms"`
}

// Provider contains connection settings for one model provider.
type Provider struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications selects where cell and row events are delivered.
type Notifications struct {
	Backend        string `toml:"backend"`
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
	ChannelPrefix  string `toml:"channel_prefix"`
}

// Tools gates the built-in assistant tools that reach outside the process.
type Tools struct {
	// FetchURL registers fetch_url. Private, loopback, and link-local
	// targets stay blocked when enabled.
	FetchURL     bool `toml:"fetch_url"`
	FetchTimeout int  `toml:"fetch_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cellflow.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Store: job store backend (sqlite or redis)
//   - Redis: redis connection for the job store and pub/sub notifications
//   - Postgres: workflow repository connection
//   - Worker: polling and shutdown timing
//   - Retry: default attempts and backoff for every queue
//   - RowQueue / Queues: per-queue concurrency and rate limits
//   - Providers: model provider credentials keyed by provider name
//   - Notifications: event delivery backend
//   - Tools: built-in assistant tools
//   - Logging: log format and level
type Config struct {
	Paths         Paths               `toml:"paths"`
	Store         Store               `toml:"store"`
	Redis         Redis               `toml:"redis"`
	Postgres      Postgres            `toml:"postgres"`
	Worker        Worker              `toml:"worker"`
	Retry         Retry               `toml:"retry"`
	RowQueue      RowQueue            `toml:"row_queue"`
	Queues        []Queue             `toml:"queues"`
	Providers     map[string]Provider `toml:"providers"`
	Notifications Notifications       `toml:"notifications"`
	Tools         Tools               `toml:"tools"`
	Logging       Logging             `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cellflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite job store location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "cellflow.lock")
}

// ProviderSettings returns the connection settings for a provider name.
// Missing providers yield zero settings.
func (c *Config) ProviderSettings(name string) Provider {
	if c == nil || c.Providers == nil {
		return Provider{}
	}
	return c.Providers[strings.ToLower(strings.TrimSpace(name))]
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}
