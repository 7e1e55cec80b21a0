package testsupport

import (
	"path/filepath"
	"testing"

	"cellflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry backoff and polling are shortened so lifecycle tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Worker.PollIntervalMS = 10
	cfgVal.Worker.ErrorRetryInterval = 1
	cfgVal.Retry.BackoffMS = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithRetry overrides the retry policy.
func WithRetry(attempts, backoffMS int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry.Attempts = attempts
		b.cfg.Retry.BackoffMS = backoffMS
	}
}

// WithQueue adds a [[queues]] entry.
func WithQueue(provider, model string, concurrency, limiterMax, windowMS int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queues = append(b.cfg.Queues, config.Queue{
			Provider:        provider,
			Model:           model,
			Concurrency:     concurrency,
			LimiterMax:      limiterMax,
			LimiterWindowMS: windowMS,
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
