package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateQueues(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if c.Tools.FetchTimeout <= 0 {
		return errors.New("tools.fetch_timeout must be positive")
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "sqlite":
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr must be set when store.backend is redis")
		}
	default:
		return fmt.Errorf("store.backend: unsupported value %q (want sqlite or redis)", c.Store.Backend)
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must not be negative")
	}
	return nil
}

func (c *Config) validateWorker() error {
	return ensurePositiveMap(map[string]int{
		"worker.poll_interval_ms":     c.Worker.PollIntervalMS,
		"worker.error_retry_interval": c.Worker.ErrorRetryInterval,
		"worker.event_buffer":         c.Worker.EventBuffer,
		"worker.shutdown_timeout":     c.Worker.ShutdownTimeout,
		"row_queue.concurrency":       c.RowQueue.Concurrency,
	})
}

func (c *Config) validateRetry() error {
	if c.Retry.Attempts < 1 {
		return errors.New("retry.attempts must be at least 1")
	}
	switch c.Retry.BackoffType {
	case "exponential", "fixed":
	default:
		return fmt.Errorf("retry.backoff_type: unsupported value %q (want exponential or fixed)", c.Retry.BackoffType)
	}
	if c.Retry.BackoffMS < 0 {
		return errors.New("retry.backoff_ms must not be negative")
	}
	return nil
}

func (c *Config) validateQueues() error {
	seen := make(map[string]struct{}, len(c.Queues))
	for i, queue := range c.Queues {
		prefix := fmt.Sprintf("queues[%d]", i)
		if queue.Provider == "" {
			return fmt.Errorf("%s.provider must be set", prefix)
		}
		if queue.Model == "" {
			return fmt.Errorf("%s.model must be set", prefix)
		}
		key := queue.Provider + "/" + queue.Model
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%s: duplicate queue for %s", prefix, key)
		}
		seen[key] = struct{}{}
		if err := ensurePositiveMap(map[string]int{
			prefix + ".concurrency":       queue.Concurrency,
			prefix + ".limiter_max":       queue.LimiterMax,
			prefix + ".limiter_window_ms": queue.LimiterWindowMS,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	switch c.Notifications.Backend {
	case "noop", "log":
	case "webhook":
		if c.Notifications.WebhookURL == "" {
			return errors.New("notifications.webhook_url must be set when notifications.backend is webhook")
		}
	case "redis":
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("redis.addr must be set when notifications.backend is redis")
		}
	default:
		return fmt.Errorf("notifications.backend: unsupported value %q (want noop, log, webhook, or redis)", c.Notifications.Backend)
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
