package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeProviders()
	c.normalizeQueues()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkflowsFile) != "" {
		if c.Paths.WorkflowsFile, err = expandPath(c.Paths.WorkflowsFile); err != nil {
			return fmt.Errorf("paths.workflows_file: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	if value, ok := os.LookupEnv("CELLFLOW_REDIS_ADDR"); ok && strings.TrimSpace(value) != "" {
		c.Redis.Addr = strings.TrimSpace(value)
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.Redis.KeyPrefix = strings.TrimSpace(c.Redis.KeyPrefix)
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
	c.Postgres.DSN = strings.TrimSpace(c.Postgres.DSN)
	if c.Postgres.DSN == "" {
		if value, ok := os.LookupEnv("CELLFLOW_POSTGRES_DSN"); ok {
			c.Postgres.DSN = strings.TrimSpace(value)
		}
	}
	if c.Postgres.MaxConns <= 0 {
		c.Postgres.MaxConns = defaultPostgresMaxConns
	}
	c.Retry.BackoffType = strings.ToLower(strings.TrimSpace(c.Retry.BackoffType))
	if c.Retry.BackoffType == "" {
		c.Retry.BackoffType = defaultRetryBackoffType
	}
}

func (c *Config) normalizeProviders() {
	normalized := make(map[string]Provider, len(c.Providers)+len(providerEnvKeys))
	for name, provider := range c.Providers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		provider.APIKey = strings.TrimSpace(provider.APIKey)
		provider.BaseURL = strings.TrimSpace(provider.BaseURL)
		provider.Referer = strings.TrimSpace(provider.Referer)
		provider.Title = strings.TrimSpace(provider.Title)
		normalized[key] = provider
	}
	for name, envKey := range providerEnvKeys {
		provider := normalized[name]
		if provider.APIKey != "" {
			continue
		}
		if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
			provider.APIKey = strings.TrimSpace(value)
			normalized[name] = provider
		}
	}
	c.Providers = normalized
}

func (c *Config) normalizeQueues() {
	for i := range c.Queues {
		c.Queues[i].Provider = strings.ToLower(strings.TrimSpace(c.Queues[i].Provider))
		c.Queues[i].Model = strings.TrimSpace(c.Queues[i].Model)
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.Backend = strings.ToLower(strings.TrimSpace(c.Notifications.Backend))
	if c.Notifications.Backend == "" {
		c.Notifications.Backend = defaultNotifyBackend
	}
	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	c.Notifications.ChannelPrefix = strings.TrimSpace(c.Notifications.ChannelPrefix)
	if c.Notifications.ChannelPrefix == "" {
		c.Notifications.ChannelPrefix = defaultNotifyChannelPrefix
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text", "pretty":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
