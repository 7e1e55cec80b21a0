package config

const (
	defaultConfigPath          = "~/.config/cellflow/config.toml"
	defaultDataDir             = "~/.local/share/cellflow"
	defaultLogDir              = "~/.local/share/cellflow/logs"
	defaultStoreBackend        = "sqlite"
	defaultRedisAddr           = "127.0.0.1:6379"
	defaultRedisKeyPrefix      = "cellflow"
	defaultPostgresMaxConns    = 10
	defaultPollIntervalMS      = 500
	defaultErrorRetryInterval  = 5
	defaultEventBuffer         = 256
	defaultShutdownTimeout     = 30
	defaultRetryAttempts       = 3
	defaultRetryBackoffType    = "exponential"
	defaultRetryBackoffMS      = 1000
	defaultRowQueueConcurrency = 50
	defaultNotifyBackend       = "noop"
	defaultNotifyTimeout       = 10
	defaultNotifyChannelPrefix = "cellflow:room"
	defaultFetchTimeout        = 15
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// providerEnvKeys maps provider names to the environment variable consulted
// when no api_key is configured.
var providerEnvKeys = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"groq":       "GROQ_API_KEY",
	"mistral":    "MISTRAL_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Store: Store{
			Backend: defaultStoreBackend,
		},
		Redis: Redis{
			Addr:      defaultRedisAddr,
			KeyPrefix: defaultRedisKeyPrefix,
		},
		Postgres: Postgres{
			MaxConns: defaultPostgresMaxConns,
		},
		Worker: Worker{
			PollIntervalMS:     defaultPollIntervalMS,
			ErrorRetryInterval: defaultErrorRetryInterval,
			EventBuffer:        defaultEventBuffer,
			ShutdownTimeout:    defaultShutdownTimeout,
		},
		Retry: Retry{
			Attempts:    defaultRetryAttempts,
			BackoffType: defaultRetryBackoffType,
			BackoffMS:   defaultRetryBackoffMS,
		},
		RowQueue: RowQueue{
			Concurrency: defaultRowQueueConcurrency,
		},
		Providers: map[string]Provider{},
		Notifications: Notifications{
			Backend:        defaultNotifyBackend,
			RequestTimeout: defaultNotifyTimeout,
			ChannelPrefix:  defaultNotifyChannelPrefix,
		},
		Tools: Tools{
			FetchTimeout: defaultFetchTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
