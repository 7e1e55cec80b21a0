package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-redis/redis/v8"

	"cellflow/internal/config"
	"cellflow/internal/graph"
	"cellflow/internal/jobs"
	"cellflow/internal/logging"
	"cellflow/internal/notifications"
	"cellflow/internal/queue"
	"cellflow/internal/queue/redisq"
	"cellflow/internal/registry"
	"cellflow/internal/repository"
	"cellflow/internal/scheduler"
	"cellflow/internal/worker"
	"cellflow/internal/workflow"
)

// JobStore is the durable job backend plus the maintenance surface the CLI
// reads. Both queue.Store and redisq.Store satisfy it.
type JobStore interface {
	worker.Store
	List(ctx context.Context, filter queue.ListFilter) ([]*queue.Job, error)
	Stats(ctx context.Context) (map[string]queue.Counts, error)
	Clear(ctx context.Context, statuses ...queue.Status) (int64, error)
	Close() error
}

var (
	_ JobStore = (*queue.Store)(nil)
	_ JobStore = (*redisq.Store)(nil)
)

// Services bundles the collaborators shared by the daemon and one-shot
// commands.
type Services struct {
	Config   *config.Config
	Store    JobStore
	Repo     workflow.Repository
	Registry *registry.Registry
	Compiler *graph.Compiler
	Notifier notifications.Notifier

	logger  *slog.Logger
	closers []func() error
}

// Open builds the collaborators selected by cfg. Callers must Close the
// result.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	svc := &Services{Config: cfg, logger: logger}

	reg, err := registry.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build queue registry: %w", err)
	}
	svc.Registry = reg
	svc.Compiler = graph.NewCompiler(reg, logger)

	var client *redis.Client
	if needsRedis(cfg) {
		client, err = redisq.Dial(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, client.Close)
	}

	if err := svc.openStore(cfg, client); err != nil {
		_ = svc.Close()
		return nil, err
	}
	if err := svc.openRepository(ctx, cfg); err != nil {
		_ = svc.Close()
		return nil, err
	}

	notifier, err := notifications.NewFromConfig(cfg, client, logger)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("build notifier: %w", err)
	}
	svc.Notifier = notifier
	return svc, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Store.Backend == "redis" || cfg.Notifications.Backend == "redis"
}

func (s *Services) openStore(cfg *config.Config, client *redis.Client) error {
	switch cfg.Store.Backend {
	case "", "sqlite":
		store, err := queue.Open(cfg)
		if err != nil {
			return fmt.Errorf("open job store: %w", err)
		}
		s.Store = store
	case "redis":
		// The client is closed through the redis closer, not the store.
		s.Store = redisq.New(client, cfg.Redis.KeyPrefix)
		return nil
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
	s.closers = append(s.closers, s.Store.Close)
	return nil
}

func (s *Services) openRepository(ctx context.Context, cfg *config.Config) error {
	if dsn := strings.TrimSpace(cfg.Postgres.DSN); dsn != "" {
		pg, err := repository.OpenPostgres(ctx, dsn, cfg.Postgres.MaxConns)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, func() error {
			pg.Close()
			return nil
		})
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		s.Repo = pg
		return nil
	}

	if path := strings.TrimSpace(cfg.Paths.WorkflowsFile); path != "" {
		mem, err := repository.LoadMemoryJSON(path)
		if err != nil {
			return err
		}
		s.logger.Info("loaded workflows file",
			logging.String("path", path),
			logging.Int("workflows", len(mem.Workflows())),
		)
		s.Repo = mem
		return nil
	}

	mem, err := repository.NewMemory()
	if err != nil {
		return err
	}
	s.logger.Warn("no workflow repository configured; using an empty in-memory repository",
		logging.EventType("repository_empty"),
		logging.String(logging.FieldErrorHint, "set postgres.dsn or paths.workflows_file"),
	)
	s.Repo = mem
	return nil
}

// Scheduler returns a scheduler that submits through backend.
func (s *Services) Scheduler(backend scheduler.Backend) *scheduler.Scheduler {
	return scheduler.New(s.Repo, s.Compiler, backend, s.logger)
}

// StoreBackend submits flows straight to a job store. A running daemon picks
// them up on its next poll.
func StoreBackend(store worker.Store) scheduler.Backend {
	return storeBackend{store: store}
}

type storeBackend struct {
	store worker.Store
}

func (b storeBackend) AddBulk(ctx context.Context, flows []jobs.Flow) ([]string, error) {
	return b.store.AddFlows(ctx, flows)
}

// Close releases every opened resource in reverse order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
