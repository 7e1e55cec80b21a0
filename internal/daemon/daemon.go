package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"cellflow/internal/llm"
	"cellflow/internal/logging"
	"cellflow/internal/processor"
	"cellflow/internal/queue"
	"cellflow/internal/scheduler"
	"cellflow/internal/status"
	"cellflow/internal/worker"
)

const defaultShutdownTimeout = 30 * time.Second

// Daemon runs the worker pools and status propagation and enforces
// single-instance execution.
type Daemon struct {
	svc        *Services
	logger     *slog.Logger
	manager    *worker.Manager
	propagator *status.Propagator
	scheduler  *scheduler.Scheduler

	lockPath string
	lock     *flock.Flock

	running     atomic.Bool
	cancel      context.CancelFunc
	propagating sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	StoreBackend string
	Queues       map[string]queue.Counts
	LastError    error
	LockFilePath string
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	models processor.Models
	tools  *llm.Toolset
}

// WithModels replaces the config-driven model factory.
func WithModels(models processor.Models) Option {
	return func(o *options) { o.models = models }
}

// WithTools replaces the built-in toolset.
func WithTools(tools *llm.Toolset) Option {
	return func(o *options) { o.tools = tools }
}

// New layers the worker manager, processor, and propagator over svc.
func New(svc *Services, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if svc == nil || svc.Config == nil || svc.Store == nil || svc.Repo == nil {
		return nil, errors.New("daemon requires config, job store, and repository")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.models == nil {
		o.models = llm.NewFactoryFromConfig(svc.Config)
	}
	if o.tools == nil {
		o.tools = llm.NewToolset(llm.BuiltinTools(llm.ToolOptionsFromConfig(svc.Config))...)
	}

	manager := worker.NewManager(svc.Store, svc.Registry, logger, worker.OptionsFromConfig(svc.Config)...)
	manager.RegisterModelHandler(processor.New(svc.Repo, o.models, o.tools, logger))
	manager.RegisterRowHandler(status.NewRowHandler(svc.Notifier, logger))

	lockPath := svc.Config.LockPath()
	return &Daemon{
		svc:        svc,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		manager:    manager,
		propagator: status.NewPropagator(svc.Repo, svc.Notifier, logger),
		scheduler:  svc.Scheduler(manager),
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, launches the worker pools, and begins
// propagating their events.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.svc.Config.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cellflow daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start workers: %w", err)
	}
	d.cancel = cancel

	// The propagator drains until the manager closes the event stream, so
	// terminal events from in-flight jobs still reach observers on shutdown.
	d.propagating.Add(1)
	go func() {
		defer d.propagating.Done()
		d.propagator.Run(context.WithoutCancel(runCtx), d.manager.Events())
	}()

	d.running.Store(true)
	d.logger.Info("cellflow daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store", d.svc.Config.Store.Backend),
		logging.Int("queues", len(d.svc.Registry.All())),
		logging.EventType("daemon_started"),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. In-flight
// jobs get the configured shutdown timeout to finish.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	timeout := time.Duration(d.svc.Config.Worker.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	done := make(chan struct{})
	go func() {
		d.manager.Stop()
		d.propagating.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logging.WarnWithContext(d.logger, "shutdown timed out waiting for in-flight jobs", "daemon_shutdown_timeout",
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldImpact, "jobs left active are requeued on next start"),
		)
	}

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("cellflow daemon stopped", logging.EventType("daemon_stopped"))
}

// Close stops the daemon and releases the shared collaborators.
func (d *Daemon) Close() error {
	d.Stop()
	return d.svc.Close()
}

// Scheduler returns the scheduler bound to the in-process worker manager.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.scheduler
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		StoreBackend: d.svc.Config.Store.Backend,
		LastError:    d.manager.LastError(),
		LockFilePath: d.lockPath,
	}
	counts, err := d.svc.Store.Stats(ctx)
	if err != nil {
		d.logger.Warn("queue stats unavailable", logging.Error(err))
		return st
	}
	st.Queues = counts
	return st
}
