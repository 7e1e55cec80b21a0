package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"cellflow/internal/config"
	"cellflow/internal/jobs"
	"cellflow/internal/logging"
	"cellflow/internal/registry"
)

const (
	defaultPollInterval       = 500 * time.Millisecond
	defaultErrorRetryInterval = 5 * time.Second
	defaultEventBuffer        = 256
)

// Manager coordinates one lane per registry queue.
type Manager struct {
	store    Store
	registry *registry.Registry
	logger   *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration

	handlers map[string]Handler
	lanes    []*laneState
	events   chan Event

	mu      sync.RWMutex
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithPollInterval sets how long an idle lane sleeps between claims.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithErrorRetryInterval sets the pause after a store error.
func WithErrorRetryInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.errorRetryInterval = d
		}
	}
}

// WithEventBuffer sizes the lifecycle event channel.
func WithEventBuffer(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.events = make(chan Event, n)
		}
	}
}

// OptionsFromConfig maps the [worker] section to manager options.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithPollInterval(time.Duration(cfg.Worker.PollIntervalMS) * time.Millisecond),
		WithErrorRetryInterval(time.Duration(cfg.Worker.ErrorRetryInterval) * time.Second),
		WithEventBuffer(cfg.Worker.EventBuffer),
	}
}

// NewManager builds a manager with a lane for every queue in reg, including
// the row queue.
func NewManager(store Store, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:              store,
		registry:           reg,
		logger:             logging.NewComponentLogger(logger, "worker"),
		pollInterval:       defaultPollInterval,
		errorRetryInterval: defaultErrorRetryInterval,
		handlers:           make(map[string]Handler),
		events:             make(chan Event, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, spec := range reg.All() {
		m.lanes = append(m.lanes, newLane(spec))
	}
	return m
}

func newLane(spec registry.QueueSpec) *laneState {
	concurrency := spec.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &laneState{
		spec:    spec,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		limiter: newLimiter(spec.Limiter),
		wake:    make(chan struct{}, 1),
	}
}

// newLimiter approximates "Max per Window" with a token bucket that holds Max
// tokens and refills Max tokens per Window.
func newLimiter(l registry.Limiter) *rate.Limiter {
	if l.Unlimited() {
		return rate.NewLimiter(rate.Inf, 0)
	}
	every := l.Window / time.Duration(l.Max)
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(every), l.Max)
}

// Register binds a handler to a queue name.
func (m *Manager) Register(queueName string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[queueName] = h
}

// RegisterModelHandler binds h to every model queue in the registry.
func (m *Manager) RegisterModelHandler(h Handler) {
	for _, spec := range m.registry.Queues() {
		m.Register(spec.Name, h)
	}
}

// RegisterRowHandler binds h to the row-completion queue.
func (m *Manager) RegisterRowHandler(h Handler) {
	m.Register(m.registry.RowQueue().Name, h)
}

// Events returns the lifecycle event stream. Consumers must drain it until it
// closes; terminal events are never dropped.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// AddBulk submits flows to the store and wakes the lanes. It makes the
// manager an in-process queue backend.
func (m *Manager) AddBulk(ctx context.Context, flows []jobs.Flow) ([]string, error) {
	ids, err := m.store.AddFlows(ctx, flows)
	if err != nil {
		return nil, err
	}
	m.wakeAll()
	return ids, nil
}

// Start recovers interrupted jobs and begins draining every lane.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("worker manager already running")
	}
	if m.stopped {
		m.mu.Unlock()
		return errors.New("worker manager cannot be restarted")
	}
	if len(m.lanes) == 0 {
		m.mu.Unlock()
		return errors.New("worker queues not configured")
	}
	m.mu.Unlock()

	recovered, err := m.store.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if recovered > 0 {
		m.logger.Info("requeued interrupted jobs",
			logging.Int64("count", recovered),
			logging.EventType("jobs_recovered"),
		)
	}

	m.mu.Lock()
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	for _, lane := range m.lanes {
		lane.logger = m.logger.With(logging.Queue(lane.spec.Name))
	}
	m.wg.Add(len(m.lanes))
	m.mu.Unlock()

	for _, lane := range m.lanes {
		go m.runLane(runCtx, lane)
	}
	m.logger.Info("worker manager started",
		logging.Int("lanes", len(m.lanes)),
		logging.EventType("worker_started"),
	)
	return nil
}

// Stop cancels the lanes, waits for in-flight jobs, and closes the event
// stream.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.stopped = true
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	close(m.events)
	m.logger.Info("worker manager stopped", logging.EventType("worker_stopped"))
}

// Running reports whether the lanes are active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastError returns the most recent store error seen by a lane.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) handlerFor(queueName string) Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[queueName]
}

func (m *Manager) wakeAll() {
	for _, lane := range m.lanes {
		lane.nudge()
	}
}

// emit publishes ev. Terminal events always block until delivered: Stop
// closes the stream only after in-flight jobs return, so a consumer that
// drains until close receives every completion and failure the store
// recorded. Active events may be dropped once shutdown begins.
func (m *Manager) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
		return
	default:
	}
	if ev.Type != EventActive {
		m.events <- ev
		return
	}
	select {
	case m.events <- ev:
	case <-ctx.Done():
		m.logger.Debug("dropping lifecycle event during shutdown",
			logging.JobID(ev.JobID),
			logging.String("event", string(ev.Type)),
		)
	}
}
