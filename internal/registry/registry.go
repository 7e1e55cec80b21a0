// Package registry declares one queue per (provider, model) pair together
// with its concurrency, rate limit and retry policy.
//
// A Registry is built once at process start and handed to the compiler (to
// route jobs) and the worker manager (to size pools). It is immutable after
// construction.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cellflow/internal/config"
	"cellflow/internal/jobs"
	"cellflow/internal/llm"
)

// RowQueueName is the dedicated queue for row-completion jobs.
const RowQueueName = "row-completed"

const defaultRowConcurrency = 50

var (
	// ErrDuplicateQueue reports two specs for the same (provider, model).
	ErrDuplicateQueue = errors.New("duplicate queue")
	// ErrInvalidQueue reports a spec with non-positive limits.
	ErrInvalidQueue = errors.New("invalid queue")
)

// Limiter allows Max jobs per Window.
type Limiter struct {
	Max    int
	Window time.Duration
}

// Unlimited reports whether the limiter imposes no rate limit.
func (l Limiter) Unlimited() bool {
	return l.Max <= 0 || l.Window <= 0
}

// QueueSpec declares one worker queue.
type QueueSpec struct {
	Name        string
	Provider    llm.Provider
	Model       string
	Concurrency int
	Limiter     Limiter
	Retry       jobs.Options
}

type routeKey struct {
	provider llm.Provider
	model    string
}

// Registry is the typed queue table.
type Registry struct {
	specs  []QueueSpec
	routes map[routeKey]int
	names  map[string]int
	row    QueueSpec
}

// Option customizes registry construction.
type Option func(*Registry)

// WithRetry applies a retry policy to every queue.
func WithRetry(opts jobs.Options) Option {
	return func(r *Registry) {
		for i := range r.specs {
			r.specs[i].Retry = opts
		}
		r.row.Retry = opts
	}
}

// WithRowConcurrency sizes the row-completion pool.
func WithRowConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.row.Concurrency = n
		}
	}
}

// QueueName derives the deterministic queue name for a (provider, model).
func QueueName(provider llm.Provider, model string) string {
	raw := strings.ToLower(string(provider) + "-" + strings.TrimSpace(model))
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// New validates specs and builds a registry. Names are derived when empty and
// retry policies default to jobs.DefaultOptions.
func New(specs []QueueSpec, opts ...Option) (*Registry, error) {
	r := &Registry{
		specs:  make([]QueueSpec, 0, len(specs)),
		routes: make(map[routeKey]int, len(specs)),
		names:  make(map[string]int, len(specs)),
		row: QueueSpec{
			Name:        RowQueueName,
			Concurrency: defaultRowConcurrency,
			Retry:       jobs.DefaultOptions(),
		},
	}
	for _, spec := range specs {
		spec.Model = strings.TrimSpace(spec.Model)
		if spec.Provider == "" || spec.Model == "" {
			return nil, fmt.Errorf("%w: provider and model required (%q/%q)", ErrInvalidQueue, spec.Provider, spec.Model)
		}
		if spec.Name == "" {
			spec.Name = QueueName(spec.Provider, spec.Model)
		}
		if spec.Concurrency <= 0 {
			return nil, fmt.Errorf("%w: %s concurrency must be positive", ErrInvalidQueue, spec.Name)
		}
		if spec.Limiter.Max <= 0 || spec.Limiter.Window <= 0 {
			return nil, fmt.Errorf("%w: %s limiter must be positive", ErrInvalidQueue, spec.Name)
		}
		if spec.Retry.Attempts <= 0 {
			spec.Retry = jobs.DefaultOptions()
		}
		key := routeKey{provider: spec.Provider, model: spec.Model}
		if _, ok := r.routes[key]; ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateQueue, spec.Provider, spec.Model)
		}
		if _, ok := r.names[spec.Name]; ok || spec.Name == RowQueueName {
			return nil, fmt.Errorf("%w: name %s", ErrDuplicateQueue, spec.Name)
		}
		r.routes[key] = len(r.specs)
		r.names[spec.Name] = len(r.specs)
		r.specs = append(r.specs, spec)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FromConfig merges [[queues]] entries over the default table and applies the
// configured retry policy and row-queue concurrency.
func FromConfig(cfg *config.Config) (*Registry, error) {
	specs := Default()
	index := make(map[routeKey]int, len(specs))
	for i, spec := range specs {
		index[routeKey{provider: spec.Provider, model: spec.Model}] = i
	}
	for _, q := range cfg.Queues {
		provider, err := llm.ParseProvider(q.Provider)
		if err != nil {
			return nil, fmt.Errorf("queue %s/%s: %w", q.Provider, q.Model, err)
		}
		spec := QueueSpec{
			Provider:    provider,
			Model:       strings.TrimSpace(q.Model),
			Concurrency: q.Concurrency,
			Limiter: Limiter{
				Max:    q.LimiterMax,
				Window: time.Duration(q.LimiterWindowMS) * time.Millisecond,
			},
		}
		key := routeKey{provider: spec.Provider, model: spec.Model}
		if i, ok := index[key]; ok {
			specs[i] = spec
			continue
		}
		index[key] = len(specs)
		specs = append(specs, spec)
	}
	retry := jobs.Options{
		Attempts: cfg.Retry.Attempts,
		Backoff: jobs.Backoff{
			Type:  jobs.BackoffType(cfg.Retry.BackoffType),
			Delay: time.Duration(cfg.Retry.BackoffMS) * time.Millisecond,
		},
	}
	return New(specs, WithRetry(retry), WithRowConcurrency(cfg.RowQueue.Concurrency))
}

// Lookup returns the spec for a queue name, including the row queue.
func (r *Registry) Lookup(name string) (QueueSpec, bool) {
	if name == RowQueueName {
		return r.row, true
	}
	i, ok := r.names[name]
	if !ok {
		return QueueSpec{}, false
	}
	return r.specs[i], true
}

// QueueFor routes a (provider, model) to its queue spec.
func (r *Registry) QueueFor(provider llm.Provider, model string) (QueueSpec, bool) {
	i, ok := r.routes[routeKey{provider: provider, model: strings.TrimSpace(model)}]
	if !ok {
		return QueueSpec{}, false
	}
	return r.specs[i], true
}

// RowQueue returns the row-completion queue spec.
func (r *Registry) RowQueue() QueueSpec {
	return r.row
}

// Queues returns the model queues sorted by name.
func (r *Registry) Queues() []QueueSpec {
	out := make([]QueueSpec, len(r.specs))
	copy(out, r.specs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns the model queues followed by the row queue.
func (r *Registry) All() []QueueSpec {
	return append(r.Queues(), r.row)
}
