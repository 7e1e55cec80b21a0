package registry

import (
	"errors"
	"testing"
	"time"

	"cellflow/internal/config"
	"cellflow/internal/jobs"
	"cellflow/internal/llm"
)

func TestQueueNameSanitizes(t *testing.T) {
	cases := []struct {
		provider llm.Provider
		model    string
		want     string
	}{
		{llm.ProviderOpenAI, "gpt-4o-mini", "openai-gpt-4o-mini"},
		{llm.ProviderOpenRouter, "openai/GPT-4o", "openrouter-openai-gpt-4o"},
		{llm.ProviderOllama, "llama3.2:latest", "ollama-llama3.2-latest"},
	}
	for _, tc := range cases {
		if got := QueueName(tc.provider, tc.model); got != tc.want {
			t.Fatalf("QueueName(%s, %s) = %q, want %q", tc.provider, tc.model, got, tc.want)
		}
	}
}

func TestDefaultRegistryRoutesEveryEntry(t *testing.T) {
	reg, err := New(Default())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	for _, spec := range Default() {
		got, ok := reg.QueueFor(spec.Provider, spec.Model)
		if !ok {
			t.Fatalf("no route for %s/%s", spec.Provider, spec.Model)
		}
		if got.Name != QueueName(spec.Provider, spec.Model) {
			t.Fatalf("unexpected name %q", got.Name)
		}
		if got.Retry != jobs.DefaultOptions() {
			t.Fatalf("expected default retry policy, got %+v", got.Retry)
		}
		if _, ok := reg.Lookup(got.Name); !ok {
			t.Fatalf("lookup by name %q failed", got.Name)
		}
	}
	if _, ok := reg.QueueFor(llm.ProviderOpenAI, "unknown-model"); ok {
		t.Fatal("expected unknown model to be unroutable")
	}
	if row := reg.RowQueue(); row.Name != RowQueueName || row.Concurrency != defaultRowConcurrency {
		t.Fatalf("unexpected row queue %+v", row)
	}
}

func TestNewRejectsInvalidSpecs(t *testing.T) {
	valid := QueueSpec{Provider: llm.ProviderGroq, Model: "m", Concurrency: 1, Limiter: Limiter{Max: 1, Window: time.Second}}
	if _, err := New([]QueueSpec{valid, valid}); !errors.Is(err, ErrDuplicateQueue) {
		t.Fatalf("expected ErrDuplicateQueue, got %v", err)
	}
	zero := valid
	zero.Concurrency = 0
	if _, err := New([]QueueSpec{zero}); !errors.Is(err, ErrInvalidQueue) {
		t.Fatalf("expected ErrInvalidQueue for concurrency, got %v", err)
	}
	noLimit := valid
	noLimit.Limiter = Limiter{}
	if _, err := New([]QueueSpec{noLimit}); !errors.Is(err, ErrInvalidQueue) {
		t.Fatalf("expected ErrInvalidQueue for limiter, got %v", err)
	}
}

func TestFromConfigOverridesAndExtends(t *testing.T) {
	cfg := config.Default()
	cfg.Retry = config.Retry{Attempts: 5, BackoffType: "fixed", BackoffMS: 250}
	cfg.RowQueue.Concurrency = 7
	cfg.Queues = []config.Queue{
		{Provider: "openai", Model: "gpt-4o-mini", Concurrency: 2, LimiterMax: 3, LimiterWindowMS: 1000},
		{Provider: "ollama", Model: "qwen2.5", Concurrency: 1, LimiterMax: 10, LimiterWindowMS: 1000},
	}
	reg, err := FromConfig(&cfg)
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	mini, ok := reg.QueueFor(llm.ProviderOpenAI, "gpt-4o-mini")
	if !ok || mini.Concurrency != 2 || mini.Limiter != (Limiter{Max: 3, Window: time.Second}) {
		t.Fatalf("override not applied: %+v", mini)
	}
	if _, ok := reg.QueueFor(llm.ProviderOllama, "qwen2.5"); !ok {
		t.Fatal("expected added queue to be routable")
	}
	want := jobs.Options{Attempts: 5, Backoff: jobs.Backoff{Type: jobs.BackoffFixed, Delay: 250 * time.Millisecond}}
	if mini.Retry != want {
		t.Fatalf("unexpected retry policy %+v", mini.Retry)
	}
	if reg.RowQueue().Concurrency != 7 || reg.RowQueue().Retry != want {
		t.Fatalf("unexpected row queue %+v", reg.RowQueue())
	}
	if len(reg.All()) != len(reg.Queues())+1 {
		t.Fatal("All should include the row queue")
	}
}

func TestFromConfigRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Queues = []config.Queue{{Provider: "acme", Model: "x", Concurrency: 1, LimiterMax: 1, LimiterWindowMS: 1}}
	if _, err := FromConfig(&cfg); !errors.Is(err, llm.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
