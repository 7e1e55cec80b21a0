package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cellflow/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "cellflow")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.QueueDBPath() != filepath.Join(wantData, "queue.db") {
		t.Fatalf("unexpected queue db path: %q", cfg.QueueDBPath())
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("expected sqlite store by default, got %q", cfg.Store.Backend)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.BackoffMS != 1000 || cfg.Retry.BackoffType != "exponential" {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Notifications.Backend != "noop" {
		t.Fatalf("expected noop notifications by default, got %q", cfg.Notifications.Backend)
	}
	if cfg.Tools.FetchURL {
		t.Fatal("expected fetch_url to be disabled by default")
	}
}

func TestLoadUsesProviderEnvFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CELLFLOW_POSTGRES_DSN", "postgres://env")

	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[providers.anthropic]
api_key = " file-key "
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if got := cfg.ProviderSettings("openai").APIKey; got != "sk-env" {
		t.Fatalf("expected env key for openai, got %q", got)
	}
	if got := cfg.ProviderSettings("Anthropic").APIKey; got != "file-key" {
		t.Fatalf("expected trimmed file key for anthropic, got %q", got)
	}
	if cfg.Postgres.DSN != "postgres://env" {
		t.Fatalf("expected postgres dsn from env, got %q", cfg.Postgres.DSN)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cases := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			name:     "store backend",
			contents: "[store]\nbackend = \"etcd\"\n",
			wantErr:  "store.backend",
		},
		{
			name:     "retry attempts",
			contents: "[retry]\nattempts = 0\n",
			wantErr:  "retry.attempts",
		},
		{
			name:     "backoff type",
			contents: "[retry]\nbackoff_type = \"linear\"\n",
			wantErr:  "retry.backoff_type",
		},
		{
			name:     "queue without limiter",
			contents: "[[queues]]\nprovider = \"openai\"\nmodel = \"gpt-4o\"\nconcurrency = 2\n",
			wantErr:  "queues[0]",
		},
		{
			name:     "duplicate queue",
			contents: "[[queues]]\nprovider = \"groq\"\nmodel = \"llama\"\nconcurrency = 1\nlimiter_max = 1\nlimiter_window_ms = 1000\n[[queues]]\nprovider = \"GROQ\"\nmodel = \"llama\"\nconcurrency = 1\nlimiter_max = 1\nlimiter_window_ms = 1000\n",
			wantErr:  "duplicate queue",
		},
		{
			name:     "webhook without url",
			contents: "[notifications]\nbackend = \"webhook\"\n",
			wantErr:  "notifications.webhook_url",
		},
		{
			name:     "fetch timeout",
			contents: "[tools]\nfetch_url = true\nfetch_timeout = 0\n",
			wantErr:  "tools.fetch_timeout",
		},
		{
			name:     "unknown field",
			contents: "[paths]\nstaging_dir = \"/tmp\"\n",
			wantErr:  "parse config",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.contents), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreateSampleParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(contents, &parsed); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if parsed.Retry.Attempts != 3 {
		t.Fatalf("expected sample retry attempts 3, got %d", parsed.Retry.Attempts)
	}
	if len(parsed.Queues) == 0 {
		t.Fatal("expected sample to include a queue override")
	}

	t.Setenv("HOME", t.TempDir())
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}

func TestLoadExpandsWorkflowsFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(t.TempDir(), "cellflow.toml")
	content := "[paths]\nworkflows_file = \"~/fixtures/workflows.json\"\n\n[notifications]\nbackend = \"LOG\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	want := filepath.Join(tempHome, "fixtures", "workflows.json")
	if cfg.Paths.WorkflowsFile != want {
		t.Fatalf("workflows file = %q, want %q", cfg.Paths.WorkflowsFile, want)
	}
	if cfg.Notifications.Backend != "log" {
		t.Fatalf("notifications backend = %q, want log", cfg.Notifications.Backend)
	}
	if cfg.LockPath() != filepath.Join(cfg.Paths.DataDir, "cellflow.lock") {
		t.Fatalf("unexpected lock path %q", cfg.LockPath())
	}
}
