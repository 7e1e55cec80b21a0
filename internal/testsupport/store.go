package testsupport

import (
	"testing"

	"cellflow/internal/config"
	"cellflow/internal/queue"
)

// MustOpenStore opens the sqlite job store under cfg's data directory and
// closes it when the test ends.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close job store: %v", err)
		}
	})
	return store
}
