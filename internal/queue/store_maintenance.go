package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// DatabaseHealth describes the job database for diagnostics.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	Jobs             int
	Error            string
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// CheckHealth pings the database and reports its schema version and job count.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("job database path is unknown")
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat job database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("job database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping job database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "PRAGMA user_version").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM jobs").Scan(&health.Jobs); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count jobs: %w", err)
	}
	return health, nil
}
