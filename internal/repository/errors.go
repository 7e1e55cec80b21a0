package repository

import (
	"errors"

	"cellflow/internal/workflow"
)

// ErrItemNotFound reports an update aimed at a document item that does not exist.
var ErrItemNotFound = errors.New("document item not found")

var (
	_ workflow.Repository = (*Memory)(nil)
	_ workflow.Repository = (*Postgres)(nil)
)
