package workflow

import "context"

// Repository is the workflow and document data store. Lookups that find
// nothing return (nil, nil).
type Repository interface {
	FindWorkflowWithSteps(ctx context.Context, id string) (*Workflow, error)
	FindStepByID(ctx context.Context, id string) (*Step, error)
	FindDocumentItem(ctx context.Context, id string) (*DocumentItem, error)
	UpdateDocumentItemContent(ctx context.Context, id, content string) error
	UpdateProcessingStatus(ctx context.Context, id string, status ProcessingStatus) error
}
