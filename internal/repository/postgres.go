package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cellflow/internal/workflow"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is a workflow.Repository backed by a pgx pool. Ids match
// case-insensitively.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects a pool to dsn. maxConns <= 0 keeps the pgx default.
func OpenPostgres(ctx context.Context, dsn string, maxConns int32) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	if p != nil && p.db != nil {
		p.db.Close()
	}
}

// Migrate creates any missing tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate workflow schema: %w", err)
	}
	return nil
}

const stepColumns = `s.id, s.workflow_id, s.name, s.order_column, s.input_steps, d.id,
    a.id, a.name, a.system_prompt, a.temperature, a.max_tokens, a.llm_id, a.llm_provider, a.llm_api_name, a.tools`

const stepJoins = `FROM steps s
    JOIN documents d ON d.step_id = s.id
    LEFT JOIN assistants a ON a.id = s.assistant_id`

func (p *Postgres) FindWorkflowWithSteps(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	err := p.db.QueryRow(ctx,
		`SELECT id, team_id, name FROM workflows WHERE lower(id) = lower($1)`, id,
	).Scan(&wf.ID, &wf.TeamID, &wf.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find workflow %s: %w", id, err)
	}

	rows, err := p.db.Query(ctx,
		`SELECT `+stepColumns+` `+stepJoins+` WHERE s.workflow_id = $1 ORDER BY s.order_column, s.id`, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("list steps for workflow %s: %w", wf.ID, err)
	}
	wf.Steps, err = scanSteps(rows)
	if err != nil {
		return nil, fmt.Errorf("scan steps for workflow %s: %w", wf.ID, err)
	}
	for i := range wf.Steps {
		if err := p.loadItems(ctx, &wf.Steps[i]); err != nil {
			return nil, err
		}
	}
	if err := wf.Normalize(); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (p *Postgres) FindStepByID(ctx context.Context, id string) (*workflow.Step, error) {
	rows, err := p.db.Query(ctx, `SELECT `+stepColumns+` `+stepJoins+` WHERE lower(s.id) = lower($1)`, id)
	if err != nil {
		return nil, fmt.Errorf("find step %s: %w", id, err)
	}
	steps, err := scanSteps(rows)
	if err != nil {
		return nil, fmt.Errorf("scan step %s: %w", id, err)
	}
	if len(steps) == 0 {
		return nil, nil
	}
	step := steps[0]
	if err := p.loadItems(ctx, &step); err != nil {
		return nil, err
	}
	return &step, nil
}

func (p *Postgres) FindDocumentItem(ctx context.Context, id string) (*workflow.DocumentItem, error) {
	var (
		item   workflow.DocumentItem
		status string
	)
	err := p.db.QueryRow(ctx,
		`SELECT i.id, i.document_id, i.content, i.order_column, i.processing_status,
                s.id, s.name, s.order_column
         FROM document_items i
         JOIN documents d ON d.id = i.document_id
         JOIN steps s ON s.id = d.step_id
         WHERE lower(i.id) = lower($1)`, id,
	).Scan(&item.ID, &item.DocumentID, &item.Content, &item.OrderColumn, &status,
		&item.Step.ID, &item.Step.Name, &item.Step.OrderColumn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find document item %s: %w", id, err)
	}
	item.ProcessingStatus = workflow.ProcessingStatus(status)
	return &item, nil
}

func (p *Postgres) UpdateDocumentItemContent(ctx context.Context, id, content string) error {
	tag, err := p.db.Exec(ctx, `UPDATE document_items SET content = $1 WHERE lower(id) = lower($2)`, content, id)
	if err != nil {
		return fmt.Errorf("update document item %s content: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return nil
}

func (p *Postgres) UpdateProcessingStatus(ctx context.Context, id string, status workflow.ProcessingStatus) error {
	tag, err := p.db.Exec(ctx, `UPDATE document_items SET processing_status = $1 WHERE lower(id) = lower($2)`, string(status), id)
	if err != nil {
		return fmt.Errorf("update document item %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return nil
}

// SaveWorkflow upserts a workflow with its steps, assistants, documents and
// items in one transaction.
func (p *Postgres) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	if err := wf.Normalize(); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO workflows (id, team_id, name) VALUES ($1, $2, $3)
             ON CONFLICT (id) DO UPDATE SET team_id = EXCLUDED.team_id, name = EXCLUDED.name`,
			wf.ID, wf.TeamID, wf.Name); err != nil {
			return fmt.Errorf("upsert workflow: %w", err)
		}
		for _, step := range wf.Steps {
			if err := saveStep(ctx, tx, wf.ID, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

func saveStep(ctx context.Context, tx pgx.Tx, workflowID string, step workflow.Step) error {
	var assistantID *string
	if a := step.Assistant; a != nil {
		tools := a.Tools
		if tools == nil {
			tools = []string{}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO assistants (id, name, system_prompt, temperature, max_tokens, llm_id, llm_provider, llm_api_name, tools)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
             ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, system_prompt = EXCLUDED.system_prompt,
                 temperature = EXCLUDED.temperature, max_tokens = EXCLUDED.max_tokens, llm_id = EXCLUDED.llm_id,
                 llm_provider = EXCLUDED.llm_provider, llm_api_name = EXCLUDED.llm_api_name, tools = EXCLUDED.tools`,
			a.ID, a.Name, a.SystemPrompt, a.Temperature, a.MaxTokens, a.LLM.ID, a.LLM.Provider, a.LLM.APIName, tools); err != nil {
			return fmt.Errorf("upsert assistant %s: %w", a.ID, err)
		}
		assistantID = &a.ID
	}
	inputs := step.InputSteps
	if inputs == nil {
		inputs = []string{}
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO steps (id, workflow_id, name, order_column, assistant_id, input_steps)
         VALUES ($1, $2, $3, $4, $5, $6)
         ON CONFLICT (id) DO UPDATE SET workflow_id = EXCLUDED.workflow_id, name = EXCLUDED.name,
             order_column = EXCLUDED.order_column, assistant_id = EXCLUDED.assistant_id, input_steps = EXCLUDED.input_steps`,
		step.ID, workflowID, step.Name, step.OrderColumn, assistantID, inputs); err != nil {
		return fmt.Errorf("upsert step %s: %w", step.ID, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO documents (id, step_id) VALUES ($1, $2)
         ON CONFLICT (id) DO UPDATE SET step_id = EXCLUDED.step_id`,
		step.Document.ID, step.ID); err != nil {
		return fmt.Errorf("upsert document %s: %w", step.Document.ID, err)
	}

	batch := &pgx.Batch{}
	for _, item := range step.Document.Items {
		batch.Queue(
			`INSERT INTO document_items (id, document_id, content, order_column, processing_status)
             VALUES ($1, $2, $3, $4, $5)
             ON CONFLICT (id) DO UPDATE SET document_id = EXCLUDED.document_id, content = EXCLUDED.content,
                 order_column = EXCLUDED.order_column, processing_status = EXCLUDED.processing_status`,
			item.ID, step.Document.ID, item.Content, item.OrderColumn, string(item.ProcessingStatus))
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert items for document %s: %w", step.Document.ID, err)
	}
	return nil
}

func (p *Postgres) loadItems(ctx context.Context, step *workflow.Step) error {
	rows, err := p.db.Query(ctx,
		`SELECT id, document_id, content, order_column, processing_status
         FROM document_items WHERE document_id = $1 ORDER BY order_column, id`, step.Document.ID)
	if err != nil {
		return fmt.Errorf("list items for step %s: %w", step.ID, err)
	}
	defer rows.Close()

	ref := step.Ref()
	step.Document.Items = step.Document.Items[:0]
	for rows.Next() {
		var (
			item   workflow.DocumentItem
			status string
		)
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Content, &item.OrderColumn, &status); err != nil {
			return fmt.Errorf("scan item for step %s: %w", step.ID, err)
		}
		item.ProcessingStatus = workflow.ProcessingStatus(status)
		item.Step = ref
		step.Document.Items = append(step.Document.Items, item)
	}
	return rows.Err()
}

func scanSteps(rows pgx.Rows) ([]workflow.Step, error) {
	defer rows.Close()

	var steps []workflow.Step
	for rows.Next() {
		var (
			step workflow.Step
			// assistant columns are nullable through the left join
			assistantID, name, prompt, llmID, provider, apiName *string
			temperature                                         *float64
			maxTokens                                           *int32
			tools                                               []string
		)
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Name, &step.OrderColumn, &step.InputSteps, &step.Document.ID,
			&assistantID, &name, &prompt, &temperature, &maxTokens, &llmID, &provider, &apiName, &tools); err != nil {
			return nil, err
		}
		if assistantID != nil {
			step.Assistant = &workflow.Assistant{
				ID:           *assistantID,
				Name:         deref(name),
				SystemPrompt: deref(prompt),
				LLM:          workflow.LLM{ID: deref(llmID), Provider: deref(provider), APIName: deref(apiName)},
				Tools:        tools,
			}
			if temperature != nil {
				step.Assistant.Temperature = *temperature
			}
			if maxTokens != nil {
				step.Assistant.MaxTokens = int(*maxTokens)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
