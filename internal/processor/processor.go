package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"cellflow/internal/jobs"
	"cellflow/internal/llm"
	"cellflow/internal/logging"
	"cellflow/internal/queue"
	"cellflow/internal/services"
	"cellflow/internal/worker"
	"cellflow/internal/workflow"
)

const component = "processor"

// Models resolves chat models. *llm.Factory satisfies it.
type Models interface {
	GetModel(provider llm.Provider, model string) (llm.ChatModel, error)
}

// Processor runs cell jobs.
type Processor struct {
	repo   workflow.Repository
	models Models
	tools  *llm.Toolset
	logger *slog.Logger
}

// New builds a processor. tools may be nil when no assistant uses tools.
func New(repo workflow.Repository, models Models, tools *llm.Toolset, logger *slog.Logger) *Processor {
	return &Processor{
		repo:   repo,
		models: models,
		tools:  tools,
		logger: logging.NewComponentLogger(logger, component),
	}
}

// Handle decodes a claimed cell job and processes it. Jobs that are not cell
// jobs cannot succeed on retry and are marked unrecoverable.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) error {
	payload, err := jobs.DecodeCell(job.Name, job.Data)
	if err != nil {
		return worker.Unrecoverable(services.Wrap(services.ErrValidation, component, "decode job", job.ID, err))
	}
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithQueue(ctx, job.Queue)
	ctx = services.WithWorkflowID(ctx, payload.WorkflowID)
	return p.Process(ctx, payload)
}

// Process runs one cell. A cell without inputs succeeds without calling the
// model.
func (p *Processor) Process(ctx context.Context, payload jobs.CellPayload) error {
	logger := logging.WithContext(ctx, p.logger).With(
		logging.String("document_item_id", payload.DocumentItemID),
		logging.Int("step_index", payload.StepIndex),
		logging.Int("row_index", payload.RowIndex),
	)

	item, err := p.repo.FindDocumentItem(ctx, payload.DocumentItemID)
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "resolve item", payload.DocumentItemID, err)
	}
	if item == nil {
		return services.Wrap(services.ErrNotFound, component, "resolve item", "document item "+payload.DocumentItemID, nil)
	}

	if len(payload.InputDocumentItemIDs) == 0 {
		logger.Debug("cell has no inputs; nothing to generate")
		return nil
	}

	inputs, err := p.resolveInputs(ctx, logger, payload.InputDocumentItemIDs)
	if err != nil {
		return err
	}
	prompt := RenderPrompt(inputs)

	provider, err := llm.ParseProvider(payload.LLMProvider)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, "resolve model", payload.LLMProvider, err)
	}
	model, err := p.models.GetModel(provider, payload.LLMNameAPI)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, "resolve model", string(provider)+"/"+payload.LLMNameAPI, err)
	}

	tools, missing := p.tools.Resolve(payload.AssistantTools)
	if len(missing) > 0 {
		logging.WarnWithContext(logger, "assistant references unknown tools", "unknown_tools",
			logging.String("assistant_id", payload.AssistantID),
			logging.String("tools", strings.Join(missing, ",")),
			logging.String(logging.FieldImpact, "the model runs without these tools"),
			logging.String(logging.FieldErrorHint, "register the tools or remove them from the assistant"),
		)
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	request := llm.GenerateRequest{
		System:      payload.SystemPrompt,
		Messages:    messages,
		Tools:       tools,
		MaxSteps:    1,
		Temperature: payload.Temperature,
		MaxTokens:   payload.MaxTokens,
	}
	result, err := model.Generate(ctx, request)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, component, "generate", string(provider)+"/"+payload.LLMNameAPI, err)
	}

	if result.FinishReason == llm.FinishToolCalls {
		logger.Debug("model requested tools; running follow-up",
			logging.Int("tool_calls", len(result.ToolCalls)),
		)
		followUp := request
		followUp.Messages = append(append([]llm.Message(nil), messages...), result.ResponseMessages...)
		result, err = model.Generate(ctx, followUp)
		if err != nil {
			return services.Wrap(services.ErrExternalTool, component, "generate follow-up", string(provider)+"/"+payload.LLMNameAPI, err)
		}
	}

	if err := p.repo.UpdateDocumentItemContent(ctx, item.ID, result.Text); err != nil {
		return services.Wrap(services.ErrTransient, component, "persist content", item.ID, err)
	}
	logger.Info("cell generated",
		logging.String("finish_reason", string(result.FinishReason)),
		logging.Int("input_tokens", result.Usage.InputTokens),
		logging.Int("output_tokens", result.Usage.OutputTokens),
	)
	return nil
}

func (p *Processor) resolveInputs(ctx context.Context, logger *slog.Logger, ids []string) ([]workflow.DocumentItem, error) {
	inputs := make([]workflow.DocumentItem, 0, len(ids))
	for _, id := range ids {
		input, err := p.repo.FindDocumentItem(ctx, id)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, component, "resolve input", id, err)
		}
		if input == nil {
			logger.Warn("input item not found", logging.String("input_item_id", id))
			continue
		}
		inputs = append(inputs, *input)
	}
	if len(inputs) == 0 {
		return nil, services.Wrap(services.ErrNotFound, component, "resolve inputs",
			fmt.Sprintf("none of %d input items exist", len(ids)), nil)
	}
	return inputs, nil
}

// RenderPrompt orders inputs by their step column and renders each as a
// "## <step name>" section.
func RenderPrompt(inputs []workflow.DocumentItem) string {
	ordered := append([]workflow.DocumentItem(nil), inputs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Step.OrderColumn < ordered[j].Step.OrderColumn
	})
	sections := make([]string, len(ordered))
	for i, input := range ordered {
		sections[i] = "## " + input.Step.Name + "\n" + input.Content
	}
	return strings.Join(sections, "\n\n")
}

var _ worker.Handler = (*Processor)(nil)
