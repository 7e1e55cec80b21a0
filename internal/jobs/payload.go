package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Name identifies the handler a job is routed to.
type Name string

const (
	// NameCell is the per-cell model call job.
	NameCell Name = "cell"
	// NameRowCompleted wraps a row chain and fires after its last cell.
	NameRowCompleted Name = "row-completed"
)

var (
	// ErrUnknownJob reports a job name no handler accepts.
	ErrUnknownJob = errors.New("unknown job name")
	// ErrInvalidPayload reports job data that cannot be decoded.
	ErrInvalidPayload = errors.New("invalid job payload")
)

// CellPayload is the immutable contract carried by every cell job.
type CellPayload struct {
	TotalStepCount       int      `json:"totalStepCount"`
	TotalRowCount        int      `json:"totalRowCount"`
	StepIndex            int      `json:"stepIndex"`
	RowIndex             int      `json:"rowIndex"`
	StepName             string   `json:"stepName"`
	LLMID                string   `json:"llmId"`
	LLMProvider          string   `json:"llmProvider"`
	LLMNameAPI           string   `json:"llmNameApi"`
	AssistantID          string   `json:"assistantId"`
	AssistantTools       []string `json:"assistantTools"`
	InputDocumentItemIDs []string `json:"inputDocumentItemIds"`
	DocumentItemID       string   `json:"documentItemId"`
	SystemPrompt         string   `json:"systemPrompt"`
	Temperature          float64  `json:"temperature"`
	MaxTokens            int      `json:"maxTokens"`
	UserID               string   `json:"userId"`
	WorkflowID           string   `json:"workflowId"`
}

// RowPayload is carried by the row-completion job.
type RowPayload struct {
	Row        int    `json:"row"`
	UserID     string `json:"userId"`
	WorkflowID string `json:"workflowId"`
}

// NewCellPayload returns a copy of p with every identifier lowercased and nil
// slices replaced by empty ones so the JSON shape is stable.
func NewCellPayload(p CellPayload) CellPayload {
	p.LLMID = NormalizeID(p.LLMID)
	p.AssistantID = NormalizeID(p.AssistantID)
	p.DocumentItemID = NormalizeID(p.DocumentItemID)
	p.UserID = NormalizeID(p.UserID)
	p.WorkflowID = NormalizeID(p.WorkflowID)

	inputs := make([]string, 0, len(p.InputDocumentItemIDs))
	for _, id := range p.InputDocumentItemIDs {
		if id = NormalizeID(id); id != "" {
			inputs = append(inputs, id)
		}
	}
	p.InputDocumentItemIDs = inputs

	tools := make([]string, len(p.AssistantTools))
	copy(tools, p.AssistantTools)
	p.AssistantTools = tools
	return p
}

// NewRowPayload builds a row-completion payload with lowercased identifiers.
func NewRowPayload(row int, userID, workflowID string) RowPayload {
	return RowPayload{Row: row, UserID: NormalizeID(userID), WorkflowID: NormalizeID(workflowID)}
}

// NormalizeID trims and lowercases an entity identifier.
func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// DecodeCell decodes cell job data. A job name other than NameCell yields
// ErrUnknownJob.
func DecodeCell(name Name, data []byte) (CellPayload, error) {
	var payload CellPayload
	if name != NameCell {
		return payload, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if payload.DocumentItemID == "" {
		return payload, fmt.Errorf("%w: documentItemId is empty", ErrInvalidPayload)
	}
	return payload, nil
}

// DecodeRow decodes row-completion job data. A job name other than
// NameRowCompleted yields ErrUnknownJob.
func DecodeRow(name Name, data []byte) (RowPayload, error) {
	var payload RowPayload
	if name != NameRowCompleted {
		return payload, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return payload, nil
}
