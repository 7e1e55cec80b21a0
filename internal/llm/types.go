package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Provider tags a model provider variant.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenRouter Provider = "openrouter"
	ProviderGroq       Provider = "groq"
	ProviderMistral    Provider = "mistral"
	ProviderDeepSeek   Provider = "deepseek"
	ProviderOllama     Provider = "ollama"
)

// Providers lists every known provider variant.
func Providers() []Provider {
	return []Provider{
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderOpenRouter,
		ProviderGroq,
		ProviderMistral,
		ProviderDeepSeek,
		ProviderOllama,
	}
}

// ErrUnknownProvider reports a provider name outside the known variants.
var ErrUnknownProvider = errors.New("unknown model provider")

// ParseProvider maps a provider name to its variant.
func ParseProvider(name string) (Provider, error) {
	normalized := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, p := range Providers() {
		if p == normalized {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Role is the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason reports why a model turn ended.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishContentFilter FinishReason = "content-filter"
	FinishOther         FinishReason = "other"
)

// Message is one conversation entry.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult is the outcome of executing a ToolCall.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Content    string
	IsError    bool
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Execute     func(ctx context.Context, args json.RawMessage) (string, error)
}

// Usage reports token accounting for a generation.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// GenerateRequest describes one generation call.
type GenerateRequest struct {
	System      string
	Messages    []Message
	Tools       []Tool
	MaxSteps    int
	Temperature float64
	MaxTokens   int
}

// GenerateResult is the outcome of a generation call.
type GenerateResult struct {
	Text         string
	FinishReason FinishReason
	ToolCalls    []ToolCall
	ToolResults  []ToolResult
	// ResponseMessages are the assistant and tool messages produced during the
	// call, ready to append to the conversation for a follow-up turn.
	ResponseMessages []Message
	Usage            Usage
}

// ChatModel generates completions for one provider model.
type ChatModel interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// ModelProvider creates chat models for one provider variant.
type ModelProvider interface {
	ID() Provider
	CreateModel(model string) (ChatModel, error)
}

func maxSteps(req GenerateRequest) int {
	if req.MaxSteps <= 0 {
		return 1
	}
	return req.MaxSteps
}
