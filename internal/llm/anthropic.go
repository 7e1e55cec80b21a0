package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 1024
)

// Anthropic speaks the messages API.
type Anthropic struct {
	cfg       Config
	transport *transport
}

// NewAnthropic constructs the Anthropic provider.
func NewAnthropic(cfg Config, opts ...Option) *Anthropic {
	cfg = trimConfig(cfg)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL(ProviderAnthropic)
	}
	return &Anthropic{cfg: cfg, transport: newTransport(cfg.TimeoutSeconds, opts...)}
}

// ID reports the provider tag.
func (a *Anthropic) ID() Provider { return ProviderAnthropic }

// CreateModel binds the provider to one model name.
func (a *Anthropic) CreateModel(model string) (ChatModel, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("create model: model name required")
	}
	if a.cfg.APIKey == "" {
		return nil, errors.New("create model: anthropic api key required")
	}
	endpoint := a.cfg.BaseURL
	if !strings.HasSuffix(strings.TrimRight(endpoint, "/"), "/messages") {
		joined, err := url.JoinPath(endpoint, "messages")
		if err != nil {
			return nil, fmt.Errorf("create model: build url: %w", err)
		}
		endpoint = joined
	}
	return &anthropicModel{provider: a, model: model, endpoint: endpoint}, nil
}

type anthropicModel struct {
	provider *Anthropic
	model    string
	endpoint string
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (m *anthropicModel) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	var result GenerateResult
	system := strings.TrimSpace(req.System)
	var conversation []anthropicMessage
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = strings.TrimSpace(system + "\n\n" + msg.Content)
			continue
		}
		conversation = appendAnthropicMessage(conversation, msg)
	}
	if len(conversation) == 0 {
		return result, errors.New("generate: at least one message required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	steps := maxSteps(req)
	for step := 1; step <= steps; step++ {
		payload := anthropicRequest{
			Model:       m.model,
			System:      system,
			Messages:    conversation,
			MaxTokens:   maxTokens,
			Temperature: req.Temperature,
			Tools:       toAnthropicTools(req.Tools),
		}
		resp, err := m.send(ctx, payload)
		if err != nil {
			return result, err
		}
		var (
			texts []string
			calls []ToolCall
		)
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				texts = append(texts, block.Text)
			case "tool_use":
				input := block.Input
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Arguments: input})
			}
		}
		result.Text = strings.TrimSpace(strings.Join(texts, ""))
		result.Usage.InputTokens += resp.Usage.InputTokens
		result.Usage.OutputTokens += resp.Usage.OutputTokens
		result.FinishReason = mapAnthropicFinish(resp.StopReason)
		if result.FinishReason != FinishToolCalls || len(calls) == 0 {
			return result, nil
		}

		results := executeToolCalls(ctx, req.Tools, calls)
		assistant := Message{Role: RoleAssistant, Content: result.Text, ToolCalls: calls}
		produced := append([]Message{assistant}, toolMessages(results)...)
		result.ToolCalls = append(result.ToolCalls, calls...)
		result.ToolResults = append(result.ToolResults, results...)
		result.ResponseMessages = append(result.ResponseMessages, produced...)
		for _, msg := range produced {
			conversation = appendAnthropicMessage(conversation, msg)
		}
	}
	return result, nil
}

func (m *anthropicModel) send(ctx context.Context, payload anthropicRequest) (anthropicResponse, error) {
	var resp anthropicResponse
	headers := http.Header{}
	headers.Set("x-api-key", m.provider.cfg.APIKey)
	headers.Set("anthropic-version", anthropicVersion)
	body, err := m.provider.transport.postJSONWithRetry(ctx, m.endpoint, headers, payload, "anthropic generate")
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("anthropic generate: decode response: %w (snippet: %s)", err, summarizePayloadSnippet(string(body)))
	}
	if resp.Error != nil {
		return resp, fmt.Errorf("anthropic generate: api error: %s", strings.TrimSpace(resp.Error.Message))
	}
	return resp, nil
}

// appendAnthropicMessage merges tool results into a single user turn, as the
// messages API requires strictly alternating roles.
func appendAnthropicMessage(conversation []anthropicMessage, msg Message) []anthropicMessage {
	switch msg.Role {
	case RoleTool:
		block := anthropicBlock{
			Type:      "tool_result",
			ToolUseID: msg.ToolCallID,
			Content:   msg.Content,
		}
		if n := len(conversation); n > 0 && conversation[n-1].Role == string(RoleUser) && hasToolResult(conversation[n-1]) {
			conversation[n-1].Content = append(conversation[n-1].Content, block)
			return conversation
		}
		return append(conversation, anthropicMessage{Role: string(RoleUser), Content: []anthropicBlock{block}})
	case RoleAssistant:
		var blocks []anthropicBlock
		if text := strings.TrimSpace(msg.Content); text != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: text})
		}
		for _, call := range msg.ToolCalls {
			input := call.Arguments
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: input})
		}
		return append(conversation, anthropicMessage{Role: string(RoleAssistant), Content: blocks})
	default:
		return append(conversation, anthropicMessage{
			Role:    string(RoleUser),
			Content: []anthropicBlock{{Type: "text", Text: msg.Content}},
		})
	}
}

func hasToolResult(msg anthropicMessage) bool {
	for _, block := range msg.Content {
		if block.Type == "tool_result" {
			return true
		}
	}
	return false
}

func toAnthropicTools(tools []Tool) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: toolParameters(tool),
		})
	}
	return out
}

func mapAnthropicFinish(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolCalls
	case "refusal":
		return FinishContentFilter
	default:
		return FinishOther
	}
}
