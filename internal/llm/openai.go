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

// Config captures the runtime settings required to talk to one provider.
type Config struct {
	APIKey         string
	BaseURL        string
	Referer        string
	Title          string
	TimeoutSeconds int
}

var defaultBaseURLs = map[Provider]string{
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderGroq:       "https://api.groq.com/openai/v1",
	ProviderMistral:    "https://api.mistral.ai/v1",
	ProviderDeepSeek:   "https://api.deepseek.com/v1",
	ProviderOllama:     "http://127.0.0.1:11434/v1",
	ProviderAnthropic:  "https://api.anthropic.com/v1",
}

// DefaultBaseURL returns the public endpoint for a provider.
func DefaultBaseURL(p Provider) string {
	return defaultBaseURLs[p]
}

// OpenAICompatible speaks the chat completions API shared by most providers.
type OpenAICompatible struct {
	id        Provider
	cfg       Config
	transport *transport
}

// NewOpenAICompatible constructs a provider for an OpenAI-style endpoint.
func NewOpenAICompatible(id Provider, cfg Config, opts ...Option) *OpenAICompatible {
	cfg = trimConfig(cfg)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL(id)
	}
	return &OpenAICompatible{
		id:        id,
		cfg:       cfg,
		transport: newTransport(cfg.TimeoutSeconds, opts...),
	}
}

// ID reports the provider tag.
func (p *OpenAICompatible) ID() Provider { return p.id }

// CreateModel binds the provider to one model name.
func (p *OpenAICompatible) CreateModel(model string) (ChatModel, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("create model: model name required")
	}
	if p.cfg.APIKey == "" && p.id != ProviderOllama {
		return nil, fmt.Errorf("create model: %s api key required", p.id)
	}
	endpoint, err := chatCompletionsURL(p.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	return &openAIModel{provider: p, model: model, endpoint: endpoint}, nil
}

func chatCompletionsURL(base string) (string, error) {
	if base == "" {
		return "", errors.New("base url required")
	}
	if strings.HasSuffix(strings.TrimRight(base, "/"), "/chat/completions") {
		return base, nil
	}
	joined, err := url.JoinPath(base, "chat", "completions")
	if err != nil {
		return "", fmt.Errorf("build url: %w", err)
	}
	return joined, nil
}

func trimConfig(cfg Config) Config {
	return Config{
		APIKey:         strings.TrimSpace(cfg.APIKey),
		BaseURL:        strings.TrimSpace(cfg.BaseURL),
		Referer:        strings.TrimSpace(cfg.Referer),
		Title:          strings.TrimSpace(cfg.Title),
		TimeoutSeconds: cfg.TimeoutSeconds,
	}
}

type openAIModel struct {
	provider *OpenAICompatible
	model    string
	endpoint string
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some providers return the streaming schema (delta) even when
		// stream=false, so tolerate it as a fallback.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls"`
	Refusal   string     `json:"refusal"`
}

type toolCall struct {
	Type     string       `json:"type"`
	ID       string       `json:"id"`
	Index    int          `json:"index"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (m *openAIModel) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	var result GenerateResult
	conversation := make([]chatMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		conversation = append(conversation, chatMessage{Role: string(RoleSystem), Content: system})
	}
	for _, msg := range req.Messages {
		conversation = append(conversation, toChatMessage(msg))
	}
	if len(conversation) == 0 {
		return result, errors.New("generate: at least one message required")
	}

	steps := maxSteps(req)
	for step := 1; step <= steps; step++ {
		payload := chatCompletionRequest{
			Model:       m.model,
			Messages:    conversation,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
			Tools:       toChatTools(req.Tools),
		}
		completion, err := m.send(ctx, payload)
		if err != nil {
			return result, err
		}
		if len(completion.Choices) == 0 {
			return result, fmt.Errorf("%s generate: empty choices", m.provider.id)
		}
		choice := completion.Choices[0]
		message := choice.Message
		if message.Content == "" && len(message.ToolCalls) == 0 {
			message = choice.Delta
		}
		text := strings.TrimSpace(firstNonEmpty(message.Content, choice.Text))
		result.Usage.InputTokens += completion.Usage.PromptTokens
		result.Usage.OutputTokens += completion.Usage.CompletionTokens
		result.Text = text
		result.FinishReason = mapOpenAIFinish(choice.FinishReason, len(message.ToolCalls) > 0)

		if result.FinishReason != FinishToolCalls {
			if text == "" && message.Refusal != "" {
				result.Text = strings.TrimSpace(message.Refusal)
				result.FinishReason = FinishContentFilter
			}
			return result, nil
		}

		calls := fromWireToolCalls(message.ToolCalls)
		results := executeToolCalls(ctx, req.Tools, calls)
		assistant := Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
		produced := append([]Message{assistant}, toolMessages(results)...)
		result.ToolCalls = append(result.ToolCalls, calls...)
		result.ToolResults = append(result.ToolResults, results...)
		result.ResponseMessages = append(result.ResponseMessages, produced...)
		for _, msg := range produced {
			conversation = append(conversation, toChatMessage(msg))
		}
	}
	return result, nil
}

func (m *openAIModel) send(ctx context.Context, payload chatCompletionRequest) (chatCompletionResponse, error) {
	var completion chatCompletionResponse
	cfg := m.provider.cfg
	headers := http.Header{}
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Referer != "" {
		headers.Set("HTTP-Referer", cfg.Referer)
		headers.Set("Referer", cfg.Referer)
	}
	if cfg.Title != "" {
		headers.Set("X-Title", cfg.Title)
	}
	op := fmt.Sprintf("%s generate", m.provider.id)
	body, err := m.provider.transport.postJSONWithRetry(ctx, m.endpoint, headers, payload, op)
	if err != nil {
		return completion, err
	}
	if err := json.Unmarshal(body, &completion); err != nil {
		return completion, fmt.Errorf("%s: decode response: %w (snippet: %s)", op, err, summarizePayloadSnippet(string(body)))
	}
	if completion.Error != nil {
		return completion, fmt.Errorf("%s: api error: %s", op, strings.TrimSpace(completion.Error.Message))
	}
	return completion, nil
}

func toChatMessage(msg Message) chatMessage {
	out := chatMessage{Role: string(msg.Role), Content: msg.Content}
	switch msg.Role {
	case RoleTool:
		out.ToolCallID = msg.ToolCallID
		out.Name = msg.ToolName
	case RoleAssistant:
		for _, call := range msg.ToolCalls {
			args := string(call.Arguments)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, toolCall{
				Type:     "function",
				ID:       call.ID,
				Function: functionCall{Name: call.Name, Arguments: args},
			})
		}
	}
	return out
}

func toChatTools(tools []Tool) []chatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  toolParameters(tool),
			},
		})
	}
	return out
}

func toolParameters(tool Tool) json.RawMessage {
	if len(tool.Parameters) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return tool.Parameters
}

func fromWireToolCalls(calls []toolCall) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, call := range calls {
		args := strings.TrimSpace(call.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out = append(out, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return out
}

func mapOpenAIFinish(reason string, hasToolCalls bool) FinishReason {
	switch strings.TrimSpace(reason) {
	case "stop", "end_turn":
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	case "length":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "content_filter":
		return FinishContentFilter
	case "":
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	default:
		return FinishOther
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
