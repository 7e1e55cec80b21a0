package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"syscall"
	"time"

	"cellflow/internal/config"
)

// Toolset resolves assistant tool names to executable tools.
type Toolset struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolset builds a toolset from the supplied tools.
func NewToolset(tools ...Tool) *Toolset {
	set := &Toolset{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		set.Register(tool)
	}
	return set
}

// Register adds or replaces a tool by name.
func (s *Toolset) Register(tool Tool) {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[strings.ToLower(name)] = tool
}

// Resolve returns the tools matching names and the names that did not match.
func (s *Toolset) Resolve(names []string) ([]Tool, []string) {
	if s == nil {
		return nil, names
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		resolved []Tool
		missing  []string
	)
	for _, name := range names {
		tool, ok := s.tools[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			missing = append(missing, name)
			continue
		}
		resolved = append(resolved, tool)
	}
	return resolved, missing
}

// executeToolCalls runs every call against tools. Tool failures become error
// results so the model can react to them on the follow-up turn.
func executeToolCalls(ctx context.Context, tools []Tool, calls []ToolCall) []ToolResult {
	byName := make(map[string]Tool, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		result := ToolResult{ToolCallID: call.ID, ToolName: call.Name}
		tool, ok := byName[call.Name]
		switch {
		case !ok:
			result.Content = fmt.Sprintf("tool %q is not available", call.Name)
			result.IsError = true
		case tool.Execute == nil:
			result.Content = fmt.Sprintf("tool %q has no executor", call.Name)
			result.IsError = true
		default:
			output, err := tool.Execute(ctx, call.Arguments)
			if err != nil {
				result.Content = err.Error()
				result.IsError = true
			} else {
				result.Content = output
			}
		}
		results = append(results, result)
	}
	return results
}

func toolMessages(results []ToolResult) []Message {
	messages := make([]Message, 0, len(results))
	for _, result := range results {
		messages = append(messages, Message{
			Role:       RoleTool,
			Content:    result.Content,
			ToolCallID: result.ToolCallID,
			ToolName:   result.ToolName,
		})
	}
	return messages
}

const (
	fetchLimit          = 64 << 10
	defaultFetchTimeout = 15 * time.Second
)

// ErrFetchBlocked reports a fetch_url target that resolves to an address
// workers must not reach.
var ErrFetchBlocked = errors.New("fetch_url: address not allowed")

// ToolOptions selects the built-in tools.
type ToolOptions struct {
	// FetchURL registers fetch_url.
	FetchURL     bool
	FetchTimeout time.Duration
	// Client replaces the guarded fetch client. Tests use it to reach
	// loopback servers.
	Client *http.Client
}

// ToolOptionsFromConfig maps the [tools] section.
func ToolOptionsFromConfig(cfg *config.Config) ToolOptions {
	return ToolOptions{
		FetchURL:     cfg.Tools.FetchURL,
		FetchTimeout: time.Duration(cfg.Tools.FetchTimeout) * time.Second,
	}
}

// BuiltinTools returns current_time and, when enabled, fetch_url.
func BuiltinTools(opts ToolOptions) []Tool {
	tools := []Tool{{
		Name:        "current_time",
		Description: "Returns the current UTC time in RFC 3339 format.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		Execute: func(context.Context, json.RawMessage) (string, error) {
			return time.Now().UTC().Format(time.RFC3339), nil
		},
	}}
	if !opts.FetchURL {
		return tools
	}
	client := opts.Client
	if client == nil {
		client = newFetchClient(opts.FetchTimeout)
	}
	return append(tools, fetchURLTool(client))
}

func fetchURLTool(client *http.Client) Tool {
	return Tool{
		Name:        "fetch_url",
		Description: "Fetches a public web page over HTTP(S) and returns the body as text.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`),
		Execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			var input struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return "", fmt.Errorf("fetch_url: decode arguments: %w", err)
			}
			target := strings.TrimSpace(input.URL)
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				return "", fmt.Errorf("fetch_url: unsupported url %q", input.URL)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return "", fmt.Errorf("fetch_url: build request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return "", fmt.Errorf("fetch_url: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode >= http.StatusBadRequest {
				return "", fmt.Errorf("fetch_url: http %d", resp.StatusCode)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, fetchLimit+1))
			if err != nil {
				return "", fmt.Errorf("fetch_url: read body: %w", err)
			}
			if len(body) > fetchLimit {
				return string(body[:fetchLimit]) + "\n[truncated]", nil
			}
			return string(body), nil
		},
	}
}

// newFetchClient dials only public addresses. The check runs on the resolved
// IP of every connection, redirects included, and proxies are disabled so
// the dial target is the real destination.
func newFetchClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, Control: refusePrivateDial}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               nil,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        4,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

func refusePrivateDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrFetchBlocked, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || blockedAddr(ip) {
		return fmt.Errorf("%w: %s", ErrFetchBlocked, host)
	}
	return nil
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

func blockedAddr(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsValid() || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
		return true
	}
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}
