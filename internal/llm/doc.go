// Package llm is the model-client collaborator used by the cell processor.
//
// Each supported provider is a variant of the Provider tag with a
// ModelProvider implementation exposing CreateModel. OpenAI-compatible chat
// completion endpoints (OpenAI, OpenRouter, Groq, Mistral, DeepSeek, Ollama)
// share one client; Anthropic uses the messages API. Both share the retry
// policy for transient HTTP failures (408, 429, 5xx with Retry-After).
//
// ChatModel.Generate runs at most MaxSteps model turns. When a turn ends in
// tool calls the declared tools are executed and their results appended; with
// MaxSteps=1 the caller receives FinishToolCalls plus the response messages
// needed for a follow-up turn.
package llm
