package registry

import (
	"time"

	"cellflow/internal/llm"
)

type tier struct {
	concurrency int
	limiter     Limiter
}

// Provider ceilings. Anthropic and Mistral are the cautious ones; OpenAI and
// OpenRouter tolerate far more traffic.
var (
	tierOpenAI     = tier{concurrency: 10, limiter: Limiter{Max: 500, Window: time.Minute}}
	tierAnthropic  = tier{concurrency: 5, limiter: Limiter{Max: 50, Window: time.Minute}}
	tierOpenRouter = tier{concurrency: 10, limiter: Limiter{Max: 20, Window: time.Second}}
	tierGroq       = tier{concurrency: 10, limiter: Limiter{Max: 30, Window: time.Minute}}
	tierMistral    = tier{concurrency: 5, limiter: Limiter{Max: 1, Window: time.Second}}
	tierDeepSeek   = tier{concurrency: 10, limiter: Limiter{Max: 60, Window: time.Minute}}
	tierOllama     = tier{concurrency: 2, limiter: Limiter{Max: 100, Window: time.Second}}
)

var defaultTable = []struct {
	provider llm.Provider
	tier     tier
	models   []string
}{
	{llm.ProviderOpenAI, tierOpenAI, []string{"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini"}},
	{llm.ProviderAnthropic, tierAnthropic, []string{"claude-3-5-haiku-latest", "claude-3-7-sonnet-latest", "claude-sonnet-4-0"}},
	{llm.ProviderOpenRouter, tierOpenRouter, []string{"openai/gpt-4o-mini", "anthropic/claude-3.5-sonnet", "meta-llama/llama-3.3-70b-instruct"}},
	{llm.ProviderGroq, tierGroq, []string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant"}},
	{llm.ProviderMistral, tierMistral, []string{"mistral-large-latest", "mistral-small-latest"}},
	{llm.ProviderDeepSeek, tierDeepSeek, []string{"deepseek-chat", "deepseek-reasoner"}},
	{llm.ProviderOllama, tierOllama, []string{"llama3.2"}},
}

// Default returns the built-in queue table.
func Default() []QueueSpec {
	var specs []QueueSpec
	for _, entry := range defaultTable {
		for _, model := range entry.models {
			specs = append(specs, QueueSpec{
				Provider:    entry.provider,
				Model:       model,
				Concurrency: entry.tier.concurrency,
				Limiter:     entry.tier.limiter,
			})
		}
	}
	return specs
}
