package pipeline

import "context"

// LLMChatClient produces chat completions from a user message.
type LLMChatClient interface {
	Chat(ctx context.Context, userMessage, systemPrompt, model, engine string) (*LLMResult, error)
}

// LLMResult holds the complete LLM response with timing.
type LLMResult struct {
	Text               string  `json:"text"`
	LatencyMs          float64 `json:"latency_ms"`
	TimeToFirstTokenMs float64 `json:"ttft_ms"`
}
