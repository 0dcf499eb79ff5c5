package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/preboard/internal/metrics"
)

// AgentLLM routes completion requests to a provider through the openai-agents-go runner.
type AgentLLM struct {
	providers map[string]agents.ModelProvider
	models    map[string]string // engine → default model
	fallback  string
	maxTokens int
}

// NewAgentLLM creates a new AgentLLM with the given fallback engine and max tokens.
func NewAgentLLM(fallback string, maxTokens int) *AgentLLM {
	return &AgentLLM{
		providers: make(map[string]agents.ModelProvider),
		models:    make(map[string]string),
		fallback:  fallback,
		maxTokens: maxTokens,
	}
}

// NewOpenAIProvider builds a chat-completions provider for api.openai.com or a compatible base URL.
func NewOpenAIProvider(apiKey, baseURL string) agents.ModelProvider {
	params := agents.OpenAIProviderParams{
		APIKey:       param.NewOpt(apiKey),
		UseResponses: param.NewOpt(false),
	}
	if baseURL != "" {
		params.BaseURL = param.NewOpt(baseURL)
	}
	return agents.NewOpenAIProvider(params)
}

// Register adds a provider and default model for the given engine name.
func (a *AgentLLM) Register(engine string, provider agents.ModelProvider, defaultModel string) {
	a.providers[engine] = provider
	a.models[engine] = defaultModel
}

// Chat streams a single-turn completion from the resolved provider.
func (a *AgentLLM) Chat(ctx context.Context, userMessage, systemPrompt, model, engine string) (*LLMResult, error) {
	provider, useModel, err := a.resolve(engine, model)
	if err != nil {
		return nil, err
	}

	agent := agents.New("onboarding-assistant").
		WithInstructions(systemPrompt).
		WithModel(useModel).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, userMessage)
	if err != nil {
		metrics.Errors.WithLabelValues("llm", "stream_start").Inc()
		return nil, fmt.Errorf("llm stream start: %w", err)
	}

	var textBuf strings.Builder
	var ttft time.Time
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		if ttft.IsZero() {
			ttft = time.Now()
		}
		textBuf.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		metrics.Errors.WithLabelValues("llm", "stream").Inc()
		return nil, fmt.Errorf("llm stream: %w", streamErr)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("llm").Observe(latency.Seconds())

	result := &LLMResult{
		Text:      strings.TrimSpace(textBuf.String()),
		LatencyMs: float64(latency.Milliseconds()),
	}
	if !ttft.IsZero() {
		result.TimeToFirstTokenMs = float64(ttft.Sub(start).Milliseconds())
	}
	return result, nil
}

func (a *AgentLLM) resolve(engine, model string) (agents.ModelProvider, string, error) {
	provider, ok := a.providers[engine]
	if !ok {
		engine = a.fallback
		provider, ok = a.providers[engine]
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: llm engine %q", ErrNoBackend, engine)
	}
	if model != "" {
		return provider, model, nil
	}
	return provider, a.models[engine], nil
}
