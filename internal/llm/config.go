package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Config selects and configures the grading model.
type Config struct {
	// Provider is "openai", "anthropic" or "gemini".
	Provider string

	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Gemini    GeminiConfig
}

// OpenAIConfig holds OpenAI-specific configuration. BaseURL points at any
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// AnthropicConfig holds Anthropic-specific configuration.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GeminiConfig holds Gemini-specific configuration.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewConfig builds a Config that routes key, model and url to the named
// provider.
func NewConfig(provider, baseURL, apiKey, model string) Config {
	cfg := Config{Provider: provider}
	switch provider {
	case "anthropic":
		cfg.Anthropic = AnthropicConfig{APIKey: apiKey, Model: model, BaseURL: baseURL}
	case "gemini":
		cfg.Gemini = GeminiConfig{APIKey: apiKey, Model: model, BaseURL: baseURL}
	default:
		cfg.OpenAI = OpenAIConfig{APIKey: apiKey, Model: model, BaseURL: baseURL}
	}
	return cfg
}

// NewProvider creates the configured provider wrapped with request logging.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "openai", "":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}
	return WithLogging(base, slog.Default()), nil
}

// LoggingProvider logs every request with its latency and token usage.
type LoggingProvider struct {
	inner Provider
	log   *slog.Logger
}

// WithLogging wraps a Provider with request logging.
func WithLogging(p Provider, log *slog.Logger) Provider {
	return &LoggingProvider{inner: p, log: log}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)
	attrs := []any{"model", l.inner.ModelID(), "latency", time.Since(start)}
	if err != nil {
		l.log.Warn("LLM request failed", append(attrs, "error", err)...)
		return nil, err
	}
	l.log.Debug("LLM response",
		append(attrs,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
			"stop", resp.StopReason,
			"raw", string(resp.Content))...)
	return resp, nil
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}
