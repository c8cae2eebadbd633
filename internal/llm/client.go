package llm

import (
	"context"
	"fmt"

	"github.com/lazypower/linkboard/internal/config"
)

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// "haiku" is the config default; providers other than the CLI translate
// it to their own small model.
const defaultModelAlias = "haiku"

const (
	defaultAnthropicModel = "claude-haiku-4-5-20251001"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultOllamaURL      = "http://localhost:11434"
	defaultOllamaModel    = "llama3.2"
)

func modelOr(model, fallback string) string {
	if model == "" || model == defaultModelAlias {
		return fallback
	}
	return model
}

// NewClient creates an LLM client based on the config provider setting.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "claude-cli":
		model := cfg.Model
		if model == "" {
			model = defaultModelAlias
		}
		return NewClaudeCLI(model), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		return NewAnthropic(cfg.AnthropicKey, modelOr(cfg.Model, defaultAnthropicModel)), nil
	case "openai":
		if cfg.OpenAIKey == "" && cfg.OpenAIURL == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY or an openai_url")
		}
		return NewOpenAI(cfg.OpenAIKey, cfg.OpenAIURL, modelOr(cfg.Model, defaultOpenAIModel)), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = defaultOllamaURL
		}
		model := cfg.OllamaModel
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllama(url, model), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
