package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/parley-chat/parley/pkg/config"
)

const claudeMaxTokens = 1024

// NewChatModel constructs the chat model for cfg's provider.
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	provider := cfg.ProviderName()
	modelName := cfg.ModelName()
	if modelName == "" {
		return nil, fmt.Errorf("llm provider %q: model is required", provider)
	}

	switch provider {
	case "gemini", "google":
		genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client init failed: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: genaiClient,
			Model:  modelName,
		})

	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   modelName,
		})

	case "deepseek":
		return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   modelName,
		})

	case "claude", "anthropic":
		conf := &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     modelName,
			MaxTokens: claudeMaxTokens,
		}
		if cfg.BaseURL != "" {
			baseURL := cfg.BaseURL
			conf.BaseURL = &baseURL
		}
		return claude.NewChatModel(ctx, conf)

	case "ollama":
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   modelName,
		})

	default:
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}
}
