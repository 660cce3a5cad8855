// Package llm wraps the hosted chat model behind a single text-in, text-out call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/utils"
)

var (
	ErrEmptyPrompt     = errors.New("empty prompt")
	ErrEmptyCompletion = errors.New("model returned no content")
)

// Generator turns a prompt into reply text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ChatModelGenerator sends each prompt as a single user turn to an eino chat model.
type ChatModelGenerator struct {
	model        model.BaseChatModel
	systemPrompt string
	timeout      time.Duration
}

func NewChatModelGenerator(m model.BaseChatModel, systemPrompt string, timeout time.Duration) *ChatModelGenerator {
	return &ChatModelGenerator{model: m, systemPrompt: systemPrompt, timeout: timeout}
}

func (g *ChatModelGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	msgs := make([]*schema.Message, 0, 2)
	if g.systemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(g.systemPrompt))
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	resp, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Content, nil
}

// New builds the configured provider wrapped in a circuit breaker.
func New(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	cm, err := NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	utils.GetLogger().Info("Model provider ready",
		"provider", cfg.ProviderName(), "model", cfg.ModelName(), "api_key", utils.MaskSensitiveString(cfg.APIKey))
	inner := NewChatModelGenerator(cm, cfg.SystemPrompt, cfg.RequestTimeout())
	return NewBreakerGenerator(cfg.ProviderName(), inner, cfg.BreakerFailures(), cfg.BreakerCooldown()), nil
}
