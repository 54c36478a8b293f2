// Package generator produces the final answer text from a composed prompt.
// It tries the primary OpenAI chat model first and falls back to Anthropic
// when the primary is unavailable or times out, so a single provider outage
// degrades latency rather than availability.
package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mevzuatgpt/mevzuatgpt-server/engine/apperr"
	openai "github.com/sashabaranov/go-openai"
)

// PerCallTimeout bounds a single provider call so a hung upstream cannot
// stall the whole answer pipeline past the fallback.
const PerCallTimeout = 20 * time.Second

type openaiClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type anthropicClient interface {
	CreateMessage(ctx context.Context, model, system, user string, maxTokens int) (string, error)
}

// anthropicSDKClient adapts the real Anthropic SDK to anthropicClient.
type anthropicSDKClient struct {
	client anthropic.Client
}

func (a *anthropicSDKClient) CreateMessage(ctx context.Context, model, system, user string, maxTokens int) (string, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", errors.New("generator: anthropic returned no content blocks")
	}
	return resp.Content[0].Text, nil
}

// Generator produces chat completions with an OpenAI-first, Anthropic-
// fallback strategy.
type Generator struct {
	openai          openaiClient
	anthropic       anthropicClient
	primaryModel    string
	fallbackModel   string
}

// Config selects the models used for the primary and fallback providers.
type Config struct {
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	PrimaryModel     string
	FallbackModel    string
}

// New builds a Generator from provider API keys.
func New(cfg Config) *Generator {
	primary := cfg.PrimaryModel
	if primary == "" {
		primary = openai.GPT4oMini
	}
	fallback := cfg.FallbackModel
	if fallback == "" {
		fallback = "claude-3-5-sonnet-latest"
	}
	return &Generator{
		openai:        openai.NewClient(cfg.OpenAIAPIKey),
		anthropic:     &anthropicSDKClient{client: anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))},
		primaryModel:  primary,
		fallbackModel: fallback,
	}
}

// NewWithClients builds a Generator around pre-constructed provider clients,
// used by tests.
func NewWithClients(oc openaiClient, ac anthropicClient, primaryModel, fallbackModel string) *Generator {
	return &Generator{openai: oc, anthropic: ac, primaryModel: primaryModel, fallbackModel: fallbackModel}
}

// Generate produces an answer from a system prompt and a user message
// (typically the composed context plus the question). It tries OpenAI
// first; on any error or PerCallTimeout it retries once against Anthropic.
// The returned provider name lets the Composer record which one actually
// answered.
func (g *Generator) Generate(ctx context.Context, system, user string) (text string, provider string, err error) {
	primaryCtx, cancel := context.WithTimeout(ctx, PerCallTimeout)
	defer cancel()

	text, err = g.generateOpenAI(primaryCtx, system, user)
	if err == nil {
		return text, "openai", nil
	}
	primaryErr := err

	fallbackCtx, cancel2 := context.WithTimeout(ctx, PerCallTimeout)
	defer cancel2()

	text, fbErr := g.anthropic.CreateMessage(fallbackCtx, g.fallbackModel, system, user, 2048)
	if fbErr != nil {
		return "", "", apperr.WrapDetail("generator.Generate", fmt.Sprintf("primary: %v, fallback: %v", primaryErr, fbErr), apperr.ErrGeneratorFailed)
	}
	return text, "anthropic", nil
}

func (g *Generator) generateOpenAI(ctx context.Context, system, user string) (string, error) {
	resp, err := g.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.primaryModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generator: openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("generator: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
