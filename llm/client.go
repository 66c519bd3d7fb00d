// Package llm abstracts the model providers conchd can generate suggestions
// with.
package llm

import (
	"context"
	"fmt"

	"github.com/m4xw311/conch/errors"
)

// Client is the interface for interacting with a Large Language Model.
type Client interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// New builds the provider named by the config string.
func New(ctx context.Context, provider, model string) (Client, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicClient(ctx, model)
	case "openai":
		return NewOpenAIClient(ctx, model)
	case "gemini":
		return NewGeminiClient(ctx, model)
	case "bedrock":
		return NewBedrockClient(ctx, model)
	case "mock":
		return &MockClient{}, nil
	default:
		return nil, errors.New("unknown llm provider: %s", provider)
	}
}

// MockClient is a placeholder for testing.
type MockClient struct {
	// Response, when set, is returned verbatim.
	Response string
	// Err, when set, fails every call.
	Err error

	Prompts []string
	Systems []string
}

func (m *MockClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	m.Systems = append(m.Systems, system)
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return fmt.Sprintf("I am a mock LLM. You said: '%s'.", prompt), nil
}
