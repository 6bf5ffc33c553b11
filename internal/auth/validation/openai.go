// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package validation

import (
	"context"

	"github.com/samber/oops"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures OpenAICapability.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAICapability sends each Request as a single chat completion to any
// OpenAI-compatible endpoint.
type OpenAICapability struct {
	client    *openai.Client
	model     string
	maxTokens int
}

var _ Capability = (*OpenAICapability)(nil)

// NewOpenAICapability builds a client from cfg.
func NewOpenAICapability(cfg OpenAIConfig) (*OpenAICapability, error) {
	if cfg.APIKey == "" {
		return nil, oops.Code("VALIDATION_CONFIG_INVALID").Errorf("openai api key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	return &OpenAICapability{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Complete sends req and returns the first choice's text.
func (c *OpenAICapability) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", oops.Code("OPENAI_REQUEST_FAILED").
			With("model", c.model).
			With("kind", string(req.Kind)).
			Wrap(err)
	}
	if len(resp.Choices) == 0 {
		return "", oops.Code("OPENAI_EMPTY_RESPONSE").With("model", c.model).Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
