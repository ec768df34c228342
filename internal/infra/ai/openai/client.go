// Package openai talks to OpenAI-compatible inference endpoints. The cloud
// provider is driven through chat completions, the local vLLM server
// through plain completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/domain/sca"
	"github.com/bryanwahyu/automaton-sca/internal/infra/ai/prompt"
)

const (
	maxTokens   = 2048
	temperature = 0.1
)

var ErrEmptyResponse = errors.New("ai provider returned no choices")

type Client struct {
	api      *openai.Client
	provider provider.Provider
	Model    string
}

// NewClient builds a client for p. baseURL may be empty for the public
// OpenAI endpoint; httpClient may be nil.
func NewClient(p provider.Provider, apiKey, baseURL, model string, httpClient *http.Client) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &Client{api: openai.NewClientWithConfig(cfg), provider: p, Model: model}
}

func (c *Client) Provider() provider.Provider { return c.provider }

// Generate writes the report for one check. The report always starts with
// the language's header line.
func (c *Client) Generate(ctx context.Context, check sca.Check, lang analysis.Language) (string, error) {
	user := prompt.Check(check, lang)

	var (
		text string
		err  error
	)
	if c.provider == provider.VLLM {
		text, err = c.complete(ctx, user)
	} else {
		text, err = c.chat(ctx, user)
	}
	if err != nil {
		return "", fmt.Errorf("%s analysis failed: %w", c.provider, mapError(err))
	}
	return prompt.EnsureHeader(text, lang), nil
}

func (c *Client) chat(ctx context.Context, user string) (string, error) {
	model := c.Model
	if model == "" {
		model = openai.GPT4
	}
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	// reasoning models (o1/o3/o4/gpt-5*) pakai MaxCompletionTokens, tanpa temperature
	if isReasoning(model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
		req.Temperature = temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) complete(ctx context.Context, user string) (string, error) {
	resp, err := c.api.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       c.Model,
		Prompt:      user,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stop:        prompt.Stop,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Text, nil
}

// Probe lists models to check the endpoint is reachable.
func (c *Client) Probe(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	return mapError(err)
}

func isReasoning(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// mapError turns provider rate limiting into analysis.ErrQuotaExceeded.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", analysis.ErrQuotaExceeded, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", analysis.ErrQuotaExceeded, reqErr.Err)
	}
	return err
}
