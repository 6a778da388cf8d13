// Package provider wraps OpenAI-compatible chat APIs (OpenRouter, OpenAI,
// Ollama and friends) behind one client used for completions, embeddings,
// image generation and speech-to-text.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openguenther/guenther/internal/config"
	"github.com/openguenther/guenther/pkg/models"
)

// KeyMissingError signals that a provider has no API key configured.
type KeyMissingError struct {
	Label string
}

func (e *KeyMissingError) Error() string {
	return fmt.Sprintf("no API key configured for %s", e.Label)
}

// RequestError is a non-2xx answer from the chat API. Its Error() string
// is "<status>: <message>" so callers can surface it verbatim.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// Client talks to one configured provider.
type Client struct {
	cfg  config.ProviderConfig
	api  *openai.Client
	http *http.Client
}

// New builds a client for the provider config. Providers without an API
// key return a KeyMissingError.
func New(cfg config.ProviderConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &KeyMissingError{Label: cfg.DisplayLabel()}
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = config.NormalizeBaseURL(cfg.BaseURL)
	return &Client{
		cfg:  cfg,
		api:  openai.NewClientWithConfig(clientConfig),
		http: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// ProviderID returns the configured provider id.
func (c *Client) ProviderID() string {
	return c.cfg.ID
}

// Label returns the human-readable provider name.
func (c *Client) Label() string {
	return c.cfg.DisplayLabel()
}

// DefaultModel returns the provider's configured default model.
func (c *Client) DefaultModel() string {
	return c.cfg.DefaultModel
}

// ChatRequest is one non-streaming chat completion call.
type ChatRequest struct {
	Model       string
	Messages    []models.ChatMessage
	Tools       []models.ToolDefinition
	Temperature float32
	MaxTokens   int
}

// ChatResult is the assistant turn plus token accounting.
type ChatResult struct {
	Content          string
	ToolCalls        []models.ToolCall
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatCompletion performs one completion round trip. API-level failures
// come back as *RequestError.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.Messages),
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}

	choice := resp.Choices[0]
	result := &ChatResult{
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: models.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return result, nil
}

func convertMessages(msgs []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		oai := openai.ChatCompletionMessage{Role: string(msg.Role)}

		if msg.Content.IsParts() {
			for _, part := range msg.Content.Parts {
				switch part.Type {
				case "image_url":
					if part.ImageURL == nil {
						continue
					}
					oai.MultiContent = append(oai.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL.URL, Detail: openai.ImageURLDetailAuto},
					})
				default:
					oai.MultiContent = append(oai.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				}
			}
		} else {
			oai.Content = msg.Content.Text
		}

		switch msg.Role {
		case models.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				oai.ToolCalls = append(oai.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		case models.RoleTool:
			oai.ToolCallID = msg.ToolCallID
			oai.Name = msg.Name
		}

		out = append(out, oai)
	}
	return out
}

func convertTools(tools []models.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		params := tool.Function.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

func wrapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			if raw, marshalErr := json.Marshal(apiErr); marshalErr == nil {
				msg = string(raw)
			}
		}
		return &RequestError{StatusCode: apiErr.HTTPStatusCode, Message: msg}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &RequestError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}
