// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package openai provides the model backend for OpenAI chat models over
// the Chat Completions API. Credentials are supplied per call; a custom
// endpoint on the credential supports OpenAI-compatible gateways.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zhuiye8/lyss-ai-platform-sub003/common/credential"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Backend implements the model backend contract for OpenAI chat models.
type Backend struct {
	baseURL string
	client  HTTPClient
}

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient overrides the HTTP client (used in tests).
func WithHTTPClient(client HTTPClient) Option {
	return func(b *Backend) {
		b.client = client
	}
}

// WithBaseURL overrides the API base URL for every call. Per-credential
// endpoints still take precedence.
func WithBaseURL(baseURL string) Option {
	return func(b *Backend) {
		b.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// NewBackend creates an OpenAI backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Provider returns the provider name
func (b *Backend) Provider() string {
	return "openai"
}

// Generate produces a single completion for the conversation.
func (b *Backend) Generate(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions) (*llm.GenerateResult, error) {
	start := time.Now()

	resp, err := b.send(ctx, cred, model, messages, opts, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return nil, llm.NewBackendError("openai", llm.ErrCodeServerError, "response contained no choices", resp.StatusCode, nil)
	}

	choice := apiResp.Choices[0]
	return &llm.GenerateResult{
		Content:      choice.Message.Content,
		Model:        apiResp.Model,
		FinishReason: choice.FinishReason,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// Stream produces a completion, invoking handler for each content delta.
// The Chat Completions stream terminates with a "data: [DONE]" sentinel.
func (b *Backend) Stream(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions, handler llm.StreamHandler) (*llm.GenerateResult, error) {
	start := time.Now()

	resp, err := b.send(ctx, cred, model, messages, opts, true)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	scanner := bufio.NewScanner(resp.Body)
	var contentBuilder strings.Builder
	var usage llm.UsageStats
	var finishReason string
	var responseModel string

	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			if handler != nil {
				if err := handler(llm.StreamDelta{Done: true}); err != nil {
					return nil, fmt.Errorf("handler error: %w", err)
				}
			}
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}

		if chunk.Model != "" {
			responseModel = chunk.Model
		}
		if chunk.Usage != nil {
			usage.PromptTokens = chunk.Usage.PromptTokens
			usage.CompletionTokens = chunk.Usage.CompletionTokens
			usage.TotalTokens = chunk.Usage.TotalTokens
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			contentBuilder.WriteString(choice.Delta.Content)
			if handler != nil {
				if err := handler(llm.StreamDelta{Content: choice.Delta.Content}); err != nil {
					return nil, fmt.Errorf("handler error: %w", err)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}

	if responseModel == "" {
		responseModel = model
	}

	return &llm.GenerateResult{
		Content:      contentBuilder.String(),
		Model:        responseModel,
		FinishReason: finishReason,
		Usage:        usage,
		Latency:      time.Since(start),
	}, nil
}

// send builds and executes one Chat Completions request, leaving a
// successful response body open for the caller.
func (b *Backend) send(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions, stream bool) (*http.Response, error) {
	apiReq := chatRequest{
		Model:  model,
		Stream: stream,
	}
	for _, msg := range messages {
		apiReq.Messages = append(apiReq.Messages, chatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	if opts.MaxTokens > 0 {
		apiReq.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature >= 0 {
		temperature := opts.Temperature
		apiReq.Temperature = &temperature
	}
	if stream {
		apiReq.StreamOptions = &streamOptions{IncludeUsage: true}
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := b.baseURL
	if cred.Endpoint != "" {
		baseURL = strings.TrimSuffix(cred.Endpoint, "/")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/v1/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewBackendError("openai", llm.ErrCodeUnavailable, fmt.Sprintf("request failed: %v", err), 0, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, b.parseAPIError(resp.StatusCode, body)
	}

	return resp, nil
}

// parseAPIError parses an API error response
func (b *Backend) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	var code string
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		code = llm.ErrCodeAuth
	case statusCode == http.StatusNotFound:
		code = llm.ErrCodeModelNotFound
	case statusCode == http.StatusTooManyRequests:
		code = llm.ErrCodeRateLimit
	case statusCode >= 500:
		code = llm.ErrCodeServerError
	default:
		code = llm.ErrCodeInvalidRequest
	}

	return llm.NewBackendError("openai", code, message, statusCode, nil)
}

// Internal API types

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage usageCounts `json:"usage"`
}

type usageCounts struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usageCounts `json:"usage"`
}
