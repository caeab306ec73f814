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

// Package anthropic provides the model backend for Anthropic's Claude
// models over the Messages API, with both streaming and non-streaming
// completion modes. Credentials are supplied per call, so a single backend
// instance serves every tenant.
package anthropic

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
	// DefaultBaseURL is the default Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096
)

// HTTPClient is an interface for HTTP client operations (enables testing)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Backend implements the model backend contract for Anthropic Claude.
type Backend struct {
	baseURL    string
	apiVersion string
	client     HTTPClient
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

// NewBackend creates an Anthropic backend.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		baseURL:    DefaultBaseURL,
		apiVersion: DefaultAPIVersion,
		client:     &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Provider returns the provider name
func (b *Backend) Provider() string {
	return "anthropic"
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

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	// Extract content using strings.Builder for efficiency
	var contentBuilder strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			contentBuilder.WriteString(block.Text)
		}
	}

	return &llm.GenerateResult{
		Content:      contentBuilder.String(),
		Model:        apiResp.Model,
		FinishReason: apiResp.StopReason,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// Stream produces a completion, invoking handler for each content delta as
// it arrives over SSE.
func (b *Backend) Stream(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions, handler llm.StreamHandler) (*llm.GenerateResult, error) {
	start := time.Now()

	resp, err := b.send(ctx, cred, model, messages, opts, true)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return b.processStream(resp.Body, handler, start, model)
}

// send builds and executes one Messages API request, leaving a successful
// response body open for the caller.
func (b *Backend) send(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions, stream bool) (*http.Response, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	apiReq := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Stream:    stream,
	}

	// The Messages API takes the system prompt as a top-level field, not
	// as a message.
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			apiReq.System = msg.Content
			continue
		}
		apiReq.Messages = append(apiReq.Messages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	// Temperature 0.0 is valid (deterministic); negative means unset
	if opts.Temperature >= 0 {
		temperature := opts.Temperature
		apiReq.Temperature = &temperature
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := b.baseURL
	if cred.Endpoint != "" {
		baseURL = strings.TrimSuffix(cred.Endpoint, "/")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", cred.APIKey)
	httpReq.Header.Set("anthropic-version", b.apiVersion)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, llm.NewBackendError("anthropic", llm.ErrCodeUnavailable, fmt.Sprintf("request failed: %v", err), 0, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, b.parseAPIError(resp.StatusCode, body)
	}

	return resp, nil
}

// processStream processes the SSE stream from Anthropic
func (b *Backend) processStream(body io.Reader, handler llm.StreamHandler, start time.Time, model string) (*llm.GenerateResult, error) {
	scanner := bufio.NewScanner(body)
	var contentBuilder strings.Builder
	var usage llm.UsageStats
	var stopReason string
	var responseModel string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // Skip malformed events
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				responseModel = event.Message.Model
				if event.Message.Usage != nil {
					usage.PromptTokens = event.Message.Usage.InputTokens
				}
			}

		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" {
				contentBuilder.WriteString(event.Delta.Text)
				if handler != nil {
					if err := handler(llm.StreamDelta{Content: event.Delta.Text}); err != nil {
						return nil, fmt.Errorf("handler error: %w", err)
					}
				}
			}

		case "message_delta":
			if event.Delta != nil {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			if handler != nil {
				if err := handler(llm.StreamDelta{Done: true}); err != nil {
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

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return &llm.GenerateResult{
		Content:      contentBuilder.String(),
		Model:        responseModel,
		FinishReason: stopReason,
		Usage:        usage,
		Latency:      time.Since(start),
	}, nil
}

// parseAPIError parses an API error response
func (b *Backend) parseAPIError(statusCode int, body []byte) error {
	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
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

	return llm.NewBackendError("anthropic", code, message, statusCode, nil)
}

// Internal API types

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string               `json:"id"`
	Model      string               `json:"model"`
	StopReason string               `json:"stop_reason"`
	Content    []anthropicContent   `json:"content"`
	Usage      anthropicUsageCounts `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsageCounts struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string                `json:"model"`
		Usage *anthropicUsageCounts `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsageCounts `json:"usage,omitempty"`
}
