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

// Package llm defines the model-backend contract used by the workflow
// engines. A Backend adapts one upstream LLM provider API; the BackendSet
// maps provider names to Backend instances for routing.
package llm

import (
	"fmt"
	"time"
)

// Message roles in a chat message sequence.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in an ordered chat message sequence.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UsageStats tracks token usage for billing and monitoring.
type UsageStats struct {
	// PromptTokens is the number of tokens in the input.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens generated.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the sum of prompt and completion tokens.
	TotalTokens int `json:"total_tokens"`
}

// GenerateResult contains the outcome of one backend invocation.
type GenerateResult struct {
	// Content is the generated text response.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// Usage contains token usage statistics.
	Usage UsageStats `json:"usage"`

	// Latency is the time taken to generate the response.
	Latency time.Duration `json:"latency"`

	// FinishReason indicates why generation stopped.
	// Common values: "stop", "max_tokens", "content_filter".
	FinishReason string `json:"finish_reason,omitempty"`
}

// GenerateOptions carries the tunable parameters of a backend call.
// Zero values mean "use the backend default".
type GenerateOptions struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// StreamDelta is a single incremental text fragment from a streaming call.
// The final delta has Done set and empty Content.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done"`
}

// StreamHandler is a callback invoked for each streamed delta.
// Returning an error aborts the stream.
type StreamHandler func(delta StreamDelta) error

// BackendError represents an error from a model backend.
type BackendError struct {
	// Provider is the name of the backend that returned the error.
	Provider string `json:"provider"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates if the request can be retried.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s backend error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s backend error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Common backend error codes.
const (
	// ErrCodeRateLimit indicates rate limiting by the upstream API.
	ErrCodeRateLimit = "rate_limit"

	// ErrCodeAuth indicates authentication failure.
	ErrCodeAuth = "authentication_error"

	// ErrCodeInvalidRequest indicates a malformed request.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeModelNotFound indicates the requested model doesn't exist.
	ErrCodeModelNotFound = "model_not_found"

	// ErrCodeServerError indicates an upstream server error.
	ErrCodeServerError = "server_error"

	// ErrCodeTimeout indicates request timeout.
	ErrCodeTimeout = "timeout"

	// ErrCodeUnavailable indicates the backend is unavailable.
	ErrCodeUnavailable = "unavailable"
)

// NewBackendError creates a BackendError with retryability derived from the code.
func NewBackendError(provider, code, message string, statusCode int, cause error) *BackendError {
	return &BackendError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  isRetryableCode(code),
		Cause:      cause,
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}
