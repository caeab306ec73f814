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

// Package workflow implements the workflow orchestration core: the Engine
// contract and its built-in chat strategies, the Registry that maps
// workflow-type names to engines, the Executor that runs engines under a
// concurrency budget with execution bookkeeping, and the Manager facade
// that wires it all together.
package workflow

import (
	"time"

	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm"
)

// WorkflowRequest is one chat request for a tenant/user.
type WorkflowRequest struct {
	// RequestID is the client-supplied request identifier.
	RequestID string `json:"request_id"`

	// ExecutionID identifies the execution; generated when absent.
	ExecutionID string `json:"execution_id,omitempty"`

	// TenantID is the pre-authenticated tenant.
	TenantID string `json:"tenant_id"`

	// UserID is the pre-authenticated user.
	UserID string `json:"user_id"`

	// WorkflowType names the registered strategy that handles the request.
	WorkflowType string `json:"workflow_type"`

	// Message is the current user message text.
	Message string `json:"message"`

	// ModelConfig carries model selection knobs: "model", "provider",
	// "temperature", "max_tokens", "stream".
	ModelConfig map[string]interface{} `json:"model_config,omitempty"`

	// Config carries strategy-specific knobs: "system_prompt", "history".
	Config map[string]interface{} `json:"config,omitempty"`
}

// Model returns the requested model name, or "".
func (r *WorkflowRequest) Model() string {
	return stringValue(r.ModelConfig, "model")
}

// Provider returns the provider hint, or "".
func (r *WorkflowRequest) Provider() string {
	return stringValue(r.ModelConfig, "provider")
}

// Temperature returns the requested temperature, or -1 when the request
// does not set one. Backends treat a negative temperature as unset.
func (r *WorkflowRequest) Temperature() float64 {
	if _, ok := r.ModelConfig["temperature"]; !ok {
		return -1
	}
	return floatValue(r.ModelConfig, "temperature")
}

// MaxTokens returns the requested max token count, or 0.
func (r *WorkflowRequest) MaxTokens() int {
	return intValue(r.ModelConfig, "max_tokens")
}

// Streaming reports whether the client requested a streamed response.
func (r *WorkflowRequest) Streaming() bool {
	v, ok := r.ModelConfig["stream"].(bool)
	return ok && v
}

// SystemPrompt returns the configured system prompt, or "".
func (r *WorkflowRequest) SystemPrompt() string {
	return stringValue(r.Config, "system_prompt")
}

// History returns prior conversation turns from Config["history"], which
// holds ordered {role, content} entries. Malformed entries are skipped.
func (r *WorkflowRequest) History() []llm.Message {
	raw, ok := r.Config["history"].([]interface{})
	if !ok {
		return nil
	}

	history := make([]llm.Message, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := entry["role"].(string)
		content, _ := entry["content"].(string)
		if role == "" || content == "" {
			continue
		}
		history = append(history, llm.Message{Role: role, Content: content})
	}
	return history
}

// TokenUsage holds per-execution token counters.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// WorkflowResponse is the outcome of one workflow execution.
// Success implies Content and Usage are populated.
type WorkflowResponse struct {
	Success      bool                   `json:"success"`
	Content      string                 `json:"content,omitempty"`
	Model        string                 `json:"model,omitempty"`
	WorkflowType string                 `json:"workflow_type"`
	Duration     time.Duration          `json:"duration_ms"`
	Usage        TokenUsage             `json:"usage"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// StreamEventType tags a streaming event.
type StreamEventType string

const (
	// EventStart opens the stream and carries the resolved provider/model.
	EventStart StreamEventType = "start"

	// EventChunk carries one incremental text delta.
	EventChunk StreamEventType = "chunk"

	// EventEnd terminates the stream with final usage and metadata.
	EventEnd StreamEventType = "end"

	// EventError terminates the stream with an error message.
	EventError StreamEventType = "error"
)

// StreamEvent is one event on a workflow event stream. Every stream
// carries at most one start, any number of chunks between start and the
// terminal event, and exactly one terminal event (end or error).
type StreamEvent struct {
	Type        StreamEventType        `json:"type"`
	ExecutionID string                 `json:"execution_id,omitempty"`
	Provider    string                 `json:"provider,omitempty"`
	Model       string                 `json:"model,omitempty"`
	Content     string                 `json:"content,omitempty"`
	Usage       *TokenUsage            `json:"usage,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventEnd || e.Type == EventError
}

// ExecutionStatus is the lifecycle state of one execution.
type ExecutionStatus string

const (
	// StatusRunning is the sole non-terminal status.
	StatusRunning ExecutionStatus = "running"

	// StatusCompleted indicates normal completion.
	StatusCompleted ExecutionStatus = "completed"

	// StatusFailed indicates an engine/backend error or timeout.
	StatusFailed ExecutionStatus = "failed"

	// StatusCancelled indicates an explicit cancellation.
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ExecutionStep is one ordered step record inside an execution.
type ExecutionStep struct {
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// ExecutionContext is the Executor-owned bookkeeping record for one
// execution. It is created at dispatch, mutated only by the Executor, and
// retained after completion until age-based cleanup.
type ExecutionContext struct {
	ExecutionID  string          `json:"execution_id"`
	RequestID    string          `json:"request_id"`
	TenantID     string          `json:"tenant_id"`
	UserID       string          `json:"user_id"`
	WorkflowType string          `json:"workflow_type"`
	Status       ExecutionStatus `json:"status"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Steps        []ExecutionStep `json:"steps"`
	Error        string          `json:"error,omitempty"`
}

// ExecutionSnapshot is the status-query view of an execution.
type ExecutionSnapshot struct {
	ExecutionID  string          `json:"execution_id"`
	TenantID     string          `json:"tenant_id"`
	WorkflowType string          `json:"workflow_type"`
	Status       ExecutionStatus `json:"status"`
	Progress     float64         `json:"progress"`
	CurrentStep  string          `json:"current_step,omitempty"`
	Steps        []ExecutionStep `json:"steps"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	Elapsed      time.Duration   `json:"elapsed_ms"`
	Error        string          `json:"error,omitempty"`
}

// Info is the static metadata for a registered engine.
type Info struct {
	// Name is the workflow-type name the engine is registered under.
	Name string `json:"name"`

	// DisplayName is a human-readable label.
	DisplayName string `json:"display_name"`

	// Description explains what the strategy does.
	Description string `json:"description"`

	// Parameters documents the strategy-specific configuration knobs.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// Features lists feature tags (e.g. "streaming", "provider-hint").
	Features []string `json:"features,omitempty"`

	// RequiredInputs lists the request fields the strategy requires.
	RequiredInputs []string `json:"required_inputs,omitempty"`

	// OutputShape describes the response shape (e.g. "text").
	OutputShape string `json:"output_shape,omitempty"`
}

func stringValue(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func floatValue(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func intValue(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		// JSON numbers decode as float64
		return int(v)
	default:
		return 0
	}
}
