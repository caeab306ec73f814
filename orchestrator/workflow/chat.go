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

package workflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zhuiye8/lyss-ai-platform-sub003/common/credential"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm"
)

// chatRunner holds the collaborator plumbing shared by the chat engines:
// credential resolution, message assembly, the backend call, and usage
// recording. Collaborator failures come back as a failed WorkflowResponse
// with a nil error, so the executor records them without a panic or a
// dropped execution slot.
type chatRunner struct {
	credentials credential.Manager
	backends    *llm.BackendSet
	logger      *log.Logger
}

// resolve picks the backend and credential for a request. An empty provider
// selects the backend set's default.
func (r *chatRunner) resolve(ctx context.Context, req *WorkflowRequest, provider string) (llm.Backend, *credential.Credential, string, error) {
	if provider == "" {
		provider = r.backends.DefaultProvider()
	}

	backend, err := r.backends.Get(provider)
	if err != nil {
		return nil, nil, "", err
	}

	model := req.Model()
	cred, err := r.credentials.Resolve(ctx, req.TenantID, provider, model)
	if err != nil {
		return nil, nil, "", err
	}

	if model == "" {
		model = cred.DefaultModel
	}
	if model == "" {
		return nil, nil, "", fmt.Errorf("no model specified and credential for %s has no default model", provider)
	}

	return backend, cred, model, nil
}

// buildMessages assembles the conversation: optional system prompt, prior
// history, then the current user message.
func (r *chatRunner) buildMessages(req *WorkflowRequest) []llm.Message {
	var messages []llm.Message

	if system := req.SystemPrompt(); system != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	messages = append(messages, req.History()...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Message})

	return messages
}

// run executes one chat turn against a resolved backend and records usage.
func (r *chatRunner) run(ctx context.Context, req *WorkflowRequest, workflowType, provider string) (*WorkflowResponse, error) {
	start := time.Now()

	backend, cred, model, err := r.resolve(ctx, req, provider)
	if err != nil {
		return r.failure(workflowType, start, err), nil
	}

	opts := llm.GenerateOptions{
		MaxTokens:   req.MaxTokens(),
		Temperature: req.Temperature(),
	}

	result, err := backend.Generate(ctx, cred, model, r.buildMessages(req), opts)
	if err != nil {
		r.logger.Printf("Backend %s generate failed for tenant %s: %v", backend.Provider(), req.TenantID, err)
		return r.failure(workflowType, start, err), nil
	}

	r.recordUsage(ctx, req, cred, backend.Provider(), result)

	return &WorkflowResponse{
		Success:      true,
		Content:      result.Content,
		Model:        result.Model,
		WorkflowType: workflowType,
		Duration:     time.Since(start),
		Usage: TokenUsage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		Metadata: map[string]interface{}{
			"provider":      backend.Provider(),
			"finish_reason": result.FinishReason,
		},
	}, nil
}

// runStream executes one chat turn in streaming mode, emitting a start
// event and one chunk event per delta. The terminal event belongs to the
// executor; the engine never emits one.
func (r *chatRunner) runStream(ctx context.Context, req *WorkflowRequest, workflowType, provider string, emit StreamEmitter) (*WorkflowResponse, error) {
	start := time.Now()

	backend, cred, model, err := r.resolve(ctx, req, provider)
	if err != nil {
		return r.failure(workflowType, start, err), nil
	}

	startEvent := StreamEvent{
		Type:     EventStart,
		Provider: backend.Provider(),
		Model:    model,
	}
	if err := emit(startEvent); err != nil {
		return nil, err
	}

	opts := llm.GenerateOptions{
		MaxTokens:   req.MaxTokens(),
		Temperature: req.Temperature(),
	}

	handler := func(delta llm.StreamDelta) error {
		if delta.Content == "" {
			return nil
		}
		return emit(StreamEvent{
			Type:     EventChunk,
			Provider: backend.Provider(),
			Model:    model,
			Content:  delta.Content,
		})
	}

	result, err := backend.Stream(ctx, cred, model, r.buildMessages(req), opts, handler)
	if err != nil {
		// Consumer-side emit errors propagate as real errors so the
		// executor can tear the run down; backend failures become a
		// failed response.
		if ctx.Err() != nil {
			return nil, err
		}
		r.logger.Printf("Backend %s stream failed for tenant %s: %v", backend.Provider(), req.TenantID, err)
		return r.failure(workflowType, start, err), nil
	}

	r.recordUsage(ctx, req, cred, backend.Provider(), result)

	return &WorkflowResponse{
		Success:      true,
		Content:      result.Content,
		Model:        result.Model,
		WorkflowType: workflowType,
		Duration:     time.Since(start),
		Usage: TokenUsage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		Metadata: map[string]interface{}{
			"provider":      backend.Provider(),
			"finish_reason": result.FinishReason,
		},
	}, nil
}

// recordUsage reports one completed backend call to the credential manager.
// Recording is best-effort: a failed write is logged, never surfaced.
func (r *chatRunner) recordUsage(ctx context.Context, req *WorkflowRequest, cred *credential.Credential, provider string, result *llm.GenerateResult) {
	rec := credential.UsageRecord{
		CredentialID:     cred.ID,
		TenantID:         req.TenantID,
		UserID:           req.UserID,
		Provider:         provider,
		Model:            result.Model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		LatencyMs:        result.Latency.Milliseconds(),
	}
	if err := r.credentials.RecordUsage(ctx, rec); err != nil {
		r.logger.Printf("Failed to record usage for tenant %s: %v", req.TenantID, err)
	}
}

// failure builds the failed-response shape for collaborator errors.
func (r *chatRunner) failure(workflowType string, start time.Time, err error) *WorkflowResponse {
	return &WorkflowResponse{
		Success:      false,
		WorkflowType: workflowType,
		Duration:     time.Since(start),
		Error:        err.Error(),
	}
}
