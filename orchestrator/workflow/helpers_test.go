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
	"strings"
	"sync"
	"time"

	"github.com/zhuiye8/lyss-ai-platform-sub003/common/credential"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm"
)

// fakeEngine is a configurable engine for executor and registry tests.
type fakeEngine struct {
	name      string
	executeFn func(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error)
	streamFn  func(ctx context.Context, req *WorkflowRequest, emit StreamEmitter) (*WorkflowResponse, error)
}

func (e *fakeEngine) Execute(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error) {
	if e.executeFn != nil {
		return e.executeFn(ctx, req)
	}
	return &WorkflowResponse{Success: true, Content: "ok", WorkflowType: e.name}, nil
}

func (e *fakeEngine) ExecuteStream(ctx context.Context, req *WorkflowRequest, emit StreamEmitter) (*WorkflowResponse, error) {
	if e.streamFn != nil {
		return e.streamFn(ctx, req, emit)
	}
	if err := emit(StreamEvent{Type: EventStart}); err != nil {
		return nil, err
	}
	return &WorkflowResponse{Success: true, Content: "ok", WorkflowType: e.name}, nil
}

func (e *fakeEngine) Info() Info {
	return Info{Name: e.name, Description: "test engine"}
}

// blockingEngine parks until released or its context ends. It lets tests
// hold executions in the running state deterministically.
type blockingEngine struct {
	started chan string
	release chan struct{}
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		started: make(chan string, 64),
		release: make(chan struct{}),
	}
}

func (e *blockingEngine) Execute(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error) {
	e.started <- req.ExecutionID
	select {
	case <-e.release:
		return &WorkflowResponse{Success: true, Content: "released"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *blockingEngine) ExecuteStream(ctx context.Context, req *WorkflowRequest, emit StreamEmitter) (*WorkflowResponse, error) {
	return e.Execute(ctx, req)
}

func (e *blockingEngine) Info() Info {
	return Info{Name: "blocking", Description: "test engine"}
}

// echoBackend is an llm.Backend that echoes the last user message. It
// records the messages it was called with.
type echoBackend struct {
	provider string

	mu       sync.Mutex
	calls    int
	messages [][]llm.Message
}

func newEchoBackend(provider string) *echoBackend {
	return &echoBackend{provider: provider}
}

func (b *echoBackend) Provider() string {
	return b.provider
}

func (b *echoBackend) record(messages []llm.Message) {
	b.mu.Lock()
	b.calls++
	copied := make([]llm.Message, len(messages))
	copy(copied, messages)
	b.messages = append(b.messages, copied)
	b.mu.Unlock()
}

func (b *echoBackend) lastUser(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func (b *echoBackend) Generate(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions) (*llm.GenerateResult, error) {
	b.record(messages)
	content := "echo: " + b.lastUser(messages)
	return &llm.GenerateResult{
		Content:      content,
		Model:        model,
		FinishReason: "stop",
		Usage:        llm.UsageStats{PromptTokens: 7, CompletionTokens: 5, TotalTokens: 12},
		Latency:      time.Millisecond,
	}, nil
}

func (b *echoBackend) Stream(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions, handler llm.StreamHandler) (*llm.GenerateResult, error) {
	b.record(messages)
	content := "echo: " + b.lastUser(messages)
	for _, word := range strings.SplitAfter(content, " ") {
		if err := handler(llm.StreamDelta{Content: word}); err != nil {
			return nil, err
		}
	}
	if err := handler(llm.StreamDelta{Done: true}); err != nil {
		return nil, err
	}
	return &llm.GenerateResult{
		Content:      content,
		Model:        model,
		FinishReason: "stop",
		Usage:        llm.UsageStats{PromptTokens: 7, CompletionTokens: 5, TotalTokens: 12},
		Latency:      time.Millisecond,
	}, nil
}

// failingBackend always returns a backend error.
type failingBackend struct {
	provider string
}

func (b *failingBackend) Provider() string {
	return b.provider
}

func (b *failingBackend) Generate(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions) (*llm.GenerateResult, error) {
	return nil, llm.NewBackendError(b.provider, llm.ErrCodeServerError, "backend down", 500, nil)
}

func (b *failingBackend) Stream(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions, handler llm.StreamHandler) (*llm.GenerateResult, error) {
	return nil, llm.NewBackendError(b.provider, llm.ErrCodeServerError, "backend down", 500, nil)
}

// newTestCredentials seeds a static credential manager with one credential
// per provider.
func newTestCredentials(providers ...string) *credential.StaticManager {
	mgr := credential.NewStaticManager()
	for _, provider := range providers {
		mgr.Put(&credential.Credential{
			ID:           "cred-" + provider,
			TenantID:     "tenant-1",
			Provider:     provider,
			APIKey:       "test-key",
			DefaultModel: provider + "-default-model",
			Enabled:      true,
		})
	}
	return mgr
}

func chatRequest(workflowType, message string) *WorkflowRequest {
	return &WorkflowRequest{
		RequestID:    "req-1",
		TenantID:     "tenant-1",
		UserID:       "user-1",
		WorkflowType: workflowType,
		Message:      message,
	}
}
