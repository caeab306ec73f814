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
	"log"
	"os"

	"github.com/zhuiye8/lyss-ai-platform-sub003/common/credential"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm"
)

// MultiProviderEngine is the provider-routing chat workflow: the request's
// provider hint selects the backend, falling back to the default backend
// when the hint is absent or names a provider that is not registered.
type MultiProviderEngine struct {
	runner chatRunner
}

// NewMultiProviderEngine creates the multi-provider chat engine.
func NewMultiProviderEngine(credentials credential.Manager, backends *llm.BackendSet) *MultiProviderEngine {
	return &MultiProviderEngine{
		runner: chatRunner{
			credentials: credentials,
			backends:    backends,
			logger:      log.New(os.Stdout, "[MULTI_PROVIDER_CHAT] ", log.LstdFlags),
		},
	}
}

// selectProvider resolves the request's provider hint against the backend
// set. Unknown hints fall back to the default rather than failing the run.
func (e *MultiProviderEngine) selectProvider(req *WorkflowRequest) string {
	hint := req.Provider()
	if hint == "" {
		return ""
	}
	if !e.runner.backends.Has(hint) {
		e.runner.logger.Printf("Provider %q not registered, falling back to default", hint)
		return ""
	}
	return hint
}

// Execute runs one chat turn against the hinted or default backend.
func (e *MultiProviderEngine) Execute(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error) {
	return e.runner.run(ctx, req, WorkflowMultiProviderChat, e.selectProvider(req))
}

// ExecuteStream runs one streaming chat turn against the hinted or default
// backend.
func (e *MultiProviderEngine) ExecuteStream(ctx context.Context, req *WorkflowRequest, emit StreamEmitter) (*WorkflowResponse, error) {
	return e.runner.runStream(ctx, req, WorkflowMultiProviderChat, e.selectProvider(req), emit)
}

// Info describes the multi-provider chat workflow.
func (e *MultiProviderEngine) Info() Info {
	return Info{
		Name:        WorkflowMultiProviderChat,
		DisplayName: "Multi-Provider Chat",
		Description: "Single-turn chat routed to the provider named in the request, with fallback to the default backend",
		Parameters: map[string]interface{}{
			"provider":      "optional provider hint (anthropic, openai, bedrock)",
			"model":         "optional model override",
			"temperature":   "optional sampling temperature",
			"max_tokens":    "optional completion token limit",
			"system_prompt": "optional system prompt",
			"history":       "optional prior conversation turns",
		},
		Features:       []string{"chat", "streaming", "provider-routing"},
		RequiredInputs: []string{"message", "tenant_id"},
		OutputShape:    "assistant message with token usage and provider metadata",
	}
}
