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

// SimpleChatEngine is the minimal chat workflow: one turn against the
// default backend, using the tenant's credential for that provider.
type SimpleChatEngine struct {
	runner chatRunner
}

// NewSimpleChatEngine creates the simple chat engine.
func NewSimpleChatEngine(credentials credential.Manager, backends *llm.BackendSet) *SimpleChatEngine {
	return &SimpleChatEngine{
		runner: chatRunner{
			credentials: credentials,
			backends:    backends,
			logger:      log.New(os.Stdout, "[SIMPLE_CHAT] ", log.LstdFlags),
		},
	}
}

// Execute runs one chat turn against the default backend.
func (e *SimpleChatEngine) Execute(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error) {
	return e.runner.run(ctx, req, WorkflowSimpleChat, "")
}

// ExecuteStream runs one streaming chat turn against the default backend.
func (e *SimpleChatEngine) ExecuteStream(ctx context.Context, req *WorkflowRequest, emit StreamEmitter) (*WorkflowResponse, error) {
	return e.runner.runStream(ctx, req, WorkflowSimpleChat, "", emit)
}

// Info describes the simple chat workflow.
func (e *SimpleChatEngine) Info() Info {
	return Info{
		Name:        WorkflowSimpleChat,
		DisplayName: "Simple Chat",
		Description: "Single-turn chat against the default model backend",
		Parameters: map[string]interface{}{
			"model":         "optional model override",
			"temperature":   "optional sampling temperature",
			"max_tokens":    "optional completion token limit",
			"system_prompt": "optional system prompt",
			"history":       "optional prior conversation turns",
		},
		Features:       []string{"chat", "streaming"},
		RequiredInputs: []string{"message", "tenant_id"},
		OutputShape:    "assistant message with token usage",
	}
}
