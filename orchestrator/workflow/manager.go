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
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zhuiye8/lyss-ai-platform-sub003/common/credential"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm"
)

// Built-in workflow names. Built-ins are registered at initialization and
// protected from unregistration.
const (
	WorkflowSimpleChat        = "simple-chat"
	WorkflowMultiProviderChat = "multi-provider-chat"
)

// ManagerConfig holds manager-level tuning knobs.
type ManagerConfig struct {
	Executor ExecutorConfig

	// CleanupInterval is how often the cleanup loop sweeps finished
	// executions. RetentionPeriod is how long terminal records stay
	// queryable before the sweep removes them.
	CleanupInterval time.Duration
	RetentionPeriod time.Duration
}

// DefaultManagerConfig returns the default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Executor:        DefaultExecutorConfig(),
		CleanupInterval: time.Minute,
		RetentionPeriod: 30 * time.Minute,
	}
}

// Manager is the façade over the workflow subsystem. It owns the registry
// and executor, registers the built-in engines, validates requests before
// any bookkeeping, and runs the background cleanup loop.
type Manager struct {
	registry    *Registry
	executor    *Executor
	credentials credential.Manager
	backends    *llm.BackendSet
	cfg         ManagerConfig
	logger      *log.Logger

	mu       sync.RWMutex
	builtins map[string]bool
	ready    bool
}

// ManagerMetrics aggregates the subsystem counters exposed to callers.
type ManagerMetrics struct {
	RegisteredWorkflows int             `json:"registered_workflows"`
	Executor            ExecutorMetrics `json:"executor"`
}

// NewManager creates a workflow manager. Call Initialize before dispatching
// work.
func NewManager(credentials credential.Manager, backends *llm.BackendSet, cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = def.RetentionPeriod
	}

	registry := NewRegistry()
	return &Manager{
		registry:    registry,
		executor:    NewExecutor(registry, cfg.Executor),
		credentials: credentials,
		backends:    backends,
		cfg:         cfg,
		logger:      log.New(os.Stdout, "[WORKFLOW_MANAGER] ", log.LstdFlags),
		builtins:    make(map[string]bool),
	}
}

// Initialize registers the built-in workflow engines. It is safe to call
// once; a second call returns an error rather than re-registering.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready {
		return fmt.Errorf("workflow manager already initialized")
	}

	builtins := map[string]Engine{
		WorkflowSimpleChat:        NewSimpleChatEngine(m.credentials, m.backends),
		WorkflowMultiProviderChat: NewMultiProviderEngine(m.credentials, m.backends),
	}

	for name, engine := range builtins {
		if err := m.registry.Register(name, engine); err != nil {
			return fmt.Errorf("failed to register built-in workflow %s: %w", name, err)
		}
		m.builtins[name] = true
	}

	m.ready = true
	m.logger.Printf("Initialized with %d built-in workflow(s)", len(builtins))
	return nil
}

// ExecuteWorkflow validates and dispatches a synchronous workflow run.
func (m *Manager) ExecuteWorkflow(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error) {
	if err := m.validate(req); err != nil {
		return nil, err
	}
	return m.executor.Execute(ctx, req)
}

// ExecuteWorkflowStream validates and dispatches a streaming workflow run.
// The returned channel is always closed after its terminal event.
func (m *Manager) ExecuteWorkflowStream(ctx context.Context, req *WorkflowRequest) (<-chan StreamEvent, error) {
	if err := m.validate(req); err != nil {
		return nil, err
	}
	return m.executor.ExecuteStream(ctx, req)
}

// validate rejects malformed requests before any executor bookkeeping, so
// a bad request never consumes a concurrency slot or leaves a record.
func (m *Manager) validate(req *WorkflowRequest) error {
	if req == nil {
		return &ExecutionError{Code: ErrValidation, Message: "request is nil"}
	}
	if strings.TrimSpace(req.WorkflowType) == "" {
		return &ExecutionError{Code: ErrValidation, Message: "workflow_type is required"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return &ExecutionError{Code: ErrValidation, Message: "message is required"}
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return &ExecutionError{Code: ErrValidation, Message: "tenant_id is required"}
	}
	if strings.TrimSpace(req.UserID) == "" {
		return &ExecutionError{Code: ErrValidation, Message: "user_id is required"}
	}
	if strings.TrimSpace(req.RequestID) == "" {
		return &ExecutionError{Code: ErrValidation, Message: "request_id is required"}
	}
	if !m.registry.IsRegistered(req.WorkflowType) {
		return &RegistryError{
			WorkflowType: req.WorkflowType,
			Code:         ErrRegistryNotFound,
			Message:      fmt.Sprintf("workflow %q is not registered", req.WorkflowType),
		}
	}
	return nil
}

// GetExecutionStatus returns a snapshot of an execution's state.
func (m *Manager) GetExecutionStatus(executionID string) (*ExecutionSnapshot, error) {
	return m.executor.GetExecutionStatus(executionID)
}

// CancelExecution cancels a running execution.
func (m *Manager) CancelExecution(executionID string) error {
	return m.executor.CancelExecution(executionID)
}

// ListWorkflows returns the info of every registered workflow, sorted by
// name.
func (m *Manager) ListWorkflows() []Info {
	return m.registry.List()
}

// GetWorkflowInfo returns the info of one registered workflow.
func (m *Manager) GetWorkflowInfo(name string) (Info, error) {
	engine, err := m.registry.Get(name)
	if err != nil {
		return Info{}, err
	}
	info := engine.Info()
	info.Name = name
	return info, nil
}

// RegisterWorkflow adds a custom engine alongside the built-ins.
func (m *Manager) RegisterWorkflow(name string, engine Engine) error {
	return m.registry.Register(name, engine)
}

// UnregisterWorkflow removes a custom engine. Built-ins cannot be removed.
func (m *Manager) UnregisterWorkflow(name string) error {
	m.mu.RLock()
	builtin := m.builtins[name]
	m.mu.RUnlock()

	if builtin {
		return &RegistryError{
			WorkflowType: name,
			Code:         ErrRegistryBuiltin,
			Message:      fmt.Sprintf("workflow %q is built-in and cannot be unregistered", name),
		}
	}
	return m.registry.Unregister(name)
}

// StartCleanupLoop starts the background sweep that removes finished
// execution records past the retention period. The loop stops when ctx is
// cancelled.
func (m *Manager) StartCleanupLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.Printf("Cleanup loop stopped")
				return
			case <-ticker.C:
				m.executor.CleanupCompletedExecutions(m.cfg.RetentionPeriod)
			}
		}
	}()
	m.logger.Printf("Cleanup loop started (interval=%s retention=%s)", m.cfg.CleanupInterval, m.cfg.RetentionPeriod)
}

// Metrics returns the current workflow subsystem counters.
func (m *Manager) Metrics() ManagerMetrics {
	return ManagerMetrics{
		RegisteredWorkflows: m.registry.Count(),
		Executor:            m.executor.Metrics(),
	}
}
