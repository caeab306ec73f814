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
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutorConfig holds the executor's resource limits.
type ExecutorConfig struct {
	// MaxConcurrent is the concurrency ceiling: the maximum number of
	// simultaneously running executions. Dispatches at or above the
	// ceiling fail fast; there is no queueing.
	MaxConcurrent int

	// ExecutionTimeout bounds each execution. The effective deadline is
	// the smaller of this and the caller's context deadline.
	ExecutionTimeout time.Duration

	// StreamBuffer is the event channel capacity for streaming runs.
	StreamBuffer int
}

// DefaultExecutorConfig returns the default executor limits.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrent:    50,
		ExecutionTimeout: 5 * time.Minute,
		StreamBuffer:     16,
	}
}

// execution pairs the bookkeeping record with the cancel func of its
// derived context, so explicit cancellation aborts the in-flight
// engine/backend call instead of merely flipping status.
type execution struct {
	state  *ExecutionContext
	cancel context.CancelFunc

	// released is set once finish has returned the concurrency slot. A
	// cancelled execution is terminal before the engine call unwinds, so
	// cleanup must not drop the record until the slot has been released.
	released bool
}

// Executor owns the concurrency budget and execution bookkeeping. The
// execution-id table is the single shared-mutation point and is guarded by
// the executor mutex; ExecutionContext records are mutated only here.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
	logger   *log.Logger

	mu         sync.RWMutex
	executions map[string]*execution
	running    int

	dispatched int64
	completed  int64
	failed     int64
	cancelled  int64
	rejected   int64
}

// ExecutorMetrics is a snapshot of executor counters.
type ExecutorMetrics struct {
	Running    int   `json:"running"`
	Tracked    int   `json:"tracked"`
	Dispatched int64 `json:"dispatched"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`
	Rejected   int64 `json:"rejected"`
}

// NewExecutor creates an executor over a registry. Zero config fields fall
// back to DefaultExecutorConfig values.
func NewExecutor(registry *Registry, cfg ExecutorConfig) *Executor {
	def := DefaultExecutorConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = def.ExecutionTimeout
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = def.StreamBuffer
	}

	return &Executor{
		registry:   registry,
		cfg:        cfg,
		logger:     log.New(os.Stdout, "[WORKFLOW_EXECUTOR] ", log.LstdFlags),
		executions: make(map[string]*execution),
	}
}

// Execute runs one workflow request to completion under the concurrency
// budget and returns the engine's result unchanged. The execution record
// remains queryable after completion until age-based cleanup.
func (e *Executor) Execute(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error) {
	engine, err := e.registry.Get(req.WorkflowType)
	if err != nil {
		return nil, err
	}

	rec, runCtx, cancel, err := e.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	defer cancel()

	e.startStep(req.ExecutionID, "engine", fmt.Sprintf("executing workflow %s", req.WorkflowType))
	resp, err := engine.Execute(runCtx, req)
	e.finish(rec.state.ExecutionID, resp, err, runCtx)

	return resp, err
}

// ExecuteStream runs one workflow request asynchronously, relaying events
// onto a bounded channel. The producer always closes the channel after the
// terminal event, so channel-closed is a reliable termination signal.
func (e *Executor) ExecuteStream(ctx context.Context, req *WorkflowRequest) (<-chan StreamEvent, error) {
	engine, err := e.registry.Get(req.WorkflowType)
	if err != nil {
		return nil, err
	}

	rec, runCtx, cancel, err := e.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, e.cfg.StreamBuffer)
	go e.streamProducer(runCtx, cancel, engine, rec, req, events)
	return events, nil
}

// streamProducer drives a streaming execution. It guarantees exactly one
// terminal event and a closed channel on every path.
func (e *Executor) streamProducer(runCtx context.Context, cancel context.CancelFunc, engine Engine, rec *execution, req *WorkflowRequest, events chan<- StreamEvent) {
	defer close(events)
	defer cancel()

	executionID := rec.state.ExecutionID

	emit := func(ev StreamEvent) error {
		ev.ExecutionID = executionID
		select {
		case events <- ev:
			return nil
		case <-runCtx.Done():
			// Consumer gone or execution cancelled; stop producing.
			return runCtx.Err()
		}
	}

	e.startStep(executionID, "engine", fmt.Sprintf("streaming workflow %s", req.WorkflowType))
	resp, err := engine.ExecuteStream(runCtx, req, emit)
	e.finish(executionID, resp, err, runCtx)

	terminal := e.terminalEvent(executionID, resp, err, runCtx)

	// Deliver the terminal event even when the run context is already
	// done, as long as the consumer still has channel capacity.
	select {
	case events <- terminal:
	case <-runCtx.Done():
		select {
		case events <- terminal:
		default:
		}
	}
}

// terminalEvent reduces an execution outcome to its terminal stream event.
func (e *Executor) terminalEvent(executionID string, resp *WorkflowResponse, err error, runCtx context.Context) StreamEvent {
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}

	if err != nil {
		msg := err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			msg = "execution timed out"
		}
		return StreamEvent{Type: EventError, ExecutionID: executionID, Error: msg}
	}

	if resp == nil || !resp.Success {
		msg := "workflow execution failed"
		if resp != nil && resp.Error != "" {
			msg = resp.Error
		}
		return StreamEvent{Type: EventError, ExecutionID: executionID, Error: msg}
	}

	usage := resp.Usage
	return StreamEvent{
		Type:        EventEnd,
		ExecutionID: executionID,
		Model:       resp.Model,
		Usage:       &usage,
		Metadata: map[string]interface{}{
			"duration_ms":    resp.Duration.Milliseconds(),
			"content_length": len(resp.Content),
		},
	}
}

// admit checks the concurrency ceiling and registers a new execution.
// The ceiling check and table registration are atomic under the executor
// mutex, so concurrent dispatches never overshoot the ceiling. Rejected
// dispatches create no ExecutionContext.
func (e *Executor) admit(ctx context.Context, req *WorkflowRequest) (*execution, context.Context, context.CancelFunc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running >= e.cfg.MaxConcurrent {
		e.rejected++
		return nil, nil, nil, &ExecutionError{
			Code:    ErrConcurrencyLimit,
			Message: fmt.Sprintf("concurrency limit reached (%d running, ceiling %d)", e.running, e.cfg.MaxConcurrent),
		}
	}

	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}

	now := time.Now()
	state := &ExecutionContext{
		ExecutionID:  req.ExecutionID,
		RequestID:    req.RequestID,
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		WorkflowType: req.WorkflowType,
		Status:       StatusRunning,
		StartTime:    now,
		Steps: []ExecutionStep{
			{Name: "dispatch", Status: "completed", StartTime: now, EndTime: &now},
		},
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	rec := &execution{state: state, cancel: cancel}
	e.executions[req.ExecutionID] = rec
	e.running++
	e.dispatched++

	return rec, runCtx, cancel, nil
}

// startStep appends a running step to an execution's step history.
func (e *Executor) startStep(executionID, name, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.executions[executionID]
	if !ok || rec.state.Status.Terminal() {
		return
	}
	rec.state.Steps = append(rec.state.Steps, ExecutionStep{
		Name:      name,
		Status:    "running",
		StartTime: time.Now(),
		Detail:    detail,
	})
}

// finish records the outcome of an execution and releases its concurrency
// slot. Terminal states never transition again: an execution cancelled
// while the engine was in flight stays cancelled regardless of how the
// engine call unwound.
func (e *Executor) finish(executionID string, resp *WorkflowResponse, err error, runCtx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.executions[executionID]
	if !ok {
		return
	}

	if !rec.released {
		e.running--
		rec.released = true
	}

	state := rec.state
	now := time.Now()

	if state.Status.Terminal() {
		if state.EndTime == nil {
			state.EndTime = &now
		}
		closeSteps(state, string(state.Status), now)
		return
	}

	switch {
	case err != nil:
		state.Status = StatusFailed
		state.Error = err.Error()
		if runCtx.Err() == context.DeadlineExceeded {
			state.Error = "execution timed out"
		}
		e.failed++
	case resp == nil || !resp.Success:
		state.Status = StatusFailed
		if resp != nil && resp.Error != "" {
			state.Error = resp.Error
		} else {
			state.Error = "workflow execution failed"
		}
		e.failed++
	default:
		state.Status = StatusCompleted
		e.completed++
	}

	state.EndTime = &now
	closeSteps(state, string(state.Status), now)

	e.logger.Printf("Execution %s finished: status=%s elapsed=%s", executionID, state.Status, now.Sub(state.StartTime))
}

// closeSteps marks any still-running steps with the execution's terminal
// status.
func closeSteps(state *ExecutionContext, status string, now time.Time) {
	for i := range state.Steps {
		if state.Steps[i].EndTime == nil {
			state.Steps[i].Status = status
			state.Steps[i].EndTime = &now
		}
	}
}

// GetExecutionStatus returns a snapshot of one execution's state.
func (e *Executor) GetExecutionStatus(executionID string) (*ExecutionSnapshot, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.executions[executionID]
	if !ok {
		return nil, &ExecutionError{
			ExecutionID: executionID,
			Code:        ErrExecutionNotFound,
			Message:     fmt.Sprintf("execution %q not found", executionID),
		}
	}

	state := rec.state
	steps := make([]ExecutionStep, len(state.Steps))
	copy(steps, state.Steps)

	snapshot := &ExecutionSnapshot{
		ExecutionID:  state.ExecutionID,
		TenantID:     state.TenantID,
		WorkflowType: state.WorkflowType,
		Status:       state.Status,
		Steps:        steps,
		StartTime:    state.StartTime,
		EndTime:      state.EndTime,
		Error:        state.Error,
	}

	if len(steps) > 0 {
		snapshot.CurrentStep = steps[len(steps)-1].Name
	}

	if state.Status.Terminal() {
		snapshot.Progress = 1.0
		if state.EndTime != nil {
			snapshot.Elapsed = state.EndTime.Sub(state.StartTime)
		}
	} else {
		done := 0
		for _, s := range steps {
			if s.EndTime != nil {
				done++
			}
		}
		snapshot.Progress = float64(done) / float64(len(steps)+1)
		snapshot.Elapsed = time.Since(state.StartTime)
	}

	return snapshot, nil
}

// CancelExecution cancels a running execution. The bookkeeping transition
// and the cancellation of the derived context happen together, so the
// in-flight engine/backend call observes the cancellation and aborts.
func (e *Executor) CancelExecution(executionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.executions[executionID]
	if !ok {
		return &ExecutionError{
			ExecutionID: executionID,
			Code:        ErrExecutionNotFound,
			Message:     fmt.Sprintf("execution %q not found", executionID),
		}
	}

	if rec.state.Status != StatusRunning {
		return &ExecutionError{
			ExecutionID: executionID,
			Code:        ErrExecutionInvalidState,
			Message:     fmt.Sprintf("execution %q is %s, only running executions can be cancelled", executionID, rec.state.Status),
		}
	}

	now := time.Now()
	rec.state.Status = StatusCancelled
	rec.state.EndTime = &now
	closeSteps(rec.state, string(StatusCancelled), now)
	e.cancelled++

	rec.cancel()

	e.logger.Printf("Execution %s cancelled after %s", executionID, now.Sub(rec.state.StartTime))
	return nil
}

// CleanupCompletedExecutions removes terminal-status records older than
// maxAge and returns the number removed. Records are retained regardless
// of age while they are running or still hold a concurrency slot, which
// happens when a cancelled execution's engine call has not yet unwound.
func (e *Executor) CleanupCompletedExecutions(maxAge time.Duration) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, rec := range e.executions {
		if !rec.state.Status.Terminal() || !rec.released {
			continue
		}
		if rec.state.EndTime != nil && rec.state.EndTime.Before(cutoff) {
			delete(e.executions, id)
			removed++
		}
	}

	if removed > 0 {
		e.logger.Printf("Cleaned up %d completed execution(s)", removed)
	}
	return removed
}

// RunningCount returns the number of currently running executions.
func (e *Executor) RunningCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Metrics returns a snapshot of executor counters.
func (e *Executor) Metrics() ExecutorMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ExecutorMetrics{
		Running:    e.running,
		Tracked:    len(e.executions),
		Dispatched: e.dispatched,
		Completed:  e.completed,
		Failed:     e.failed,
		Cancelled:  e.cancelled,
		Rejected:   e.rejected,
	}
}
