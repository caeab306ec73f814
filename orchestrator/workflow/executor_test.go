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
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T, engine Engine, cfg ExecutorConfig) *Executor {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register("test", engine); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return NewExecutor(registry, cfg)
}

func TestExecutor_ExecuteSuccess(t *testing.T) {
	executor := newTestExecutor(t, &fakeEngine{name: "test"}, ExecutorConfig{})

	req := chatRequest("test", "hello")
	resp, err := executor.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !resp.Success {
		t.Error("expected successful response")
	}
	if req.ExecutionID == "" {
		t.Fatal("execution id was not assigned")
	}

	snapshot, err := executor.GetExecutionStatus(req.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecutionStatus failed: %v", err)
	}
	if snapshot.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", snapshot.Status, StatusCompleted)
	}
	if snapshot.Progress != 1.0 {
		t.Errorf("progress = %f, want 1.0", snapshot.Progress)
	}
	if snapshot.EndTime == nil {
		t.Error("terminal execution has no end time")
	}

	metrics := executor.Metrics()
	if metrics.Completed != 1 || metrics.Running != 0 {
		t.Errorf("metrics = %+v, want 1 completed and 0 running", metrics)
	}
}

func TestExecutor_FailedResponseMarksFailed(t *testing.T) {
	engine := &fakeEngine{
		name: "test",
		executeFn: func(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error) {
			return &WorkflowResponse{Success: false, Error: "credential missing"}, nil
		},
	}
	executor := newTestExecutor(t, engine, ExecutorConfig{})

	req := chatRequest("test", "hello")
	resp, err := executor.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failed response")
	}

	snapshot, err := executor.GetExecutionStatus(req.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecutionStatus failed: %v", err)
	}
	if snapshot.Status != StatusFailed {
		t.Errorf("status = %s, want %s", snapshot.Status, StatusFailed)
	}
	if snapshot.Error != "credential missing" {
		t.Errorf("error = %q, want %q", snapshot.Error, "credential missing")
	}
}

func TestExecutor_EngineErrorMarksFailed(t *testing.T) {
	engine := &fakeEngine{
		name: "test",
		executeFn: func(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error) {
			return nil, errors.New("engine exploded")
		},
	}
	executor := newTestExecutor(t, engine, ExecutorConfig{})

	req := chatRequest("test", "hello")
	if _, err := executor.Execute(context.Background(), req); err == nil {
		t.Fatal("expected error from Execute")
	}

	snapshot, err := executor.GetExecutionStatus(req.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecutionStatus failed: %v", err)
	}
	if snapshot.Status != StatusFailed {
		t.Errorf("status = %s, want %s", snapshot.Status, StatusFailed)
	}
}

func TestExecutor_ConcurrencyCeiling(t *testing.T) {
	engine := newBlockingEngine()
	executor := newTestExecutor(t, engine, ExecutorConfig{MaxConcurrent: 2})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := executor.Execute(context.Background(), chatRequest("test", "hold")); err != nil {
				t.Errorf("admitted execution failed: %v", err)
			}
		}()
	}

	// Wait until both executions are running.
	<-engine.started
	<-engine.started

	rejected := chatRequest("test", "one too many")
	_, err := executor.Execute(context.Background(), rejected)
	if !HasExecutionCode(err, ErrConcurrencyLimit) {
		t.Fatalf("expected concurrency limit error, got %v", err)
	}

	// Rejected dispatches must leave no bookkeeping behind.
	if rejected.ExecutionID != "" {
		if _, err := executor.GetExecutionStatus(rejected.ExecutionID); !HasExecutionCode(err, ErrExecutionNotFound) {
			t.Errorf("rejected execution left a record: %v", err)
		}
	}
	if got := executor.Metrics().Rejected; got != 1 {
		t.Errorf("rejected counter = %d, want 1", got)
	}

	close(engine.release)
	wg.Wait()

	// Slots are released after completion.
	if _, err := executor.Execute(context.Background(), chatRequest("test", "after release")); err != nil {
		t.Fatalf("execution after release failed: %v", err)
	}
}

func TestExecutor_Cancel(t *testing.T) {
	engine := newBlockingEngine()
	executor := newTestExecutor(t, engine, ExecutorConfig{})

	req := chatRequest("test", "cancel me")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = executor.Execute(context.Background(), req)
	}()

	executionID := <-engine.started

	if err := executor.CancelExecution(executionID); err != nil {
		t.Fatalf("CancelExecution failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled execution did not unblock")
	}

	snapshot, err := executor.GetExecutionStatus(executionID)
	if err != nil {
		t.Fatalf("GetExecutionStatus failed: %v", err)
	}
	if snapshot.Status != StatusCancelled {
		t.Errorf("status = %s, want %s", snapshot.Status, StatusCancelled)
	}

	// Cancelled stays cancelled even though the engine call unwound with
	// a context error after the transition.
	if got := executor.Metrics().Cancelled; got != 1 {
		t.Errorf("cancelled counter = %d, want 1", got)
	}

	err = executor.CancelExecution(executionID)
	if !HasExecutionCode(err, ErrExecutionInvalidState) {
		t.Errorf("second cancel: expected invalid-state error, got %v", err)
	}
}

func TestExecutor_CancelUnknown(t *testing.T) {
	executor := newTestExecutor(t, &fakeEngine{name: "test"}, ExecutorConfig{})

	err := executor.CancelExecution("no-such-id")
	if !HasExecutionCode(err, ErrExecutionNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestExecutor_StatusUnknown(t *testing.T) {
	executor := newTestExecutor(t, &fakeEngine{name: "test"}, ExecutorConfig{})

	_, err := executor.GetExecutionStatus("no-such-id")
	if !HasExecutionCode(err, ErrExecutionNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestExecutor_Cleanup(t *testing.T) {
	executor := newTestExecutor(t, &fakeEngine{name: "test"}, ExecutorConfig{})

	req := chatRequest("test", "hello")
	if _, err := executor.Execute(context.Background(), req); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Young records are retained.
	if removed := executor.CleanupCompletedExecutions(time.Hour); removed != 0 {
		t.Errorf("cleanup removed %d young records", removed)
	}

	time.Sleep(10 * time.Millisecond)
	if removed := executor.CleanupCompletedExecutions(time.Millisecond); removed != 1 {
		t.Errorf("cleanup removed %d records, want 1", removed)
	}

	if _, err := executor.GetExecutionStatus(req.ExecutionID); !HasExecutionCode(err, ErrExecutionNotFound) {
		t.Errorf("cleaned-up execution still queryable: %v", err)
	}
}

func TestExecutor_CleanupKeepsRunning(t *testing.T) {
	engine := newBlockingEngine()
	executor := newTestExecutor(t, engine, ExecutorConfig{})

	req := chatRequest("test", "hold")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = executor.Execute(context.Background(), req)
	}()
	executionID := <-engine.started

	if removed := executor.CleanupCompletedExecutions(0); removed != 0 {
		t.Errorf("cleanup removed %d running records", removed)
	}
	if _, err := executor.GetExecutionStatus(executionID); err != nil {
		t.Errorf("running execution not queryable: %v", err)
	}

	close(engine.release)
	<-done
}

func TestExecutor_CleanupAfterCancelReleasesSlot(t *testing.T) {
	// An engine that does not honor context cancellation: the execution
	// turns terminal (cancelled) while the engine call is still in flight.
	started := make(chan string, 1)
	release := make(chan struct{})
	engine := &fakeEngine{
		name: "test",
		executeFn: func(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error) {
			started <- req.ExecutionID
			<-release
			return &WorkflowResponse{Success: true, Content: "late"}, nil
		},
	}
	executor := newTestExecutor(t, engine, ExecutorConfig{MaxConcurrent: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = executor.Execute(context.Background(), chatRequest("test", "hold"))
	}()
	executionID := <-started

	if err := executor.CancelExecution(executionID); err != nil {
		t.Fatalf("CancelExecution failed: %v", err)
	}

	// The record is terminal but still holds its concurrency slot, so an
	// aggressive cleanup must not drop it yet.
	if removed := executor.CleanupCompletedExecutions(0); removed != 0 {
		t.Errorf("cleanup removed %d records still holding a slot", removed)
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine call did not unwind")
	}

	if got := executor.RunningCount(); got != 0 {
		t.Fatalf("running count = %d after engine unwound, want 0", got)
	}

	// The freed slot admits a new execution at a ceiling of one.
	if _, err := executor.Execute(context.Background(), chatRequest("test", "after cancel")); err != nil {
		t.Fatalf("execution after cancel failed: %v", err)
	}

	if removed := executor.CleanupCompletedExecutions(0); removed != 2 {
		t.Errorf("cleanup removed %d records, want 2", removed)
	}
}

func TestExecutor_StreamTerminatesWithEndEvent(t *testing.T) {
	engine := &fakeEngine{
		name: "test",
		streamFn: func(ctx context.Context, req *WorkflowRequest, emit StreamEmitter) (*WorkflowResponse, error) {
			if err := emit(StreamEvent{Type: EventStart, Provider: "fake"}); err != nil {
				return nil, err
			}
			for _, chunk := range []string{"hel", "lo"} {
				if err := emit(StreamEvent{Type: EventChunk, Content: chunk}); err != nil {
					return nil, err
				}
			}
			return &WorkflowResponse{
				Success: true,
				Content: "hello",
				Model:   "fake-model",
				Usage:   TokenUsage{TotalTokens: 5},
			}, nil
		},
	}
	executor := newTestExecutor(t, engine, ExecutorConfig{})

	req := chatRequest("test", "hello")
	events, err := executor.ExecuteStream(context.Background(), req)
	if err != nil {
		t.Fatalf("ExecuteStream failed: %v", err)
	}

	var received []StreamEvent
	for ev := range events {
		received = append(received, ev)
	}

	if len(received) != 4 {
		t.Fatalf("received %d events, want 4 (start, 2 chunks, end)", len(received))
	}

	terminals := 0
	for _, ev := range received {
		if ev.Terminal() {
			terminals++
		}
		if ev.ExecutionID != req.ExecutionID {
			t.Errorf("event missing execution id: %+v", ev)
		}
	}
	if terminals != 1 {
		t.Fatalf("received %d terminal events, want exactly 1", terminals)
	}

	last := received[len(received)-1]
	if last.Type != EventEnd {
		t.Errorf("last event type = %s, want %s", last.Type, EventEnd)
	}
	if last.Usage == nil || last.Usage.TotalTokens != 5 {
		t.Errorf("terminal event usage = %+v, want 5 total tokens", last.Usage)
	}

	snapshot, err := executor.GetExecutionStatus(req.ExecutionID)
	if err != nil {
		t.Fatalf("GetExecutionStatus failed: %v", err)
	}
	if snapshot.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", snapshot.Status, StatusCompleted)
	}
}

func TestExecutor_StreamFailureEmitsErrorEvent(t *testing.T) {
	engine := &fakeEngine{
		name: "test",
		streamFn: func(ctx context.Context, req *WorkflowRequest, emit StreamEmitter) (*WorkflowResponse, error) {
			if err := emit(StreamEvent{Type: EventStart}); err != nil {
				return nil, err
			}
			return &WorkflowResponse{Success: false, Error: "backend down"}, nil
		},
	}
	executor := newTestExecutor(t, engine, ExecutorConfig{})

	req := chatRequest("test", "hello")
	events, err := executor.ExecuteStream(context.Background(), req)
	if err != nil {
		t.Fatalf("ExecuteStream failed: %v", err)
	}

	var received []StreamEvent
	for ev := range events {
		received = append(received, ev)
	}

	last := received[len(received)-1]
	if last.Type != EventError {
		t.Fatalf("last event type = %s, want %s", last.Type, EventError)
	}
	if last.Error != "backend down" {
		t.Errorf("terminal error = %q, want %q", last.Error, "backend down")
	}

	snapshot, _ := executor.GetExecutionStatus(req.ExecutionID)
	if snapshot.Status != StatusFailed {
		t.Errorf("status = %s, want %s", snapshot.Status, StatusFailed)
	}
}

func TestExecutor_StreamRejectedAtCeiling(t *testing.T) {
	engine := newBlockingEngine()
	executor := newTestExecutor(t, engine, ExecutorConfig{MaxConcurrent: 1})

	events, err := executor.ExecuteStream(context.Background(), chatRequest("test", "hold"))
	if err != nil {
		t.Fatalf("ExecuteStream failed: %v", err)
	}
	<-engine.started

	_, err = executor.ExecuteStream(context.Background(), chatRequest("test", "rejected"))
	if !HasExecutionCode(err, ErrConcurrencyLimit) {
		t.Fatalf("expected concurrency limit error, got %v", err)
	}

	close(engine.release)
	for range events {
	}
}
