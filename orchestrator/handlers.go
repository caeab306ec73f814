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

package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/workflow"
)

// ChatRequest is the wire shape of POST /api/v1/chat.
type ChatRequest struct {
	RequestID   string                 `json:"request_id,omitempty"`
	TenantID    string                 `json:"tenant_id"`
	UserID      string                 `json:"user_id,omitempty"`
	Workflow    string                 `json:"workflow,omitempty"`
	Message     string                 `json:"message"`
	Stream      bool                   `json:"stream,omitempty"`
	ModelConfig map[string]interface{} `json:"model_config,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
}

// ChatResponse is the wire shape of a synchronous chat result.
type ChatResponse struct {
	RequestID    string                 `json:"request_id"`
	ExecutionID  string                 `json:"execution_id"`
	Success      bool                   `json:"success"`
	Content      string                 `json:"content,omitempty"`
	Model        string                 `json:"model,omitempty"`
	Workflow     string                 `json:"workflow"`
	Usage        workflow.TokenUsage    `json:"usage"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ProcessingMs int64                  `json:"processing_ms"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// chatHandler executes a chat workflow, either synchronously or as an SSE
// stream when the request asks for one.
func (s *Service) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	// The gateway authenticates callers and forwards identity as headers;
	// header identity wins over whatever the body claims.
	if tenantID := r.Header.Get("X-Tenant-ID"); tenantID != "" {
		req.TenantID = tenantID
	}
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		req.UserID = userID
	}

	if req.Workflow == "" {
		req.Workflow = workflow.WorkflowSimpleChat
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if s.limiter != nil && req.TenantID != "" {
		if err := s.limiter.Allow(r.Context(), req.TenantID); err != nil {
			s.collector.RecordRateLimited(req.Workflow)
			promRateLimited.Inc()
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error(), Code: "rate_limit_exceeded"})
			return
		}
	}

	wfReq := &workflow.WorkflowRequest{
		RequestID:    req.RequestID,
		TenantID:     req.TenantID,
		UserID:       req.UserID,
		WorkflowType: req.Workflow,
		Message:      req.Message,
		ModelConfig:  req.ModelConfig,
		Config:       req.Config,
	}

	if req.Stream {
		s.streamChat(w, r, wfReq)
		return
	}

	start := time.Now()
	resp, err := s.manager.ExecuteWorkflow(r.Context(), wfReq)
	promRunningExecutions.Set(float64(s.manager.Metrics().Executor.Running))
	if err != nil {
		s.writeWorkflowError(w, req.Workflow, err)
		return
	}

	status := "success"
	if !resp.Success {
		status = "failed"
	}
	promWorkflowRequests.WithLabelValues(req.Workflow, status).Inc()
	promWorkflowDuration.WithLabelValues(req.Workflow).Observe(float64(resp.Duration.Milliseconds()))
	s.collector.RecordRequest(req.Workflow, resp.Success, resp.Usage.TotalTokens, resp.Duration)
	s.reqLog.InfoWithDuration(req.TenantID, req.RequestID, "Chat request completed",
		float64(resp.Duration.Milliseconds()), map[string]interface{}{
			"workflow":     req.Workflow,
			"execution_id": wfReq.ExecutionID,
			"success":      resp.Success,
			"total_tokens": resp.Usage.TotalTokens,
		})

	writeJSON(w, http.StatusOK, ChatResponse{
		RequestID:    req.RequestID,
		ExecutionID:  wfReq.ExecutionID,
		Success:      resp.Success,
		Content:      resp.Content,
		Model:        resp.Model,
		Workflow:     resp.WorkflowType,
		Usage:        resp.Usage,
		Metadata:     resp.Metadata,
		Error:        resp.Error,
		ProcessingMs: time.Since(start).Milliseconds(),
	})
}

// streamChat relays workflow stream events to the client as SSE. The event
// channel is closed by the executor after its terminal event, so the loop
// always ends.
func (s *Service) streamChat(w http.ResponseWriter, r *http.Request, wfReq *workflow.WorkflowRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming not supported"})
		return
	}

	events, err := s.manager.ExecuteWorkflowStream(r.Context(), wfReq)
	if err != nil {
		s.writeWorkflowError(w, wfReq.WorkflowType, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	var terminal workflow.StreamEvent
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[CHAT] Failed to marshal stream event: %v", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
		promStreamEvents.Inc()
		if ev.Terminal() {
			terminal = ev
		}
	}

	promRunningExecutions.Set(float64(s.manager.Metrics().Executor.Running))

	success := terminal.Type == workflow.EventEnd
	status := "failed"
	if success {
		status = "success"
	}
	tokens := 0
	if terminal.Usage != nil {
		tokens = terminal.Usage.TotalTokens
	}
	promWorkflowRequests.WithLabelValues(wfReq.WorkflowType, status).Inc()
	promWorkflowDuration.WithLabelValues(wfReq.WorkflowType).Observe(float64(time.Since(start).Milliseconds()))
	s.collector.RecordRequest(wfReq.WorkflowType, success, tokens, time.Since(start))
	s.reqLog.InfoWithDuration(wfReq.TenantID, wfReq.RequestID, "Chat stream completed",
		float64(time.Since(start).Milliseconds()), map[string]interface{}{
			"workflow":     wfReq.WorkflowType,
			"execution_id": wfReq.ExecutionID,
			"success":      success,
		})
}

// listWorkflowsHandler returns the registered workflow catalog.
func (s *Service) listWorkflowsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflows": s.manager.ListWorkflows(),
	})
}

// workflowInfoHandler returns one workflow's description.
func (s *Service) workflowInfoHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	info, err := s.manager.GetWorkflowInfo(name)
	if err != nil {
		s.writeWorkflowError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// executionStatusHandler returns the state of one execution.
func (s *Service) executionStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snapshot, err := s.manager.GetExecutionStatus(id)
	if err != nil {
		s.writeWorkflowError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// cancelExecutionHandler cancels a running execution.
func (s *Service) cancelExecutionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.CancelExecution(id); err != nil {
		s.writeWorkflowError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"execution_id": id,
		"status":       string(workflow.StatusCancelled),
	})
}

// healthHandler reports service liveness and workflow counts.
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	metrics := s.manager.Metrics()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "healthy",
		"registered_workflows": metrics.RegisteredWorkflows,
		"running_executions":   metrics.Executor.Running,
		"timestamp":            time.Now().UTC(),
	})
}

// metricsHandler returns the JSON metrics snapshot.
func (s *Service) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":  s.collector.GetMetrics(),
		"workflow": s.manager.Metrics(),
	})
}

// writeWorkflowError maps the workflow error taxonomy to HTTP statuses.
func (s *Service) writeWorkflowError(w http.ResponseWriter, workflowType string, err error) {
	var regErr *workflow.RegistryError
	if errors.As(err, &regErr) {
		status := http.StatusInternalServerError
		switch regErr.Code {
		case workflow.ErrRegistryNotFound:
			status = http.StatusNotFound
		case workflow.ErrRegistryDuplicate, workflow.ErrRegistryBuiltin:
			status = http.StatusConflict
		case workflow.ErrRegistryInvalid:
			status = http.StatusBadRequest
		}
		promWorkflowRequests.WithLabelValues(workflowType, "rejected").Inc()
		writeJSON(w, status, errorResponse{Error: regErr.Message, Code: regErr.Code})
		return
	}

	var execErr *workflow.ExecutionError
	if errors.As(err, &execErr) {
		status := http.StatusInternalServerError
		switch execErr.Code {
		case workflow.ErrValidation:
			status = http.StatusBadRequest
		case workflow.ErrConcurrencyLimit:
			status = http.StatusTooManyRequests
		case workflow.ErrExecutionNotFound:
			status = http.StatusNotFound
		case workflow.ErrExecutionInvalidState:
			status = http.StatusConflict
		}
		promWorkflowRequests.WithLabelValues(workflowType, "rejected").Inc()
		writeJSON(w, status, errorResponse{Error: execErr.Message, Code: execErr.Code})
		return
	}

	promWorkflowRequests.WithLabelValues(workflowType, "error").Inc()
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}
