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

import "context"

// StreamEmitter delivers one stream event to the consumer. It returns an
// error when the consumer is gone or the execution context is cancelled;
// engines must stop producing when that happens.
type StreamEmitter func(ev StreamEvent) error

// Engine turns one workflow request into one response, optionally as a
// live sequence of incremental events.
//
// Implementations must be safe under concurrent invocation: the Executor
// dispatches many requests to the same instance in parallel, so engines
// carry immutable dependencies only.
//
// Collaborator failures (credential resolution, backend invocation) are
// converted into a failed WorkflowResponse, never a panic and never a bare
// error return; error returns are reserved for contract violations such as
// a nil request.
type Engine interface {
	// Execute runs the strategy to completion.
	Execute(ctx context.Context, req *WorkflowRequest) (*WorkflowResponse, error)

	// ExecuteStream runs the strategy, emitting a start event followed by
	// chunk events through emit. The terminal event is owned by the
	// Executor, which derives it from the returned response or error.
	ExecuteStream(ctx context.Context, req *WorkflowRequest, emit StreamEmitter) (*WorkflowResponse, error)

	// Info returns static metadata about the strategy.
	Info() Info
}
