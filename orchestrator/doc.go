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

/*
Package orchestrator provides the Lyss Orchestrator service - the workflow
execution engine that routes tenant chat requests through registered
workflow strategies to the configured LLM providers.

# Overview

The Orchestrator receives pre-authenticated requests from the platform
gateway and handles:

  - Workflow execution through pluggable Engine strategies
  - Per-execution lifecycle tracking (running, completed, failed, cancelled)
  - SSE streaming with a guaranteed terminal event per execution
  - Multi-provider LLM dispatch (Anthropic, OpenAI, AWS Bedrock)
  - Tenant-scoped credential resolution and usage accounting
  - Per-tenant sliding-window rate limiting over Redis

# Architecture

Requests flow through the workflow subsystem:

	Request → Manager (validation) → Executor (admission) → Engine → Backend

The Manager owns the registry of workflow engines and registers the
built-ins ("simple-chat" and "multi-provider-chat") at initialization.
The Executor enforces the concurrency ceiling, tracks execution state,
and owns the stream event channel contract: every stream carries exactly
one terminal event and the channel is always closed.

# HTTP Surface

	POST /api/v1/chat                       - Execute a workflow (sync or SSE)
	GET  /api/v1/workflows                  - Workflow catalog
	GET  /api/v1/workflows/{name}           - One workflow's description
	GET  /api/v1/executions/{id}            - Execution status snapshot
	POST /api/v1/executions/{id}/cancel     - Cancel a running execution
	GET  /health                            - Liveness and counters
	GET  /metrics                           - JSON metrics snapshot
	GET  /prometheus                        - Prometheus metrics

# Usage

	// Start the Orchestrator service
	orchestrator.Run()

	// The Orchestrator reads configuration from environment variables:
	// PORT              - HTTP server port (default: 8081)
	// CONFIG_PATH       - YAML config file path (optional)
	// DATABASE_URL      - PostgreSQL credential store (optional)
	// REDIS_ADDR        - Redis address for rate limiting (optional)
	// ANTHROPIC_API_KEY - Anthropic API key (optional)
	// OPENAI_API_KEY    - OpenAI API key (optional)
	// BEDROCK_REGION    - AWS Bedrock region (optional)

Without DATABASE_URL the service falls back to an in-memory credential
manager seeded from the environment keys above; without REDIS_ADDR the
rate limiter is disabled.

# Thread Safety

All exported functions and types in this package are safe for concurrent
use. The workflow subsystem synchronizes its registry and execution maps
via sync.RWMutex.

# Metrics

The Orchestrator exposes Prometheus metrics at /prometheus:

  - lyss_orchestrator_workflow_requests_total - Requests by workflow/status
  - lyss_orchestrator_workflow_duration_milliseconds - Execution latency
  - lyss_orchestrator_stream_events_total - Stream events delivered
  - lyss_orchestrator_running_executions - Currently running executions
  - lyss_orchestrator_rate_limited_total - Rate limiter rejections
*/
package orchestrator
