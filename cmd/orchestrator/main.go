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

// Package main is the entry point for the Lyss Orchestrator service.
//
// The Orchestrator is the workflow engine of the Lyss AI platform. It:
// - Registers and dispatches chat workflow engines
// - Routes requests to model backends (Anthropic, OpenAI, Bedrock)
// - Resolves per-tenant provider credentials and meters usage
// - Tracks execution state with cancellation and streaming delivery
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8081)
//	CONFIG_PATH - YAML config file path (optional)
//	DATABASE_URL - PostgreSQL connection string (optional)
//	REDIS_ADDR - Redis address for tenant rate limiting (optional)
//	ANTHROPIC_API_KEY - Anthropic API key (optional)
//	OPENAI_API_KEY - OpenAI API key (optional)
//	BEDROCK_REGION - AWS Bedrock region (optional)
package main

import (
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator"
)

func main() {
	orchestrator.Run()
}
