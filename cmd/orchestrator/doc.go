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
Command orchestrator runs the Lyss Orchestrator service.

The Orchestrator executes tenant chat workflows through registered engine
strategies, dispatching to the configured LLM providers and streaming
results over SSE.

# Usage

	orchestrator

# Environment Variables

Optional:
  - PORT: HTTP server port (default: 8081)
  - CONFIG_PATH: YAML config file path
  - DATABASE_URL: PostgreSQL credential store connection string
  - REDIS_ADDR: Redis address for per-tenant rate limiting
  - ANTHROPIC_API_KEY: Anthropic API key
  - OPENAI_API_KEY: OpenAI API key
  - BEDROCK_REGION: AWS Bedrock region

# LLM Provider Configuration

Without DATABASE_URL the service seeds an in-memory credential store from
whichever provider keys are set:

	# Anthropic
	export ANTHROPIC_API_KEY="sk-ant-..."
	export ANTHROPIC_MODEL="claude-sonnet-4-5"

	# OpenAI
	export OPENAI_API_KEY="sk-..."
	export OPENAI_MODEL="gpt-4o"

	# AWS Bedrock
	export BEDROCK_REGION="us-east-1"
	export BEDROCK_MODEL="anthropic.claude-3-5-sonnet-20240620-v1:0"

# Example

	export ANTHROPIC_API_KEY="sk-ant-..."
	export REDIS_ADDR="localhost:6379"
	./orchestrator
*/
package main
