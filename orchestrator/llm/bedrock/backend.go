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

// Package bedrock provides the model backend for AWS Bedrock using AWS SDK
// v2. Authentication is AWS Signature V4 via the ambient IAM credentials,
// so the per-tenant credential contributes the region and default model
// rather than an API key.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/zhuiye8/lyss-ai-platform-sub003/common/credential"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm"
)

const (
	// DefaultRegion is used when neither the backend nor the credential
	// specifies one.
	DefaultRegion = "us-east-1"

	// DefaultMaxTokens is the default max tokens for completions
	DefaultMaxTokens = 4096
)

// InvokeAPI is the subset of the Bedrock runtime client used by the
// backend (enables testing).
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Backend implements the model backend contract for AWS Bedrock.
type Backend struct {
	client InvokeAPI
	region string
}

// NewBackend creates a Bedrock backend. AWS configuration is loaded once;
// config load failures surface as errors rather than a degraded client.
func NewBackend(ctx context.Context, region string) (*Backend, error) {
	if region == "" {
		region = DefaultRegion
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", region, err)
	}

	log.Printf("[BEDROCK] Initialized AWS SDK backend (region: %s)", region)
	return &Backend{
		client: bedrockruntime.NewFromConfig(awsCfg),
		region: region,
	}, nil
}

// NewBackendWithClient creates a Bedrock backend around an existing client
// (used in tests).
func NewBackendWithClient(client InvokeAPI, region string) *Backend {
	if region == "" {
		region = DefaultRegion
	}
	return &Backend{client: client, region: region}
}

// Provider returns the provider name
func (b *Backend) Provider() string {
	return "bedrock"
}

// Generate produces a single completion via InvokeModel.
func (b *Backend) Generate(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions) (*llm.GenerateResult, error) {
	start := time.Now()

	requestBody, err := buildRequestBody(model, messages, opts)
	if err != nil {
		return nil, llm.NewBackendError("bedrock", llm.ErrCodeInvalidRequest, err.Error(), 0, err)
	}

	requestJSON, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        requestJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, llm.NewBackendError("bedrock", llm.ErrCodeServerError, fmt.Sprintf("invoke failed: %v", err), 0, err)
	}

	result, err := parseResponseBody(output.Body, model)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result.Model = model
	result.Latency = time.Since(start)
	return result, nil
}

// Stream produces a completion and reports it as a single delta. Bedrock's
// InvokeModelWithResponseStream is not wired yet; callers still observe
// the standard delta-then-done handler sequence.
func (b *Backend) Stream(ctx context.Context, cred *credential.Credential, model string, messages []llm.Message, opts llm.GenerateOptions, handler llm.StreamHandler) (*llm.GenerateResult, error) {
	result, err := b.Generate(ctx, cred, model, messages, opts)
	if err != nil {
		return nil, err
	}

	if handler != nil {
		if result.Content != "" {
			if err := handler(llm.StreamDelta{Content: result.Content}); err != nil {
				return nil, fmt.Errorf("handler error: %w", err)
			}
		}
		if err := handler(llm.StreamDelta{Done: true}); err != nil {
			return nil, fmt.Errorf("handler error: %w", err)
		}
	}

	return result, nil
}

// buildRequestBody builds the request body based on model family
func buildRequestBody(model string, messages []llm.Message, opts llm.GenerateOptions) (map[string]interface{}, error) {
	family := detectModelFamily(model)

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := opts.Temperature
	if temperature < 0 {
		temperature = 0.7
	}

	switch family {
	case "anthropic":
		var system string
		var turns []map[string]string
		for _, msg := range messages {
			if msg.Role == llm.RoleSystem {
				system = msg.Content
				continue
			}
			turns = append(turns, map[string]string{
				"role":    msg.Role,
				"content": msg.Content,
			})
		}
		body := map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"max_tokens":        maxTokens,
			"temperature":       temperature,
			"messages":          turns,
		}
		if system != "" {
			body["system"] = system
		}
		return body, nil
	case "amazon":
		return map[string]interface{}{
			"inputText": flattenMessages(messages),
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": maxTokens,
				"temperature":   temperature,
				"topP":          0.9,
			},
		}, nil
	case "meta":
		return map[string]interface{}{
			"prompt":      flattenMessages(messages),
			"max_gen_len": maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		}, nil
	case "mistral":
		return map[string]interface{}{
			"prompt":      flattenMessages(messages),
			"max_tokens":  maxTokens,
			"temperature": temperature,
			"top_p":       0.9,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported model family for %q", model)
	}
}

// flattenMessages renders a conversation as a single prompt for model
// families without a structured chat format.
func flattenMessages(messages []llm.Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		case llm.RoleUser:
			sb.WriteString("User: ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		case llm.RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("Assistant:")
	return sb.String()
}

// parseResponseBody parses the response body based on model family
func parseResponseBody(body []byte, model string) (*llm.GenerateResult, error) {
	switch detectModelFamily(model) {
	case "anthropic":
		return parseAnthropicResponse(body)
	case "amazon":
		return parseTitanResponse(body)
	case "meta":
		return parseLlamaResponse(body)
	case "mistral":
		return parseMistralResponse(body)
	default:
		return nil, fmt.Errorf("unsupported model family for %q", model)
	}
}

func parseAnthropicResponse(body []byte) (*llm.GenerateResult, error) {
	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		sb.WriteString(block.Text)
	}

	return &llm.GenerateResult{
		Content:      sb.String(),
		FinishReason: resp.StopReason,
		Usage: llm.UsageStats{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func parseTitanResponse(body []byte) (*llm.GenerateResult, error) {
	var resp struct {
		Results []struct {
			OutputText       string `json:"outputText"`
			TokenCount       int    `json:"tokenCount"`
			CompletionReason string `json:"completionReason"`
		} `json:"results"`
		InputTextTokenCount int `json:"inputTextTokenCount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	outputTokens := 0
	finishReason := ""
	if len(resp.Results) > 0 {
		content = resp.Results[0].OutputText
		outputTokens = resp.Results[0].TokenCount
		finishReason = resp.Results[0].CompletionReason
	}

	return &llm.GenerateResult{
		Content:      content,
		FinishReason: finishReason,
		Usage: llm.UsageStats{
			PromptTokens:     resp.InputTextTokenCount,
			CompletionTokens: outputTokens,
			TotalTokens:      resp.InputTextTokenCount + outputTokens,
		},
	}, nil
}

func parseLlamaResponse(body []byte) (*llm.GenerateResult, error) {
	var resp struct {
		Generation       string `json:"generation"`
		PromptTokenCount int    `json:"prompt_token_count"`
		GenTokenCount    int    `json:"generation_token_count"`
		StopReason       string `json:"stop_reason"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &llm.GenerateResult{
		Content:      resp.Generation,
		FinishReason: resp.StopReason,
		Usage: llm.UsageStats{
			PromptTokens:     resp.PromptTokenCount,
			CompletionTokens: resp.GenTokenCount,
			TotalTokens:      resp.PromptTokenCount + resp.GenTokenCount,
		},
	}, nil
}

func parseMistralResponse(body []byte) (*llm.GenerateResult, error) {
	var resp struct {
		Outputs []struct {
			Text       string `json:"text"`
			StopReason string `json:"stop_reason"`
		} `json:"outputs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	content := ""
	finishReason := ""
	if len(resp.Outputs) > 0 {
		content = resp.Outputs[0].Text
		finishReason = resp.Outputs[0].StopReason
	}

	// Mistral doesn't report token counts
	return &llm.GenerateResult{
		Content:      content,
		FinishReason: finishReason,
	}, nil
}

// inferenceProfilePrefixes are the known AWS Bedrock inference profile prefixes.
var inferenceProfilePrefixes = []string{"eu", "us", "apac", "global"}

// supportedFamilies are the model families that Bedrock supports.
var supportedFamilies = []string{"anthropic", "amazon", "meta", "mistral"}

// detectModelFamily detects the model family from a model ID such as
// "anthropic.claude-3-5-sonnet-20240620-v1:0" or an inference profile ID
// such as "us.anthropic.claude-sonnet-4-5-20250929-v1:0".
func detectModelFamily(modelID string) string {
	segments := strings.Split(modelID, ".")
	if len(segments) < 2 {
		return ""
	}

	first := segments[0]
	for _, prefix := range inferenceProfilePrefixes {
		if first == prefix {
			return validateFamily(segments[1])
		}
	}
	return validateFamily(first)
}

func validateFamily(family string) string {
	for _, supported := range supportedFamilies {
		if family == supported {
			return family
		}
	}
	return ""
}
