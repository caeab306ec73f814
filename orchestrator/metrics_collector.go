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
	"sort"
	"sync"
	"time"
)

// MetricsCollector aggregates per-workflow and system metrics for the JSON
// /metrics endpoint. Prometheus metrics are recorded separately in run.go.
type MetricsCollector struct {
	metrics *Metrics
	mu      sync.RWMutex
}

// Metrics represents collected metrics
type Metrics struct {
	WorkflowMetrics   map[string]*WorkflowTypeMetrics `json:"workflow_metrics"`
	SystemMetrics     *SystemMetrics                  `json:"system_metrics"`
	CollectionStarted time.Time                       `json:"collection_started"`
}

// WorkflowTypeMetrics tracks metrics per workflow type
type WorkflowTypeMetrics struct {
	TotalRequests   int64         `json:"total_requests"`
	SuccessCount    int64         `json:"success_count"`
	ErrorCount      int64         `json:"error_count"`
	RateLimited     int64         `json:"rate_limited"`
	TotalTokens     int64         `json:"total_tokens"`
	AvgResponseTime time.Duration `json:"avg_response_time_ms"`
	P95ResponseTime time.Duration `json:"p95_response_time_ms"`
	P99ResponseTime time.Duration `json:"p99_response_time_ms"`
	responseTimes   []time.Duration
}

// SystemMetrics tracks system-level metrics
type SystemMetrics struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	TotalRequests int64 `json:"total_requests"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: &Metrics{
			WorkflowMetrics:   make(map[string]*WorkflowTypeMetrics),
			SystemMetrics:     &SystemMetrics{},
			CollectionStarted: time.Now(),
		},
	}
}

func (c *MetricsCollector) workflowMetrics(workflowType string) *WorkflowTypeMetrics {
	wm, exists := c.metrics.WorkflowMetrics[workflowType]
	if !exists {
		wm = &WorkflowTypeMetrics{
			responseTimes: make([]time.Duration, 0, 1000),
		}
		c.metrics.WorkflowMetrics[workflowType] = wm
	}
	return wm
}

// RecordRequest records one completed workflow request.
func (c *MetricsCollector) RecordRequest(workflowType string, success bool, tokens int, responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wm := c.workflowMetrics(workflowType)
	wm.TotalRequests++
	if success {
		wm.SuccessCount++
	} else {
		wm.ErrorCount++
	}
	wm.TotalTokens += int64(tokens)
	wm.responseTimes = append(wm.responseTimes, responseTime)

	// Keep only last 1000 response times for percentile calculation
	if len(wm.responseTimes) > 1000 {
		wm.responseTimes = wm.responseTimes[len(wm.responseTimes)-1000:]
	}

	c.metrics.SystemMetrics.TotalRequests++
}

// RecordRateLimited records a request rejected by the tenant rate limiter.
func (c *MetricsCollector) RecordRateLimited(workflowType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.workflowMetrics(workflowType).RateLimited++
}

// GetMetrics returns a snapshot safe for JSON serialization.
func (c *MetricsCollector) GetMetrics() *Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := &Metrics{
		WorkflowMetrics:   make(map[string]*WorkflowTypeMetrics, len(c.metrics.WorkflowMetrics)),
		CollectionStarted: c.metrics.CollectionStarted,
		SystemMetrics: &SystemMetrics{
			UptimeSeconds: int64(time.Since(c.metrics.CollectionStarted).Seconds()),
			TotalRequests: c.metrics.SystemMetrics.TotalRequests,
		},
	}

	for workflowType, wm := range c.metrics.WorkflowMetrics {
		copied := &WorkflowTypeMetrics{
			TotalRequests: wm.TotalRequests,
			SuccessCount:  wm.SuccessCount,
			ErrorCount:    wm.ErrorCount,
			RateLimited:   wm.RateLimited,
			TotalTokens:   wm.TotalTokens,
		}
		copied.AvgResponseTime = average(wm.responseTimes)
		copied.P95ResponseTime = percentile(wm.responseTimes, 0.95)
		copied.P99ResponseTime = percentile(wm.responseTimes, 0.99)
		snapshot.WorkflowMetrics[workflowType] = copied
	}

	return snapshot
}

func average(times []time.Duration) time.Duration {
	if len(times) == 0 {
		return 0
	}
	var total time.Duration
	for _, t := range times {
		total += t
	}
	return total / time.Duration(len(times))
}

func percentile(times []time.Duration, p float64) time.Duration {
	if len(times) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
