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
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/zhuiye8/lyss-ai-platform-sub003/common/credential"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm/anthropic"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm/bedrock"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/llm/openai"
	"github.com/zhuiye8/lyss-ai-platform-sub003/orchestrator/workflow"
	"github.com/zhuiye8/lyss-ai-platform-sub003/shared/logger"
)

// Prometheus metrics
var (
	promWorkflowRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lyss_orchestrator_workflow_requests_total",
			Help: "Total number of workflow requests processed",
		},
		[]string{"workflow", "status"},
	)
	promWorkflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lyss_orchestrator_workflow_duration_milliseconds",
			Help:    "Workflow execution duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"workflow"},
	)
	promStreamEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lyss_orchestrator_stream_events_total",
			Help: "Total number of stream events delivered to clients",
		},
	)
	promRunningExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lyss_orchestrator_running_executions",
			Help: "Number of currently running workflow executions",
		},
	)
	promRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lyss_orchestrator_rate_limited_total",
			Help: "Total number of requests rejected by the tenant rate limiter",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promWorkflowRequests)
	prometheus.MustRegister(promWorkflowDuration)
	prometheus.MustRegister(promStreamEvents)
	prometheus.MustRegister(promRunningExecutions)
	prometheus.MustRegister(promRateLimited)
}

// Service wires the workflow subsystem to its HTTP surface.
type Service struct {
	cfg       Config
	manager   *workflow.Manager
	limiter   *TenantRateLimiter
	collector *MetricsCollector
	reqLog    *logger.Logger
	usageDB   *sql.DB
}

// NewService assembles a service from configuration: credential store,
// model backends, workflow manager, rate limiter, and metrics.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	svc := &Service{
		cfg:       cfg,
		collector: NewMetricsCollector(),
		reqLog:    logger.New("orchestrator"),
	}

	// Credential store: PostgreSQL when configured, otherwise the
	// in-memory manager seeded from environment keys.
	var creds credential.Manager
	if dbURL := cfg.DatabaseURL(); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, err
		}
		svc.usageDB = db
		creds = credential.NewPostgresManager(db)
		log.Println("Credential store: PostgreSQL")
	} else {
		creds = seedStaticCredentials()
		log.Println("Credential store: in-memory (no DATABASE_URL configured)")
	}

	backends, err := buildBackends(ctx, cfg.Backends)
	if err != nil {
		return nil, err
	}

	manager := workflow.NewManager(creds, backends, workflow.ManagerConfig{
		Executor: workflow.ExecutorConfig{
			MaxConcurrent:    cfg.Workflow.MaxConcurrent,
			ExecutionTimeout: cfg.Workflow.ExecutionTimeout,
			StreamBuffer:     cfg.Workflow.StreamBuffer,
		},
		CleanupInterval: cfg.Workflow.CleanupInterval,
		RetentionPeriod: cfg.Workflow.RetentionPeriod,
	})
	if err := manager.Initialize(); err != nil {
		return nil, err
	}
	svc.manager = manager

	if cfg.Redis.Addr != "" {
		limiter, err := NewTenantRateLimiter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Limits.RequestsPerMinute)
		if err != nil {
			// Rate limiting is protective, not load-bearing; start
			// without it rather than refusing to boot.
			log.Printf("Rate limiter disabled: %v", err)
		} else {
			svc.limiter = limiter
		}
	}

	return svc, nil
}

// buildBackends registers every enabled model backend.
func buildBackends(ctx context.Context, cfg BackendsConfig) (*llm.BackendSet, error) {
	set := llm.NewBackendSet()

	if cfg.Anthropic.Enabled {
		var opts []anthropic.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		if err := set.Register(anthropic.NewBackend(opts...)); err != nil {
			return nil, err
		}
	}

	if cfg.OpenAI.Enabled {
		var opts []openai.Option
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if err := set.Register(openai.NewBackend(opts...)); err != nil {
			return nil, err
		}
	}

	if cfg.Bedrock.Enabled {
		backend, err := bedrock.NewBackend(ctx, cfg.Bedrock.Region)
		if err != nil {
			return nil, err
		}
		if err := set.Register(backend); err != nil {
			return nil, err
		}
	}

	if cfg.Default != "" && set.Has(cfg.Default) {
		if err := set.SetDefault(cfg.Default); err != nil {
			return nil, err
		}
	}

	return set, nil
}

// seedStaticCredentials builds the in-memory credential manager from
// environment API keys. Every tenant shares the same keys in this mode; it
// exists for local development and tests.
func seedStaticCredentials() *credential.StaticManager {
	mgr := credential.NewStaticManager()

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		mgr.Put(&credential.Credential{
			ID:           "env-anthropic",
			TenantID:     "*",
			Provider:     "anthropic",
			APIKey:       key,
			DefaultModel: os.Getenv("ANTHROPIC_MODEL"),
			Enabled:      true,
		})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		mgr.Put(&credential.Credential{
			ID:           "env-openai",
			TenantID:     "*",
			Provider:     "openai",
			APIKey:       key,
			DefaultModel: os.Getenv("OPENAI_MODEL"),
			Enabled:      true,
		})
	}
	if region := os.Getenv("BEDROCK_REGION"); region != "" {
		mgr.Put(&credential.Credential{
			ID:           "env-bedrock",
			TenantID:     "*",
			Provider:     "bedrock",
			Region:       region,
			DefaultModel: os.Getenv("BEDROCK_MODEL"),
			Enabled:      true,
		})
	}

	return mgr
}

// Router builds the HTTP route table.
func (s *Service) Router() http.Handler {
	r := mux.NewRouter()

	// CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	// Health check
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Metrics endpoints
	r.HandleFunc("/metrics", s.metricsHandler).Methods("GET")  // JSON metrics
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET") // Prometheus native format

	// Chat execution (sync and SSE streaming)
	r.HandleFunc("/api/v1/chat", s.chatHandler).Methods("POST")

	// Workflow catalog
	r.HandleFunc("/api/v1/workflows", s.listWorkflowsHandler).Methods("GET")
	r.HandleFunc("/api/v1/workflows/{name}", s.workflowInfoHandler).Methods("GET")

	// Execution management
	r.HandleFunc("/api/v1/executions/{id}", s.executionStatusHandler).Methods("GET")
	r.HandleFunc("/api/v1/executions/{id}/cancel", s.cancelExecutionHandler).Methods("POST")

	return c.Handler(r)
}

// Run is the exported entry point for the orchestrator service. It loads
// configuration, assembles the service, starts the cleanup loop, and
// blocks serving HTTP.
//
// Environment variables used:
//   - PORT: HTTP server port (default: 8081)
//   - CONFIG_PATH: YAML config file path (optional)
//   - DATABASE_URL: PostgreSQL connection string (optional)
//   - REDIS_ADDR: Redis address for rate limiting (optional)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY / BEDROCK_REGION: backend setup
func Run() {
	log.Println("Starting Lyss Orchestrator...")

	cfg, err := LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	svc, err := NewService(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize service: %v", err)
	}

	svc.manager.StartCleanupLoop(ctx)

	log.Printf("Lyss Orchestrator listening on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, svc.Router()))
}
