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
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root service configuration, loadable from a YAML file with
// environment overrides. Every field has a working default so the service
// starts with no config file at all.
type Config struct {
	Port string `yaml:"port"`

	Workflow WorkflowConfig  `yaml:"workflow"`
	Backends BackendsConfig  `yaml:"backends"`
	Database DatabaseConfig  `yaml:"database"`
	Redis    RedisConfig     `yaml:"redis"`
	Limits   RateLimitConfig `yaml:"rate_limits"`
}

// WorkflowConfig tunes the workflow executor and cleanup loop.
type WorkflowConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`
	StreamBuffer     int           `yaml:"stream_buffer"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	RetentionPeriod  time.Duration `yaml:"retention_period"`
}

// UnmarshalYAML accepts Go duration strings ("30s", "5m") for the duration
// fields.
func (w *WorkflowConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxConcurrent    int    `yaml:"max_concurrent"`
		ExecutionTimeout string `yaml:"execution_timeout"`
		StreamBuffer     int    `yaml:"stream_buffer"`
		CleanupInterval  string `yaml:"cleanup_interval"`
		RetentionPeriod  string `yaml:"retention_period"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.MaxConcurrent > 0 {
		w.MaxConcurrent = raw.MaxConcurrent
	}
	if raw.StreamBuffer > 0 {
		w.StreamBuffer = raw.StreamBuffer
	}

	for _, field := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{raw.ExecutionTimeout, &w.ExecutionTimeout, "execution_timeout"},
		{raw.CleanupInterval, &w.CleanupInterval, "cleanup_interval"},
		{raw.RetentionPeriod, &w.RetentionPeriod, "retention_period"},
	} {
		if field.raw == "" {
			continue
		}
		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
		*field.dst = d
	}
	return nil
}

// BackendsConfig selects which model backends to register.
type BackendsConfig struct {
	Default   string `yaml:"default"`
	Anthropic struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"base_url,omitempty"`
	} `yaml:"anthropic"`
	OpenAI struct {
		Enabled bool   `yaml:"enabled"`
		BaseURL string `yaml:"base_url,omitempty"`
	} `yaml:"openai"`
	Bedrock struct {
		Enabled bool   `yaml:"enabled"`
		Region  string `yaml:"region,omitempty"`
	} `yaml:"bedrock"`
}

// DatabaseConfig is the PostgreSQL credential store connection. An empty
// URL disables the store and the service falls back to the in-memory
// credential manager.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig is the rate limiter backing store. An empty address disables
// per-tenant rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig tunes the per-tenant sliding window.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() Config {
	cfg := Config{
		Port: "8081",
		Workflow: WorkflowConfig{
			MaxConcurrent:    50,
			ExecutionTimeout: 5 * time.Minute,
			StreamBuffer:     16,
			CleanupInterval:  time.Minute,
			RetentionPeriod:  30 * time.Minute,
		},
		Limits: RateLimitConfig{RequestsPerMinute: 120},
	}
	cfg.Backends.Default = "anthropic"
	cfg.Backends.Anthropic.Enabled = true
	return cfg
}

// LoadConfig reads a YAML config file, expands ${VAR} / ${VAR:-default}
// references against the environment, and applies environment overrides.
// A missing path yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets the standard deployment env vars win over file
// values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("BEDROCK_REGION"); v != "" {
		c.Backends.Bedrock.Region = v
		c.Backends.Bedrock.Enabled = true
	}
	if v := os.Getenv("DEFAULT_PROVIDER"); v != "" {
		c.Backends.Default = v
	}
}

// DatabaseURL builds the connection string, preferring an explicit URL and
// falling back to separate host/user/password vars.
func (c *Config) DatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if c.Database.Host == "" || c.Database.Password == "" {
		return ""
	}

	port := c.Database.Port
	if port == "" {
		port = "5432"
	}
	name := c.Database.Name
	if name == "" {
		name = "lyss"
	}
	user := c.Database.User
	if user == "" {
		user = "lyss_app"
	}
	sslmode := c.Database.SSLMode
	if sslmode == "" {
		sslmode = "require"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(user), url.QueryEscape(c.Database.Password), c.Database.Host, port, name, sslmode)
}

var envVarRegex = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*(:-[^}]*)?\}|\$[A-Za-z_][A-Za-z0-9_]*`)

// expandEnvVars replaces ${VAR}, ${VAR:-default}, and $VAR references with
// environment values.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}
