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

package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zhuiye8/lyss-ai-platform-sub003/common/credential"
)

// Backend adapts one upstream LLM provider API.
// Implementations must be safe for concurrent use; the resolved credential
// is passed per call because credentials are tenant-scoped.
type Backend interface {
	// Provider returns the provider name this backend serves
	// (e.g. "anthropic", "openai", "bedrock").
	Provider() string

	// Generate performs a non-streaming completion over the ordered
	// message sequence (system, prior turns, current user message).
	Generate(ctx context.Context, cred *credential.Credential, model string, msgs []Message, opts GenerateOptions) (*GenerateResult, error)

	// Stream performs a streaming completion, invoking handler for each
	// incremental delta, and returns the aggregated final result.
	Stream(ctx context.Context, cred *credential.Credential, model string, msgs []Message, opts GenerateOptions, handler StreamHandler) (*GenerateResult, error)
}

// BackendSet maps provider names to Backend instances.
// Registration happens at startup; lookups are the hot path.
type BackendSet struct {
	mu          sync.RWMutex
	backends    map[string]Backend
	defaultName string
}

// NewBackendSet creates an empty backend set.
func NewBackendSet() *BackendSet {
	return &BackendSet{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend under its provider name. The first registered
// backend becomes the default unless SetDefault overrides it.
func (s *BackendSet) Register(backend Backend) error {
	if backend == nil {
		return fmt.Errorf("backend cannot be nil")
	}

	name := backend.Provider()
	if name == "" {
		return fmt.Errorf("backend provider name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.backends[name]; exists {
		return fmt.Errorf("backend %q already registered", name)
	}

	s.backends[name] = backend
	if s.defaultName == "" {
		s.defaultName = name
	}
	return nil
}

// SetDefault marks a registered backend as the default provider.
func (s *BackendSet) SetDefault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.backends[name]; !exists {
		return fmt.Errorf("backend %q not registered", name)
	}
	s.defaultName = name
	return nil
}

// Get returns the backend for a provider name.
func (s *BackendSet) Get(name string) (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	backend, exists := s.backends[name]
	if !exists {
		return nil, NewBackendError(name, ErrCodeUnavailable, "no backend registered for provider", 0, nil)
	}
	return backend, nil
}

// Has reports whether a backend is registered for the provider name.
func (s *BackendSet) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.backends[name]
	return exists
}

// Default returns the default backend.
func (s *BackendSet) Default() (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.defaultName == "" {
		return nil, NewBackendError("", ErrCodeUnavailable, "no backends registered", 0, nil)
	}
	return s.backends[s.defaultName], nil
}

// DefaultProvider returns the default provider name, or "" when empty.
func (s *BackendSet) DefaultProvider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultName
}

// Providers returns the sorted provider names of all registered backends.
func (s *BackendSet) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
