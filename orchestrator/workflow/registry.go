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

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
)

// Registry manages workflow engine instances keyed by workflow-type name.
// It is thread-safe for concurrent access: registration happens at startup
// (plus rare administrative calls), lookup is the hot path.
type Registry struct {
	engines map[string]Engine
	logger  *log.Logger
	mu      sync.RWMutex
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithRegistryLogger sets a custom logger for the registry.
func WithRegistryLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty workflow registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		engines: make(map[string]Engine),
		logger:  log.New(os.Stdout, "[WORKFLOW_REGISTRY] ", log.LstdFlags),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds an engine under a workflow-type name.
// Duplicate names are rejected; the first registration wins.
func (r *Registry) Register(name string, engine Engine) error {
	if name == "" {
		return &RegistryError{Code: ErrRegistryInvalid, Message: "workflow type name is required"}
	}
	if engine == nil {
		return &RegistryError{WorkflowType: name, Code: ErrRegistryInvalid, Message: "engine cannot be nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[name]; exists {
		return &RegistryError{
			WorkflowType: name,
			Code:         ErrRegistryDuplicate,
			Message:      fmt.Sprintf("workflow %q already registered", name),
		}
	}

	r.engines[name] = engine
	r.logger.Printf("Registered workflow: %s", name)
	return nil
}

// Get returns the engine registered under a workflow-type name.
func (r *Registry) Get(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engine, exists := r.engines[name]
	if !exists {
		return nil, &RegistryError{
			WorkflowType: name,
			Code:         ErrRegistryNotFound,
			Message:      fmt.Sprintf("workflow %q not found", name),
		}
	}
	return engine, nil
}

// IsRegistered reports whether a workflow type is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.engines[name]
	return exists
}

// List returns a snapshot of Info for all registered engines, sorted by
// workflow-type name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.engines))
	for name, engine := range r.engines {
		info := engine.Info()
		// Registration name is authoritative over what the engine reports.
		info.Name = name
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Count returns the number of registered engines.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// Unregister removes an engine from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[name]; !exists {
		return &RegistryError{
			WorkflowType: name,
			Code:         ErrRegistryNotFound,
			Message:      fmt.Sprintf("workflow %q not found", name),
		}
	}

	delete(r.engines, name)
	r.logger.Printf("Unregistered workflow: %s", name)
	return nil
}
