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

// Package credential resolves tenant-scoped provider credentials and
// records usage events against them. The workflow engines depend only on
// the Manager interface; storage-backed and in-memory implementations
// are provided.
package credential

import (
	"context"
	"fmt"
	"sync"
)

// Credential is tenant-scoped access data for one LLM provider.
type Credential struct {
	// ID uniquely identifies this credential row.
	ID string `json:"id"`

	// TenantID is the owning tenant.
	TenantID string `json:"tenant_id"`

	// Provider is the provider this credential authenticates against
	// (e.g. "anthropic", "openai", "bedrock").
	Provider string `json:"provider"`

	// APIKey is the provider API key. Empty for IAM-authenticated
	// providers such as Bedrock.
	APIKey string `json:"-"`

	// Endpoint overrides the provider default endpoint when set.
	Endpoint string `json:"endpoint,omitempty"`

	// Region is the cloud region (Bedrock).
	Region string `json:"region,omitempty"`

	// DefaultModel is used when the request does not name a model.
	DefaultModel string `json:"default_model,omitempty"`

	// Enabled indicates the credential may be used for dispatch.
	Enabled bool `json:"enabled"`
}

// UsageRecord is one usage-accounting entry for a completed backend call.
type UsageRecord struct {
	CredentialID     string
	TenantID         string
	UserID           string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int64
}

// Manager resolves credentials and records usage.
// Implementations must be safe for concurrent use.
type Manager interface {
	// Resolve returns an enabled credential for tenant+provider.
	// When model is non-empty, a model-specific credential is preferred
	// over the provider-wide one. Returns a *CredentialError with code
	// ErrCredentialNotFound when no credential matches.
	Resolve(ctx context.Context, tenantID, provider, model string) (*Credential, error)

	// RecordUsage records one usage event. Failures are logged by the
	// implementation and must not fail the calling request.
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// CredentialError represents an error from credential operations.
type CredentialError struct {
	TenantID string
	Provider string
	Code     string
	Message  string
	Cause    error
}

// Credential error codes.
const (
	// ErrCredentialNotFound indicates no credential matched the lookup.
	ErrCredentialNotFound = "credential_not_found"

	// ErrCredentialDisabled indicates the matched credential is disabled.
	ErrCredentialDisabled = "credential_disabled"

	// ErrCredentialStore indicates a storage operation failed.
	ErrCredentialStore = "credential_store_error"
)

// Error implements the error interface.
func (e *CredentialError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("credential error for tenant %q provider %q: %s", e.TenantID, e.Provider, e.Message)
	}
	return fmt.Sprintf("credential error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *CredentialError) Unwrap() error {
	return e.Cause
}

// StaticManager is an in-memory Manager seeded from configuration.
// It backs deployments without a credential database and is the standard
// test double for the workflow engines.
type StaticManager struct {
	mu    sync.RWMutex
	creds map[string]*Credential // key: tenantID + "/" + provider
	usage []UsageRecord
}

// NewStaticManager creates an empty in-memory credential manager.
func NewStaticManager() *StaticManager {
	return &StaticManager{
		creds: make(map[string]*Credential),
	}
}

// Put adds or replaces a credential.
func (m *StaticManager) Put(cred *Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credCopy := *cred
	m.creds[cred.TenantID+"/"+cred.Provider] = &credCopy
}

// Resolve implements Manager.
func (m *StaticManager) Resolve(ctx context.Context, tenantID, provider, model string) (*Credential, error) {
	m.mu.RLock()
	cred, ok := m.creds[tenantID+"/"+provider]
	if !ok {
		// Wildcard entries serve every tenant (environment-seeded keys).
		cred, ok = m.creds["*/"+provider]
	}
	m.mu.RUnlock()

	if !ok {
		return nil, &CredentialError{
			TenantID: tenantID,
			Provider: provider,
			Code:     ErrCredentialNotFound,
			Message:  "no credential configured",
		}
	}
	if !cred.Enabled {
		return nil, &CredentialError{
			TenantID: tenantID,
			Provider: provider,
			Code:     ErrCredentialDisabled,
			Message:  "credential is disabled",
		}
	}

	credCopy := *cred
	return &credCopy, nil
}

// RecordUsage implements Manager.
func (m *StaticManager) RecordUsage(ctx context.Context, rec UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, rec)
	return nil
}

// UsageRecords returns a snapshot of recorded usage events.
func (m *StaticManager) UsageRecords() []UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]UsageRecord, len(m.usage))
	copy(out, m.usage)
	return out
}
