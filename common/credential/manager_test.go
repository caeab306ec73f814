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

package credential

import (
	"context"
	"errors"
	"testing"
)

func TestStaticManager_Resolve(t *testing.T) {
	mgr := NewStaticManager()
	mgr.Put(&Credential{
		ID:           "cred-1",
		TenantID:     "tenant-1",
		Provider:     "anthropic",
		APIKey:       "sk-test",
		DefaultModel: "claude-sonnet-4-5",
		Enabled:      true,
	})

	cred, err := mgr.Resolve(context.Background(), "tenant-1", "anthropic", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cred.APIKey != "sk-test" {
		t.Errorf("expected API key sk-test, got %q", cred.APIKey)
	}
	if cred.DefaultModel != "claude-sonnet-4-5" {
		t.Errorf("expected default model claude-sonnet-4-5, got %q", cred.DefaultModel)
	}
}

func TestStaticManager_ResolveReturnsCopy(t *testing.T) {
	mgr := NewStaticManager()
	mgr.Put(&Credential{TenantID: "tenant-1", Provider: "anthropic", APIKey: "sk-test", Enabled: true})

	cred, err := mgr.Resolve(context.Background(), "tenant-1", "anthropic", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	cred.APIKey = "mutated"

	again, err := mgr.Resolve(context.Background(), "tenant-1", "anthropic", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if again.APIKey != "sk-test" {
		t.Errorf("stored credential was mutated through the returned copy")
	}
}

func TestStaticManager_WildcardFallback(t *testing.T) {
	mgr := NewStaticManager()
	mgr.Put(&Credential{TenantID: "*", Provider: "openai", APIKey: "sk-shared", Enabled: true})

	cred, err := mgr.Resolve(context.Background(), "tenant-42", "openai", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cred.APIKey != "sk-shared" {
		t.Errorf("expected wildcard credential, got %q", cred.APIKey)
	}
}

func TestStaticManager_TenantEntryBeatsWildcard(t *testing.T) {
	mgr := NewStaticManager()
	mgr.Put(&Credential{TenantID: "*", Provider: "openai", APIKey: "sk-shared", Enabled: true})
	mgr.Put(&Credential{TenantID: "tenant-1", Provider: "openai", APIKey: "sk-own", Enabled: true})

	cred, err := mgr.Resolve(context.Background(), "tenant-1", "openai", "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cred.APIKey != "sk-own" {
		t.Errorf("expected tenant credential to win, got %q", cred.APIKey)
	}
}

func TestStaticManager_NotFound(t *testing.T) {
	mgr := NewStaticManager()

	_, err := mgr.Resolve(context.Background(), "tenant-1", "anthropic", "")
	if err == nil {
		t.Fatal("expected error for missing credential")
	}

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected *CredentialError, got %T", err)
	}
	if credErr.Code != ErrCredentialNotFound {
		t.Errorf("expected code %s, got %s", ErrCredentialNotFound, credErr.Code)
	}
}

func TestStaticManager_Disabled(t *testing.T) {
	mgr := NewStaticManager()
	mgr.Put(&Credential{TenantID: "tenant-1", Provider: "anthropic", APIKey: "sk-test", Enabled: false})

	_, err := mgr.Resolve(context.Background(), "tenant-1", "anthropic", "")
	if err == nil {
		t.Fatal("expected error for disabled credential")
	}

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected *CredentialError, got %T", err)
	}
	if credErr.Code != ErrCredentialDisabled {
		t.Errorf("expected code %s, got %s", ErrCredentialDisabled, credErr.Code)
	}
}

func TestStaticManager_RecordUsage(t *testing.T) {
	mgr := NewStaticManager()

	rec := UsageRecord{
		CredentialID: "cred-1",
		TenantID:     "tenant-1",
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-5",
		PromptTokens: 10,
		TotalTokens:  15,
	}
	if err := mgr.RecordUsage(context.Background(), rec); err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	records := mgr.UsageRecords()
	if len(records) != 1 {
		t.Fatalf("expected 1 usage record, got %d", len(records))
	}
	if records[0].TotalTokens != 15 {
		t.Errorf("expected 15 total tokens, got %d", records[0].TotalTokens)
	}
}

func TestStaticManager_ConcurrentAccess(t *testing.T) {
	mgr := NewStaticManager()
	mgr.Put(&Credential{TenantID: "tenant-1", Provider: "anthropic", APIKey: "sk-test", Enabled: true})

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				_, _ = mgr.Resolve(context.Background(), "tenant-1", "anthropic", "")
				_ = mgr.RecordUsage(context.Background(), UsageRecord{TenantID: "tenant-1"})
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if got := len(mgr.UsageRecords()); got != 500 {
		t.Errorf("expected 500 usage records, got %d", got)
	}
}
