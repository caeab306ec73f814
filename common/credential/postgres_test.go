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

	"github.com/DATA-DOG/go-sqlmock"
)

func credentialColumns() []string {
	return []string{"id", "tenant_id", "provider", "api_key", "endpoint", "region", "default_model", "enabled"}
}

func TestPostgresManager_Resolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM tenant_credentials").
		WithArgs("tenant-1", "anthropic", nil).
		WillReturnRows(sqlmock.NewRows(credentialColumns()).
			AddRow("cred-1", "tenant-1", "anthropic", "sk-test", "", "", "claude-sonnet-4-5", true))

	mgr := NewPostgresManager(db)
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

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresManager_ResolveModelSpecific(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM tenant_credentials").
		WithArgs("tenant-1", "openai", "gpt-4o").
		WillReturnRows(sqlmock.NewRows(credentialColumns()).
			AddRow("cred-2", "tenant-1", "openai", "sk-model", "", "", "", true))

	mgr := NewPostgresManager(db)
	cred, err := mgr.Resolve(context.Background(), "tenant-1", "openai", "gpt-4o")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if cred.ID != "cred-2" {
		t.Errorf("expected cred-2, got %q", cred.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresManager_ResolveNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM tenant_credentials").
		WithArgs("tenant-1", "anthropic", nil).
		WillReturnRows(sqlmock.NewRows(credentialColumns()))

	mgr := NewPostgresManager(db)
	_, err = mgr.Resolve(context.Background(), "tenant-1", "anthropic", "")
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

func TestPostgresManager_ResolveDisabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM tenant_credentials").
		WithArgs("tenant-1", "anthropic", nil).
		WillReturnRows(sqlmock.NewRows(credentialColumns()).
			AddRow("cred-1", "tenant-1", "anthropic", "sk-test", "", "", "", false))

	mgr := NewPostgresManager(db)
	_, err = mgr.Resolve(context.Background(), "tenant-1", "anthropic", "")

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected *CredentialError, got %T", err)
	}
	if credErr.Code != ErrCredentialDisabled {
		t.Errorf("expected code %s, got %s", ErrCredentialDisabled, credErr.Code)
	}
}

func TestPostgresManager_ResolveStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM tenant_credentials").
		WithArgs("tenant-1", "anthropic", nil).
		WillReturnError(errors.New("connection reset"))

	mgr := NewPostgresManager(db)
	_, err = mgr.Resolve(context.Background(), "tenant-1", "anthropic", "")

	var credErr *CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected *CredentialError, got %T", err)
	}
	if credErr.Code != ErrCredentialStore {
		t.Errorf("expected code %s, got %s", ErrCredentialStore, credErr.Code)
	}
}

func TestPostgresManager_RecordUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO usage_events").
		WithArgs("cred-1", "tenant-1", nil, "anthropic", "claude-sonnet-4-5", 10, 5, 15, int64(820)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mgr := NewPostgresManager(db)
	err = mgr.RecordUsage(context.Background(), UsageRecord{
		CredentialID:     "cred-1",
		TenantID:         "tenant-1",
		Provider:         "anthropic",
		Model:            "claude-sonnet-4-5",
		PromptTokens:     10,
		CompletionTokens: 5,
		TotalTokens:      15,
		LatencyMs:        820,
	})
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresManager_RecordUsageFailureDoesNotPropagate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO usage_events").
		WillReturnError(errors.New("insert failed"))

	mgr := NewPostgresManager(db)
	// Usage tracking is best-effort: a failed insert must not surface to
	// the request that produced the event.
	err = mgr.RecordUsage(context.Background(), UsageRecord{TenantID: "tenant-1", Provider: "anthropic"})
	if err != nil {
		t.Fatalf("RecordUsage surfaced insert failure: %v", err)
	}
}
