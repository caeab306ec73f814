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
	"database/sql"
	"fmt"
	"log"
)

// PostgresManager implements Manager backed by PostgreSQL.
//
// Schema:
//
//	CREATE TABLE tenant_credentials (
//	    id            UUID PRIMARY KEY,
//	    tenant_id     VARCHAR(255) NOT NULL,
//	    provider      VARCHAR(100) NOT NULL,
//	    model         VARCHAR(255),          -- NULL = provider-wide
//	    api_key       TEXT,
//	    endpoint      TEXT,
//	    region        VARCHAR(100),
//	    default_model VARCHAR(255),
//	    enabled       BOOLEAN NOT NULL DEFAULT true,
//	    created_at    TIMESTAMPTZ DEFAULT NOW()
//	);
//
//	CREATE TABLE usage_events (
//	    id                SERIAL PRIMARY KEY,
//	    credential_id     UUID,
//	    tenant_id         VARCHAR(255) NOT NULL,
//	    user_id           VARCHAR(255),
//	    llm_provider      VARCHAR(100),
//	    llm_model         VARCHAR(255),
//	    prompt_tokens     INTEGER,
//	    completion_tokens INTEGER,
//	    total_tokens      INTEGER,
//	    latency_ms        BIGINT,
//	    created_at        TIMESTAMPTZ DEFAULT NOW()
//	);
type PostgresManager struct {
	db *sql.DB
}

// NewPostgresManager creates a Postgres-backed credential manager.
func NewPostgresManager(db *sql.DB) *PostgresManager {
	return &PostgresManager{db: db}
}

// Resolve implements Manager. A model-specific credential row is preferred
// over the provider-wide row (model IS NULL).
func (m *PostgresManager) Resolve(ctx context.Context, tenantID, provider, model string) (*Credential, error) {
	query := `
		SELECT id, tenant_id, provider,
		       COALESCE(api_key, ''), COALESCE(endpoint, ''),
		       COALESCE(region, ''), COALESCE(default_model, ''), enabled
		FROM tenant_credentials
		WHERE tenant_id = $1 AND provider = $2
		  AND (model = $3 OR model IS NULL)
		ORDER BY model NULLS LAST
		LIMIT 1
	`

	var cred Credential
	err := m.db.QueryRowContext(ctx, query, tenantID, provider, nullString(model)).Scan(
		&cred.ID, &cred.TenantID, &cred.Provider,
		&cred.APIKey, &cred.Endpoint,
		&cred.Region, &cred.DefaultModel, &cred.Enabled,
	)
	if err == sql.ErrNoRows {
		return nil, &CredentialError{
			TenantID: tenantID,
			Provider: provider,
			Code:     ErrCredentialNotFound,
			Message:  "no credential configured",
		}
	}
	if err != nil {
		return nil, &CredentialError{
			TenantID: tenantID,
			Provider: provider,
			Code:     ErrCredentialStore,
			Message:  fmt.Sprintf("credential lookup failed: %v", err),
			Cause:    err,
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

	return &cred, nil
}

// RecordUsage implements Manager. Insert failures are logged but do not
// block the calling request.
func (m *PostgresManager) RecordUsage(ctx context.Context, rec UsageRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO usage_events (
			credential_id, tenant_id, user_id, llm_provider, llm_model,
			prompt_tokens, completion_tokens, total_tokens, latency_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, nullString(rec.CredentialID), rec.TenantID, nullString(rec.UserID),
		rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.LatencyMs)

	if err != nil {
		log.Printf("[USAGE] Failed to record usage event: %v", err)
	}

	return nil
}

// nullString converts an empty string to NULL for database parameters.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
