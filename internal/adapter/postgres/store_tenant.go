package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/formbridge/ingest/internal/domain"
	"github.com/formbridge/ingest/internal/domain/tenant"
)

// GetTenant reads the tenant config item (PK=TENANT#{id}, SK=CONFIG#main).
func (s *Store) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM items WHERE pk = $1 AND sk = $2`,
		tenantPK(tenantID), tenantConfigSK(),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get tenant %s: %w", tenantID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}

	var t tenant.Tenant
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode tenant %s: %w", tenantID, err)
	}
	return &t, nil
}

// PutTenant upserts a tenant config item. The core never calls this in
// normal operation (tenant management is an external collaborator per
// spec §3.1) — it exists to let an operator seed or fix tenant config
// without a separate CRUD service.
func (s *Store) PutTenant(ctx context.Context, t tenant.Tenant) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tenant %s: %w", t.ID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO items (pk, sk, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (pk, sk) DO UPDATE SET data = $3, updated_at = now()`,
		tenantPK(t.ID), tenantConfigSK(), data,
	)
	if err != nil {
		return fmt.Errorf("put tenant %s: %w", t.ID, err)
	}
	return nil
}
