package store

import (
	"context"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/leadbridge/leadbridge/pkg/connector/core"
	"github.com/leadbridge/leadbridge/pkg/errors"
	"github.com/leadbridge/leadbridge/pkg/models"
)

// Upsert writes a lead, matching on (tenant_id, external_id). A lead without
// an external id is always inserted as a new row. The match and the write are
// one atomic statement; xmax = 0 distinguishes a fresh insert from an update
// of an existing row.
func (s *Store) Upsert(ctx context.Context, lead *models.Lead) (core.UpsertOutcome, error) {
	if lead.TenantID == "" {
		return "", errors.New(errors.ErrorTypePersistence, "lead is missing tenant id")
	}

	data, err := json.Marshal(lead.Data)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypePersistence, "failed to encode lead data")
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}

	if lead.ExternalID == "" {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO leads (
				id, tenant_id, external_id, source, first_name, last_name,
				email, company, title, phone, status, score,
				estimated_value, owner_id, data
			) VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			lead.ID, lead.TenantID, lead.Source, lead.FirstName, lead.LastName,
			lead.Email, lead.Company, lead.Title, lead.Phone, string(lead.Status),
			lead.Score, lead.EstimatedValue, lead.OwnerID, data)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypePersistence, "failed to insert lead")
		}
		return core.OutcomeCreated, nil
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, `
		INSERT INTO leads (
			id, tenant_id, external_id, source, first_name, last_name,
			email, company, title, phone, status, score,
			estimated_value, owner_id, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			source          = EXCLUDED.source,
			first_name      = EXCLUDED.first_name,
			last_name       = EXCLUDED.last_name,
			email           = EXCLUDED.email,
			company         = EXCLUDED.company,
			title           = EXCLUDED.title,
			phone           = EXCLUDED.phone,
			status          = EXCLUDED.status,
			score           = EXCLUDED.score,
			estimated_value = EXCLUDED.estimated_value,
			owner_id        = EXCLUDED.owner_id,
			data            = EXCLUDED.data,
			updated_at      = now()
		RETURNING id, (xmax = 0) AS inserted`,
		lead.ID, lead.TenantID, lead.ExternalID, lead.Source, lead.FirstName,
		lead.LastName, lead.Email, lead.Company, lead.Title, lead.Phone,
		string(lead.Status), lead.Score, lead.EstimatedValue, lead.OwnerID, data).
		Scan(&lead.ID, &inserted)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypePersistence, "failed to upsert lead")
	}
	if inserted {
		return core.OutcomeCreated, nil
	}
	return core.OutcomeUpdated, nil
}

// GetLead fetches one lead by id within a tenant.
func (s *Store) GetLead(ctx context.Context, tenantID, id string) (*models.Lead, error) {
	lead := &models.Lead{}
	var status string
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, COALESCE(external_id, ''), source, first_name,
		       last_name, email, company, title, phone, status, score,
		       estimated_value, owner_id, data, created_at, updated_at
		FROM leads WHERE tenant_id = $1 AND id = $2`,
		tenantID, id).
		Scan(&lead.ID, &lead.TenantID, &lead.ExternalID, &lead.Source,
			&lead.FirstName, &lead.LastName, &lead.Email, &lead.Company,
			&lead.Title, &lead.Phone, &status, &lead.Score,
			&lead.EstimatedValue, &lead.OwnerID, &data,
			&lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "lead not found")
	}
	lead.Status = models.LeadStatus(status)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &lead.Data); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypePersistence, "failed to decode lead data")
		}
	}
	return lead, nil
}

// CountLeads reports how many leads a tenant holds.
func (s *Store) CountLeads(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM leads WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypePersistence, "failed to count leads")
	}
	return count, nil
}
