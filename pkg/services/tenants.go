package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codagent/flowkit/pkg/models"
	"github.com/codagent/flowkit/pkg/persistence"
)

// Tenants manages per-tenant oracle settings.
type Tenants struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewTenants creates the tenant settings service.
func NewTenants(p persistence.Persistence, logger *slog.Logger) *Tenants {
	return &Tenants{
		persistence: p,
		logger:      logger.With("module", "tenants"),
	}
}

// SetCredentialRequest is the boundary input for updating AI settings.
type SetCredentialRequest struct {
	APIKey      string `json:"api_key"      validate:"required"`
	OracleMode  string `json:"oracle_mode"  validate:"omitempty,oneof=permissive strict"`
	LLMEndpoint string `json:"llm_endpoint"`
	LLMModel    string `json:"llm_model"`
}

// SetCredentialResponse surfaces only the masked key.
type SetCredentialResponse struct {
	MaskedKey  string            `json:"masked_key"`
	OracleMode models.OracleMode `json:"oracle_mode"`
}

// SetCredential stores the tenant's AI credential and oracle configuration.
// The raw key is persisted but never returned.
func (s *Tenants) SetCredential(ctx context.Context, tenantID string, req SetCredentialRequest) (*SetCredentialResponse, error) {
	err := validate.Struct(&req)
	if err != nil {
		if req.APIKey == "" {
			return nil, ErrMissingCredential
		}

		return nil, fmt.Errorf("invalid request: %w", err)
	}

	settings, err := s.persistence.Tenants().Get(ctx, tenantID)
	if errors.Is(err, persistence.ErrTenantNotFound) {
		settings = &models.TenantSettings{TenantID: tenantID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load tenant settings: %w", err)
	}

	settings.AIAPIKey = req.APIKey
	if req.OracleMode != "" {
		settings.OracleMode = models.OracleMode(req.OracleMode)
	}

	if req.LLMEndpoint != "" {
		settings.LLMEndpoint = req.LLMEndpoint
	}

	if req.LLMModel != "" {
		settings.LLMModel = req.LLMModel
	}

	settings.UpdatedAt = time.Now().UTC()

	err = s.persistence.Tenants().Save(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to save tenant settings: %w", err)
	}

	s.logger.InfoContext(ctx, "Tenant credential updated",
		"tenant_id", tenantID, "masked_key", models.MaskKey(req.APIKey))

	return &SetCredentialResponse{
		MaskedKey:  models.MaskKey(req.APIKey),
		OracleMode: settings.Mode(),
	}, nil
}

// GetSettings returns the tenant's settings; the raw key is excluded from
// serialization at the model level.
func (s *Tenants) GetSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	return s.persistence.Tenants().Get(ctx, tenantID)
}
