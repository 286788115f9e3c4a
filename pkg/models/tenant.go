package models

import (
	"strings"
	"time"
)

// OracleMode selects how the decision oracle behaves when the LLM is
// unavailable: permissive falls back to the rule evaluator, strict fails
// the run.
type OracleMode string

const (
	OracleModePermissive OracleMode = "permissive"
	OracleModeStrict     OracleMode = "strict"
)

// TenantSettings holds per-tenant configuration for the decision oracle.
// The AI key is stored raw and only ever surfaced masked.
type TenantSettings struct {
	TenantID    string     `json:"tenant_id" validate:"required"`
	AIAPIKey    string     `json:"-"`
	OracleMode  OracleMode `json:"oracle_mode"`
	LLMEndpoint string     `json:"llm_endpoint,omitempty"`
	LLMModel    string     `json:"llm_model,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Mode returns the configured oracle mode, defaulting to permissive.
func (s *TenantSettings) Mode() OracleMode {
	if s == nil || s.OracleMode == "" {
		return OracleModePermissive
	}

	return s.OracleMode
}

// MaskKey renders a credential for display, keeping only the last four
// characters.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}

	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
