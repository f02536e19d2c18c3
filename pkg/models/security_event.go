package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names what happened.
type EventType string

const (
	EventAuthenticationFailed EventType = "authentication_failed"
	EventTenantDisabled       EventType = "tenant_disabled_access"
	EventUnknownTenant        EventType = "unknown_tenant_access"
	EventKeyResolutionFailed  EventType = "key_resolution_failed"
	EventAuthorizationDenied  EventType = "authorization_denied"
	EventServiceTokenIssued   EventType = "service_token_issued"
	EventInvalidAppKey        EventType = "invalid_app_key"
	EventTenantPolicyUpdated  EventType = "tenant_policy_updated"
)

// RiskLevel grades an event for alerting.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// SecurityEvent is one audit record. It never contains token material.
type SecurityEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	RiskLevel  RiskLevel      `json:"risk_level"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewSecurityEvent returns an event with a generated UUID and the current
// UTC time.
func NewSecurityEvent(typ EventType, risk RiskLevel) *SecurityEvent {
	return &SecurityEvent{
		ID:         uuid.New().String(),
		Type:       typ,
		RiskLevel:  risk,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate checks the fields every sink relies on.
func (e *SecurityEvent) Validate() error {
	if e.ID == "" {
		return errors.New("models: security event id is required")
	}
	if e.Type == "" {
		return errors.New("models: security event type is required")
	}
	if !e.RiskLevel.Valid() {
		return fmt.Errorf("models: invalid security event risk level %q", e.RiskLevel)
	}
	if e.OccurredAt.IsZero() {
		return errors.New("models: security event occurred_at is required")
	}
	return nil
}
