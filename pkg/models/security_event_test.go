package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewSecurityEvent(t *testing.T) {
	e := NewSecurityEvent(EventTenantDisabled, RiskMedium)

	if len(strings.Split(e.ID, "-")) != 5 {
		t.Errorf("ID %q does not look like a UUID", e.ID)
	}
	if e.OccurredAt.Location() != time.UTC {
		t.Error("OccurredAt should be UTC")
	}
	if err := e.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
	if other := NewSecurityEvent(EventTenantDisabled, RiskMedium); other.ID == e.ID {
		t.Error("events should get distinct IDs")
	}
}

func TestSecurityEvent_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *SecurityEvent)
	}{
		{name: "missing id", mutate: func(e *SecurityEvent) { e.ID = "" }},
		{name: "missing type", mutate: func(e *SecurityEvent) { e.Type = "" }},
		{name: "bad risk", mutate: func(e *SecurityEvent) { e.RiskLevel = "severe" }},
		{name: "zero time", mutate: func(e *SecurityEvent) { e.OccurredAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewSecurityEvent(EventAuthenticationFailed, RiskLow)
			tt.mutate(e)
			if err := e.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestRiskLevel_Valid(t *testing.T) {
	for _, r := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if RiskLevel("").Valid() {
		t.Error("empty risk level should be invalid")
	}
}

func TestSecurityEvent_JSONOmitsEmpty(t *testing.T) {
	e := NewSecurityEvent(EventServiceTokenIssued, RiskLow)
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	for _, absent := range []string{"tenant_id", "subject", "details", "reason"} {
		if strings.Contains(string(data), absent) {
			t.Errorf("JSON %s should omit %s", data, absent)
		}
	}
}
