package domain

import (
	"fmt"
	"strings"
	"time"
)

// OptOut records a recipient's withdrawal of consent for a tenant.
// Opted-out recipients never enter the delivery pipeline.
type OptOut struct {
	ID        string
	TenantID  string
	Phone     string
	Reason    string
	CreatedAt time.Time
}

func NewOptOut(id, tenantID, phone, reason string, now time.Time) (*OptOut, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: opt-out id is required", ErrValidation)
	}
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}

	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	return &OptOut{
		ID:        id,
		TenantID:  tenantID,
		Phone:     normalized,
		Reason:    reason,
		CreatedAt: now.UTC(),
	}, nil
}
