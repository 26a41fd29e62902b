package domain

import "time"

const (
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"

	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Tenant is an isolated customer scope. Every user and tenant-scoped entity belongs to exactly one.
type Tenant struct {
	ID                 string    `json:"id"`
	Slug               string    `json:"slug"`
	Name               string    `json:"name"`
	Status             string    `json:"status"`
	SubscriptionStatus string    `json:"subscription_status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// IsActive requires both the tenant and its subscription to be active.
func (t *Tenant) IsActive() bool {
	return t != nil && t.Status == TenantStatusActive && t.SubscriptionStatus == SubscriptionActive
}
