package domain

import (
	"encoding/json"
	"time"
)

// Aggregate is a generic tenant-scoped entity owned by collaborators
// (calendars, resources, business configuration).
type Aggregate struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	TenantID  string            `json:"tenant_id"`
	OwnerID   string            `json:"owner_id,omitempty"`
	Version   int               `json:"version"`
	Payload   json.RawMessage   `json:"payload"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (a *Aggregate) Touch(now time.Time) {
	if a == nil {
		return
	}
	a.UpdatedAt = now
	if a.CreatedAt.IsZero() {
		a.CreatedAt = a.UpdatedAt
	}
}

// Event represents a change applied to an aggregate instance.
type Event struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	AggregateID string            `json:"aggregate_id"`
	Name        string            `json:"name"`
	Version     int               `json:"version"`
	Payload     json.RawMessage   `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
