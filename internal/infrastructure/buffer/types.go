package buffer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	KindEmail = "email"

	defaultPriority = 3
)

// Item is one pending outbox delivery.
type Item struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data"`
	Priority  int             `json:"priority"`
	Retries   int             `json:"retries"`
	LastError string          `json:"last_error,omitempty"`
	NotBefore time.Time       `json:"not_before"`
	Timestamp time.Time       `json:"timestamp"`

	bucketKey []byte
}

func (i *Item) normalize() {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Priority <= 0 || i.Priority > 5 {
		i.Priority = defaultPriority
	}
	if i.Timestamp.IsZero() {
		i.Timestamp = time.Now()
	}
}

// Due reports whether the item may be attempted at now.
func (i Item) Due(now time.Time) bool {
	return i.NotBefore.IsZero() || !i.NotBefore.After(now)
}
