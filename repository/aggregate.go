package repository

import (
	"context"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
)

// AggregateFilter narrows a listing. The tenant predicate is supplied by
// tenancy.ScopeQuery and is never part of the filter.
type AggregateFilter struct {
	Kind    string
	OwnerID string
	Limit   int
	Offset  int
}

type AggregateRepository interface {
	Get(ctx context.Context, scope tenancy.Scope, id string) (*domain.Aggregate, error)
	List(ctx context.Context, query tenancy.Scoped[AggregateFilter]) ([]domain.Aggregate, error)
	// Save inserts or updates an aggregate owned by scope. An id owned by
	// another tenant is reported as ErrAggregateNotFound and left untouched.
	Save(ctx context.Context, scope tenancy.Scope, aggregate *domain.Aggregate) error
	Delete(ctx context.Context, scope tenancy.Scope, id string) error
	AppendEvent(ctx context.Context, scope tenancy.Scope, event domain.Event) error
}
