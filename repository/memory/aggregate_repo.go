package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository"
)

type aggregateRepository struct {
	store *Store
}

func (r *aggregateRepository) Get(ctx context.Context, scope tenancy.Scope, id string) (*domain.Aggregate, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	entity, ok := r.store.aggregates[id]
	if !ok || !scope.Owns(entity.TenantID) {
		return nil, domain.ErrAggregateNotFound
	}
	return cloneAggregate(entity), nil
}

func (r *aggregateRepository) List(ctx context.Context, query tenancy.Scoped[repository.AggregateFilter]) ([]domain.Aggregate, error) {
	if err := query.Scope.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	r.store.touch()

	filter := query.Filter
	var out []domain.Aggregate
	for _, entity := range r.store.aggregates {
		if !query.Scope.Owns(entity.TenantID) {
			continue
		}
		if filter.Kind != "" && entity.Kind != filter.Kind {
			continue
		}
		if filter.OwnerID != "" && entity.OwnerID != filter.OwnerID {
			continue
		}
		out = append(out, *cloneAggregate(entity))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *aggregateRepository) Save(ctx context.Context, scope tenancy.Scope, aggregate *domain.Aggregate) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if aggregate == nil || aggregate.ID == "" {
		return domain.ErrInvalidPayload
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	now := r.store.now()
	if existing, ok := r.store.aggregates[aggregate.ID]; ok {
		if !scope.Owns(existing.TenantID) {
			return domain.ErrAggregateNotFound
		}
		aggregate.CreatedAt = existing.CreatedAt
	}
	aggregate.TenantID = scope.TenantID()
	aggregate.Touch(now)
	r.store.aggregates[aggregate.ID] = cloneAggregate(aggregate)
	return nil
}

func (r *aggregateRepository) Delete(ctx context.Context, scope tenancy.Scope, id string) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	entity, ok := r.store.aggregates[id]
	if !ok || !scope.Owns(entity.TenantID) {
		return domain.ErrAggregateNotFound
	}
	delete(r.store.aggregates, id)
	return nil
}

func (r *aggregateRepository) AppendEvent(ctx context.Context, scope tenancy.Scope, event domain.Event) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.touch()

	entity, ok := r.store.aggregates[event.AggregateID]
	if !ok || !scope.Owns(entity.TenantID) {
		return domain.ErrAggregateNotFound
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.TenantID = scope.TenantID()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.store.now()
	}
	r.store.events = append(r.store.events, event)
	return nil
}
