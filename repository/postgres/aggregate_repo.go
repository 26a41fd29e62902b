package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/repository"
)

type aggregateRepository struct {
	pool *pgxpool.Pool
}

// NewAggregateRepository creates a Postgres-backed AggregateRepository implementation.
func NewAggregateRepository(pool *pgxpool.Pool) repository.AggregateRepository {
	return &aggregateRepository{pool: pool}
}

func (r *aggregateRepository) Get(ctx context.Context, scope tenancy.Scope, id string) (*domain.Aggregate, error) {
	if err := scope.Err(); err != nil {
		return nil, err
	}
	const query = `
	SELECT id, kind, tenant_id, owner_id, version, payload, labels, created_at, updated_at
	FROM aggregates
	WHERE tenant_id = $1 AND id = $2
	`
	row := r.pool.QueryRow(ctx, query, scope.TenantID(), id)
	return scanAggregate(row)
}

func (r *aggregateRepository) List(ctx context.Context, q tenancy.Scoped[repository.AggregateFilter]) ([]domain.Aggregate, error) {
	if err := q.Scope.Err(); err != nil {
		return nil, err
	}
	const query = `
	SELECT id, kind, tenant_id, owner_id, version, payload, labels, created_at, updated_at
	FROM aggregates
	WHERE tenant_id = $1
	  AND ($2 = '' OR kind = $2)
	  AND ($3 = '' OR owner_id = $3)
	ORDER BY updated_at DESC
	LIMIT $4 OFFSET $5
	`
	filter := q.Filter
	rows, err := r.pool.Query(ctx, query, q.Scope.TenantID(), filter.Kind, filter.OwnerID, clampLimit(filter.Limit), filter.Offset)
	if err != nil {
		return nil, storeError("aggregates.list", err)
	}
	defer rows.Close()

	var aggregates []domain.Aggregate
	for rows.Next() {
		entity, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, *entity)
	}
	return aggregates, storeError("aggregates.list", rows.Err())
}

// Save upserts aggregate. The conflict branch only fires for rows already
// owned by scope, so an id taken by another tenant yields no row.
func (r *aggregateRepository) Save(ctx context.Context, scope tenancy.Scope, aggregate *domain.Aggregate) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if aggregate == nil || aggregate.ID == "" {
		return domain.ErrInvalidPayload
	}

	const query = `
	INSERT INTO aggregates (id, kind, tenant_id, owner_id, version, payload, labels, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), NOW())
	ON CONFLICT (id) DO UPDATE
	SET kind = EXCLUDED.kind,
		owner_id = EXCLUDED.owner_id,
		version = EXCLUDED.version,
		payload = EXCLUDED.payload,
		labels = EXCLUDED.labels,
		updated_at = NOW()
	WHERE aggregates.tenant_id = EXCLUDED.tenant_id
	RETURNING created_at, updated_at
	`

	aggregate.TenantID = scope.TenantID()
	labels := marshalMap(aggregate.Labels)

	if err := r.pool.QueryRow(ctx, query,
		aggregate.ID,
		aggregate.Kind,
		aggregate.TenantID,
		aggregate.OwnerID,
		aggregate.Version,
		[]byte(aggregate.Payload),
		labels,
		nullTime(aggregate.CreatedAt),
	).Scan(&aggregate.CreatedAt, &aggregate.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAggregateNotFound
		}
		return storeError("aggregates.upsert", err)
	}

	return nil
}

func (r *aggregateRepository) Delete(ctx context.Context, scope tenancy.Scope, id string) error {
	if err := scope.Err(); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM aggregates WHERE tenant_id = $1 AND id = $2`, scope.TenantID(), id)
	if err != nil {
		return storeError("aggregates.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAggregateNotFound
	}
	return nil
}

func (r *aggregateRepository) AppendEvent(ctx context.Context, scope tenancy.Scope, event domain.Event) error {
	if err := scope.Err(); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	const query = `
	INSERT INTO aggregate_events (id, tenant_id, aggregate_id, name, version, payload, metadata, created_at)
	SELECT $1, a.tenant_id, a.id, $4, $5, $6, $7, COALESCE($8, NOW())
	FROM aggregates a
	WHERE a.tenant_id = $2 AND a.id = $3
	`

	metadata := marshalMap(event.Metadata)

	tag, err := r.pool.Exec(ctx, query,
		event.ID,
		scope.TenantID(),
		event.AggregateID,
		event.Name,
		event.Version,
		[]byte(event.Payload),
		metadata,
		nullTime(event.CreatedAt),
	)
	if err != nil {
		return storeError("aggregate_events.insert", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAggregateNotFound
	}
	return nil
}

func scanAggregate(row rowScanner) (*domain.Aggregate, error) {
	var entity domain.Aggregate
	var (
		payload []byte
		labels  []byte
	)

	if err := row.Scan(
		&entity.ID,
		&entity.Kind,
		&entity.TenantID,
		&entity.OwnerID,
		&entity.Version,
		&payload,
		&labels,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAggregateNotFound
		}
		return nil, storeError("aggregates.scan", err)
	}

	entity.Payload = make([]byte, len(payload))
	copy(entity.Payload, payload)
	if len(labels) > 0 {
		_ = json.Unmarshal(labels, &entity.Labels)
	}

	return &entity, nil
}
