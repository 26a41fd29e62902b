// Package entity serves tenant-scoped aggregates. Every call resolves the
// caller's scope first, so an id that belongs to another tenant behaves as
// if it did not exist.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	appLogger "github.com/fastygo/tenantauth/pkg/logger"
	"github.com/fastygo/tenantauth/repository"
	"github.com/fastygo/tenantauth/usecase"
)

const serviceEntities = "entity-store"

// PermissionChecker authorizes the caller for a permission.
type PermissionChecker interface {
	RequirePermission(ctx context.Context, permission string) error
}

type SaveInput struct {
	ID      string            `json:"id" validate:"omitempty,max=64"`
	Kind    string            `json:"kind" validate:"required,max=64"`
	OwnerID string            `json:"owner_id" validate:"max=64"`
	Payload json.RawMessage   `json:"payload"`
	Labels  map[string]string `json:"labels"`
}

type EventInput struct {
	Name     string            `json:"name" validate:"required,max=128"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata map[string]string `json:"metadata"`
}

type UseCase struct {
	aggregates repository.AggregateRepository
	guard      *tenancy.Guard
	perms      PermissionChecker
	timeout    time.Duration
	logger     *zap.Logger
}

func New(aggregates repository.AggregateRepository, guard *tenancy.Guard, perms PermissionChecker, timeout time.Duration, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = tenancy.NewGuard(logger)
	}
	return &UseCase{
		aggregates: aggregates,
		guard:      guard,
		perms:      perms,
		timeout:    timeout,
		logger:     logger,
	}
}

func (uc *UseCase) Get(ctx context.Context, id string) (*domain.Aggregate, error) {
	scope, err := uc.authorize(ctx, domain.PermEntitiesRead)
	if err != nil {
		return nil, err
	}
	return uc.get(ctx, scope, id)
}

func (uc *UseCase) List(ctx context.Context, filter repository.AggregateFilter) ([]domain.Aggregate, error) {
	if _, err := uc.authorize(ctx, domain.PermEntitiesRead); err != nil {
		return nil, err
	}
	query, err := tenancy.ScopeQuery(ctx, uc.guard, filter)
	if err != nil {
		return nil, err
	}
	var items []domain.Aggregate
	err = usecase.Call(ctx, serviceEntities, uc.timeout, func(ctx context.Context) error {
		var listErr error
		items, listErr = uc.aggregates.List(ctx, query)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Aggregate{}
	}
	return items, nil
}

// Save creates the aggregate or replaces an existing one of the caller's
// tenant, bumping its version.
func (uc *UseCase) Save(ctx context.Context, input SaveInput) (*domain.Aggregate, error) {
	scope, err := uc.authorize(ctx, domain.PermEntitiesWrite)
	if err != nil {
		return nil, err
	}
	input.Kind = strings.TrimSpace(input.Kind)
	if err := usecase.Validate(input); err != nil {
		return nil, err
	}
	if len(input.Payload) > 0 && !json.Valid(input.Payload) {
		return nil, domain.InvalidInput("invalid input", map[string]string{"payload": "must be valid JSON"})
	}

	aggregate := &domain.Aggregate{
		ID:      input.ID,
		Kind:    input.Kind,
		OwnerID: input.OwnerID,
		Payload: input.Payload,
		Labels:  input.Labels,
		Version: 1,
	}
	if aggregate.ID == "" {
		aggregate.ID = uuid.NewString()
	} else {
		existing, err := uc.get(ctx, scope, aggregate.ID)
		switch {
		case err == nil:
			aggregate.Version = existing.Version + 1
		case !errors.Is(err, domain.ErrAggregateNotFound):
			return nil, err
		}
	}
	if aggregate.OwnerID == "" {
		if identity, ok := tenancy.IdentityFrom(ctx); ok {
			aggregate.OwnerID = identity.UserID
		}
	}

	if err := usecase.Call(ctx, serviceEntities, uc.timeout, func(ctx context.Context) error {
		return uc.aggregates.Save(ctx, scope, aggregate)
	}); err != nil {
		if errors.Is(err, domain.ErrAggregateNotFound) {
			appLogger.WithIdentity(ctx, uc.logger).Warn("save rejected for entity of another tenant", zap.String("entity_id", aggregate.ID))
		}
		return nil, err
	}
	return aggregate, nil
}

func (uc *UseCase) Delete(ctx context.Context, id string) error {
	scope, err := uc.authorize(ctx, domain.PermEntitiesDelete)
	if err != nil {
		return err
	}
	return usecase.Call(ctx, serviceEntities, uc.timeout, func(ctx context.Context) error {
		return uc.aggregates.Delete(ctx, scope, id)
	})
}

// AppendEvent records a change against an aggregate of the caller's tenant.
func (uc *UseCase) AppendEvent(ctx context.Context, aggregateID string, input EventInput) (*domain.Event, error) {
	scope, err := uc.authorize(ctx, domain.PermEntitiesWrite)
	if err != nil {
		return nil, err
	}
	if err := usecase.Validate(input); err != nil {
		return nil, err
	}
	aggregate, err := uc.get(ctx, scope, aggregateID)
	if err != nil {
		return nil, err
	}

	event := domain.Event{
		ID:          uuid.NewString(),
		TenantID:    scope.TenantID(),
		AggregateID: aggregate.ID,
		Name:        input.Name,
		Version:     aggregate.Version,
		Payload:     input.Payload,
		Metadata:    input.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := usecase.Call(ctx, serviceEntities, uc.timeout, func(ctx context.Context) error {
		return uc.aggregates.AppendEvent(ctx, scope, event)
	}); err != nil {
		return nil, err
	}
	return &event, nil
}

func (uc *UseCase) authorize(ctx context.Context, permission string) (tenancy.Scope, error) {
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return tenancy.Scope{}, err
	}
	if uc.perms != nil {
		if err := uc.perms.RequirePermission(ctx, permission); err != nil {
			return tenancy.Scope{}, err
		}
	}
	return scope, nil
}

func (uc *UseCase) get(ctx context.Context, scope tenancy.Scope, id string) (*domain.Aggregate, error) {
	var aggregate *domain.Aggregate
	err := usecase.Call(ctx, serviceEntities, uc.timeout, func(ctx context.Context) error {
		var getErr error
		aggregate, getErr = uc.aggregates.Get(ctx, scope, id)
		return getErr
	})
	return aggregate, err
}
