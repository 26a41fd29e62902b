package profile

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/tenancy"
	appLogger "github.com/fastygo/tenantauth/pkg/logger"
	"github.com/fastygo/tenantauth/repository"
	"github.com/fastygo/tenantauth/usecase"
)

const serviceCredentials = "credential-store"

type Input struct {
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"max=32"`
}

type UseCase struct {
	users   repository.UserRepository
	guard   *tenancy.Guard
	timeout time.Duration
	logger  *zap.Logger
}

func New(users repository.UserRepository, guard *tenancy.Guard, timeout time.Duration, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if guard == nil {
		guard = tenancy.NewGuard(logger)
	}
	return &UseCase{
		users:   users,
		guard:   guard,
		timeout: timeout,
		logger:  logger,
	}
}

// GetProfile returns the authenticated user.
func (uc *UseCase) GetProfile(ctx context.Context) (*domain.User, error) {
	identity, scope, err := uc.caller(ctx)
	if err != nil {
		return nil, err
	}
	var user *domain.User
	err = usecase.Call(ctx, serviceCredentials, uc.timeout, func(ctx context.Context) error {
		var getErr error
		user, getErr = uc.users.GetByID(ctx, scope, identity.UserID)
		return getErr
	})
	return user, err
}

func (uc *UseCase) UpdateProfile(ctx context.Context, input Input) (*domain.User, error) {
	identity, scope, err := uc.caller(ctx)
	if err != nil {
		return nil, err
	}
	if err := usecase.Validate(input); err != nil {
		return nil, err
	}
	profile := domain.Profile{
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		Phone:     strings.TrimSpace(input.Phone),
	}

	var user *domain.User
	if err := usecase.Call(ctx, serviceCredentials, uc.timeout, func(ctx context.Context) error {
		var updateErr error
		user, updateErr = uc.users.UpdateProfile(ctx, scope, identity.UserID, profile)
		return updateErr
	}); err != nil {
		appLogger.WithIdentity(ctx, uc.logger).Error("profile update failed", zap.Error(err))
		return nil, err
	}
	return user, nil
}

func (uc *UseCase) caller(ctx context.Context) (domain.Identity, tenancy.Scope, error) {
	identity, ok := tenancy.IdentityFrom(ctx)
	if !ok {
		return domain.Identity{}, tenancy.Scope{}, domain.ErrUnauthenticated
	}
	scope, err := uc.guard.Scope(ctx)
	if err != nil {
		return domain.Identity{}, tenancy.Scope{}, err
	}
	return identity, scope, nil
}
