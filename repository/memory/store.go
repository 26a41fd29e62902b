// Package memory provides in-process repository implementations used by the
// memory storage driver and by tests.
package memory

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/repository"
)

// Store holds every entity behind a single lock so multi-entity writes such
// as role propagation stay atomic.
type Store struct {
	mu sync.RWMutex

	now        func() time.Time
	tenants    map[string]domain.Tenant
	users      map[string]*domain.User
	roles      map[string]*domain.Role
	aggregates map[string]*domain.Aggregate
	events     []domain.Event

	accesses atomic.Int64
}

func NewStore() *Store {
	return &Store{
		now:        time.Now,
		tenants:    make(map[string]domain.Tenant),
		users:      make(map[string]*domain.User),
		roles:      make(map[string]*domain.Role),
		aggregates: make(map[string]*domain.Aggregate),
	}
}

// SetClock overrides the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// PutTenant adds or replaces a tenant in the directory.
func (s *Store) PutTenant(tenant domain.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenant.ID] = tenant
}

// Accesses counts calls that reached stored data.
func (s *Store) Accesses() int64 {
	return s.accesses.Load()
}

// Events returns the events appended for tenantID.
func (s *Store) Events(tenantID string) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, event := range s.events {
		if event.TenantID == tenantID {
			out = append(out, event)
		}
	}
	return out
}

func (s *Store) Tenants() repository.TenantRepository {
	return &tenantRepository{store: s}
}

func (s *Store) Users() repository.UserRepository {
	return &userRepository{store: s}
}

func (s *Store) Roles() repository.RoleRepository {
	return &roleRepository{store: s}
}

func (s *Store) Aggregates() repository.AggregateRepository {
	return &aggregateRepository{store: s}
}

func (s *Store) touch() {
	s.accesses.Add(1)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	out := *u
	if u.LastLoginAt != nil {
		at := *u.LastLoginAt
		out.LastLoginAt = &at
	}
	if u.PasswordReset != nil {
		tok := *u.PasswordReset
		out.PasswordReset = &tok
	}
	if u.EmailVerification != nil {
		tok := *u.EmailVerification
		out.EmailVerification = &tok
	}
	out.RefreshTokens = append([]domain.RefreshToken(nil), u.RefreshTokens...)
	out.CustomRoles = make([]domain.RoleRef, 0, len(u.CustomRoles))
	for _, ref := range u.CustomRoles {
		ref.Permissions = append([]string(nil), ref.Permissions...)
		out.CustomRoles = append(out.CustomRoles, ref)
	}
	return &out
}

func cloneRole(r *domain.Role) *domain.Role {
	out := *r
	out.Permissions = append([]string(nil), r.Permissions...)
	return &out
}

func cloneAggregate(a *domain.Aggregate) *domain.Aggregate {
	out := *a
	out.Payload = append([]byte(nil), a.Payload...)
	if a.Labels != nil {
		out.Labels = make(map[string]string, len(a.Labels))
		for k, v := range a.Labels {
			out.Labels[k] = v
		}
	}
	return &out
}
