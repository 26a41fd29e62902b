package domain

import (
	"sort"
	"time"
)

const (
	UserStatusActive    = "active"
	UserStatusInactive  = "inactive"
	UserStatusSuspended = "suspended"
)

// DefaultMaxRefreshTokens caps the live refresh tokens kept per user.
const DefaultMaxRefreshTokens = 5

// Profile holds free-form profile fields captured on registration.
type Profile struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// User represents an authenticated identity bound to exactly one tenant.
type User struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	Email             string         `json:"email"`
	PasswordHash      string         `json:"-"`
	Role              string         `json:"role"`
	CustomRoles       []RoleRef      `json:"custom_roles,omitempty"`
	Status            string         `json:"status"`
	EmailVerified     bool           `json:"email_verified"`
	LastLoginAt       *time.Time     `json:"last_login_at,omitempty"`
	Profile           Profile        `json:"profile"`
	OAuthProvider     string         `json:"oauth_provider,omitempty"`
	OAuthSubject      string         `json:"-"`
	RefreshTokens     []RefreshToken `json:"-"`
	PasswordReset     *OneTimeToken  `json:"-"`
	EmailVerification *OneTimeToken  `json:"-"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}

// Identity returns the principal carried by tokens issued for u.
func (u *User) Identity() Identity {
	if u == nil {
		return Identity{}
	}
	return Identity{UserID: u.ID, TenantID: u.TenantID, Role: u.Role}
}

// AddRefreshToken purges expired records, appends tok and evicts the oldest
// records beyond max.
func (u *User) AddRefreshToken(tok RefreshToken, max int, now time.Time) {
	if max <= 0 {
		max = DefaultMaxRefreshTokens
	}
	u.PurgeExpiredRefreshTokens(now)
	u.RefreshTokens = append(u.RefreshTokens, tok)
	sort.SliceStable(u.RefreshTokens, func(i, j int) bool {
		return u.RefreshTokens[i].CreatedAt.Before(u.RefreshTokens[j].CreatedAt)
	})
	if over := len(u.RefreshTokens) - max; over > 0 {
		u.RefreshTokens = append([]RefreshToken(nil), u.RefreshTokens[over:]...)
	}
}

// PurgeExpiredRefreshTokens drops records whose expiry is not after now.
func (u *User) PurgeExpiredRefreshTokens(now time.Time) int {
	kept := u.RefreshTokens[:0]
	removed := 0
	for _, tok := range u.RefreshTokens {
		if tok.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, tok)
	}
	u.RefreshTokens = kept
	return removed
}

// RemoveRefreshToken removes value from the list; absent values are ignored.
func (u *User) RemoveRefreshToken(value string) bool {
	for i, tok := range u.RefreshTokens {
		if tok.Token == value {
			u.RefreshTokens = append(u.RefreshTokens[:i:i], u.RefreshTokens[i+1:]...)
			return true
		}
	}
	return false
}

// HasRefreshToken reports whether value is a live record.
func (u *User) HasRefreshToken(value string, now time.Time) bool {
	for _, tok := range u.RefreshTokens {
		if tok.Token == value && !tok.Expired(now) {
			return true
		}
	}
	return false
}

// HasCustomRole reports whether roleID is assigned to u.
func (u *User) HasCustomRole(roleID string) bool {
	for _, ref := range u.CustomRoles {
		if ref.ID == roleID {
			return true
		}
	}
	return false
}

// PermissionSet returns the union of the built-in role permissions and the
// custom role snapshots held by u.
func (u *User) PermissionSet() map[string]struct{} {
	set := make(map[string]struct{})
	if u == nil {
		return set
	}
	for _, perm := range BuiltInRoles[u.Role] {
		set[perm] = struct{}{}
	}
	for _, ref := range u.CustomRoles {
		for _, perm := range ref.Permissions {
			set[perm] = struct{}{}
		}
	}
	return set
}
