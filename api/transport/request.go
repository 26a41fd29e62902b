package transport

import (
	"encoding/json"

	"github.com/fastygo/tenantauth/domain"
)

// ProfileRequest mirrors domain.Profile on the wire.
type ProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

func (p ProfileRequest) Domain() domain.Profile {
	return domain.Profile{FirstName: p.FirstName, LastName: p.LastName, Phone: p.Phone}
}

// RegisterRequest may name its tenant in the body; the X-Tenant-ID header is
// used otherwise.
type RegisterRequest struct {
	TenantID string         `json:"tenant_id"`
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Profile  ProfileRequest `json:"profile"`
}

type LoginRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type OAuthRequest struct {
	TenantID      string         `json:"tenant_id"`
	ProviderToken string         `json:"provider_token"`
	Profile       ProfileRequest `json:"profile"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type EmailRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type UserRoleRequest struct {
	Role string `json:"role"`
}

type RoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type ProfileUpdateRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type EntityRequest struct {
	Kind    string            `json:"kind"`
	OwnerID string            `json:"owner_id"`
	Payload json.RawMessage   `json:"payload"`
	Labels  map[string]string `json:"labels"`
}

type EventRequest struct {
	Name     string            `json:"name"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata map[string]string `json:"metadata"`
}
