package domain

import "time"

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// RefreshToken is a persisted, revocable refresh credential.
type RefreshToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (t RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// OneTimeToken stores the irreversible hash of a password-reset or
// email-verification token. The raw value is never persisted.
type OneTimeToken struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t *OneTimeToken) Valid(hash string, now time.Time) bool {
	return t != nil && t.Hash != "" && t.Hash == hash && t.ExpiresAt.After(now)
}

// TokenPair is the credential bundle returned by login-like flows.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AccessGrant is returned when a refresh token mints a new access token.
type AccessGrant struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
