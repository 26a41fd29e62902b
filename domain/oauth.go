package domain

import "errors"

// ErrProviderRejected marks an identity provider refusing a token or the
// profile behind it. Any other exchange failure is the provider's fault.
var ErrProviderRejected = errors.New("identity provider rejected token")

// ExternalProfile is what an identity provider vouches for after a
// successful token exchange.
type ExternalProfile struct {
	Provider string
	Subject  string
	Email    string
	Profile  Profile
}
