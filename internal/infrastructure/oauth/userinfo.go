// Package oauth exchanges provider access tokens for user profiles through
// OpenID Connect style userinfo endpoints.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/tenantauth/domain"
)

// ErrRejected is returned when the provider does not accept the token.
var ErrRejected = domain.ErrProviderRejected

const serviceName = "identity_provider"

type userInfo struct {
	Subject       string `json:"sub"`
	ID            any    `json:"id"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	PhoneNumber   string `json:"phone_number"`
}

// UserInfoProvider calls a userinfo endpoint with the provider token as a
// bearer credential.
type UserInfoProvider struct {
	endpoint string
	client   *fasthttp.Client
	timeout  time.Duration
}

func NewUserInfoProvider(endpoint string, timeout time.Duration) *UserInfoProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &UserInfoProvider{
		endpoint: endpoint,
		timeout:  timeout,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
}

func (p *UserInfoProvider) Exchange(ctx context.Context, providerToken string) (domain.ExternalProfile, error) {
	if providerToken == "" {
		return domain.ExternalProfile{}, ErrRejected
	}
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+providerToken)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	if err := p.client.DoTimeout(req, resp, timeout); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
			return domain.ExternalProfile{}, domain.Timeout(serviceName, timeout, err)
		}
		return domain.ExternalProfile{}, p.failure("request", fmt.Errorf("userinfo request: %w", err))
	}
	switch status := resp.StatusCode(); {
	case status >= 500:
		return domain.ExternalProfile{}, p.failure(strconv.Itoa(status), fmt.Errorf("userinfo status %d", status))
	case status != fasthttp.StatusOK:
		return domain.ExternalProfile{}, fmt.Errorf("%w: userinfo status %d", ErrRejected, status)
	}

	var info userInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return domain.ExternalProfile{}, p.failure("decode", fmt.Errorf("decode userinfo: %w", err))
	}
	return info.profile()
}

func (p *UserInfoProvider) failure(code string, err error) error {
	return domain.ServiceFailure(serviceName, code, p.endpoint, err)
}

func (u userInfo) profile() (domain.ExternalProfile, error) {
	subject := u.Subject
	if subject == "" && u.ID != nil {
		subject = fmt.Sprint(u.ID)
	}
	if subject == "" {
		return domain.ExternalProfile{}, fmt.Errorf("%w: userinfo without subject", ErrRejected)
	}
	if u.EmailVerified != nil && !*u.EmailVerified {
		return domain.ExternalProfile{}, fmt.Errorf("%w: provider email is not verified", ErrRejected)
	}
	return domain.ExternalProfile{
		Subject: subject,
		Email:   u.Email,
		Profile: domain.Profile{
			FirstName: u.GivenName,
			LastName:  u.FamilyName,
			Phone:     u.PhoneNumber,
		},
	}, nil
}
