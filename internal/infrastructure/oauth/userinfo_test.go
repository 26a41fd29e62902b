package oauth

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/fastygo/tenantauth/domain"
)

func newTestProvider(t *testing.T, handler fasthttp.RequestHandler) *UserInfoProvider {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	t.Cleanup(func() { _ = ln.Close() })
	go func() { _ = fasthttp.Serve(ln, handler) }()

	p := NewUserInfoProvider("http://idp.test/userinfo", 0)
	p.client.Dial = func(string) (net.Conn, error) { return ln.Dial() }
	return p
}

func TestExchangeReturnsProfile(t *testing.T) {
	p := newTestProvider(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)) != "Bearer good" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"sub":"g-1","email":"a@x.com","email_verified":true,"given_name":"Ada","family_name":"Lovelace"}`)
	})

	profile, err := p.Exchange(context.Background(), "good")
	require.NoError(t, err)
	require.Equal(t, "g-1", profile.Subject)
	require.Equal(t, "a@x.com", profile.Email)
	require.Equal(t, "Lovelace", profile.Profile.LastName)

	_, err = p.Exchange(context.Background(), "bad")
	require.ErrorIs(t, err, ErrRejected)
	_, err = p.Exchange(context.Background(), "")
	require.ErrorIs(t, err, ErrRejected)
}

func TestUnverifiedEmailIsRefused(t *testing.T) {
	verified := false
	_, err := userInfo{Subject: "s", Email: "a@x.com", EmailVerified: &verified}.profile()
	require.ErrorIs(t, err, ErrRejected)

	profile, err := userInfo{ID: float64(42), Email: "a@x.com"}.profile()
	require.NoError(t, err)
	require.Equal(t, "42", profile.Subject)
}

func TestProviderOutageIsRetryable(t *testing.T) {
	p := newTestProvider(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization)) == "Bearer garbled" {
			ctx.SetBodyString("<html>")
			return
		}
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	})

	_, err := p.Exchange(context.Background(), "good")
	require.NotErrorIs(t, err, ErrRejected)
	var sErr *domain.ServiceError
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, domain.KindServiceFailure, sErr.Kind)
	require.Equal(t, "502", sErr.Code)
	require.Equal(t, domain.ErrCodeUnavailable, domain.CodeOf(err))

	_, err = p.Exchange(context.Background(), "garbled")
	require.Equal(t, domain.ErrCodeUnavailable, domain.CodeOf(err))
}
