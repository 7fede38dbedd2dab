// Package csrf fetches anti-forgery tokens for the login handshake.
//
// Tokens are treated as single-attempt values: the provider never caches,
// callers fetch one per login or logout attempt.
package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/amiskov/csrf-session-client/pkg/logger"
	"github.com/amiskov/csrf-session-client/pkg/transport"
)

const DefaultPath = "/api/auth/csrf"

var ErrTokenUnavailable = errors.New("csrf: token unavailable")

type iTransport interface {
	Request(ctx context.Context, method, path string, opts transport.Options) (*transport.Response, error)
}

type Provider struct {
	client iTransport
	path   string
}

func NewProvider(c iTransport, path string) *Provider {
	if path == "" {
		path = DefaultPath
	}
	return &Provider{
		client: c,
		path:   path,
	}
}

type tokenBody struct {
	CsrfToken string `json:"csrfToken"`
}

// FetchToken asks the token endpoint for a fresh token. Failures wrap
// ErrTokenUnavailable, and the transport error kind when there is one.
func (p *Provider) FetchToken(ctx context.Context) (string, error) {
	resp, err := p.client.Request(ctx, http.MethodGet, p.path, transport.Options{})
	if err != nil {
		logger.Log(ctx).Errorf("csrf: failed requesting token, %v", err)
		return ``, fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	if !resp.IsSuccess() {
		logger.Log(ctx).Errorf("csrf: token endpoint answered %d", resp.StatusCode)
		return ``, fmt.Errorf("%w: status %d", ErrTokenUnavailable, resp.StatusCode)
	}

	body := tokenBody{}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		logger.Log(ctx).Errorf("csrf: failed parsing token response, %v", err)
		return ``, fmt.Errorf("%w: bad json, %v", ErrTokenUnavailable, err)
	}
	if body.CsrfToken == "" {
		return ``, fmt.Errorf("%w: no csrfToken field in %q", ErrTokenUnavailable, resp.Snippet(200))
	}
	return body.CsrfToken, nil
}
