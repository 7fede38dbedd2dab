package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amiskov/csrf-session-client/pkg/csrf"
	"github.com/amiskov/csrf-session-client/pkg/logger"
	"github.com/amiskov/csrf-session-client/pkg/session"
	"github.com/amiskov/csrf-session-client/pkg/transport"
)

type iTransport interface {
	Request(ctx context.Context, method, path string, opts transport.Options) (*transport.Response, error)
}

type iAuthenticator interface {
	CurrentSession() *session.Session
	WhoAmI(ctx context.Context) (*session.Session, error)
	Logout(ctx context.Context) bool
}

// Client issues requests that carry whatever session the authenticator
// holds. It never logs in on its own and never retries.
type Client struct {
	transport iTransport
	auth      iAuthenticator
}

func New(t iTransport, a iAuthenticator) *Client {
	return &Client{
		transport: t,
		auth:      a,
	}
}

// StatusError is returned by CallJSON for non-2xx answers.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apiclient: %s %s answered %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Call sends the request with the live session cookies, if any. An
// anonymous call goes out as is; interpreting a 401 is up to the caller.
func (c *Client) Call(ctx context.Context, method, path string, opts transport.Options) (*transport.Response, error) {
	if c.auth != nil && c.auth.CurrentSession() == nil {
		logger.Log(ctx).Debugf("apiclient: %s %s without a session", method, path)
	}
	return c.transport.Request(ctx, method, path, opts)
}

// CallJSON is Call plus decoding a 2xx JSON body into out, when out is not nil.
func (c *Client) CallJSON(ctx context.Context, method, path string, opts transport.Options, out interface{}) (*transport.Response, error) {
	resp, err := c.Call(ctx, method, path, opts)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return resp, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: resp.Snippet(200)}
	}
	if out == nil {
		return resp, nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return resp, fmt.Errorf("apiclient: failed parsing %s %s response, %w", method, path, err)
	}
	return resp, nil
}

func (c *Client) Session() *session.Session {
	if c.auth == nil {
		return nil
	}
	return c.auth.CurrentSession()
}

// WhoAmI asks the server who the current cookies belong to.
func (c *Client) WhoAmI(ctx context.Context) (*session.Session, error) {
	if c.auth == nil {
		return nil, session.ErrSessionNotConfirmed
	}
	return c.auth.WhoAmI(ctx)
}

func (c *Client) Logout(ctx context.Context) bool {
	if c.auth == nil {
		return false
	}
	return c.auth.Logout(ctx)
}

type Options struct {
	BaseURL   string
	Timeout   time.Duration
	Endpoints session.Endpoints
}

// Connect wires transport, csrf provider and authenticator for one user and
// logs in. Empty Endpoints fields mean the NextAuth defaults.
func Connect(ctx context.Context, opts Options, creds session.Credentials) (*Client, error) {
	t, err := transport.New(opts.BaseURL, opts.Timeout)
	if err != nil {
		return nil, err
	}
	ep := opts.Endpoints
	auth := session.NewAuthenticator(t, csrf.NewProvider(t, ep.CSRF), ep)
	res := auth.Login(ctx, creds)
	if !res.Success {
		return nil, fmt.Errorf("apiclient: can't log in as %s, %w", creds.Email, res.Err)
	}
	return New(t, auth), nil
}
