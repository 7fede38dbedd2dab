package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/amiskov/csrf-session-client/pkg/csrf"
	"github.com/amiskov/csrf-session-client/pkg/logger"
	"github.com/amiskov/csrf-session-client/pkg/transport"
)

const (
	formContentType = "application/x-www-form-urlencoded"
	snippetLen      = 200
)

type iTransport interface {
	Request(ctx context.Context, method, path string, opts transport.Options) (*transport.Response, error)
	ResetCookies() error
	BaseURL() string
}

type iTokenProvider interface {
	FetchToken(ctx context.Context) (string, error)
}

// Endpoints are paths relative to the transport's base URL. CallbackTarget
// is where the provider sends the browser after login. Empty fields take
// the NextAuth defaults.
type Endpoints struct {
	CSRF           string
	Callback       string
	Session        string
	SignOut        string
	CallbackTarget string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		CSRF:           csrf.DefaultPath,
		Callback:       "/api/auth/callback/credentials",
		Session:        "/api/auth/session",
		SignOut:        "/api/auth/signout",
		CallbackTarget: "/dashboard",
	}
}

// withDefaults fills every empty path from DefaultEndpoints.
func (ep Endpoints) withDefaults() Endpoints {
	def := DefaultEndpoints()
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&ep.CSRF, def.CSRF)
	fill(&ep.Callback, def.Callback)
	fill(&ep.Session, def.Session)
	fill(&ep.SignOut, def.SignOut)
	fill(&ep.CallbackTarget, def.CallbackTarget)
	return ep
}

// Authenticator drives the login handshake for one logical user. It holds
// at most one session and is not safe for concurrent logins: the last
// Login to finish wins.
type Authenticator struct {
	client  iTransport
	tokens  iTokenProvider
	ep      Endpoints
	state   State
	current *Session
}

func NewAuthenticator(c iTransport, tokens iTokenProvider, ep Endpoints) *Authenticator {
	return &Authenticator{
		client: c,
		tokens: tokens,
		ep:     ep.withDefaults(),
		state:  Anonymous,
	}
}

func (a *Authenticator) State() State {
	return a.state
}

// CurrentSession returns a copy of the local session, nil when anonymous.
func (a *Authenticator) CurrentSession() *Session {
	return a.current.clone()
}

// Login runs the handshake: csrf token, credentials callback, then session
// introspection. The callback status alone never counts as success.
// Any prior session is dropped first, cookies included.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) AuthResult {
	a.state = Authenticating
	a.current = nil
	if err := a.client.ResetCookies(); err != nil {
		return a.fail(ctx, creds, err)
	}

	token, err := a.tokens.FetchToken(ctx)
	if err != nil {
		return a.fail(ctx, creds, fmt.Errorf("session: can't start login, %w", err))
	}

	resp, err := a.client.Request(ctx, http.MethodPost, a.ep.Callback, transport.Options{
		Headers: map[string]string{"Content-Type": formContentType},
		Form: url.Values{
			"email":       {creds.Email},
			"password":    {creds.Password},
			"csrfToken":   {token},
			"callbackUrl": {a.client.BaseURL() + a.ep.CallbackTarget},
			"json":        {"true"},
		},
		NoRedirects: true,
	})
	if err != nil {
		return a.fail(ctx, creds, fmt.Errorf("session: failed submitting credentials, %w", err))
	}
	if err := checkHandshake(resp); err != nil {
		return a.fail(ctx, creds, err)
	}

	sess, err := a.introspect(ctx)
	if err != nil {
		return a.fail(ctx, creds, err)
	}

	a.state = Authenticated
	a.current = sess
	logger.Log(ctx).Infof("session: logged in as %s, role `%s`", sess.User.Email, sess.User.Role)
	return AuthResult{Success: true, Session: sess.clone()}
}

func (a *Authenticator) fail(ctx context.Context, creds Credentials, err error) AuthResult {
	a.drop(ctx)
	logger.Log(ctx).Warnf("session: login for %s failed, %v", creds, err)
	return AuthResult{FailureReason: err.Error(), Err: err}
}

// drop forgets the local session and every cookie behind it.
func (a *Authenticator) drop(ctx context.Context) {
	if err := a.client.ResetCookies(); err != nil {
		logger.Log(ctx).Errorf("session: can't reset cookies, %v", err)
	}
	a.state = Anonymous
	a.current = nil
}

// checkHandshake accepts 2xx and 3xx, unless the provider points at its
// error page or bounced the csrf token.
func checkHandshake(resp *transport.Response) error {
	if !resp.IsSuccess() && !resp.IsRedirect() {
		return fmt.Errorf("%w: status %d: %s", ErrHandshakeRejected, resp.StatusCode, resp.Snippet(snippetLen))
	}

	target := resp.Header.Get("Location")
	if target == "" && resp.IsSuccess() {
		body := struct {
			URL string `json:"url"`
		}{}
		if json.Unmarshal(resp.Body, &body) == nil {
			target = body.URL
		}
	}
	if target == "" {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil
	}
	q := u.Query()
	if code := q.Get("error"); code != "" {
		return fmt.Errorf("%w: status %d: provider error `%s`", ErrHandshakeRejected, resp.StatusCode, code)
	}
	if q.Get("csrf") == "true" {
		return fmt.Errorf("%w: status %d: csrf token refused", ErrHandshakeRejected, resp.StatusCode)
	}
	return nil
}

func (a *Authenticator) introspect(ctx context.Context) (*Session, error) {
	resp, err := a.client.Request(ctx, http.MethodGet, a.ep.Session, transport.Options{})
	if err != nil {
		return nil, fmt.Errorf("session: failed reading session, %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: status %d: %s", ErrSessionNotConfirmed, resp.StatusCode, resp.Snippet(snippetLen))
	}

	body := introspection{}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("%w: bad json, %v", ErrSessionNotConfirmed, err)
	}
	if len(body.User) == 0 {
		return nil, fmt.Errorf("%w: no user in %q", ErrSessionNotConfirmed, resp.Snippet(snippetLen))
	}
	return body.session(), nil
}

// WhoAmI asks the server who the session belongs to. It does not touch the
// local state.
func (a *Authenticator) WhoAmI(ctx context.Context) (*Session, error) {
	return a.introspect(ctx)
}

// Logout signs out on the server and always leaves the authenticator
// anonymous. It reports whether the server accepted the sign-out; errors
// are only logged.
func (a *Authenticator) Logout(ctx context.Context) bool {
	defer a.drop(ctx)

	token, err := a.tokens.FetchToken(ctx)
	if err != nil {
		logger.Log(ctx).Warnf("session: logout without server sign-out, %v", err)
		return false
	}

	resp, err := a.client.Request(ctx, http.MethodPost, a.ep.SignOut, transport.Options{
		Headers:     map[string]string{"Content-Type": formContentType},
		Form:        url.Values{"csrfToken": {token}},
		NoRedirects: true,
	})
	if err != nil {
		logger.Log(ctx).Warnf("session: sign-out request failed, %v", err)
		return false
	}
	if !resp.IsSuccess() && !resp.IsRedirect() {
		logger.Log(ctx).Warnf("session: sign-out answered %d: %s", resp.StatusCode, resp.Snippet(snippetLen))
		return false
	}

	logger.Log(ctx).Infof("session: logged out")
	return true
}
