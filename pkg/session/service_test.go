package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amiskov/csrf-session-client/pkg/authtest"
	"github.com/amiskov/csrf-session-client/pkg/csrf"
	"github.com/amiskov/csrf-session-client/pkg/session"
	"github.com/amiskov/csrf-session-client/pkg/transport"
)

const (
	adminEmail       = "admin@climate.test"
	adminPassword    = "kanish@7.7"
	employeeEmail    = "employee@climate.test"
	employeePassword = "StrongPass1!"
)

var (
	admin    = session.Credentials{Email: adminEmail, Password: adminPassword}
	employee = session.Credentials{Email: employeeEmail, Password: employeePassword}
)

type testFixture struct {
	srv  *authtest.Server
	auth *session.Authenticator
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	srv := authtest.New()
	t.Cleanup(srv.Close)
	require.NoError(t, srv.AddUser(authtest.User{ID: "u1", Email: adminEmail, Name: "Kanish", Role: authtest.RoleSuperAdmin}, adminPassword))
	require.NoError(t, srv.AddUser(authtest.User{ID: "u2", Email: employeeEmail, Name: "Erin", Role: authtest.RoleEmployee}, employeePassword))

	c, err := transport.New(srv.URL, 2*time.Second)
	require.NoError(t, err)
	ep := session.DefaultEndpoints()

	return &testFixture{
		srv:  srv,
		auth: session.NewAuthenticator(c, csrf.NewProvider(c, ep.CSRF), ep),
	}
}

func TestLoginSuccess(t *testing.T) {
	f := setupTestFixture(t)
	require.Equal(t, session.Anonymous, f.auth.State())

	res := f.auth.Login(context.Background(), admin)

	require.True(t, res.Success, res.FailureReason)
	require.NotNil(t, res.Session)
	assert.Empty(t, res.FailureReason)
	assert.NoError(t, res.Err)
	assert.Equal(t, adminEmail, res.Session.User.Email)
	assert.Equal(t, authtest.RoleSuperAdmin, res.Session.User.Role)
	assert.Equal(t, "u1", res.Session.User.ID)
	assert.Equal(t, "Kanish", res.Session.User.Name)
	assert.NotEmpty(t, res.Session.Expires)

	assert.Equal(t, session.Authenticated, f.auth.State())
	cur := f.auth.CurrentSession()
	require.NotNil(t, cur)
	assert.Equal(t, adminEmail, cur.User.Email)
	assert.Equal(t, 1, f.srv.Hits(http.MethodGet, "/api/auth/session"))
}

func TestLoginAcceptsJSONCallback(t *testing.T) {
	f := setupTestFixture(t)
	f.srv.SetKnobs(authtest.Knobs{JSONCallback: true})

	res := f.auth.Login(context.Background(), employee)
	require.True(t, res.Success, res.FailureReason)
	assert.Equal(t, employeeEmail, res.Session.User.Email)
}

func TestLoginFailures(t *testing.T) {
	cases := []struct {
		name         string
		knobs        authtest.Knobs
		creds        session.Credentials
		want         error
		kind         string
		introspected bool
	}{
		{
			name:  "wrong password is rejected with status",
			creds: session.Credentials{Email: adminEmail, Password: "nope"},
			want:  session.ErrHandshakeRejected,
			kind:  session.KindHandshakeRejected,
		},
		{
			name:  "unknown user",
			creds: session.Credentials{Email: "ghost@climate.test", Password: "ghost-pass"},
			want:  session.ErrHandshakeRejected,
			kind:  session.KindHandshakeRejected,
		},
		{
			name:  "redirect to the error page",
			knobs: authtest.Knobs{ErrorRedirect: true},
			creds: session.Credentials{Email: adminEmail, Password: "nope"},
			want:  session.ErrHandshakeRejected,
			kind:  session.KindHandshakeRejected,
		},
		{
			name:  "server error on callback",
			knobs: authtest.Knobs{CallbackStatus: http.StatusInternalServerError},
			creds: admin,
			want:  session.ErrHandshakeRejected,
			kind:  session.KindHandshakeRejected,
		},
		{
			name:  "stale csrf token",
			knobs: authtest.Knobs{StaleCSRF: true},
			creds: admin,
			want:  session.ErrHandshakeRejected,
			kind:  session.KindHandshakeRejected,
		},
		{
			name:  "csrf endpoint down",
			knobs: authtest.Knobs{CSRFStatus: http.StatusServiceUnavailable},
			creds: admin,
			want:  csrf.ErrTokenUnavailable,
			kind:  session.KindTokenUnavailable,
		},
		{
			name:         "redirect without session",
			knobs:        authtest.Knobs{SkipSessionCookie: true},
			creds:        admin,
			want:         session.ErrSessionNotConfirmed,
			kind:         session.KindSessionNotConfirmed,
			introspected: true,
		},
		{
			name:         "null session body",
			knobs:        authtest.Knobs{SkipSessionCookie: true, NullSession: true},
			creds:        admin,
			want:         session.ErrSessionNotConfirmed,
			kind:         session.KindSessionNotConfirmed,
			introspected: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupTestFixture(t)
			f.srv.SetKnobs(tc.knobs)

			res := f.auth.Login(context.Background(), tc.creds)

			require.False(t, res.Success)
			assert.Nil(t, res.Session)
			assert.NotEmpty(t, res.FailureReason)
			assert.ErrorIs(t, res.Err, tc.want)
			assert.Equal(t, tc.kind, session.Kind(res.Err))
			assert.NotContains(t, res.FailureReason, tc.creds.Password)

			assert.Equal(t, session.Anonymous, f.auth.State())
			assert.Nil(t, f.auth.CurrentSession())
			hits := f.srv.Hits(http.MethodGet, "/api/auth/session")
			if tc.introspected {
				assert.Equal(t, 1, hits)
			} else {
				assert.Zero(t, hits)
			}
		})
	}
}

func TestLoginRejectedReasonCarriesStatus(t *testing.T) {
	f := setupTestFixture(t)

	res := f.auth.Login(context.Background(), session.Credentials{Email: adminEmail, Password: "wrong"})

	require.False(t, res.Success)
	assert.Contains(t, res.FailureReason, "401")
	assert.Contains(t, res.FailureReason, "CredentialsSignin")
}

func TestFailedLoginDropsPreviousSession(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.True(t, f.auth.Login(ctx, admin).Success)
	res := f.auth.Login(ctx, session.Credentials{Email: adminEmail, Password: "wrong"})

	require.False(t, res.Success)
	assert.Equal(t, session.Anonymous, f.auth.State())
	assert.Nil(t, f.auth.CurrentSession())

	_, err := f.auth.WhoAmI(ctx)
	assert.ErrorIs(t, err, session.ErrSessionNotConfirmed)
}

func TestReloginReplacesCookies(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.True(t, f.auth.Login(ctx, admin).Success)
	res := f.auth.Login(ctx, employee)
	require.True(t, res.Success, res.FailureReason)
	assert.Equal(t, employeeEmail, f.auth.CurrentSession().User.Email)

	who, err := f.auth.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, employeeEmail, who.User.Email)

	last, ok := f.srv.LastRequest(http.MethodGet, "/api/auth/session")
	require.True(t, ok)
	assert.Contains(t, last.Cookies, authtest.UserCookiePrefix+"u2")
	assert.NotContains(t, last.Cookies, authtest.UserCookiePrefix+"u1")
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.True(t, f.auth.Login(ctx, admin).Success)

	assert.True(t, f.auth.Logout(ctx))
	assert.Equal(t, session.Anonymous, f.auth.State())
	assert.Nil(t, f.auth.CurrentSession())

	assert.True(t, f.auth.Logout(ctx), "second logout must not fail")
	assert.Equal(t, session.Anonymous, f.auth.State())
	assert.Equal(t, 2, f.srv.Hits(http.MethodPost, "/api/auth/signout"))

	_, err := f.auth.WhoAmI(ctx)
	assert.ErrorIs(t, err, session.ErrSessionNotConfirmed)
}

func TestLogoutAlwaysDropsLocalSession(t *testing.T) {
	cases := []struct {
		name  string
		knobs authtest.Knobs
	}{
		{name: "sign-out error", knobs: authtest.Knobs{SignOutStatus: http.StatusInternalServerError}},
		{name: "csrf down", knobs: authtest.Knobs{CSRFStatus: http.StatusBadGateway}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setupTestFixture(t)
			ctx := context.Background()
			require.True(t, f.auth.Login(ctx, admin).Success)

			f.srv.SetKnobs(tc.knobs)
			assert.False(t, f.auth.Logout(ctx))
			assert.Equal(t, session.Anonymous, f.auth.State())
			assert.Nil(t, f.auth.CurrentSession())
		})
	}
}

func TestCurrentSessionIsACopy(t *testing.T) {
	f := setupTestFixture(t)
	require.True(t, f.auth.Login(context.Background(), admin).Success)

	cur := f.auth.CurrentSession()
	cur.User.Email = "changed@climate.test"
	cur.User.Attributes["role"] = "root"

	again := f.auth.CurrentSession()
	assert.Equal(t, adminEmail, again.User.Email)
	assert.Equal(t, authtest.RoleSuperAdmin, again.User.Attributes["role"])
}

// TestLoginWireContract pins the exact requests of the handshake against a
// hand-written stub.
func TestLoginWireContract(t *testing.T) {
	var sessionCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"csrfToken":"abc123"}`))
	})
	mux.HandleFunc("/api/auth/callback/credentials", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "a@b.com", r.PostForm.Get("email"))
		assert.Equal(t, "pw", r.PostForm.Get("password"))
		assert.Equal(t, "abc123", r.PostForm.Get("csrfToken"))
		assert.Equal(t, "true", r.PostForm.Get("json"))
		assert.True(t, strings.HasSuffix(r.PostForm.Get("callbackUrl"), "/dashboard"))
		http.SetCookie(w, &http.Cookie{Name: "next-auth.session-token", Value: "tok", Path: "/"})
		w.Header().Set("Location", "/dashboard")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/api/auth/session", func(w http.ResponseWriter, r *http.Request) {
		sessionCalls.Add(1)
		if c, err := r.Cookie("next-auth.session-token"); assert.NoError(t, err) {
			assert.Equal(t, "tok", c.Value)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"email":"a@b.com","role":"employee"}}`))
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		t.Error("handshake must not follow the redirect")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := transport.New(srv.URL, time.Second)
	require.NoError(t, err)
	ep := session.DefaultEndpoints()
	a := session.NewAuthenticator(c, csrf.NewProvider(c, ep.CSRF), ep)

	res := a.Login(context.Background(), session.Credentials{Email: "a@b.com", Password: "pw"})

	require.True(t, res.Success, res.FailureReason)
	assert.Equal(t, "a@b.com", res.Session.User.Email)
	assert.Equal(t, "employee", res.Session.User.Role)
	assert.EqualValues(t, 1, sessionCalls.Load())
}

func TestLoginUnauthorizedSkipsIntrospection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"csrfToken":"abc123"}`))
	})
	mux.HandleFunc("/api/auth/callback/credentials", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(strings.Repeat("x", 500)))
	})
	mux.HandleFunc("/api/auth/session", func(w http.ResponseWriter, r *http.Request) {
		t.Error("introspection must not be called after a rejected handshake")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := transport.New(srv.URL, time.Second)
	require.NoError(t, err)
	ep := session.DefaultEndpoints()
	a := session.NewAuthenticator(c, csrf.NewProvider(c, ep.CSRF), ep)

	res := a.Login(context.Background(), session.Credentials{Email: "a@b.com", Password: "pw"})

	require.False(t, res.Success)
	assert.Contains(t, res.FailureReason, "401")
	assert.Less(t, len(res.FailureReason), 300, "body must be truncated")
}

func stall(w http.ResponseWriter, r *http.Request) {
	select {
	case <-time.After(2 * time.Second):
	case <-r.Context().Done():
	}
}

func hangUp(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return
	}
	conn, _, err := hj.Hijack()
	if err == nil {
		_ = conn.Close()
	}
}

func TestLoginNetworkFailures(t *testing.T) {
	ok := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "next-auth.session-token", Value: "tok", Path: "/"})
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}
	callbackOK := func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "next-auth.session-token", Value: "tok", Path: "/"})
		w.Header().Set("Location", "/dashboard")
		w.WriteHeader(http.StatusFound)
	}
	sessionOK := ok(`{"user":{"email":"a@b.com","role":"employee"}}`)

	cases := []struct {
		name     string
		callback http.HandlerFunc
		session  http.HandlerFunc
		wantKind string
	}{
		{"callback times out", stall, sessionOK, session.KindTimeout},
		{"callback hangs up", hangUp, sessionOK, session.KindTransportError},
		{"introspection times out", callbackOK, stall, session.KindTimeout},
		{"introspection hangs up", callbackOK, hangUp, session.KindTransportError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/api/auth/csrf", ok(`{"csrfToken":"abc123"}`))
			mux.HandleFunc("/api/auth/callback/credentials", tc.callback)
			mux.HandleFunc("/api/auth/session", tc.session)
			srv := httptest.NewServer(mux)
			t.Cleanup(srv.Close)

			c, err := transport.New(srv.URL, 200*time.Millisecond)
			require.NoError(t, err)
			a := session.NewAuthenticator(c, csrf.NewProvider(c, ""), session.Endpoints{})

			res := a.Login(context.Background(), session.Credentials{Email: "a@b.com", Password: "pw"})

			require.False(t, res.Success)
			assert.Equal(t, tc.wantKind, session.Kind(res.Err), res.FailureReason)
			assert.NotEmpty(t, res.FailureReason)
			assert.Nil(t, res.Session)
			assert.Equal(t, session.Anonymous, a.State())
			assert.Nil(t, a.CurrentSession())
		})
	}
}

func TestLoginTokenEndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := transport.New(addr, time.Second)
	require.NoError(t, err)
	a := session.NewAuthenticator(c, csrf.NewProvider(c, ""), session.Endpoints{})

	res := a.Login(context.Background(), admin)

	require.False(t, res.Success)
	assert.Equal(t, session.KindTokenUnavailable, session.Kind(res.Err))
	assert.ErrorIs(t, res.Err, transport.ErrTransport)
	assert.Equal(t, session.Anonymous, a.State())
	assert.Nil(t, a.CurrentSession())
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{csrf.ErrTokenUnavailable, session.KindTokenUnavailable},
		{session.ErrHandshakeRejected, session.KindHandshakeRejected},
		{session.ErrSessionNotConfirmed, session.KindSessionNotConfirmed},
		{transport.ErrTimeout, session.KindTimeout},
		{transport.ErrTransport, session.KindTransportError},
		{context.Canceled, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, session.Kind(tc.err))
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "anonymous", session.Anonymous.String())
	assert.Equal(t, "authenticating", session.Authenticating.String())
	assert.Equal(t, "authenticated", session.Authenticated.String())
	assert.Equal(t, "state(7)", session.State(7).String())
}

func TestCredentialsStringHidesPassword(t *testing.T) {
	assert.Equal(t, "a@b.com:***", session.Credentials{Email: "a@b.com", Password: "pw"}.String())
}
