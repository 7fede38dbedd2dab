// Package authtest runs an in-process fake of a NextAuth.js credentials
// provider: CSRF endpoint, credentials callback, session introspection,
// sign-out, plus a few session-protected admin endpoints. Tests drive the
// client against it and inspect what the server saw.
package authtest

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

const (
	CSRFCookie    = "next-auth.csrf-token"
	SessionCookie = "next-auth.session-token"
	// UserCookiePrefix prefixes a per-user marker cookie set on login, so
	// tests can tell whose cookies a client carries.
	UserCookiePrefix = "climate.user-"

	RoleSuperAdmin   = "super_admin"
	RoleCompanyAdmin = "company_admin"
	RoleEmployee     = "employee"
)

// Knobs switch the fake into failure modes. Zero value is a well-behaved server.
type Knobs struct {
	CSRFStatus        int           // csrf endpoint answers with this status
	CallbackStatus    int           // credentials callback answers with this status
	JSONCallback      bool          // successful callback answers 200 {"url"} instead of 302
	ErrorRedirect     bool          // bad credentials redirect to the error page instead of 401
	StaleCSRF         bool          // every submitted csrf token counts as already used
	SkipSessionCookie bool          // callback succeeds without issuing a session
	NullSession       bool          // anonymous introspection answers null instead of {}
	SignOutStatus     int           // sign-out answers with this status
	SlowDelay         time.Duration // how long /slow stalls, 2s by default
}

type Request struct {
	Method  string
	Path    string
	Cookies []string
}

type Server struct {
	*httptest.Server

	users    *userRepo
	sessions *sessionManager

	mu        sync.Mutex
	knobs     Knobs
	requests  []Request
	csrf      map[string]bool // token -> consumed
	companies []Company
}

func New() *Server {
	s := &Server{
		users:     newUserRepo(),
		sessions:  newSessionManager(time.Hour),
		csrf:      map[string]bool{},
		companies: seedCompanies(),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recordRequests)

	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/csrf", s.CSRF).Methods(http.MethodGet)
	auth.HandleFunc("/callback/credentials", s.CallbackCredentials).Methods(http.MethodPost)
	auth.HandleFunc("/session", s.Session).Methods(http.MethodGet)
	auth.HandleFunc("/signout", s.SignOut).Methods(http.MethodPost)
	auth.HandleFunc("/signin", page("Sign in")).Methods(http.MethodGet)
	auth.HandleFunc("/error", page("Sign in error")).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireSession)
	api.HandleFunc("/admin/users", requireRole(s.ListUsers, RoleSuperAdmin, RoleCompanyAdmin)).Methods(http.MethodGet)
	api.HandleFunc("/admin/companies", requireRole(s.ListCompanies, RoleSuperAdmin)).Methods(http.MethodGet)
	api.HandleFunc("/admin/companies", requireRole(s.CreateCompany, RoleSuperAdmin)).Methods(http.MethodPost)
	api.HandleFunc("/admin/departments", requireRole(s.ListDepartments, RoleSuperAdmin, RoleCompanyAdmin)).Methods(http.MethodGet)
	api.HandleFunc("/dashboard/company-admin", requireRole(s.CompanyAdminDashboard, RoleSuperAdmin, RoleCompanyAdmin)).Methods(http.MethodGet)

	r.HandleFunc("/", page("Home")).Methods(http.MethodGet)
	r.HandleFunc("/dashboard", page("Dashboard")).Methods(http.MethodGet)
	r.HandleFunc("/slow", s.Slow)

	return r
}

// AddUser registers a user that can log in with password.
func (s *Server) AddUser(u User, password string) error {
	return s.users.Add(u, password)
}

func (s *Server) SetKnobs(k Knobs) {
	s.mu.Lock()
	s.knobs = k
	s.mu.Unlock()
}

func (s *Server) getKnobs() Knobs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.knobs
}

// Requests returns a copy of every request seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Hits counts requests for method and path.
func (s *Server) Hits(method, path string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// LastRequest returns the latest request for method and path.
func (s *Server) LastRequest(method, path string) (Request, bool) {
	reqs := s.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Method == method && reqs[i].Path == path {
			return reqs[i], true
		}
	}
	return Request{}, false
}

func (s *Server) ResetRequests() {
	s.mu.Lock()
	s.requests = nil
	s.mu.Unlock()
}
