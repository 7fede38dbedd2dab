package authtest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Company struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Industry string `json:"industry"`
}

type Department struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"companyId"`
}

func seedCompanies() []Company {
	return []Company{
		{ID: "c1", Name: "Acme", Domain: "acme.test", Industry: "Manufacturing"},
		{ID: "c2", Name: "Globex", Domain: "globex.test", Industry: "Energy"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func page(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><title>%s</title></html>", title)
	}
}

func csrfCookieValue(token string) string {
	sum := sha256.Sum256([]byte(token))
	return token + "|" + hex.EncodeToString(sum[:])
}

// CSRF issues a fresh token in both the JSON body and the csrf cookie.
func (s *Server) CSRF(w http.ResponseWriter, r *http.Request) {
	if k := s.getKnobs(); k.CSRFStatus != 0 {
		writeJSON(w, k.CSRFStatus, map[string]string{"error": http.StatusText(k.CSRFStatus)})
		return
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.mu.Lock()
	s.csrf[token] = false
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    csrfCookieValue(token),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

// consumeCSRF accepts a form token only once, and only together with the
// matching csrf cookie.
func (s *Server) consumeCSRF(r *http.Request, k Knobs) bool {
	token := r.PostFormValue("csrfToken")
	c, err := r.Cookie(CSRFCookie)
	if token == "" || err != nil || c.Value != csrfCookieValue(token) || k.StaleCSRF {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	consumed, issued := s.csrf[token]
	if !issued || consumed {
		return false
	}
	s.csrf[token] = true
	return true
}

func (s *Server) CallbackCredentials(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad form"})
		return
	}
	k := s.getKnobs()
	if k.CallbackStatus != 0 {
		writeJSON(w, k.CallbackStatus, map[string]string{"error": http.StatusText(k.CallbackStatus)})
		return
	}
	if !s.consumeCSRF(r, k) {
		http.Redirect(w, r, s.URL+"/api/auth/signin?csrf=true", http.StatusFound)
		return
	}

	u, err := s.users.GetByEmailAndPass(r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		errURL := s.URL + "/api/auth/error?error=CredentialsSignin&provider=credentials"
		if k.ErrorRedirect {
			http.Redirect(w, r, errURL, http.StatusFound)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"url": errURL})
		return
	}

	if !k.SkipSessionCookie {
		token, exp, err := s.sessions.CreateToken(u)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    token,
			Path:     "/",
			Expires:  exp,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.SetCookie(w, &http.Cookie{Name: UserCookiePrefix + u.ID, Value: "1", Path: "/"})
	}

	callback := r.PostFormValue("callbackUrl")
	if callback == "" {
		callback = s.URL + "/"
	}
	if k.JSONCallback {
		writeJSON(w, http.StatusOK, map[string]string{"url": callback})
		return
	}
	http.Redirect(w, r, callback, http.StatusFound)
}

func (s *Server) sessionUser(r *http.Request) (*User, time.Time, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, time.Time{}, errNoAuth
	}
	return s.sessions.UserFromToken(c.Value)
}

// Session answers {"user", "expires"} for a live session, {} or null otherwise.
func (s *Server) Session(w http.ResponseWriter, r *http.Request) {
	u, exp, err := s.sessionUser(r)
	if err != nil {
		if s.getKnobs().NullSession {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    u,
		"expires": exp.UTC().Format(time.RFC3339),
	})
}

func (s *Server) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad form"})
		return
	}
	k := s.getKnobs()
	if k.SignOutStatus != 0 {
		writeJSON(w, k.SignOutStatus, map[string]string{"error": http.StatusText(k.SignOutStatus)})
		return
	}
	if !s.consumeCSRF(r, k) {
		http.Redirect(w, r, s.URL+"/api/auth/signout?csrf=true", http.StatusFound)
		return
	}

	if c, err := r.Cookie(SessionCookie); err == nil {
		s.sessions.Revoke(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, s.URL+"/", http.StatusFound)
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	users := s.users.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  users,
		"total": len(users),
		"page":  page,
		"limit": limit,
	})
}

func (s *Server) ListCompanies(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]Company, len(s.companies))
	copy(out, s.companies)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) CreateCompany(w http.ResponseWriter, r *http.Request) {
	c := Company{}
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	c.ID = uuid.NewString()
	s.mu.Lock()
	s.companies = append(s.companies, c)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) ListDepartments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []Department{
		{ID: "d1", Name: "Engineering", CompanyID: "c1"},
		{ID: "d2", Name: "People", CompanyID: "c1"},
	})
}

func (s *Server) CompanyAdminDashboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"companyId":      "c1",
		"totalEmployees": 42,
		"activeSurveys":  3,
		"responseRate":   0.71,
	})
}

// Slow stalls until SlowDelay passes or the client gives up.
func (s *Server) Slow(w http.ResponseWriter, r *http.Request) {
	delay := s.getKnobs().SlowDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	select {
	case <-time.After(delay):
		writeJSON(w, http.StatusOK, map[string]string{"status": "done"})
	case <-r.Context().Done():
	}
}
