package authtest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errNoAuth = errors.New("authtest: no session found")

type sessionManager struct {
	secret []byte
	ttl    time.Duration

	mu      sync.Mutex
	revoked map[string]struct{}
}

type jwtClaims struct {
	User User `json:"user"`
	jwt.RegisteredClaims
}

func newSessionManager(ttl time.Duration) *sessionManager {
	return &sessionManager{
		secret:  []byte(uuid.NewString()),
		ttl:     ttl,
		revoked: map[string]struct{}{},
	}
}

func (sm *sessionManager) CreateToken(u *User) (string, time.Time, error) {
	exp := time.Now().Add(sm.ttl)
	claims := jwtClaims{
		User: *u,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(sm.secret)
	if err != nil {
		return ``, time.Time{}, fmt.Errorf("authtest: can't sign session token, %w", err)
	}
	return token, exp, nil
}

// UserFromToken returns the user of a valid, unrevoked session token.
func (sm *sessionManager) UserFromToken(token string) (*User, time.Time, error) {
	if token == "" {
		return nil, time.Time{}, errNoAuth
	}
	claims := &jwtClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return sm.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("authtest: session token is not valid, %w", err)
	}

	sm.mu.Lock()
	_, gone := sm.revoked[claims.ID]
	sm.mu.Unlock()
	if gone {
		return nil, time.Time{}, errNoAuth
	}
	return &claims.User, claims.ExpiresAt.Time, nil
}

func (sm *sessionManager) Revoke(token string) {
	claims := &jwtClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	sm.mu.Lock()
	sm.revoked[claims.ID] = struct{}{}
	sm.mu.Unlock()
}
