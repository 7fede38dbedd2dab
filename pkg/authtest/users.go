package authtest

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

var (
	errUserNotFound    = errors.New("authtest: user not found")
	errInvalidPassword = errors.New("authtest: password is invalid")
)

type userRepo struct {
	mu    sync.RWMutex
	users map[string]*storedUser // by email
}

type storedUser struct {
	User
	hash []byte
}

func newUserRepo() *userRepo {
	return &userRepo{
		users: map[string]*storedUser{},
	}
}

func (r *userRepo) Add(u User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("authtest: can't hash password for `%s`, %w", u.Email, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.Email] = &storedUser{User: u, hash: hash}
	return nil
}

func (r *userRepo) GetByEmailAndPass(email, pass string) (*User, error) {
	r.mu.RLock()
	su, ok := r.users[email]
	r.mu.RUnlock()
	if !ok {
		return nil, errUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword(su.hash, []byte(pass)); err != nil {
		return nil, errInvalidPassword
	}
	u := su.User
	return &u, nil
}

func (r *userRepo) List() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]User, 0, len(r.users))
	for _, su := range r.users {
		out = append(out, su.User)
	}
	return out
}
