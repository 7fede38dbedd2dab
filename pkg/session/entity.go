package session

import (
	"fmt"
)

type State int

const (
	Anonymous State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type User struct {
	ID    string
	Email string
	Name  string
	Role  string
	// Attributes holds every field the server reported for the user,
	// including the ones above.
	Attributes map[string]interface{}
}

// Session is the client-side view of a server session. The cookies behind
// it stay inside the transport.
type Session struct {
	User    User
	Expires string
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.User.Attributes != nil {
		c.User.Attributes = make(map[string]interface{}, len(s.User.Attributes))
		for k, v := range s.User.Attributes {
			c.User.Attributes[k] = v
		}
	}
	return &c
}

type Credentials struct {
	Email    string
	Password string
}

// String keeps passwords out of logs and error messages.
func (c Credentials) String() string {
	return c.Email + ":***"
}

// AuthResult is the outcome of a login attempt. On success Session is set,
// otherwise FailureReason and Err are.
type AuthResult struct {
	Success       bool
	Session       *Session
	FailureReason string
	Err           error
}

type introspection struct {
	User    map[string]interface{} `json:"user"`
	Expires string                 `json:"expires"`
}

func (in introspection) session() *Session {
	attrs := make(map[string]interface{}, len(in.User))
	for k, v := range in.User {
		attrs[k] = v
	}
	return &Session{
		User: User{
			ID:         attr(in.User, "id"),
			Email:      attr(in.User, "email"),
			Name:       attr(in.User, "name"),
			Role:       attr(in.User, "role"),
			Attributes: attrs,
		},
		Expires: in.Expires,
	}
}

func attr(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ``
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}
