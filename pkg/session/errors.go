package session

import (
	"errors"

	"github.com/amiskov/csrf-session-client/pkg/csrf"
	"github.com/amiskov/csrf-session-client/pkg/transport"
)

var (
	ErrHandshakeRejected   = errors.New("session: handshake rejected")
	ErrSessionNotConfirmed = errors.New("session: session not confirmed")
)

const (
	KindTokenUnavailable    = "TokenUnavailable"
	KindHandshakeRejected   = "HandshakeRejected"
	KindSessionNotConfirmed = "SessionNotConfirmed"
	KindTimeout             = "Timeout"
	KindTransportError      = "TransportError"
)

// Kind names the failure class of err, or returns "" for nil and unknown errors.
// A token fetch that timed out is a TokenUnavailable.
func Kind(err error) string {
	switch {
	case err == nil:
		return ``
	case errors.Is(err, csrf.ErrTokenUnavailable):
		return KindTokenUnavailable
	case errors.Is(err, ErrHandshakeRejected):
		return KindHandshakeRejected
	case errors.Is(err, ErrSessionNotConfirmed):
		return KindSessionNotConfirmed
	case errors.Is(err, transport.ErrTimeout):
		return KindTimeout
	case errors.Is(err, transport.ErrTransport):
		return KindTransportError
	}
	return ``
}
