// Package security is the pluggable authentication layer. Every inbound
// peer request is checked against it before business logic runs, every
// outbound call carries an assertion generated by it, and every peer
// response is verified through it. Callers never inspect token structure.
package security

import (
	"errors"
	"net/http"
)

// Header names of the security handshake.
const (
	// RequestTokenHeader carries the caller's assertion on inbound and
	// outbound requests.
	RequestTokenHeader = "X-Auth-Token"
	// RequestPlatformHeader names the platform the assertion was issued
	// for.
	RequestPlatformHeader = "X-Auth-Platform"
	// ServiceResponseHeader echoes this node's own assertion back to the
	// caller so the caller can verify authenticity (mutual verification).
	ServiceResponseHeader = "X-Auth-Response"
)

// ErrUnauthorized is wrapped by CheckRequest failures caused by the caller;
// the HTTP layer maps it to 401.
var ErrUnauthorized = errors.New("unauthorized")

// Manager is the security port.
type Manager interface {
	// GenerateServiceResponse produces this node's own service-identity
	// assertion. Failure is a node-side (5xx-class) condition.
	GenerateServiceResponse() (string, error)

	// GenerateSecurityRequest produces the headers carried by an outbound
	// call to a peer. A failure aborts the whole fan-out batch.
	GenerateSecurityRequest() (http.Header, error)

	// CheckRequest validates the caller's security headers against the
	// claimed sender platform id. A nil return authorizes the request;
	// caller-side failures wrap ErrUnauthorized.
	CheckRequest(headers http.Header, serviceResponse, senderPlatformID string) error

	// VerifyPeerResponse checks a peer's response assertion for the given
	// component and platform.
	VerifyPeerResponse(assertion, componentID, peerPlatformID string) bool
}

// Disabled is the no-op Manager used when security is switched off in the
// configuration. Every request passes and assertions are a fixed marker.
type Disabled struct{}

func (Disabled) GenerateServiceResponse() (string, error) { return "security disabled", nil }

func (Disabled) GenerateSecurityRequest() (http.Header, error) { return make(http.Header), nil }

func (Disabled) CheckRequest(http.Header, string, string) error { return nil }

func (Disabled) VerifyPeerResponse(string, string, string) bool { return true }
