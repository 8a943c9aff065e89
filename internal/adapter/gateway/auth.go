package gateway

import (
	"crypto/subtle"

	"pintrainer/internal/domain"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name  string
	Roles []string
}

// authRoles returns the client's recognised roles. Tokens configured without
// roles act as learners.
func (c *ClientInfo) authRoles() []domain.AuthRole {
	roles := domain.StringsToAuthRoles(c.Roles)
	if len(roles) == 0 {
		roles = []domain.AuthRole{domain.AuthRoleLearner}
	}
	return roles
}

// reachesAnySession reports whether the client may act on sessions it did
// not create.
func (c *ClientInfo) reachesAnySession() bool {
	return domain.HasPermission(c.authRoles(), domain.PermSessionAny)
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// TokenEntry is one accepted static token.
type TokenEntry struct {
	Token string
	Name  string
	Roles []string
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison to prevent timing attacks.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from a set of token entries.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	a := &StaticTokenAuth{
		entries: make([]authEntry, len(entries)),
	}
	for i, e := range entries {
		a.entries[i] = authEntry{
			token: []byte(e.Token),
			info:  &ClientInfo{Name: e.Name, Roles: e.Roles},
		}
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if token == "" {
		return nil, domain.ErrGatewayAuthFailed
	}
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}

// OpenAuth accepts every connection as a local instructor. It is meant for
// a gateway bound to loopback with no tokens configured.
type OpenAuth struct{}

// Authenticate never fails.
func (OpenAuth) Authenticate(string) (*ClientInfo, error) {
	return &ClientInfo{Name: "local", Roles: []string{string(domain.AuthRoleInstructor)}}, nil
}
