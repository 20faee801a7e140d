package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
)

var (
	ErrMissingToken = errors.New("missing authentication token")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Principal is an authenticated caller of the administration routes.
type Principal struct {
	ID   string
	Name string
}

// Authenticator resolves a bearer token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// TokenAuthenticator accepts a fixed set of bearer tokens.
type TokenAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]*Principal
}

// NewTokenAuthenticator creates an authenticator with no tokens.
func NewTokenAuthenticator() *TokenAuthenticator {
	return &TokenAuthenticator{tokens: make(map[string]*Principal)}
}

// AddToken registers token for principal. Empty tokens are ignored.
func (a *TokenAuthenticator) AddToken(token string, principal *Principal) {
	if token == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = principal
}

// Enabled reports whether any token is registered.
func (a *TokenAuthenticator) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tokens) > 0
}

// Authenticate checks token against every registered token.
func (a *TokenAuthenticator) Authenticate(_ context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	// Constant-time comparison against every key.
	var found *Principal
	for key, principal := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			found = principal
		}
	}
	if found == nil {
		return nil, ErrInvalidToken
	}
	return found, nil
}

// BearerToken extracts the token of an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type principalKey struct{}

// WithPrincipal stores the authenticated principal in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
