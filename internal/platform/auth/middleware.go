package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/tiendaplus/api/internal/platform/httpx"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier     TokenVerifier
	claims       ClaimNames
	fallbackRole string
	timeout      time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithClaimNames overrides the non-empty claim names in names.
func WithClaimNames(names ClaimNames) Option {
	return func(a *Authenticator) {
		a.claims = a.claims.merge(names)
	}
}

// WithFallbackRole sets the role given to tokens without a role claim.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) {
		if role = normaliseRole(role); role != "" {
			a.fallbackRole = role
		}
	}
}

// WithVerificationTimeout bounds each token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		claims:       DefaultClaimNames(),
		fallbackRole: RoleCustomer,
		timeout:      defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token. When roles are given the
// identity must hold at least one of them.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	var required []string
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			required = append(required, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, apiErr, ok := a.identify(r)
			if !ok {
				httpx.WriteError(r.Context(), w, apiErr)
				return
			}
			if len(required) > 0 && !identity.HasAnyRole(required...) {
				httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireStoreMembership rejects identities that are not staff of the store named by storeID(r).
// It runs after RequireFirebaseAuth.
func RequireStoreMembership(storeID func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			if storeID == nil || !identity.WorksAt(storeID(r)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("store_forbidden", "identity is not staff of this store", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) identify(r *http.Request) (*Identity, httpx.Error, bool) {
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized), false
	}
	if a == nil || a.verifier == nil {
		return nil, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized), false
	}

	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err == nil {
		var identity *Identity
		if identity, err = identityFromToken(token, a.claims, a.fallbackRole); err == nil {
			return identity, httpx.Error{}, true
		}
	}
	return nil, verificationError(err), false
}

func verificationError(err error) httpx.Error {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return httpx.NewError("token_expired", "firebase id token expired", http.StatusUnauthorized)
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		return httpx.NewError("invalid_token", "firebase id token invalid", http.StatusUnauthorized)
	default:
		return httpx.NewError("invalid_token", "firebase id token verification failed", http.StatusUnauthorized)
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
