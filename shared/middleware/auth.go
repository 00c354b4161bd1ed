package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
	"github.com/storefront-dev/storefront/shared/utils"
)

// AccessTokenCookie carries the access token for browser clients.
const AccessTokenCookie = "access_token"

// Authenticator resolves an access token to a live session. It must consult
// the Session Registry so that revoked tokens stop working immediately.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Session, error)
}

// Key to store the session in the request context
type key int

const sessionKey key = 0

// Auth holds dependencies for authentication middleware
type Auth struct {
	authenticator Authenticator
	secureCookies bool
}

func NewAuth(authenticator Authenticator, secureCookies bool) *Auth {
	return &Auth{authenticator: authenticator, secureCookies: secureCookies}
}

// NeedAuth requires a live session of any role.
func (a *Auth) NeedAuth() func(http.Handler) http.Handler {
	return a.auth(func(domain.User) bool { return true })
}

// StaffOnly requires a staff or admin session.
func (a *Auth) StaffOnly() func(http.Handler) http.Handler {
	return a.auth(domain.User.IsStaff)
}

func (a *Auth) AdminOnly() func(http.Handler) http.Handler {
	return a.auth(domain.User.IsAdmin)
}

func (a *Auth) auth(allowed func(domain.User) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := a.session(r)
			if !ok {
				// A dead cookie would otherwise be resent on every request.
				if _, err := r.Cookie(AccessTokenCookie); err == nil {
					http.SetCookie(w, ClearAccessCookie(a.secureCookies))
				}
				utils.WriteJSON(w, http.StatusUnauthorized, errorBody("Please sign-in", internal_errors.CodeInvalidToken))
				return
			}
			if !allowed(session.User) {
				utils.WriteJSON(w, http.StatusForbidden, errorBody("Access denied", internal_errors.CodeForbidden))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, &session)))
		})
	}
}

func (a *Auth) session(r *http.Request) (domain.Session, bool) {
	token := TokenFromRequest(r)
	if token == "" {
		return domain.Session{}, false
	}
	session, err := a.authenticator.Authenticate(r.Context(), token)
	if err != nil {
		return domain.Session{}, false
	}
	return session, true
}

// TokenFromRequest reads the access token from the cookie first (browser
// clients) and then from a Bearer Authorization header (API clients).
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
		return strings.TrimSpace(token)
	}
	return ""
}

// AccessCookie builds the session cookie for a freshly issued token.
func AccessCookie(token string, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func ClearAccessCookie(secure bool) *http.Cookie {
	return AccessCookie("", -1, secure)
}

// GetSessionFromContext returns the session stored by the auth middleware or nil.
func GetSessionFromContext(r *http.Request) *domain.Session {
	session, ok := r.Context().Value(sessionKey).(*domain.Session)
	if !ok {
		return nil
	}
	return session
}

func GetUserFromContext(r *http.Request) *domain.User {
	session := GetSessionFromContext(r)
	if session == nil {
		return nil
	}
	return &session.User
}

// WithSession stores session in ctx. Used by tests of downstream handlers.
func WithSession(ctx context.Context, session domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey, &session)
}
