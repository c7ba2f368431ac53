package web

import (
	"fmt"
	"net/http"
	"net/url"

	"education/identity"

	"go.uber.org/zap"
)

// Authenticator resolves the request's credentials into a principal.
// It returns nil without error for anonymous requests.
type Authenticator interface {
	Authenticate(r *http.Request) (*identity.Principal, error)
}

// SessionRefresher renews a sliding authentication cookie
type SessionRefresher interface {
	RefreshSignIn(w http.ResponseWriter, r *http.Request) error
}

// Routing selects the endpoint for the request and stores it, with its route values,
// in the request context. Unmatched requests continue without an endpoint.
func Routing(router *Router) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ep, values := router.Match(r); ep != nil {
				noteEndpoint(r, ep)
				recordEndpoint(r, ep)
				r = r.WithContext(WithEndpoint(r.Context(), ep, values))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorization authenticates the identity cookie and enforces the selected endpoint's policy.
// Anonymous users are redirected to the login page, users lacking a required role to the
// access-denied page.
func Authorization(auth Authenticator, cookie identity.CookieOptions, logger *zap.SugaredLogger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := auth.Authenticate(r)
			if err != nil {
				reportError(w, r, fmt.Errorf("authentication failed: %w", err), logger)
				return
			}
			if principal != nil {
				r = r.WithContext(WithPrincipal(r.Context(), principal))
				if refresher, ok := auth.(SessionRefresher); ok {
					if err := refresher.RefreshSignIn(w, r); err != nil {
						logger.Warnw("Failed to renew authentication cookie", "user_id", principal.UserID, "error", err)
					}
				}
			}

			ep := EndpointFrom(r.Context())
			if ep == nil || ep.Policy == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !principal.IsAuthenticated() {
				logger.Infow("Authorization failed, challenging anonymous request",
					"endpoint", ep.DisplayName,
					"path", r.URL.Path)
				redirectWithReturnURL(w, r, cookie.LoginPath)
				return
			}

			if len(ep.Policy.Roles) > 0 && !principal.IsInAnyRole(ep.Policy.Roles...) {
				logger.Warnw("AUDIT: access denied",
					"user_id", principal.UserID,
					"user", principal.UserName,
					"endpoint", ep.DisplayName,
					"required_roles", ep.Policy.Roles)
				redirectWithReturnURL(w, r, cookie.AccessDeniedPath)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func redirectWithReturnURL(w http.ResponseWriter, r *http.Request, target string) {
	location := target + "?ReturnUrl=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, location, http.StatusFound)
}
