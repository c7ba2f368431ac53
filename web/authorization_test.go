package web

import (
	"errors"
	"net/http"
	"testing"

	"education/identity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authorizationApp(t *testing.T, auth Authenticator) http.Handler {
	t.Helper()
	admin := testPolicyController{&testController{
		name:   "Admin",
		policy: Authorize("Admin"),
		actions: []Action{
			{Name: "Users", Handler: func(c *ActionContext) (Result, error) {
				return Content("users for " + c.User.UserName), nil
			}},
			{Name: "Ping", AllowAnonymous: true, Handler: func(c *ActionContext) (Result, error) {
				return Content("pong"), nil
			}},
		},
	}}
	app := newTestApp(t, homeController(), admin)

	p := NewPipeline()
	require.NoError(t, p.Use(StageRouting, Routing(app.router)))
	require.NoError(t, p.Use(StageAuthorization, Authorization(auth, identity.DefaultOptions().Cookie, testLogger())))
	return p.Build(app.executor)
}

// TestAuthorization_AnonymousChallenge tests the login redirect for anonymous users
func TestAuthorization_AnonymousChallenge(t *testing.T) {
	h := authorizationApp(t, &staticAuth{})

	rec := serve(h, http.MethodGet, "/Admin/Users?page=2")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/Account/Login?ReturnUrl=%2FAdmin%2FUsers%3Fpage%3D2", rec.Header().Get("Location"))
}

// TestAuthorization_Forbidden tests the access-denied redirect for users without the role
func TestAuthorization_Forbidden(t *testing.T) {
	auth := &staticAuth{principal: &identity.Principal{UserID: "u1", UserName: "bob", Roles: []string{"Editor"}}}
	h := authorizationApp(t, auth)

	rec := serve(h, http.MethodGet, "/Admin/Users")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/Account/AccessDenied?ReturnUrl=%2FAdmin%2FUsers", rec.Header().Get("Location"))
}

// TestAuthorization_Allowed tests that a user in the role reaches the action
func TestAuthorization_Allowed(t *testing.T) {
	auth := &staticAuth{principal: &identity.Principal{UserID: "u1", UserName: "alice", Roles: []string{"admin"}}}
	h := authorizationApp(t, auth)

	rec := serve(h, http.MethodGet, "/Admin/Users")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "users for alice", rec.Body.String())
	assert.Equal(t, 1, auth.refreshed)
}

// TestAuthorization_PublicEndpoints tests that endpoints without a policy allow anonymous access
func TestAuthorization_PublicEndpoints(t *testing.T) {
	h := authorizationApp(t, &staticAuth{})

	assert.Equal(t, "pong", serve(h, http.MethodGet, "/Admin/Ping").Body.String())
	assert.Equal(t, "privacy", serve(h, http.MethodGet, "/Home/Privacy").Body.String())
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/Nowhere").Code)
}

// TestAuthorization_AuthenticateError tests that authentication failures are reported as errors
func TestAuthorization_AuthenticateError(t *testing.T) {
	h := authorizationApp(t, &staticAuth{err: errors.New("store offline")})

	rec := serve(h, http.MethodGet, "/Home/Privacy")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
