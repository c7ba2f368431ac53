package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	testinghelpers "education/testing"
	"education/web"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHost(t *testing.T) *testinghelpers.TestHost {
	t.Helper()
	ti := testinghelpers.SetupTestIdentity(t, nil)
	return testinghelpers.NewTestHost(t, ti, []web.Controller{NewHomeController(), NewAdminController()}, nil)
}

// TestHomeController_Index tests the landing page on the default route
func TestHomeController_Index(t *testing.T) {
	host := newHost(t)
	b := testinghelpers.NewBrowser(t, host.Handler)

	for _, target := range []string{"/", "/Home", "/home/index", "/Home/Index/5"} {
		rec := b.Get(target)
		require.Equal(t, http.StatusOK, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "<title>Home Page - education</title>", target)
		assert.Contains(t, rec.Body.String(), "Welcome", target)
	}
}

// TestHomeController_Privacy tests the privacy page
func TestHomeController_Privacy(t *testing.T) {
	host := newHost(t)
	rec := testinghelpers.NewBrowser(t, host.Handler).Get("/Home/Privacy")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>Privacy Policy</h1>")
}

// TestHomeController_Error tests the error page headers and content
func TestHomeController_Error(t *testing.T) {
	host := newHost(t)
	rec := testinghelpers.NewBrowser(t, host.Handler).Get("/Home/Error")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store, no-cache", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "An error occurred while processing your request.")
	assert.Contains(t, rec.Body.String(), "Development Mode")
}

// TestHomeController_ErrorModel tests that exception details are only exposed in Development
func TestHomeController_ErrorModel(t *testing.T) {
	h := NewHomeController()
	cause := errors.New("database exploded")

	newContext := func(dev bool) *web.ActionContext {
		ctx := web.WithException(web.WithRequestID(context.Background(), "req-1"), cause)
		return &web.ActionContext{
			Writer:   httptest.NewRecorder(),
			Request:  httptest.NewRequest(http.MethodGet, "/Home/Error", nil).WithContext(ctx),
			Services: &web.AppServices{IsDevelopment: dev},
		}
	}

	result, err := h.errorPage(newContext(false))
	require.NoError(t, err)
	model := result.(*web.ViewResult).Model.(ErrorViewModel)
	assert.Equal(t, "req-1", model.RequestID)
	assert.True(t, model.ShowRequestID())
	assert.Empty(t, model.ExceptionMessage)

	result, err = h.errorPage(newContext(true))
	require.NoError(t, err)
	model = result.(*web.ViewResult).Model.(ErrorViewModel)
	assert.Equal(t, "database exploded", model.ExceptionMessage)
}

// TestAdminController_RequiresAdmin tests the controller-wide role policy
func TestAdminController_RequiresAdmin(t *testing.T) {
	host := newHost(t)
	b := testinghelpers.NewBrowser(t, host.Handler)

	rec := b.Get("/Admin/Users")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/Account/Login?ReturnUrl=%2FAdmin%2FUsers", rec.Header().Get("Location"))

	user := host.Identity.CreateUser(t, "bob@example.com", true)
	b.SignIn(host.Identity, user)

	rec = b.Get("/Admin/Users")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/Account/AccessDenied?ReturnUrl=%2FAdmin%2FUsers", rec.Header().Get("Location"))
}

// TestAdminController_Users tests the user list
func TestAdminController_Users(t *testing.T) {
	host := newHost(t)
	admin := host.Identity.CreateUser(t, "admin@example.com", true, AdminRole)
	host.Identity.CreateUser(t, "carol@example.com", false)

	b := testinghelpers.NewBrowser(t, host.Handler)
	b.SignIn(host.Identity, admin)

	rec := b.Get("/Admin")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/Admin/Users", rec.Header().Get("Location"))

	rec = b.Get("/Admin/Users")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "admin@example.com")
	assert.Contains(t, body, "carol@example.com")
	assert.Contains(t, body, "<td>Admin</td>")
	assert.Contains(t, body, `href="/Admin/Roles"`)
}

// TestAdminController_CreateRole tests role creation and validation errors
func TestAdminController_CreateRole(t *testing.T) {
	host := newHost(t)
	admin := host.Identity.CreateUser(t, "admin@example.com", true, AdminRole)
	b := testinghelpers.NewBrowser(t, host.Handler)
	b.SignIn(host.Identity, admin)

	rec := b.PostForm("/Admin/CreateRole", url.Values{"Name": {"Instructor"}})
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/Admin/Roles", rec.Header().Get("Location"))

	rec = b.Get("/Admin/Roles")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<li>Instructor</li>")

	rec = b.PostForm("/Admin/CreateRole", url.Values{"Name": {"instructor"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Role name &#39;instructor&#39; is already taken.")
}

// TestAdminController_CreateRoleRequiresToken tests that admin forms are antiforgery protected
func TestAdminController_CreateRoleRequiresToken(t *testing.T) {
	host := newHost(t)
	admin := host.Identity.CreateUser(t, "admin@example.com", true, AdminRole)
	b := testinghelpers.NewBrowser(t, host.Handler)
	b.SignIn(host.Identity, admin)

	req := httptest.NewRequest(http.MethodPost, "/Admin/CreateRole", strings.NewReader("Name=Instructor"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := b.Do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	exists, err := host.Identity.Roles.Exists(context.Background(), "Instructor")
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestAdminController_AddToRole tests membership changes from the user list
func TestAdminController_AddToRole(t *testing.T) {
	host := newHost(t)
	ctx := context.Background()
	admin := host.Identity.CreateUser(t, "admin@example.com", true, AdminRole)
	dave := host.Identity.CreateUser(t, "dave@example.com", true)
	require.NoError(t, host.Identity.Roles.EnsureRoles(ctx, "Instructor"))

	b := testinghelpers.NewBrowser(t, host.Handler)
	b.SignIn(host.Identity, admin)

	rec := b.PostForm("/Admin/AddToRole", url.Values{"UserName": {"dave@example.com"}, "Role": {"Instructor"}})
	assert.Equal(t, http.StatusFound, rec.Code)

	inRole, err := host.Identity.Users.IsInRole(ctx, dave, "Instructor")
	require.NoError(t, err)
	assert.True(t, inRole)

	tests := []struct {
		name     string
		form     url.Values
		expected string
	}{
		{"unknown user", url.Values{"UserName": {"nobody@example.com"}, "Role": {"Instructor"}}, "User &#39;nobody@example.com&#39; was not found."},
		{"unknown role", url.Values{"UserName": {"dave@example.com"}, "Role": {"Ghost"}}, "Role &#39;Ghost&#39; does not exist."},
		{"already in role", url.Values{"UserName": {"dave@example.com"}, "Role": {"Instructor"}}, "is already in role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := b.PostForm("/Admin/AddToRole", tt.form)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expected)
		})
	}
}
