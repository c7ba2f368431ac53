package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultsApp(t *testing.T) http.Handler {
	t.Helper()
	admin := &testController{name: "Admin", actions: []Action{
		{Name: "Error", Handler: func(c *ActionContext) (Result, error) {
			return View("Oops", nil).WithStatus(http.StatusServiceUnavailable), nil
		}},
		{Name: "Missing", Handler: func(c *ActionContext) (Result, error) {
			return View("Missing", nil), nil
		}},
		{Name: "Back", Handler: func(c *ActionContext) (Result, error) {
			return LocalRedirect(c.Query("to")), nil
		}},
		{Name: "Home", Handler: func(c *ActionContext) (Result, error) {
			return RedirectToAction("Index", "Home"), nil
		}},
	}}
	app := newTestApp(t, admin)
	require.NoError(t, app.router.AddPages(Page{Path: "/Account/Login", View: "Account/Login", Handlers: map[string]ActionFunc{
		http.MethodGet: func(c *ActionContext) (Result, error) { return View("Log in", nil), nil },
	}}))
	require.NoError(t, app.router.MapPages())
	return app.handler(t)
}

// TestViewResult_SharedFallback tests that controller views fall back to Shared
func TestViewResult_SharedFallback(t *testing.T) {
	h := resultsApp(t)

	rec := serve(h, http.MethodGet, "/Admin/Error")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Shared Error")
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
}

// TestViewResult_MissingView tests that a missing view is an error
func TestViewResult_MissingView(t *testing.T) {
	h := resultsApp(t)

	rec := serve(h, http.MethodGet, "/Admin/Missing")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// TestViewResult_PageAntiforgery tests that rendered pages carry the antiforgery token
func TestViewResult_PageAntiforgery(t *testing.T) {
	h := resultsApp(t)

	rec := serve(h, http.MethodGet, "/Account/Login")
	require.Equal(t, http.StatusOK, rec.Code)

	var token string
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultAntiforgeryCookieName {
			token = c.Value
		}
	}
	require.NotEmpty(t, token)
	assert.Contains(t, rec.Body.String(), `name="__RequestVerificationToken" value="`+token+`"`)
}

// TestLocalRedirect tests local and rejected redirect targets
func TestLocalRedirect(t *testing.T) {
	h := resultsApp(t)

	rec := serve(h, http.MethodGet, "/Admin/Back?to=%2FHome%2FPrivacy")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/Home/Privacy", rec.Header().Get("Location"))

	rec = serve(h, http.MethodGet, "/Admin/Back?to=~%2FAdmin")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/Admin", rec.Header().Get("Location"))

	rec = serve(h, http.MethodGet, "/Admin/Back?to=https%3A%2F%2Fevil.example")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

// TestRedirectToAction tests conventional URLs for actions
func TestRedirectToAction(t *testing.T) {
	h := resultsApp(t)

	rec := serve(h, http.MethodGet, "/Admin/Home")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	assert.Equal(t, "/Admin", ActionPath("Admin", "Index"))
	assert.Equal(t, "/Admin/Users", ActionPath("Admin", "Users"))
}

// TestIsLocalURL tests open-redirect protection
func TestIsLocalURL(t *testing.T) {
	tests := []struct {
		url   string
		local bool
	}{
		{"/", true},
		{"/Home/Index", true},
		{"/Home/Index?x=1", true},
		{"~/", true},
		{"~/Admin", true},
		{"", false},
		{"//evil.example", false},
		{"/\\evil.example", false},
		{"~//evil.example", false},
		{"https://evil.example", false},
		{"Home/Index", false},
		{"/Home\r\nLocation: x", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.local, IsLocalURL(tt.url))
		})
	}
}

// TestContentAndStatusResults tests literal results
func TestContentAndStatusResults(t *testing.T) {
	c := &ActionContext{Request: httptest.NewRequest(http.MethodGet, "/", nil)}

	rec := httptest.NewRecorder()
	c.Writer = rec
	require.NoError(t, (&ContentResult{Body: "{}", ContentType: "application/json", StatusCode: http.StatusCreated}).Execute(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "{}", rec.Body.String())

	rec = httptest.NewRecorder()
	c.Writer = rec
	require.NoError(t, NotFound().Execute(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
