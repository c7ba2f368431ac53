package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopAction(c *ActionContext) (Result, error) { return nil, nil }

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	rt := NewRouter()
	require.NoError(t, rt.AddController(homeController()))
	require.NoError(t, rt.AddController(testPolicyController{&testController{
		name:   "Admin",
		policy: Authorize("Admin"),
		actions: []Action{
			{Name: "Users", Handler: noopAction},
			{Name: "Ping", AllowAnonymous: true, Handler: noopAction},
		},
	}}))
	require.NoError(t, rt.AddPages(
		Page{Path: "/Account/Login", View: "Account/Login", Handlers: map[string]ActionFunc{
			http.MethodGet:  noopAction,
			http.MethodPost: noopAction,
		}},
		Page{Path: "/Home/Privacy", View: "Home/PrivacyPage", Handlers: map[string]ActionFunc{
			http.MethodGet: noopAction,
		}},
	))
	require.NoError(t, rt.MapControllerRoute("default", "{controller=Home}/{action=Index}/{id?}"))
	require.NoError(t, rt.MapPages())
	return rt
}

func match(rt *Router, method, target string) (*Endpoint, RouteValues) {
	return rt.Match(httptest.NewRequest(method, target, nil))
}

// TestRouter_DefaultRoute tests default route value filling
func TestRouter_DefaultRoute(t *testing.T) {
	rt := newTestRouter(t)

	tests := []struct {
		target      string
		displayName string
		id          string
	}{
		{"/", "Home.Index", ""},
		{"/Home", "Home.Index", ""},
		{"/Home/Index", "Home.Index", ""},
		{"/Home/Index/42", "Home.Index", "42"},
		{"/home/index/42/", "Home.Index", "42"},
		{"/HOME/boom", "Home.Boom", ""},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			ep, values := match(rt, http.MethodGet, tt.target)
			require.NotNil(t, ep)
			assert.Equal(t, tt.displayName, ep.DisplayName)
			assert.Equal(t, "default", ep.RouteName)
			assert.Equal(t, EndpointController, ep.Kind)
			assert.Equal(t, tt.id, values.Get("id"))
		})
	}
}

// TestRouter_NoMatch tests requests that select no endpoint
func TestRouter_NoMatch(t *testing.T) {
	rt := newTestRouter(t)

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/Missing"},
		{http.MethodGet, "/Home/Missing"},
		{http.MethodGet, "/Home/Index/1/extra"},
		{http.MethodPost, "/Home/Index"},
		{http.MethodGet, "/Home/Submit"},
		{http.MethodPost, "/Home/Privacy"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			ep, _ := match(rt, tt.method, tt.target)
			assert.Nil(t, ep)
		})
	}
}

// TestRouter_HeadFollowsGet tests that GET actions and pages accept HEAD
func TestRouter_HeadFollowsGet(t *testing.T) {
	rt := newTestRouter(t)

	ep, _ := match(rt, http.MethodHead, "/Home/Index")
	require.NotNil(t, ep)
	assert.Equal(t, "Home.Index", ep.DisplayName)

	ep, _ = match(rt, http.MethodHead, "/Account/Login")
	require.NotNil(t, ep)
	assert.Equal(t, EndpointPage, ep.Kind)
}

// TestRouter_PagesBeforeRoutes tests that a page wins over a conventional route for the same path
func TestRouter_PagesBeforeRoutes(t *testing.T) {
	rt := newTestRouter(t)

	ep, values := match(rt, http.MethodGet, "/home/privacy")
	require.NotNil(t, ep)
	assert.Equal(t, EndpointPage, ep.Kind)
	assert.Equal(t, "Page /Home/Privacy", ep.DisplayName)
	assert.Equal(t, "/Home/Privacy", values.Get("page"))

	ep, _ = match(rt, http.MethodPost, "/ACCOUNT/LOGIN/")
	require.NotNil(t, ep)
	assert.Equal(t, "Account/Login", ep.View)
}

// TestRouter_PagesUnmappedUntilMapPages tests that registered pages are unreachable before MapPages
func TestRouter_PagesUnmappedUntilMapPages(t *testing.T) {
	rt := NewRouter()
	require.NoError(t, rt.AddPages(Page{Path: "/Account/Login", Handlers: map[string]ActionFunc{http.MethodGet: noopAction}}))

	ep, _ := match(rt, http.MethodGet, "/Account/Login")
	assert.Nil(t, ep)

	require.NoError(t, rt.MapPages())
	ep, _ = match(rt, http.MethodGet, "/Account/Login")
	assert.NotNil(t, ep)
}

// TestRouter_Policies tests controller policies and AllowAnonymous
func TestRouter_Policies(t *testing.T) {
	rt := newTestRouter(t)

	ep, _ := match(rt, http.MethodGet, "/Admin/Users")
	require.NotNil(t, ep)
	require.NotNil(t, ep.Policy)
	assert.Equal(t, []string{"Admin"}, ep.Policy.Roles)

	ep, _ = match(rt, http.MethodGet, "/Admin/Ping")
	require.NotNil(t, ep)
	assert.Nil(t, ep.Policy)

	ep, _ = match(rt, http.MethodGet, "/Home")
	require.NotNil(t, ep)
	assert.Nil(t, ep.Policy)
}

// TestRouter_Duplicates tests registration conflicts
func TestRouter_Duplicates(t *testing.T) {
	rt := newTestRouter(t)

	assert.True(t, errors.Is(rt.AddController(homeController()), ErrDuplicateController))
	assert.True(t, errors.Is(rt.MapControllerRoute("Default", "{controller}/{action}"), ErrDuplicateRoute))
	assert.True(t, errors.Is(rt.MapPages(), ErrPagesAlreadyMapped))
	assert.True(t, errors.Is(rt.AddPages(Page{Path: "/account/login"}), ErrDuplicatePage))

	dup := &testController{name: "Dup", actions: []Action{{Name: "A", Handler: noopAction}, {Name: "a", Handler: noopAction}}}
	assert.True(t, errors.Is(NewRouter().AddController(dup), ErrDuplicateController))
}

// TestRouter_InvalidPattern tests that a bad pattern is rejected at mapping time
func TestRouter_InvalidPattern(t *testing.T) {
	err := NewRouter().MapControllerRoute("bad", "{controller=Home}/{action}")
	assert.True(t, errors.Is(err, ErrInvalidRoutePattern))
}

// TestRouter_Endpoints tests the endpoint summary
func TestRouter_Endpoints(t *testing.T) {
	rt := newTestRouter(t)
	summary := rt.Endpoints()

	require.Len(t, summary.ControllerRoutes, 1)
	assert.Equal(t, "default", summary.ControllerRoutes[0].Name)
	assert.Equal(t, "{controller=Home}/{action=Index}/{id?}", summary.ControllerRoutes[0].Pattern.Raw)
	assert.Equal(t, 1, summary.PageGroups)
	assert.ElementsMatch(t, []string{"/Account/Login", "/Home/Privacy"}, summary.Pages)
	assert.Contains(t, summary.Actions, "Admin.Users")
	assert.Contains(t, summary.Actions, "Home.Index")
}

// TestRouter_MatchReturnsCopy tests that callers cannot mutate the registered endpoint
func TestRouter_MatchReturnsCopy(t *testing.T) {
	rt := newTestRouter(t)

	ep, _ := match(rt, http.MethodGet, "/Home/Index")
	require.NotNil(t, ep)
	ep.DisplayName = "changed"

	again, _ := match(rt, http.MethodGet, "/Home/Index")
	assert.Equal(t, "Home.Index", again.DisplayName)
}
