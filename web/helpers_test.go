package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"education/identity"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// testViews is a minimal view tree: the shared layout, a partial and a few views
func testViews() fstest.MapFS {
	return fstest.MapFS{
		"Shared/_Layout.html": {Data: []byte(`{{define "layout"}}<title>{{.Title}}</title>{{template "content" .}}{{end}}`)},
		"Shared/_Badge.html":  {Data: []byte(`{{define "badge"}}[{{.}}]{{end}}`)},
		"Shared/Error.html":   {Data: []byte(`{{define "content"}}Shared Error {{.RequestID}}{{end}}`)},
		"Home/Index.html":     {Data: []byte(`{{define "content"}}Home {{.Model}}{{template "badge" "idx"}}{{end}}`)},
		"Home/Error.html":     {Data: []byte(`{{define "content"}}Error page: {{.Model}}{{end}}`)},
		"Account/Login.html":  {Data: []byte(`{{define "content"}}<form><input name="{{.AntiforgeryField}}" value="{{.AntiforgeryToken}}"></form>{{end}}`)},
	}
}

type testController struct {
	name    string
	actions []Action
	policy  *Policy
}

func (c *testController) Name() string { return c.name }
func (c *testController) Actions() []Action { return c.actions }

type testPolicyController struct {
	*testController
}

func (c testPolicyController) Policy() *Policy { return c.policy }

var errActionFailed = errors.New("action failed")

// homeController exercises views, panics and returned errors
func homeController() *testController {
	return &testController{
		name: "Home",
		actions: []Action{
			{Name: "Index", Handler: func(c *ActionContext) (Result, error) {
				return View("Home Page", c.RouteValues.Get("id")), nil
			}},
			{Name: "Privacy", Handler: func(c *ActionContext) (Result, error) {
				return Content("privacy"), nil
			}},
			{Name: "Boom", Handler: func(c *ActionContext) (Result, error) {
				panic("boom")
			}},
			{Name: "Fail", Handler: func(c *ActionContext) (Result, error) {
				return nil, errActionFailed
			}},
			{Name: "Error", Handler: func(c *ActionContext) (Result, error) {
				var msg string
				if err := ExceptionFrom(c.Context()); err != nil {
					msg = err.Error()
				}
				return View("Error", msg), nil
			}},
			{Name: "Submit", Methods: []string{http.MethodPost}, Handler: func(c *ActionContext) (Result, error) {
				return Content("submitted " + c.Form("name")), nil
			}},
		},
	}
}

type testApp struct {
	router   *Router
	views    *ViewEngine
	executor *EndpointExecutor
}

func newTestApp(t *testing.T, controllers ...Controller) *testApp {
	t.Helper()
	views, err := NewViewEngine(testViews(), nil)
	require.NoError(t, err)

	router := NewRouter()
	for _, c := range controllers {
		require.NoError(t, router.AddController(c))
	}
	require.NoError(t, router.MapControllerRoute("default", "{controller=Home}/{action=Index}/{id?}"))

	services := &AppServices{Environment: "Production", Logger: testLogger()}
	return &testApp{
		router:   router,
		views:    views,
		executor: NewEndpointExecutor(views, NewAntiforgery(""), services, testLogger()),
	}
}

func (a *testApp) handler(t *testing.T, stages ...Stage) http.Handler {
	t.Helper()
	p := NewPipeline()
	for _, s := range stages {
		require.NoError(t, p.Use(s.Name, s.Middleware))
	}
	require.NoError(t, p.Use(StageRouting, Routing(a.router)))
	return p.Build(a.executor)
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

// staticAuth returns a fixed principal
type staticAuth struct {
	principal *identity.Principal
	err       error
	refreshed int
}

func (a *staticAuth) Authenticate(*http.Request) (*identity.Principal, error) {
	return a.principal, a.err
}

func (a *staticAuth) RefreshSignIn(http.ResponseWriter, *http.Request) error {
	a.refreshed++
	return nil
}
