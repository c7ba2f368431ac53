package testing

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"education/storage"
	"education/ui"
	"education/web"
)

// TestHost serves controllers and pages through Routing and Authorization
// with the embedded views, the way the application pipeline does.
type TestHost struct {
	Identity *TestIdentity
	Router   *web.Router
	Services *web.AppServices
	Handler  http.Handler
}

// NewTestHost maps the default controller route and the page group over ti
func NewTestHost(t *testing.T, ti *TestIdentity, controllers []web.Controller, pages []web.Page) *TestHost {
	t.Helper()

	router := web.NewRouter()
	for _, c := range controllers {
		if err := router.AddController(c); err != nil {
			t.Fatalf("Failed to add controller: %v", err)
		}
	}
	if err := router.AddPages(pages...); err != nil {
		t.Fatalf("Failed to add pages: %v", err)
	}
	if err := router.MapControllerRoute("default", "{controller=Home}/{action=Index}/{id?}"); err != nil {
		t.Fatalf("Failed to map default route: %v", err)
	}
	if err := router.MapPages(); err != nil {
		t.Fatalf("Failed to map pages: %v", err)
	}

	views, err := web.NewViewEngine(ui.Templates(), nil)
	if err != nil {
		t.Fatalf("Failed to parse views: %v", err)
	}

	services := &web.AppServices{
		Users:        ti.Users,
		Roles:        ti.Roles,
		SignIn:       ti.SignIn,
		EmailSender:  ti.Emails,
		LoginLimiter: ti.Limiter,
		Environment:  "Production",
		Logger:       ti.Logger,
	}

	pipeline := web.NewPipeline()
	_ = pipeline.Use(web.StageRouting, web.Routing(router))
	_ = pipeline.Use(web.StageAuthorization, web.Authorization(ti.SignIn, ti.Options.Cookie, ti.Logger))
	handler := pipeline.Build(web.NewEndpointExecutor(views, web.NewAntiforgery(""), services, ti.Logger))

	return &TestHost{Identity: ti, Router: router, Services: services, Handler: handler}
}

// Browser sends requests to a handler and keeps the cookies it is given
type Browser struct {
	t        *testing.T
	handler  http.Handler
	cookies  map[string]*http.Cookie
	RemoteIP string
}

// NewBrowser creates a browser with an empty cookie jar
func NewBrowser(t *testing.T, handler http.Handler) *Browser {
	return &Browser{t: t, handler: handler, cookies: make(map[string]*http.Cookie), RemoteIP: "192.0.2.10"}
}

// Do sends req with the stored cookies and records the cookies of the response
func (b *Browser) Do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	req.RemoteAddr = b.RemoteIP + ":40000"
	for _, c := range b.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}

	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

// Get sends a GET request
func (b *Browser) Get(target string) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.Do(httptest.NewRequest(http.MethodGet, target, nil))
}

// PostForm sends a form POST carrying the antiforgery token issued to this browser.
// When no token has been issued yet the browser mints its own cookie and field pair.
func (b *Browser) PostForm(target string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	if _, ok := b.cookies[web.DefaultAntiforgeryCookieName]; !ok {
		raw := make([]byte, 32)
		_, _ = rand.Read(raw)
		b.cookies[web.DefaultAntiforgeryCookieName] = &http.Cookie{Name: web.DefaultAntiforgeryCookieName, Value: hex.EncodeToString(raw)}
	}
	// The caller's form may be shared between browsers
	values := make(url.Values, len(form)+1)
	for k, v := range form {
		values[k] = append([]string(nil), v...)
	}
	form = values
	if c, ok := b.cookies[web.DefaultAntiforgeryCookieName]; ok && form.Get(web.AntiforgeryFieldName) == "" {
		form.Set(web.AntiforgeryFieldName, c.Value)
	}

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.Do(req)
}

// SignIn issues an identity cookie for user directly through the sign-in manager
func (b *Browser) SignIn(ti *TestIdentity, user *storage.User) {
	b.t.Helper()
	rec := httptest.NewRecorder()
	if err := ti.SignIn.SignIn(rec, httptest.NewRequest(http.MethodGet, "/", nil), user, false); err != nil {
		b.t.Fatalf("Failed to sign in %s: %v", user.UserName, err)
	}
	for _, c := range rec.Result().Cookies() {
		b.cookies[c.Name] = c
	}
}

// Cookie returns the stored cookie, or nil
func (b *Browser) Cookie(name string) *http.Cookie {
	return b.cookies[name]
}

// ClearCookies empties the jar
func (b *Browser) ClearCookies() {
	b.cookies = make(map[string]*http.Cookie)
}
