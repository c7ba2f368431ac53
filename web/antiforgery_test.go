package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validToken = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func postForm(target string, form url.Values, cookie string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: DefaultAntiforgeryCookieName, Value: cookie})
	}
	return req
}

// TestAntiforgery_GetToken tests token issue and reuse
func TestAntiforgery_GetToken(t *testing.T) {
	af := NewAntiforgery("")
	assert.Equal(t, DefaultAntiforgeryCookieName, af.CookieName())

	rec := httptest.NewRecorder()
	token, err := af.GetToken(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Len(t, token, 64)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, token, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookies[0].SameSite)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	again, err := af.GetToken(rec, req)
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.Empty(t, rec.Result().Cookies())
}

// TestAntiforgery_Validate tests token validation of unsafe requests
func TestAntiforgery_Validate(t *testing.T) {
	af := NewAntiforgery("")

	tests := []struct {
		name  string
		req   func() *http.Request
		valid bool
	}{
		{"safe method", func() *http.Request { return httptest.NewRequest(http.MethodGet, "/", nil) }, true},
		{"form token", func() *http.Request {
			return postForm("/", url.Values{AntiforgeryFieldName: {validToken}}, validToken)
		}, true},
		{"header token", func() *http.Request {
			req := postForm("/", url.Values{}, validToken)
			req.Header.Set(AntiforgeryHeaderName, validToken)
			return req
		}, true},
		{"no cookie", func() *http.Request {
			return postForm("/", url.Values{AntiforgeryFieldName: {validToken}}, "")
		}, false},
		{"malformed cookie", func() *http.Request {
			return postForm("/", url.Values{AntiforgeryFieldName: {"abc"}}, "abc")
		}, false},
		{"no request token", func() *http.Request { return postForm("/", url.Values{}, validToken) }, false},
		{"mismatch", func() *http.Request {
			return postForm("/", url.Values{AntiforgeryFieldName: {strings.Repeat("f", 64)}}, validToken)
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := af.Validate(tt.req())
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrAntiforgeryValidation))
		})
	}
}

// TestEndpointExecutor_Antiforgery tests that unsafe requests without a token are rejected with 400
func TestEndpointExecutor_Antiforgery(t *testing.T) {
	app := newTestApp(t, homeController())
	h := app.handler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postForm("/Home/Submit", url.Values{"name": {"bob"}}, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, postForm("/Home/Submit", url.Values{"name": {" bob "}, AntiforgeryFieldName: {validToken}}, validToken))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "submitted bob", rec.Body.String())
}

// TestEndpointExecutor_SkipAntiforgery tests actions that opt out of validation
func TestEndpointExecutor_SkipAntiforgery(t *testing.T) {
	hook := &testController{name: "Hook", actions: []Action{
		{Name: "Receive", Methods: []string{http.MethodPost}, SkipAntiforgery: true, Handler: func(c *ActionContext) (Result, error) {
			return Status(http.StatusAccepted), nil
		}},
	}}
	app := newTestApp(t, hook)
	h := app.handler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postForm("/Hook/Receive", url.Values{}, ""))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
