package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
)

// Antiforgery token names
const (
	AntiforgeryFieldName         = "__RequestVerificationToken"
	AntiforgeryHeaderName        = "RequestVerificationToken"
	DefaultAntiforgeryCookieName = ".Education.Antiforgery"
)

// ErrAntiforgeryValidation is returned when an unsafe request carries no valid token
var ErrAntiforgeryValidation = errors.New("antiforgery token validation failed")

const antiforgeryTokenBytes = 32

// Antiforgery issues a random token in a cookie and requires unsafe requests to echo it
// in a form field or header.
type Antiforgery struct {
	cookieName string
}

// NewAntiforgery creates the token service. An empty name selects DefaultAntiforgeryCookieName.
func NewAntiforgery(cookieName string) *Antiforgery {
	if cookieName == "" {
		cookieName = DefaultAntiforgeryCookieName
	}
	return &Antiforgery{cookieName: cookieName}
}

// CookieName returns the name of the token cookie
func (a *Antiforgery) CookieName() string {
	return a.cookieName
}

// GetToken returns the token for forms rendered in this response, issuing the cookie when absent
func (a *Antiforgery) GetToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(a.cookieName); err == nil && isValidAntiforgeryToken(c.Value) {
		return c.Value, nil
	}

	token, err := generateAntiforgeryToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// Validate checks the request token of unsafe methods against the cookie
func (a *Antiforgery) Validate(r *http.Request) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return nil
	}

	c, err := r.Cookie(a.cookieName)
	if err != nil || !isValidAntiforgeryToken(c.Value) {
		return fmt.Errorf("%w: cookie missing", ErrAntiforgeryValidation)
	}

	submitted := r.Header.Get(AntiforgeryHeaderName)
	if submitted == "" {
		submitted = r.PostFormValue(AntiforgeryFieldName)
	}
	if submitted == "" {
		return fmt.Errorf("%w: request token missing", ErrAntiforgeryValidation)
	}

	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(submitted)) != 1 {
		return fmt.Errorf("%w: token mismatch", ErrAntiforgeryValidation)
	}
	return nil
}

func generateAntiforgeryToken() (string, error) {
	b := make([]byte, antiforgeryTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate antiforgery token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func isValidAntiforgeryToken(token string) bool {
	if len(token) != antiforgeryTokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
