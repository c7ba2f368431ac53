package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"education/identity"

	"go.uber.org/zap"
)

// AppServices are the application services handlers reach through their ActionContext
type AppServices struct {
	Users         *identity.UserManager
	Roles         *identity.RoleManager
	SignIn        *identity.SignInManager
	EmailSender   identity.EmailSender
	LoginLimiter  *identity.LoginLimiter
	Environment   string
	IsDevelopment bool
	Logger        *zap.SugaredLogger
}

// ActionContext is the per-request state passed to action and page handlers
type ActionContext struct {
	Writer      http.ResponseWriter
	Request     *http.Request
	Endpoint    *Endpoint
	RouteValues RouteValues
	User        *identity.Principal
	Services    *AppServices

	executor         *EndpointExecutor
	antiforgeryToken string
}

// Context returns the request context
func (c *ActionContext) Context() context.Context {
	return c.Request.Context()
}

// Logger returns the application logger
func (c *ActionContext) Logger() *zap.SugaredLogger {
	return c.executor.logger
}

// AntiforgeryToken returns the token to embed in rendered forms
func (c *ActionContext) AntiforgeryToken() (string, error) {
	if c.antiforgeryToken != "" {
		return c.antiforgeryToken, nil
	}
	token, err := c.executor.antiforgery.GetToken(c.Writer, c.Request)
	if err != nil {
		return "", err
	}
	c.antiforgeryToken = token
	return token, nil
}

// Form returns the trimmed form value
func (c *ActionContext) Form(name string) string {
	return strings.TrimSpace(c.Request.PostFormValue(name))
}

// FormBool reports whether a checkbox-style form value is set
func (c *ActionContext) FormBool(name string) bool {
	switch strings.ToLower(c.Form(name)) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}

// Query returns a query string value
func (c *ActionContext) Query(name string) string {
	return c.Request.URL.Query().Get(name)
}

// ClientIP returns the remote IP without port
func (c *ActionContext) ClientIP() string {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// EndpointExecutor is the terminal handler: it runs the endpoint selected by Routing.
// Requests without an endpoint end as 404.
type EndpointExecutor struct {
	views       *ViewEngine
	antiforgery *Antiforgery
	services    *AppServices
	logger      *zap.SugaredLogger
}

// NewEndpointExecutor creates the terminal handler
func NewEndpointExecutor(views *ViewEngine, antiforgery *Antiforgery, services *AppServices, logger *zap.SugaredLogger) *EndpointExecutor {
	return &EndpointExecutor{
		views:       views,
		antiforgery: antiforgery,
		services:    services,
		logger:      logger,
	}
}

func (e *EndpointExecutor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ep := EndpointFrom(r.Context())
	if ep == nil || ep.handler == nil {
		http.NotFound(w, r)
		return
	}

	if !ep.SkipAntiforgery {
		if err := e.antiforgery.Validate(r); err != nil {
			e.logger.Warnw("AUDIT: antiforgery validation failed",
				"endpoint", ep.DisplayName,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"error", err.Error())
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
	}

	c := &ActionContext{
		Writer:      w,
		Request:     r,
		Endpoint:    ep,
		RouteValues: RouteValuesFrom(r.Context()),
		User:        PrincipalFrom(r.Context()),
		Services:    e.services,
		executor:    e,
	}

	result, err := ep.handler(c)
	if err != nil {
		reportError(w, r, fmt.Errorf("%s: %w", ep.DisplayName, err), e.logger)
		return
	}
	if result == nil {
		return
	}
	if err := result.Execute(c); err != nil {
		if errors.Is(err, ErrNonLocalRedirect) {
			e.logger.Warnw("AUDIT: rejected non-local redirect", "endpoint", ep.DisplayName, "error", err.Error())
		}
		reportError(w, r, fmt.Errorf("%s: %w", ep.DisplayName, err), e.logger)
	}
}
