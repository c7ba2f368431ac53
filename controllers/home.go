// Package controllers holds the MVC controllers reached through the default route.
package controllers

import (
	"education/web"
)

// ErrorViewModel is rendered by the error page
type ErrorViewModel struct {
	RequestID string
	// ExceptionMessage is only filled in the Development environment
	ExceptionMessage string
}

// ShowRequestID reports whether a request id is available
func (m ErrorViewModel) ShowRequestID() bool {
	return m.RequestID != ""
}

// HomeController serves the landing, privacy and error pages
type HomeController struct{}

// NewHomeController creates the Home controller
func NewHomeController() *HomeController {
	return &HomeController{}
}

func (h *HomeController) Name() string { return "Home" }

func (h *HomeController) Actions() []web.Action {
	return []web.Action{
		{Name: "Index", Handler: h.index},
		{Name: "Privacy", Handler: h.privacy},
		{Name: "Error", AllowAnonymous: true, Handler: h.errorPage},
	}
}

func (h *HomeController) index(c *web.ActionContext) (web.Result, error) {
	return web.View("Home Page", nil), nil
}

func (h *HomeController) privacy(c *web.ActionContext) (web.Result, error) {
	return web.View("Privacy Policy", nil), nil
}

// errorPage is the target of the exception handler. The response is never cached.
func (h *HomeController) errorPage(c *web.ActionContext) (web.Result, error) {
	c.Writer.Header().Set("Cache-Control", "no-store, no-cache")
	c.Writer.Header().Set("Pragma", "no-cache")

	model := ErrorViewModel{RequestID: web.RequestIDFrom(c.Context())}
	if c.Services != nil && c.Services.IsDevelopment {
		if err := web.ExceptionFrom(c.Context()); err != nil {
			model.ExceptionMessage = err.Error()
		}
	}
	return web.View("Error", model), nil
}
