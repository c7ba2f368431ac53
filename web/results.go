package web

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNonLocalRedirect is returned by LocalRedirect for URLs outside this application
var ErrNonLocalRedirect = errors.New("the supplied URL is not local")

// Result writes the response of an action or page handler
type Result interface {
	Execute(c *ActionContext) error
}

// ViewResult renders a template inside the shared layout
type ViewResult struct {
	// Name overrides the view; empty selects the action's or page's own view
	Name          string
	Title         string
	Model         any
	StatusCode    int
	StatusMessage string
	Errors        []string
}

// View renders the default view of the current action or page
func View(title string, model any) *ViewResult {
	return &ViewResult{Title: title, Model: model}
}

// ViewNamed renders the named view
func ViewNamed(name, title string, model any) *ViewResult {
	return &ViewResult{Name: name, Title: title, Model: model}
}

// WithStatus sets the response status
func (v *ViewResult) WithStatus(code int) *ViewResult {
	v.StatusCode = code
	return v
}

// WithErrors adds validation summary messages
func (v *ViewResult) WithErrors(errs ...string) *ViewResult {
	v.Errors = append(v.Errors, errs...)
	return v
}

// WithMessage sets the status message banner
func (v *ViewResult) WithMessage(msg string) *ViewResult {
	v.StatusMessage = msg
	return v
}

func (v *ViewResult) candidates(ep *Endpoint) []string {
	if ep == nil {
		return []string{v.Name}
	}
	if ep.Kind == EndpointPage {
		if v.Name != "" {
			return []string{v.Name}
		}
		return []string{ep.View}
	}

	name := v.Name
	if name == "" {
		name = ep.Action
	}
	if strings.Contains(name, "/") {
		return []string{name}
	}
	return []string{ep.Controller + "/" + name, sharedDir + "/" + name}
}

// Execute renders the view into a buffer, then writes it
func (v *ViewResult) Execute(c *ActionContext) error {
	names := v.candidates(c.Endpoint)
	tpl, _, ok := c.executor.views.Find(names...)
	if !ok {
		return fmt.Errorf("the view '%s' was not found; searched: %s", names[0], strings.Join(names, ", "))
	}

	token, err := c.AntiforgeryToken()
	if err != nil {
		return err
	}

	data := &ViewData{
		Title:            v.Title,
		Model:            v.Model,
		User:             c.User,
		AntiforgeryField: AntiforgeryFieldName,
		AntiforgeryToken: token,
		Path:             c.Request.URL.Path,
		RequestID:        RequestIDFrom(c.Context()),
		IsDevelopment:    c.Services != nil && c.Services.IsDevelopment,
		StatusMessage:    v.StatusMessage,
		Errors:           v.Errors,
	}

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, LayoutTemplate, data); err != nil {
		return fmt.Errorf("failed to render view %s: %w", names[0], err)
	}

	c.Writer.Header().Set("Content-Type", "text/html; charset=utf-8")
	if v.StatusCode != 0 {
		c.Writer.WriteHeader(v.StatusCode)
	}
	_, err = buf.WriteTo(c.Writer)
	return err
}

// RedirectResult sends a 302 (or 301 when Permanent)
type RedirectResult struct {
	URL       string
	Permanent bool
}

// Redirect redirects to url
func Redirect(url string) *RedirectResult {
	return &RedirectResult{URL: url}
}

// RedirectToAction redirects to the default-route URL of controller/action
func RedirectToAction(action, controller string) *RedirectResult {
	return &RedirectResult{URL: ActionPath(controller, action)}
}

// ActionPath builds the default-route path of an action, dropping the Home/Index defaults
func ActionPath(controller, action string) string {
	switch {
	case strings.EqualFold(controller, "Home") && strings.EqualFold(action, "Index"):
		return "/"
	case strings.EqualFold(action, "Index"):
		return "/" + controller
	default:
		return "/" + controller + "/" + action
	}
}

func (r *RedirectResult) Execute(c *ActionContext) error {
	code := http.StatusFound
	if r.Permanent {
		code = http.StatusMovedPermanently
	}
	http.Redirect(c.Writer, c.Request, r.URL, code)
	return nil
}

// LocalRedirectResult redirects only to URLs within this application
type LocalRedirectResult struct {
	URL string
}

// LocalRedirect redirects to url, failing when it is not a local path
func LocalRedirect(url string) *LocalRedirectResult {
	return &LocalRedirectResult{URL: url}
}

func (r *LocalRedirectResult) Execute(c *ActionContext) error {
	if !IsLocalURL(r.URL) {
		return fmt.Errorf("%w: %q", ErrNonLocalRedirect, r.URL)
	}
	target := r.URL
	if strings.HasPrefix(target, "~/") {
		target = target[1:]
	}
	http.Redirect(c.Writer, c.Request, target, http.StatusFound)
	return nil
}

// IsLocalURL reports whether u is an application-relative path ("/x" or "~/x"),
// rejecting protocol-relative and backslash forms
func IsLocalURL(u string) bool {
	if u == "" {
		return false
	}
	for _, r := range u {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	switch {
	case u == "/":
		return true
	case u[0] == '/':
		return len(u) > 1 && u[1] != '/' && u[1] != '\\'
	case strings.HasPrefix(u, "~/"):
		return len(u) == 2 || (u[2] != '/' && u[2] != '\\')
	}
	return false
}

// ContentResult writes a literal body
type ContentResult struct {
	Body        string
	ContentType string
	StatusCode  int
}

// Content writes body as text/plain
func Content(body string) *ContentResult {
	return &ContentResult{Body: body}
}

func (r *ContentResult) Execute(c *ActionContext) error {
	ct := r.ContentType
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	c.Writer.Header().Set("Content-Type", ct)
	if r.StatusCode != 0 {
		c.Writer.WriteHeader(r.StatusCode)
	}
	_, err := c.Writer.Write([]byte(r.Body))
	return err
}

// StatusCodeResult writes only a status
type StatusCodeResult struct {
	Code int
}

// Status writes code with an empty body
func Status(code int) *StatusCodeResult {
	return &StatusCodeResult{Code: code}
}

// NotFound writes 404
func NotFound() *StatusCodeResult {
	return &StatusCodeResult{Code: http.StatusNotFound}
}

func (r *StatusCodeResult) Execute(c *ActionContext) error {
	c.Writer.WriteHeader(r.Code)
	return nil
}
