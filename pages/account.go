// Package pages holds the page endpoints mapped by MapPages: the default
// identity UI under /Account.
package pages

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"

	"education/identity"
	"education/metrics"
	"education/storage"
	"education/web"

	"github.com/go-playground/validator/v10"
)

// RegisterModel is rendered by Account/Register
type RegisterModel struct {
	Email     string
	ReturnURL string
}

// RegisterConfirmationModel is rendered by Account/RegisterConfirmation
type RegisterConfirmationModel struct {
	Email                     string
	DisplayConfirmAccountLink bool
	EmailConfirmationURL      string
}

// ConfirmEmailModel is rendered by Account/ConfirmEmail
type ConfirmEmailModel struct {
	Succeeded bool
}

// LoginModel is rendered by Account/Login
type LoginModel struct {
	Email      string
	RememberMe bool
	ReturnURL  string
}

// ManageModel is rendered by Account/Manage
type ManageModel struct {
	UserName       string
	Email          string
	EmailConfirmed bool
	Roles          []string
}

const (
	msgInvalidLogin   = "Invalid login attempt."
	msgRateLimited    = "Too many login attempts. Try again later."
	msgWrongPassword  = "Incorrect password."
	msgPasswordChange = "Your password has been changed."
)

type accountPages struct {
	validate *validator.Validate
}

// IdentityPages returns the account pages: registration, email confirmation,
// login, logout, lockout, access denied and the signed-in user's manage page.
func IdentityPages() []web.Page {
	p := &accountPages{validate: validator.New()}

	view := func(title string) web.ActionFunc {
		return func(c *web.ActionContext) (web.Result, error) {
			return web.View(title, nil), nil
		}
	}

	return []web.Page{
		{Path: "/Account/Register", View: "Account/Register", Handlers: map[string]web.ActionFunc{
			http.MethodGet:  p.registerGet,
			http.MethodPost: p.registerPost,
		}},
		{Path: "/Account/RegisterConfirmation", View: "Account/RegisterConfirmation", Handlers: map[string]web.ActionFunc{
			http.MethodGet: p.registerConfirmation,
		}},
		{Path: "/Account/ConfirmEmail", View: "Account/ConfirmEmail", Handlers: map[string]web.ActionFunc{
			http.MethodGet: p.confirmEmail,
		}},
		{Path: "/Account/Login", View: "Account/Login", Handlers: map[string]web.ActionFunc{
			http.MethodGet:  p.loginGet,
			http.MethodPost: p.loginPost,
		}},
		{Path: "/Account/Logout", View: "Account/Logout", Handlers: map[string]web.ActionFunc{
			http.MethodGet:  view("Log out"),
			http.MethodPost: p.logoutPost,
		}},
		{Path: "/Account/Lockout", View: "Account/Lockout", Handlers: map[string]web.ActionFunc{
			http.MethodGet: view("Locked out"),
		}},
		{Path: "/Account/AccessDenied", View: "Account/AccessDenied", Handlers: map[string]web.ActionFunc{
			http.MethodGet: view("Access denied"),
		}},
		{Path: "/Account/Manage", View: "Account/Manage", Policy: web.Authorize(), Handlers: map[string]web.ActionFunc{
			http.MethodGet:  p.manageGet,
			http.MethodPost: p.managePost,
		}},
	}
}

// returnURL reads the returnUrl query value, falling back to "/" when it is
// missing or points outside the application
func returnURL(c *web.ActionContext) string {
	u := c.Query("returnUrl")
	if u == "" {
		u = c.Query("ReturnUrl")
	}
	if !web.IsLocalURL(u) {
		return "/"
	}
	return u
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" {
		return proto
	}
	return "http"
}

func confirmationURL(r *http.Request, userID, code, returnTo string) string {
	q := url.Values{"userId": {userID}, "code": {code}, "returnUrl": {returnTo}}
	return fmt.Sprintf("%s://%s/Account/ConfirmEmail?%s", requestScheme(r), r.Host, q.Encode())
}

func (p *accountPages) registerGet(c *web.ActionContext) (web.Result, error) {
	return web.View("Register", &RegisterModel{ReturnURL: returnURL(c)}), nil
}

func (p *accountPages) registerPost(c *web.ActionContext) (web.Result, error) {
	returnTo := returnURL(c)
	input := RegisterInput{
		Email:           c.Form("Email"),
		Password:        c.Request.PostFormValue("Password"),
		ConfirmPassword: c.Request.PostFormValue("ConfirmPassword"),
	}
	model := &RegisterModel{Email: input.Email, ReturnURL: returnTo}

	msgs, err := formErrors(p.validate, input)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return web.View("Register", model).WithErrors(msgs...), nil
	}

	users := c.Services.Users
	user := &storage.User{UserName: input.Email, Email: input.Email}
	if err := users.Create(c.Context(), user, input.Password); err != nil {
		var verr *identity.ValidationError
		if errors.As(err, &verr) {
			return web.View("Register", model).WithErrors(verr.Descriptions()...), nil
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	metrics.AccountsRegistered.Inc()
	c.Logger().Infow("User created a new account with password", "user_id", user.ID, "user", user.UserName)

	code, err := users.GenerateEmailConfirmationToken(c.Context(), user)
	if err != nil {
		return nil, err
	}
	link := confirmationURL(c.Request, user.ID, code, returnTo)
	body := fmt.Sprintf("Please confirm your account by <a href='%s'>clicking here</a>.", html.EscapeString(link))
	if err := c.Services.EmailSender.SendEmail(c.Context(), user.Email, "Confirm your email", body); err != nil {
		return nil, fmt.Errorf("failed to send confirmation email: %w", err)
	}

	if users.Options().SignIn.RequireConfirmedAccount {
		q := url.Values{"email": {user.Email}, "returnUrl": {returnTo}}
		return web.Redirect("/Account/RegisterConfirmation?" + q.Encode()), nil
	}
	if err := c.Services.SignIn.SignIn(c.Writer, c.Request, user, false); err != nil {
		return nil, err
	}
	return web.LocalRedirect(returnTo), nil
}

// registerConfirmation shows the confirmation link on the page when emails are
// only logged. The link carries a fresh token, which replaces the emailed one.
func (p *accountPages) registerConfirmation(c *web.ActionContext) (web.Result, error) {
	email := c.Query("email")
	if email == "" {
		return web.Redirect("/"), nil
	}

	user, err := c.Services.Users.FindByEmail(c.Context(), email)
	if errors.Is(err, storage.ErrUserNotFound) {
		return web.NotFound(), nil
	}
	if err != nil {
		return nil, err
	}

	model := &RegisterConfirmationModel{Email: email}
	// The link skips the mailbox, so only a Development host without a real sender shows it
	_, logging := c.Services.EmailSender.(*identity.LoggingEmailSender)
	if logging && c.Services.IsDevelopment && !user.EmailConfirmed {
		code, err := c.Services.Users.GenerateEmailConfirmationToken(c.Context(), user)
		if err != nil {
			return nil, err
		}
		model.DisplayConfirmAccountLink = true
		model.EmailConfirmationURL = confirmationURL(c.Request, user.ID, code, returnURL(c))
	}
	return web.View("Register confirmation", model), nil
}

func (p *accountPages) confirmEmail(c *web.ActionContext) (web.Result, error) {
	userID, code := c.Query("userId"), c.Query("code")
	if userID == "" || code == "" {
		return web.Redirect("/"), nil
	}

	user, err := c.Services.Users.FindByID(c.Context(), userID)
	if errors.Is(err, storage.ErrUserNotFound) {
		return web.NotFound(), nil
	}
	if err != nil {
		return nil, err
	}

	err = c.Services.Users.ConfirmEmail(c.Context(), user, code)
	switch {
	case err == nil:
		return web.View("Confirm email", &ConfirmEmailModel{Succeeded: true}).
			WithMessage("Thank you for confirming your email."), nil
	case errors.Is(err, identity.ErrInvalidToken):
		return web.View("Confirm email", &ConfirmEmailModel{}), nil
	default:
		return nil, err
	}
}

func (p *accountPages) loginGet(c *web.ActionContext) (web.Result, error) {
	return web.View("Log in", &LoginModel{ReturnURL: returnURL(c)}), nil
}

func (p *accountPages) loginPost(c *web.ActionContext) (web.Result, error) {
	input := LoginInput{
		Email:      c.Form("Email"),
		Password:   c.Request.PostFormValue("Password"),
		RememberMe: c.FormBool("RememberMe"),
	}
	model := &LoginModel{Email: input.Email, RememberMe: input.RememberMe, ReturnURL: returnURL(c)}

	if limiter := c.Services.LoginLimiter; limiter != nil && !limiter.Allow(c.ClientIP()) {
		metrics.SignInAttempts.WithLabelValues("RateLimited").Inc()
		c.Logger().Warnw("AUDIT: login rate limit exceeded", "remote_ip", c.ClientIP(), "user", input.Email)
		return web.View("Log in", model).WithErrors(msgRateLimited).WithStatus(http.StatusTooManyRequests), nil
	}

	msgs, err := formErrors(p.validate, input)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return web.View("Log in", model).WithErrors(msgs...), nil
	}

	result, err := c.Services.SignIn.PasswordSignIn(c.Context(), c.Writer, c.Request, input.Email, input.Password, input.RememberMe, true)
	if err != nil {
		return nil, err
	}
	metrics.SignInAttempts.WithLabelValues(result.String()).Inc()

	switch {
	case result.Succeeded:
		c.Logger().Infow("User logged in", "user", input.Email)
		return web.LocalRedirect(model.ReturnURL), nil
	case result.IsLockedOut:
		c.Logger().Warnw("User account locked out", "user", input.Email)
		return web.Redirect("/Account/Lockout"), nil
	default:
		return web.View("Log in", model).WithErrors(msgInvalidLogin), nil
	}
}

func (p *accountPages) logoutPost(c *web.ActionContext) (web.Result, error) {
	if err := c.Services.SignIn.SignOut(c.Writer, c.Request); err != nil {
		return nil, err
	}
	if c.User != nil {
		c.Logger().Infow("User logged out", "user", c.User.UserName)
	}

	if u := c.Query("returnUrl"); u != "" {
		return web.LocalRedirect(u), nil
	}
	return web.Redirect("/Account/Logout"), nil
}

func (p *accountPages) currentUser(c *web.ActionContext) (*storage.User, error) {
	user, err := c.Services.Users.FindByID(c.Context(), c.User.UserID)
	if err != nil {
		return nil, fmt.Errorf("unable to load user with ID '%s': %w", c.User.UserID, err)
	}
	return user, nil
}

func (p *accountPages) manageModel(c *web.ActionContext, user *storage.User) (*ManageModel, error) {
	model := &ManageModel{UserName: user.UserName, Email: user.Email, EmailConfirmed: user.EmailConfirmed}
	if c.Services.Users.SupportsRoles() {
		roles, err := c.Services.Users.GetRoles(c.Context(), user)
		if err != nil {
			return nil, err
		}
		model.Roles = roles
	}
	return model, nil
}

func (p *accountPages) manageGet(c *web.ActionContext) (web.Result, error) {
	user, err := p.currentUser(c)
	if err != nil {
		return nil, err
	}
	model, err := p.manageModel(c, user)
	if err != nil {
		return nil, err
	}
	return web.View("Manage your account", model), nil
}

func (p *accountPages) managePost(c *web.ActionContext) (web.Result, error) {
	user, err := p.currentUser(c)
	if err != nil {
		return nil, err
	}
	model, err := p.manageModel(c, user)
	if err != nil {
		return nil, err
	}

	input := ChangePasswordInput{
		OldPassword:     c.Request.PostFormValue("OldPassword"),
		NewPassword:     c.Request.PostFormValue("NewPassword"),
		ConfirmPassword: c.Request.PostFormValue("ConfirmPassword"),
	}
	msgs, err := formErrors(p.validate, input)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		return web.View("Manage your account", model).WithErrors(msgs...), nil
	}

	err = c.Services.Users.ChangePassword(c.Context(), user, input.OldPassword, input.NewPassword)
	var verr *identity.ValidationError
	switch {
	case errors.Is(err, identity.ErrPasswordMismatch):
		return web.View("Manage your account", model).WithErrors(msgWrongPassword), nil
	case errors.As(err, &verr):
		return web.View("Manage your account", model).WithErrors(verr.Descriptions()...), nil
	case err != nil:
		return nil, err
	}

	// The password change rotated the security stamp; reissue the cookie so
	// this browser stays signed in.
	if err := c.Services.SignIn.SignIn(c.Writer, c.Request, user, false); err != nil {
		return nil, err
	}
	c.Logger().Infow("User changed their password successfully", "user_id", user.ID)
	return web.View("Manage your account", model).WithMessage(msgPasswordChange), nil
}
