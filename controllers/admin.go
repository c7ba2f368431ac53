package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"education/identity"
	"education/storage"
	"education/web"
)

// AdminRole is the role required by every AdminController action
const AdminRole = "Admin"

// UserRow is one line of the user administration table
type UserRow struct {
	ID             string
	UserName       string
	Email          string
	EmailConfirmed bool
	LockedOut      bool
	LockoutEnd     *time.Time
	Roles          []string
}

// UsersViewModel is rendered by Admin/Users
type UsersViewModel struct {
	Users []UserRow
	Roles []string
}

// RolesViewModel is rendered by Admin/Roles
type RolesViewModel struct {
	Roles []string
}

// AdminController manages users and roles. Every action requires the Admin role.
type AdminController struct{}

// NewAdminController creates the Admin controller
func NewAdminController() *AdminController {
	return &AdminController{}
}

func (a *AdminController) Name() string { return "Admin" }

func (a *AdminController) Policy() *web.Policy { return web.Authorize(AdminRole) }

func (a *AdminController) Actions() []web.Action {
	return []web.Action{
		{Name: "Index", Handler: func(c *web.ActionContext) (web.Result, error) {
			return web.RedirectToAction("Users", "Admin"), nil
		}},
		{Name: "Users", Handler: a.users},
		{Name: "Roles", Handler: a.roles},
		{Name: "CreateRole", Methods: []string{http.MethodPost}, Handler: a.createRole},
		{Name: "AddToRole", Methods: []string{http.MethodPost}, Handler: a.addToRole},
	}
}

func (a *AdminController) usersModel(c *web.ActionContext) (*UsersViewModel, error) {
	users, err := c.Services.Users.List(c.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	roles, err := a.roleNames(c)
	if err != nil {
		return nil, err
	}

	model := &UsersViewModel{Roles: roles}
	for i := range users {
		u := &users[i]
		userRoles, err := c.Services.Users.GetRoles(c.Context(), u)
		if err != nil {
			return nil, fmt.Errorf("failed to load roles of %s: %w", u.UserName, err)
		}
		model.Users = append(model.Users, UserRow{
			ID:             u.ID,
			UserName:       u.UserName,
			Email:          u.Email,
			EmailConfirmed: u.EmailConfirmed,
			LockedOut:      c.Services.Users.IsLockedOut(u),
			LockoutEnd:     u.LockoutEnd,
			Roles:          userRoles,
		})
	}
	return model, nil
}

func (a *AdminController) roleNames(c *web.ActionContext) ([]string, error) {
	if c.Services.Roles == nil {
		return nil, identity.ErrRolesNotEnabled
	}
	roles, err := c.Services.Roles.List(c.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

func (a *AdminController) users(c *web.ActionContext) (web.Result, error) {
	model, err := a.usersModel(c)
	if err != nil {
		return nil, err
	}
	return web.View("Users", model), nil
}

func (a *AdminController) roles(c *web.ActionContext) (web.Result, error) {
	names, err := a.roleNames(c)
	if err != nil {
		return nil, err
	}
	return web.View("Roles", &RolesViewModel{Roles: names}), nil
}

func (a *AdminController) createRole(c *web.ActionContext) (web.Result, error) {
	if c.Services.Roles == nil {
		return nil, identity.ErrRolesNotEnabled
	}

	name := c.Form("Name")
	if _, err := c.Services.Roles.Create(c.Context(), name); err != nil {
		var verr *identity.ValidationError
		if !errors.As(err, &verr) {
			return nil, err
		}
		names, lerr := a.roleNames(c)
		if lerr != nil {
			return nil, lerr
		}
		return web.ViewNamed("Roles", "Roles", &RolesViewModel{Roles: names}).
			WithErrors(verr.Descriptions()...).
			WithStatus(http.StatusBadRequest), nil
	}

	c.Logger().Infow("AUDIT: role created", "role", name, "by", c.User.UserName)
	return web.RedirectToAction("Roles", "Admin"), nil
}

func (a *AdminController) addToRole(c *web.ActionContext) (web.Result, error) {
	userName := c.Form("UserName")
	role := c.Form("Role")

	var problem string
	user, err := c.Services.Users.FindByName(c.Context(), userName)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		problem = fmt.Sprintf("User '%s' was not found.", userName)
	case err != nil:
		return nil, err
	default:
		err = c.Services.Users.AddToRole(c.Context(), user, role)
		switch {
		case err == nil:
			return web.RedirectToAction("Users", "Admin"), nil
		case errors.Is(err, storage.ErrRoleNotFound):
			problem = fmt.Sprintf("Role '%s' does not exist.", role)
		case errors.Is(err, storage.ErrUserAlreadyInRole):
			problem = fmt.Sprintf("User '%s' is already in role '%s'.", userName, role)
		default:
			return nil, err
		}
	}

	model, err := a.usersModel(c)
	if err != nil {
		return nil, err
	}
	return web.ViewNamed("Users", "Users", model).WithErrors(problem).WithStatus(http.StatusBadRequest), nil
}
