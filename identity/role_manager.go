package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"education/storage"

	"go.uber.org/zap"
)

// RoleManager implements role operations over a RoleStore
type RoleManager struct {
	store  storage.RoleStore
	logger *zap.SugaredLogger
}

// NewRoleManager creates a role manager
func NewRoleManager(store storage.RoleStore, logger *zap.SugaredLogger) *RoleManager {
	return &RoleManager{store: store, logger: logger}
}

// Store returns the underlying role store
func (m *RoleManager) Store() storage.RoleStore {
	return m.store
}

// Create adds a role named name
func (m *RoleManager) Create(ctx context.Context, name string) (*storage.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 256 {
		return nil, validationError([]IdentityError{{Code: CodeInvalidRoleName, Description: fmt.Sprintf("Role name '%s' is invalid.", name)}})
	}

	role := &storage.Role{Name: name, NormalizedName: Normalize(name)}
	if err := m.store.CreateRole(ctx, role); err != nil {
		if errors.Is(err, storage.ErrDuplicateRole) {
			return nil, validationError([]IdentityError{{Code: CodeDuplicateRoleName, Description: fmt.Sprintf("Role name '%s' is already taken.", name)}})
		}
		return nil, err
	}
	return role, nil
}

// FindByName finds a role by name (case-insensitive)
func (m *RoleManager) FindByName(ctx context.Context, name string) (*storage.Role, error) {
	return m.store.FindRoleByName(ctx, Normalize(name))
}

// Exists reports whether a role named name exists
func (m *RoleManager) Exists(ctx context.Context, name string) (bool, error) {
	_, err := m.FindByName(ctx, name)
	if errors.Is(err, storage.ErrRoleNotFound) {
		return false, nil
	}
	return err == nil, err
}

// EnsureRoles creates any of names that do not exist yet
func (m *RoleManager) EnsureRoles(ctx context.Context, names ...string) error {
	for _, name := range names {
		exists, err := m.Exists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := m.Create(ctx, name); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", name, err)
		}
	}
	return nil
}

// Delete removes the named role
func (m *RoleManager) Delete(ctx context.Context, name string) error {
	role, err := m.FindByName(ctx, name)
	if err != nil {
		return err
	}
	return m.store.DeleteRole(ctx, role.ID)
}

// List returns every role
func (m *RoleManager) List(ctx context.Context) ([]storage.Role, error) {
	return m.store.ListRoles(ctx)
}
