package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormRoleStore implements RoleStore on top of a DbContext
type GormRoleStore struct {
	dbc    *DbContext
	logger *zap.SugaredLogger
}

// NewGormRoleStore creates a role store bound to dbc
func NewGormRoleStore(dbc *DbContext, logger *zap.SugaredLogger) *GormRoleStore {
	dbc.RegisterModels(&Role{}, &UserRole{})
	return &GormRoleStore{dbc: dbc, logger: logger}
}

// DbContext returns the session factory the store persists through
func (s *GormRoleStore) DbContext() *DbContext {
	return s.dbc
}

// CreateRole inserts a new role
func (s *GormRoleStore) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	if role.ConcurrencyStamp == "" {
		role.ConcurrencyStamp = uuid.NewString()
	}

	db, err := s.dbc.Session(ctx)
	if err != nil {
		return err
	}

	if err := db.Create(role).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRole
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	s.logger.Infof("Created role %s (ID: %s)", role.Name, role.ID)
	return nil
}

// UpdateRole renames a role, guarded by its ConcurrencyStamp
func (s *GormRoleStore) UpdateRole(ctx context.Context, role *Role) error {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return err
	}

	next := uuid.NewString()
	result := db.Model(&Role{}).
		Where("id = ? AND concurrency_stamp = ?", role.ID, role.ConcurrencyStamp).
		Updates(map[string]interface{}{
			"name":              role.Name,
			"normalized_name":   role.NormalizedName,
			"concurrency_stamp": next,
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ErrDuplicateRole
		}
		return fmt.Errorf("failed to update role: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.FindRoleByID(ctx, role.ID); err != nil {
			return err
		}
		return ErrConcurrencyFailure
	}

	role.ConcurrencyStamp = next
	return nil
}

// DeleteRole removes a role; memberships cascade
func (s *GormRoleStore) DeleteRole(ctx context.Context, id string) error {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return err
	}

	result := db.Delete(&Role{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete role: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRoleNotFound
	}

	s.logger.Infof("Deleted role (ID: %s)", id)
	return nil
}

func (s *GormRoleStore) findRole(ctx context.Context, query, arg string) (*Role, error) {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return nil, err
	}

	var role Role
	if err := db.Where(query, arg).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// FindRoleByID retrieves a role by ID
func (s *GormRoleStore) FindRoleByID(ctx context.Context, id string) (*Role, error) {
	return s.findRole(ctx, "id = ?", id)
}

// FindRoleByName retrieves a role by normalized name
func (s *GormRoleStore) FindRoleByName(ctx context.Context, normalizedName string) (*Role, error) {
	return s.findRole(ctx, "normalized_name = ?", normalizedName)
}

// ListRoles returns all roles ordered by name
func (s *GormRoleStore) ListRoles(ctx context.Context) ([]Role, error) {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return nil, err
	}

	var roles []Role
	if err := db.Order("normalized_name").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}
