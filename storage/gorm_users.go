package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormUserStore implements UserStore on top of a DbContext
type GormUserStore struct {
	dbc    *DbContext
	logger *zap.SugaredLogger
}

// NewGormUserStore creates a user store bound to dbc and registers its entities for migration
func NewGormUserStore(dbc *DbContext, logger *zap.SugaredLogger) *GormUserStore {
	dbc.RegisterModels(IdentityModels()...)
	return &GormUserStore{dbc: dbc, logger: logger}
}

// DbContext returns the session factory the store persists through
func (s *GormUserStore) DbContext() *DbContext {
	return s.dbc
}

// CreateUser inserts a new user. ID and ConcurrencyStamp are generated when empty.
func (s *GormUserStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.ConcurrencyStamp == "" {
		user.ConcurrencyStamp = uuid.NewString()
	}

	err := s.dbc.WithTransaction(ctx, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("normalized_user_name = ?", user.NormalizedUserName).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check user name: %w", err)
		}
		if count > 0 {
			return ErrDuplicateUserName
		}
		if user.NormalizedEmail != "" {
			if err := tx.Model(&User{}).Where("normalized_email = ?", user.NormalizedEmail).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check email: %w", err)
			}
			if count > 0 {
				return ErrDuplicateEmail
			}
		}
		if err := tx.Create(user).Error; err != nil {
			if isUniqueViolation(err) {
				return err
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
	if isUniqueViolation(err) {
		return s.duplicateUser(ctx, user, err)
	}
	if err != nil {
		return err
	}

	s.logger.Infof("Created user %s (ID: %s)", user.UserName, user.ID)
	return nil
}

// UpdateUser saves user if its ConcurrencyStamp still matches the stored row,
// then rotates the stamp.
func (s *GormUserStore) UpdateUser(ctx context.Context, user *User) error {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return err
	}

	expected := user.ConcurrencyStamp
	next := uuid.NewString()

	result := db.Model(&User{}).
		Where("id = ? AND concurrency_stamp = ?", user.ID, expected).
		Updates(map[string]interface{}{
			"user_name":            user.UserName,
			"normalized_user_name": user.NormalizedUserName,
			"email":                user.Email,
			"normalized_email":     user.NormalizedEmail,
			"email_confirmed":      user.EmailConfirmed,
			"password_hash":        user.PasswordHash,
			"security_stamp":       user.SecurityStamp,
			"concurrency_stamp":    next,
			"lockout_end":          user.LockoutEnd,
			"lockout_enabled":      user.LockoutEnabled,
			"access_failed_count":  user.AccessFailedCount,
		})
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return s.duplicateUser(ctx, user, result.Error)
		}
		return fmt.Errorf("failed to update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.FindUserByID(ctx, user.ID); err != nil {
			return err
		}
		return ErrConcurrencyFailure
	}

	user.ConcurrencyStamp = next
	return nil
}

// duplicateUser names the unique index a write of user collided with. Drivers that
// translate the violation drop the index name, so the rows are checked instead.
func (s *GormUserStore) duplicateUser(ctx context.Context, user *User, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "normalized_email"):
		return ErrDuplicateEmail
	case strings.Contains(msg, "normalized_user_name"):
		return ErrDuplicateUserName
	}

	if user.NormalizedEmail != "" {
		if other, findErr := s.FindUserByEmail(ctx, user.NormalizedEmail); findErr == nil && other.ID != user.ID {
			return ErrDuplicateEmail
		}
	}
	return ErrDuplicateUserName
}

// RecordAccessFailed counts a failed sign-in in one transaction. When the count
// reaches maxAttempts the user is locked until lockoutEnd and the count restarts.
func (s *GormUserStore) RecordAccessFailed(ctx context.Context, id string, maxAttempts int, lockoutEnd time.Time) (int, bool, error) {
	var (
		count  int
		locked bool
	)
	err := s.dbc.WithTransaction(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&User{}).Where("id = ?", id).
			UpdateColumn("access_failed_count", gorm.Expr("access_failed_count + ?", 1))
		if result.Error != nil {
			return fmt.Errorf("failed to record failed access: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrUserNotFound
		}

		if err := tx.Model(&User{}).Select("access_failed_count").Where("id = ?", id).Row().Scan(&count); err != nil {
			return fmt.Errorf("failed to read failed access count: %w", err)
		}
		if count < maxAttempts {
			return nil
		}

		if err := tx.Model(&User{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
			"lockout_end":         lockoutEnd,
			"access_failed_count": 0,
		}).Error; err != nil {
			return fmt.Errorf("failed to lock out user: %w", err)
		}
		count = 0
		locked = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return count, locked, nil
}

// ResetAccessFailedCount clears the failed sign-in count of a user
func (s *GormUserStore) ResetAccessFailedCount(ctx context.Context, id string) error {
	return s.updateLockoutColumn(ctx, id, "access_failed_count", 0)
}

// SetLockoutEnd locks a user until end; nil unlocks
func (s *GormUserStore) SetLockoutEnd(ctx context.Context, id string, end *time.Time) error {
	return s.updateLockoutColumn(ctx, id, "lockout_end", end)
}

// updateLockoutColumn writes one lockout column without the concurrency check,
// so concurrent sign-ins never fail each other.
func (s *GormUserStore) updateLockoutColumn(ctx context.Context, id, column string, value interface{}) error {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return err
	}

	result := db.Model(&User{}).Where("id = ?", id).UpdateColumn(column, value)
	if result.Error != nil {
		return fmt.Errorf("failed to update %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user; role links and tokens cascade
func (s *GormUserStore) DeleteUser(ctx context.Context, id string) error {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return err
	}

	result := db.Delete(&User{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	s.logger.Infof("Deleted user (ID: %s)", id)
	return nil
}

func (s *GormUserStore) findUser(ctx context.Context, query string, arg string) (*User, error) {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return nil, err
	}

	var user User
	if err := db.Where(query, arg).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// FindUserByID retrieves a user by ID
func (s *GormUserStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, "id = ?", id)
}

// FindUserByName retrieves a user by normalized user name
func (s *GormUserStore) FindUserByName(ctx context.Context, normalizedUserName string) (*User, error) {
	return s.findUser(ctx, "normalized_user_name = ?", normalizedUserName)
}

// FindUserByEmail retrieves a user by normalized email
func (s *GormUserStore) FindUserByEmail(ctx context.Context, normalizedEmail string) (*User, error) {
	return s.findUser(ctx, "normalized_email = ?", normalizedEmail)
}

// ListUsers returns all users ordered by user name
func (s *GormUserStore) ListUsers(ctx context.Context) ([]User, error) {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return nil, err
	}

	var users []User
	if err := db.Order("normalized_user_name").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *GormUserStore) roleID(tx *gorm.DB, normalizedRoleName string) (string, error) {
	var role Role
	if err := tx.Select("id").Where("normalized_name = ?", normalizedRoleName).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrRoleNotFound
		}
		return "", fmt.Errorf("failed to get role: %w", err)
	}
	return role.ID, nil
}

// AddUserToRole links a user to the named role
func (s *GormUserStore) AddUserToRole(ctx context.Context, userID, normalizedRoleName string) error {
	return s.dbc.WithTransaction(ctx, func(tx *gorm.DB) error {
		roleID, err := s.roleID(tx, normalizedRoleName)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&UserRole{}).Where("user_id = ? AND role_id = ?", userID, roleID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check role membership: %w", err)
		}
		if count > 0 {
			return ErrUserAlreadyInRole
		}

		if err := tx.Omit(clause.Associations).Create(&UserRole{UserID: userID, RoleID: roleID}).Error; err != nil {
			return fmt.Errorf("failed to add user to role: %w", err)
		}
		return nil
	})
}

// RemoveUserFromRole unlinks a user from the named role
func (s *GormUserStore) RemoveUserFromRole(ctx context.Context, userID, normalizedRoleName string) error {
	return s.dbc.WithTransaction(ctx, func(tx *gorm.DB) error {
		roleID, err := s.roleID(tx, normalizedRoleName)
		if err != nil {
			return err
		}

		result := tx.Where("user_id = ? AND role_id = ?", userID, roleID).Delete(&UserRole{})
		if result.Error != nil {
			return fmt.Errorf("failed to remove user from role: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrUserNotInRole
		}
		return nil
	})
}

// GetUserRoles returns the display names of the user's roles, sorted
func (s *GormUserStore) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return nil, err
	}

	var names []string
	err = db.Model(&Role{}).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.normalized_name").
		Pluck("roles.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	return names, nil
}

// IsUserInRole reports whether the user holds the named role
func (s *GormUserStore) IsUserInRole(ctx context.Context, userID, normalizedRoleName string) (bool, error) {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return false, err
	}

	var count int64
	err = db.Model(&UserRole{}).
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("user_roles.user_id = ? AND roles.normalized_name = ?", userID, normalizedRoleName).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check role membership: %w", err)
	}
	return count > 0, nil
}

// GetUsersInRole returns all users holding the named role
func (s *GormUserStore) GetUsersInRole(ctx context.Context, normalizedRoleName string) ([]User, error) {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return nil, err
	}

	var users []User
	err = db.Select("users.*").
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("roles.normalized_name = ?", normalizedRoleName).
		Order("users.normalized_user_name").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get users in role: %w", err)
	}
	return users, nil
}

// SetToken stores or replaces the token for (UserID, Purpose)
func (s *GormUserStore) SetToken(ctx context.Context, token *UserToken) error {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return err
	}

	err = db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "purpose"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_hash", "expires_at"}),
	}).Create(token).Error
	if err != nil {
		return fmt.Errorf("failed to store user token: %w", err)
	}
	return nil
}

// GetToken retrieves the token for (userID, purpose)
func (s *GormUserStore) GetToken(ctx context.Context, userID, purpose string) (*UserToken, error) {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return nil, err
	}

	var token UserToken
	if err := db.Where("user_id = ? AND purpose = ?", userID, purpose).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get user token: %w", err)
	}
	return &token, nil
}

// RemoveToken deletes the token for (userID, purpose); missing tokens are not an error
func (s *GormUserStore) RemoveToken(ctx context.Context, userID, purpose string) error {
	db, err := s.dbc.Session(ctx)
	if err != nil {
		return err
	}

	if err := db.Where("user_id = ? AND purpose = ?", userID, purpose).Delete(&UserToken{}).Error; err != nil {
		return fmt.Errorf("failed to remove user token: %w", err)
	}
	return nil
}
