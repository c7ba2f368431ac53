package storage

import (
	"context"
	"time"
)

// User is a persisted identity account
type User struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	UserName           string     `gorm:"size:256;not null" json:"user_name"`
	NormalizedUserName string     `gorm:"size:256;not null;uniqueIndex:idx_users_normalized_user_name" json:"-"`
	Email              string     `gorm:"size:256" json:"email"`
	NormalizedEmail    string     `gorm:"size:256;index:idx_users_unique_normalized_email,unique,where:normalized_email <> ''" json:"-"`
	EmailConfirmed     bool       `gorm:"not null;default:false" json:"email_confirmed"`
	PasswordHash       string     `gorm:"size:100" json:"-"` // Never expose password hash in JSON
	SecurityStamp      string     `gorm:"size:64;not null" json:"-"`
	ConcurrencyStamp   string     `gorm:"size:64;not null" json:"-"`
	LockoutEnd         *time.Time `json:"lockout_end,omitempty"`
	LockoutEnabled     bool       `gorm:"not null;default:true" json:"lockout_enabled"`
	AccessFailedCount  int        `gorm:"not null;default:0" json:"access_failed_count"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsLockedOut reports whether the account is locked at the given instant
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnabled && u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// Role is a named group of users
type Role struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	Name             string    `gorm:"size:256;not null" json:"name"`
	NormalizedName   string    `gorm:"size:256;not null;uniqueIndex" json:"-"`
	ConcurrencyStamp string    `gorm:"size:64;not null" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// UserRole links a user to a role
type UserRole struct {
	UserID string `gorm:"primaryKey;size:36"`
	RoleID string `gorm:"primaryKey;size:36;index"`
	User   User   `gorm:"constraint:OnDelete:CASCADE"`
	Role   Role   `gorm:"constraint:OnDelete:CASCADE"`
}

// UserToken stores a hashed, purpose-scoped token such as an email confirmation code
type UserToken struct {
	UserID    string    `gorm:"primaryKey;size:36"`
	Purpose   string    `gorm:"primaryKey;size:64"`
	TokenHash string    `gorm:"size:128;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	User      User      `gorm:"constraint:OnDelete:CASCADE"`
}

// IdentityModels lists every entity the identity stores persist
func IdentityModels() []any {
	return []any{&User{}, &Role{}, &UserRole{}, &UserToken{}}
}

// UserStore persists users, their role memberships and tokens.
// Name and email arguments are always the normalized forms.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id string) error
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByName(ctx context.Context, normalizedUserName string) (*User, error)
	FindUserByEmail(ctx context.Context, normalizedEmail string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	RecordAccessFailed(ctx context.Context, id string, maxAttempts int, lockoutEnd time.Time) (count int, lockedOut bool, err error)
	ResetAccessFailedCount(ctx context.Context, id string) error
	SetLockoutEnd(ctx context.Context, id string, end *time.Time) error

	AddUserToRole(ctx context.Context, userID, normalizedRoleName string) error
	RemoveUserFromRole(ctx context.Context, userID, normalizedRoleName string) error
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
	IsUserInRole(ctx context.Context, userID, normalizedRoleName string) (bool, error)
	GetUsersInRole(ctx context.Context, normalizedRoleName string) ([]User, error)

	SetToken(ctx context.Context, token *UserToken) error
	GetToken(ctx context.Context, userID, purpose string) (*UserToken, error)
	RemoveToken(ctx context.Context, userID, purpose string) error

	DbContext() *DbContext
}

// RoleStore persists roles
type RoleStore interface {
	CreateRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, id string) error
	FindRoleByID(ctx context.Context, id string) (*Role, error)
	FindRoleByName(ctx context.Context, normalizedName string) (*Role, error)
	ListRoles(ctx context.Context) ([]Role, error)

	DbContext() *DbContext
}
