package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"education/storage"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Token purposes
const (
	PurposeEmailConfirmation = "EmailConfirmation"
)

// Normalize returns the lookup form of a user name, email or role name
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// userInput is the shape checked by the struct validator before any store access
type userInput struct {
	UserName string `validate:"required,max=256"`
	Email    string `validate:"omitempty,email,max=256"`
}

// UserManager implements account operations over a UserStore
type UserManager struct {
	store    storage.UserStore
	opts     *Options
	hasher   PasswordHasher
	validate *validator.Validate
	logger   *zap.SugaredLogger
	roles    *RoleManager
	now      func() time.Time

	stampListeners []func(userID string)
}

// NewUserManager creates a user manager. Role operations stay disabled until EnableRoles is called.
func NewUserManager(store storage.UserStore, opts *Options, hasher PasswordHasher, logger *zap.SugaredLogger) *UserManager {
	return &UserManager{
		store:    store,
		opts:     opts,
		hasher:   hasher,
		validate: validator.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnableRoles turns on role membership operations backed by roles
func (m *UserManager) EnableRoles(roles *RoleManager) {
	m.roles = roles
}

// SupportsRoles reports whether role operations are enabled
func (m *UserManager) SupportsRoles() bool {
	return m.roles != nil
}

// OnSecurityStampChanged registers fn to run after a user's security stamp
// rotates or the user is deleted
func (m *UserManager) OnSecurityStampChanged(fn func(userID string)) {
	m.stampListeners = append(m.stampListeners, fn)
}

func (m *UserManager) notifyStampChanged(userID string) {
	for _, fn := range m.stampListeners {
		fn(userID)
	}
}

// Store returns the underlying user store
func (m *UserManager) Store() storage.UserStore {
	return m.store
}

// Options returns the identity options the manager enforces
func (m *UserManager) Options() *Options {
	return m.opts
}

// Create validates user and password, hashes the password and persists the user.
// Validation failures are returned as *ValidationError.
func (m *UserManager) Create(ctx context.Context, user *storage.User, password string) error {
	user.NormalizedUserName = Normalize(user.UserName)
	user.NormalizedEmail = Normalize(user.Email)
	if user.SecurityStamp == "" {
		user.SecurityStamp = newSecurityStamp()
	}
	user.LockoutEnabled = m.opts.Lockout.AllowedForNewUsers

	errs := m.validateUser(ctx, user)
	if password != "" {
		errs = append(errs, ValidatePassword(m.opts.Password, password)...)
	}
	if err := validationError(errs); err != nil {
		return err
	}

	if password != "" {
		hash, err := m.hasher.Hash(password)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
	}

	if err := m.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicateUserName) {
			return validationError([]IdentityError{duplicateUserName(user.UserName)})
		}
		return err
	}
	return nil
}

func duplicateUserName(name string) IdentityError {
	return IdentityError{Code: CodeDuplicateUserName, Description: fmt.Sprintf("Username '%s' is already taken.", name)}
}

func (m *UserManager) validateUser(ctx context.Context, user *storage.User) []IdentityError {
	var errs []IdentityError

	if err := m.validate.Struct(userInput{UserName: user.UserName, Email: user.Email}); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				switch fe.Field() {
				case "UserName":
					errs = append(errs, IdentityError{Code: CodeInvalidUserName, Description: fmt.Sprintf("Username '%s' is invalid.", user.UserName)})
				case "Email":
					errs = append(errs, IdentityError{Code: CodeInvalidEmail, Description: fmt.Sprintf("Email '%s' is invalid.", user.Email)})
				}
			}
		}
	}

	if allowed := m.opts.User.AllowedUserNameCharacters; allowed != "" && user.UserName != "" {
		for _, r := range user.UserName {
			if !strings.ContainsRune(allowed, r) {
				errs = append(errs, IdentityError{Code: CodeInvalidUserName, Description: fmt.Sprintf("Username '%s' is invalid, can only contain letters or digits.", user.UserName)})
				break
			}
		}
	}

	if user.NormalizedUserName != "" {
		if existing, err := m.store.FindUserByName(ctx, user.NormalizedUserName); err == nil && existing.ID != user.ID {
			errs = append(errs, duplicateUserName(user.UserName))
		}
	}

	if m.opts.User.RequireUniqueEmail {
		if user.Email == "" {
			errs = append(errs, IdentityError{Code: CodeInvalidEmail, Description: "Email '' is invalid."})
		} else if existing, err := m.store.FindUserByEmail(ctx, user.NormalizedEmail); err == nil && existing.ID != user.ID {
			errs = append(errs, IdentityError{Code: CodeDuplicateEmail, Description: fmt.Sprintf("Email '%s' is already taken.", user.Email)})
		}
	}

	return errs
}

// Update validates and saves user
func (m *UserManager) Update(ctx context.Context, user *storage.User) error {
	user.NormalizedUserName = Normalize(user.UserName)
	user.NormalizedEmail = Normalize(user.Email)
	if err := validationError(m.validateUser(ctx, user)); err != nil {
		return err
	}
	return m.store.UpdateUser(ctx, user)
}

// Delete removes user
func (m *UserManager) Delete(ctx context.Context, user *storage.User) error {
	if err := m.store.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	m.notifyStampChanged(user.ID)
	return nil
}

// FindByID finds a user by ID
func (m *UserManager) FindByID(ctx context.Context, id string) (*storage.User, error) {
	return m.store.FindUserByID(ctx, id)
}

// FindByName finds a user by user name (case-insensitive)
func (m *UserManager) FindByName(ctx context.Context, userName string) (*storage.User, error) {
	return m.store.FindUserByName(ctx, Normalize(userName))
}

// FindByEmail finds a user by email (case-insensitive)
func (m *UserManager) FindByEmail(ctx context.Context, email string) (*storage.User, error) {
	return m.store.FindUserByEmail(ctx, Normalize(email))
}

// List returns every user
func (m *UserManager) List(ctx context.Context) ([]storage.User, error) {
	return m.store.ListUsers(ctx)
}

// CheckPassword reports whether password verifies against the user's hash
func (m *UserManager) CheckPassword(user *storage.User, password string) bool {
	return m.hasher.Verify(user.PasswordHash, password)
}

// ChangePassword replaces the password after verifying the current one, and rotates the security stamp
func (m *UserManager) ChangePassword(ctx context.Context, user *storage.User, current, next string) error {
	if !m.CheckPassword(user, current) {
		return ErrPasswordMismatch
	}
	if err := validationError(ValidatePassword(m.opts.Password, next)); err != nil {
		return err
	}
	hash, err := m.hasher.Hash(next)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return m.UpdateSecurityStamp(ctx, user)
}

// UpdateSecurityStamp rotates the stamp, invalidating existing sign-ins
func (m *UserManager) UpdateSecurityStamp(ctx context.Context, user *storage.User) error {
	user.SecurityStamp = newSecurityStamp()
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return err
	}
	m.notifyStampChanged(user.ID)
	return nil
}

// IsEmailConfirmed reports whether the user's email has been confirmed
func (m *UserManager) IsEmailConfirmed(user *storage.User) bool {
	return user.EmailConfirmed
}

// GenerateEmailConfirmationToken issues a new confirmation token, replacing any earlier one.
// Only a hash of the token is stored.
func (m *UserManager) GenerateEmailConfirmationToken(ctx context.Context, user *storage.User) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	err := m.store.SetToken(ctx, &storage.UserToken{
		UserID:    user.ID,
		Purpose:   PurposeEmailConfirmation,
		TokenHash: hashToken(token),
		ExpiresAt: m.now().Add(m.opts.Tokens.EmailConfirmationLifespan),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ConfirmEmail marks the user's email confirmed when token is valid
func (m *UserManager) ConfirmEmail(ctx context.Context, user *storage.User, token string) error {
	stored, err := m.store.GetToken(ctx, user.ID, PurposeEmailConfirmation)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	if m.now().After(stored.ExpiresAt) {
		_ = m.store.RemoveToken(ctx, user.ID, PurposeEmailConfirmation)
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(stored.TokenHash), []byte(hashToken(token))) != 1 {
		return ErrInvalidToken
	}

	user.EmailConfirmed = true
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return err
	}
	if err := m.store.RemoveToken(ctx, user.ID, PurposeEmailConfirmation); err != nil {
		m.logger.Warnw("Failed to remove used confirmation token", "user_id", user.ID, "error", err)
	}

	m.logger.Infow("AUDIT: email confirmed", "user_id", user.ID, "user", user.UserName)
	return nil
}

// IsLockedOut reports whether user is currently locked out
func (m *UserManager) IsLockedOut(user *storage.User) bool {
	return user.IsLockedOut(m.now())
}

// AccessFailed records a failed sign-in and locks the account once the threshold is reached.
// The count is kept by the store so concurrent failures for one account all add up.
func (m *UserManager) AccessFailed(ctx context.Context, user *storage.User) error {
	end := m.now().Add(m.opts.Lockout.DefaultLockoutTimeSpan)
	count, locked, err := m.store.RecordAccessFailed(ctx, user.ID, m.opts.Lockout.MaxFailedAccessAttempts, end)
	if err != nil {
		return err
	}

	user.AccessFailedCount = count
	if locked {
		user.LockoutEnd = &end
		m.logger.Warnw("AUDIT: account locked out",
			"user_id", user.ID,
			"user", user.UserName,
			"lockout_end", end)
	}
	return nil
}

// ResetAccessFailedCount clears the failed sign-in counter
func (m *UserManager) ResetAccessFailedCount(ctx context.Context, user *storage.User) error {
	if user.AccessFailedCount == 0 {
		return nil
	}
	if err := m.store.ResetAccessFailedCount(ctx, user.ID); err != nil {
		return err
	}
	user.AccessFailedCount = 0
	return nil
}

// SetLockoutEnd locks the user until end; a nil end unlocks
func (m *UserManager) SetLockoutEnd(ctx context.Context, user *storage.User, end *time.Time) error {
	if err := m.store.SetLockoutEnd(ctx, user.ID, end); err != nil {
		return err
	}
	user.LockoutEnd = end
	return nil
}

// AddToRole adds the user to the named role
func (m *UserManager) AddToRole(ctx context.Context, user *storage.User, role string) error {
	if m.roles == nil {
		return ErrRolesNotEnabled
	}
	if err := m.store.AddUserToRole(ctx, user.ID, Normalize(role)); err != nil {
		return err
	}
	m.logger.Infow("AUDIT: user added to role", "user_id", user.ID, "user", user.UserName, "role", role)
	return m.UpdateSecurityStamp(ctx, user)
}

// RemoveFromRole removes the user from the named role
func (m *UserManager) RemoveFromRole(ctx context.Context, user *storage.User, role string) error {
	if m.roles == nil {
		return ErrRolesNotEnabled
	}
	if err := m.store.RemoveUserFromRole(ctx, user.ID, Normalize(role)); err != nil {
		return err
	}
	m.logger.Infow("AUDIT: user removed from role", "user_id", user.ID, "user", user.UserName, "role", role)
	return m.UpdateSecurityStamp(ctx, user)
}

// GetRoles returns the names of the user's roles; empty when roles are disabled
func (m *UserManager) GetRoles(ctx context.Context, user *storage.User) ([]string, error) {
	if m.roles == nil {
		return nil, nil
	}
	return m.store.GetUserRoles(ctx, user.ID)
}

// IsInRole reports whether the user holds the named role
func (m *UserManager) IsInRole(ctx context.Context, user *storage.User, role string) (bool, error) {
	if m.roles == nil {
		return false, ErrRolesNotEnabled
	}
	return m.store.IsUserInRole(ctx, user.ID, Normalize(role))
}

// GetUsersInRole returns the users holding the named role
func (m *UserManager) GetUsersInRole(ctx context.Context, role string) ([]storage.User, error) {
	if m.roles == nil {
		return nil, ErrRolesNotEnabled
	}
	return m.store.GetUsersInRole(ctx, Normalize(role))
}

func newSecurityStamp() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
