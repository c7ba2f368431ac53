package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"education/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUserManagerCreate_NormalizesAndHashes tests that Create fills normalized fields and hashes the password
func TestUserManagerCreate_NormalizesAndHashes(t *testing.T) {
	ti := setupTestIdentity(t, nil)
	ctx := context.Background()

	user := &storage.User{UserName: "Alice@Example.com", Email: "Alice@Example.com"}
	require.NoError(t, ti.users.Create(ctx, user, testPassword))

	assert.Equal(t, "ALICE@EXAMPLE.COM", user.NormalizedUserName)
	assert.Equal(t, "ALICE@EXAMPLE.COM", user.NormalizedEmail)
	assert.NotEqual(t, testPassword, user.PasswordHash)
	assert.NotEmpty(t, user.SecurityStamp)
	assert.True(t, user.LockoutEnabled)
	assert.False(t, user.EmailConfirmed)

	found, err := ti.users.FindByName(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.True(t, ti.users.CheckPassword(found, testPassword))
	assert.False(t, ti.users.CheckPassword(found, "wrong"))
}

// TestUserManagerCreate_ValidationErrors tests that invalid input yields a ValidationError with codes
func TestUserManagerCreate_ValidationErrors(t *testing.T) {
	ti := setupTestIdentity(t, func(o *Options) { o.User.RequireUniqueEmail = true })
	ctx := context.Background()
	ti.createUser(t, "taken@example.com", false)

	tests := []struct {
		name     string
		user     *storage.User
		password string
		codes    []string
	}{
		{
			name:     "weak password",
			user:     &storage.User{UserName: "bob@example.com", Email: "bob@example.com"},
			password: "abc",
			codes:    []string{CodePasswordTooShort, CodePasswordRequiresDigit, CodePasswordRequiresUpper, CodePasswordRequiresNonAlphanum},
		},
		{
			name:     "invalid characters",
			user:     &storage.User{UserName: "bob smith", Email: "bob@example.com"},
			password: testPassword,
			codes:    []string{CodeInvalidUserName},
		},
		{
			name:     "invalid email",
			user:     &storage.User{UserName: "bob", Email: "not-an-email"},
			password: testPassword,
			codes:    []string{CodeInvalidEmail},
		},
		{
			name:     "duplicate user name",
			user:     &storage.User{UserName: "TAKEN@example.com", Email: "other@example.com"},
			password: testPassword,
			codes:    []string{CodeDuplicateUserName},
		},
		{
			name:     "duplicate email",
			user:     &storage.User{UserName: "carol", Email: "taken@example.com"},
			password: testPassword,
			codes:    []string{CodeDuplicateEmail},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ti.users.Create(ctx, tt.user, tt.password)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			for _, code := range tt.codes {
				assert.True(t, verr.HasCode(code), "expected code %s in %v", code, verr.Descriptions())
			}
		})
	}
}

// TestConfirmEmail tests the confirmation token round trip
func TestConfirmEmail(t *testing.T) {
	ti := setupTestIdentity(t, nil)
	ctx := context.Background()
	user := ti.createUser(t, "alice@example.com", false)

	token, err := ti.users.GenerateEmailConfirmationToken(ctx, user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	assert.ErrorIs(t, ti.users.ConfirmEmail(ctx, user, "bogus"), ErrInvalidToken)
	require.NoError(t, ti.users.ConfirmEmail(ctx, user, token))

	found, err := ti.users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, found.EmailConfirmed)

	// Tokens are single use
	assert.ErrorIs(t, ti.users.ConfirmEmail(ctx, found, token), ErrInvalidToken)
}

// TestConfirmEmail_Expired tests that expired tokens are rejected
func TestConfirmEmail_Expired(t *testing.T) {
	ti := setupTestIdentity(t, nil)
	ctx := context.Background()
	user := ti.createUser(t, "alice@example.com", false)

	token, err := ti.users.GenerateEmailConfirmationToken(ctx, user)
	require.NoError(t, err)

	ti.users.now = func() time.Time { return time.Now().UTC().Add(48 * time.Hour) }
	assert.ErrorIs(t, ti.users.ConfirmEmail(ctx, user, token), ErrInvalidToken)
}

// TestAccessFailed_LocksOut tests lockout after the configured number of failures
func TestAccessFailed_LocksOut(t *testing.T) {
	ti := setupTestIdentity(t, func(o *Options) { o.Lockout.MaxFailedAccessAttempts = 3 })
	ctx := context.Background()
	user := ti.createUser(t, "alice@example.com", true)

	for i := 0; i < 2; i++ {
		require.NoError(t, ti.users.AccessFailed(ctx, user))
		assert.False(t, ti.users.IsLockedOut(user))
	}
	require.NoError(t, ti.users.AccessFailed(ctx, user))
	assert.True(t, ti.users.IsLockedOut(user))
	assert.Equal(t, 0, user.AccessFailedCount)

	require.NoError(t, ti.users.SetLockoutEnd(ctx, user, nil))
	assert.False(t, ti.users.IsLockedOut(user))
}

// TestChangePassword tests password change and stamp rotation
func TestChangePassword(t *testing.T) {
	ti := setupTestIdentity(t, nil)
	ctx := context.Background()
	user := ti.createUser(t, "alice@example.com", true)
	stamp := user.SecurityStamp

	var notified []string
	ti.users.OnSecurityStampChanged(func(id string) { notified = append(notified, id) })

	assert.ErrorIs(t, ti.users.ChangePassword(ctx, user, "wrong", "N3w-Password"), ErrPasswordMismatch)
	require.NoError(t, ti.users.ChangePassword(ctx, user, testPassword, "N3w-Password"))

	assert.NotEqual(t, stamp, user.SecurityStamp)
	assert.Equal(t, []string{user.ID}, notified)
	assert.True(t, ti.users.CheckPassword(user, "N3w-Password"))
}

// TestRoles tests role membership through the managers
func TestRoles(t *testing.T) {
	ti := setupTestIdentity(t, nil)
	ctx := context.Background()
	user := ti.createUser(t, "alice@example.com", true)

	require.NoError(t, ti.roles.EnsureRoles(ctx, "Admin", "Editor"))
	require.NoError(t, ti.roles.EnsureRoles(ctx, "admin"))

	roles, err := ti.roles.List(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	_, err = ti.roles.Create(ctx, "ADMIN")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.HasCode(CodeDuplicateRoleName))

	require.NoError(t, ti.users.AddToRole(ctx, user, "admin"))
	in, err := ti.users.IsInRole(ctx, user, "Admin")
	require.NoError(t, err)
	assert.True(t, in)

	names, err := ti.users.GetRoles(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin"}, names)

	members, err := ti.users.GetUsersInRole(ctx, "ADMIN")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, user.ID, members[0].ID)

	require.NoError(t, ti.users.RemoveFromRole(ctx, user, "Admin"))
	in, err = ti.users.IsInRole(ctx, user, "Admin")
	require.NoError(t, err)
	assert.False(t, in)
}

// TestRoles_NotEnabled tests that role operations fail without role support
func TestRoles_NotEnabled(t *testing.T) {
	ti := setupTestIdentity(t, nil)
	ctx := context.Background()
	user := ti.createUser(t, "alice@example.com", true)

	plain := NewUserManager(ti.users.Store(), ti.opts, NewBcryptHasher(4), ti.logger)
	assert.False(t, plain.SupportsRoles())
	assert.ErrorIs(t, plain.AddToRole(ctx, user, "Admin"), ErrRolesNotEnabled)

	roles, err := plain.GetRoles(ctx, user)
	assert.NoError(t, err)
	assert.Empty(t, roles)
}
