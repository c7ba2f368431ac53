package identity

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"education/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Passw0rd!"

type testIdentity struct {
	dbc    *storage.DbContext
	users  *UserManager
	roles  *RoleManager
	opts   *Options
	logger *zap.SugaredLogger
}

// setupTestIdentity wires managers over a private in-memory database
func setupTestIdentity(t *testing.T, configure func(*Options)) *testIdentity {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return setupTestIdentityAt(t, fmt.Sprintf("file:%s?mode=memory&cache=shared", name), configure)
}

// setupTestIdentityAt wires managers over the SQLite database at connectionString
func setupTestIdentityAt(t *testing.T, connectionString string, configure func(*Options)) *testIdentity {
	t.Helper()

	logger := zap.NewNop().Sugar()
	dbc := storage.NewDbContext(storage.Options{
		Provider:         storage.ProviderSQLite,
		ConnectionString: connectionString,
	}, logger)

	userStore := storage.NewGormUserStore(dbc, logger)
	roleStore := storage.NewGormRoleStore(dbc, logger)
	require.NoError(t, dbc.Open(context.Background()))
	t.Cleanup(func() { _ = dbc.Close() })

	opts := DefaultOptions()
	if configure != nil {
		configure(&opts)
	}

	users := NewUserManager(userStore, &opts, NewBcryptHasher(bcrypt.MinCost), logger)
	roles := NewRoleManager(roleStore, logger)
	users.EnableRoles(roles)

	return &testIdentity{dbc: dbc, users: users, roles: roles, opts: &opts, logger: logger}
}

func (ti *testIdentity) createUser(t *testing.T, name string, confirmed bool) *storage.User {
	t.Helper()
	ctx := context.Background()

	user := &storage.User{UserName: name, Email: name}
	require.NoError(t, ti.users.Create(ctx, user, testPassword))
	if confirmed {
		token, err := ti.users.GenerateEmailConfirmationToken(ctx, user)
		require.NoError(t, err)
		require.NoError(t, ti.users.ConfirmEmail(ctx, user, token))
	}
	return user
}
