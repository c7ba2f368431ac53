// Package testing holds shared fixtures for package tests: in-memory databases,
// wired identity managers and an in-process web host with a cookie-keeping browser.
package testing

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"education/config"
	"education/identity"
	"education/storage"

	"go.uber.org/zap"
)

// SetupTestConfig creates a configuration with defaults and test-friendly values.
// The connection string "MyConnection" points at a private in-memory database.
//
// Example usage:
//
//	cfg := testinghelpers.SetupTestConfig(t)
//	cfg := testinghelpers.SetupTestConfig(t, func(c *config.Config) {
//	    c.Environment = config.EnvironmentDevelopment
//	})
func SetupTestConfig(t *testing.T, overrides ...func(*config.Config)) *config.Config {
	t.Helper()

	cfg, err := config.LoadConfig(config.NewViper())
	if err != nil {
		t.Fatalf("Failed to load default configuration: %v", err)
	}

	cfg.ConnectionStrings = map[string]string{"MyConnection": MemoryDSN(t)}
	cfg.Server.URLs = "http://127.0.0.1:0"
	cfg.Identity.CookieSecret = TestCookieSecret
	cfg.Identity.BcryptCost = TestBcryptCost
	cfg.Identity.LoginRateLimit.RequestsPerMinute = TestLoginRequestsPerMinute
	cfg.Identity.LoginRateLimit.Burst = TestLoginBurst
	cfg.Identity.PrincipalCache.Size = TestPrincipalCacheSize
	cfg.Identity.PrincipalCache.TTL = TestPrincipalCacheTTL
	cfg.Database.LogLevel = "silent"

	for _, override := range overrides {
		override(cfg)
	}
	return cfg
}

// MemoryDSN returns a shared-cache in-memory SQLite DSN unique to the test
func MemoryDSN(t testing.TB) string {
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

// SetupTestDbContext opens an isolated in-memory database with the identity models migrated.
// The database is closed when the test completes via t.Cleanup().
func SetupTestDbContext(t *testing.T) *storage.DbContext {
	t.Helper()

	dbc := storage.NewDbContext(storage.Options{
		Provider:         storage.ProviderSQLite,
		ConnectionString: MemoryDSN(t),
		LogLevel:         "silent",
	}, SetupTestLogger(t))
	dbc.RegisterModels(storage.IdentityModels()...)

	if err := dbc.Open(context.Background()); err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := dbc.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return dbc
}

// SetupTestLogger returns a no-op logger so test output stays readable.
func SetupTestLogger(t testing.TB) *zap.SugaredLogger {
	t.Helper()
	return zap.NewNop().Sugar()
}

// TestIdentity bundles identity managers over one test database
type TestIdentity struct {
	DbContext *storage.DbContext
	Options   *identity.Options
	Users     *identity.UserManager
	Roles     *identity.RoleManager
	SignIn    *identity.SignInManager
	Emails    *identity.LoggingEmailSender
	Limiter   *identity.LoginLimiter
	Logger    *zap.SugaredLogger
}

// SetupTestIdentity wires user, role and sign-in managers with RequireConfirmedAccount
// enabled and role support on. configure may adjust the options before wiring.
func SetupTestIdentity(t *testing.T, configure func(*identity.Options)) *TestIdentity {
	t.Helper()

	logger := SetupTestLogger(t)
	dbc := SetupTestDbContext(t)

	opts := identity.DefaultOptions()
	opts.SignIn.RequireConfirmedAccount = true
	if configure != nil {
		configure(&opts)
	}

	users := identity.NewUserManager(storage.NewGormUserStore(dbc, logger), &opts, identity.NewBcryptHasher(TestBcryptCost), logger)
	roles := identity.NewRoleManager(storage.NewGormRoleStore(dbc, logger), logger)
	users.EnableRoles(roles)

	store := identity.NewCookieStore(TestCookieSecret, opts.Cookie.ExpireTimeSpan)
	signIn := identity.NewSignInManager(users, store, TestPrincipalCacheSize, TestPrincipalCacheTTL, logger)

	limiter := identity.NewLoginLimiter(TestLoginRequestsPerMinute, TestLoginBurst, time.Minute)
	t.Cleanup(limiter.Close)

	return &TestIdentity{
		DbContext: dbc,
		Options:   &opts,
		Users:     users,
		Roles:     roles,
		SignIn:    signIn,
		Emails:    identity.NewLoggingEmailSender(logger),
		Limiter:   limiter,
		Logger:    logger,
	}
}

// CreateUser creates an account whose user name and email are both email,
// with TestPassword, optionally confirmed and placed in roles.
func (ti *TestIdentity) CreateUser(t *testing.T, email string, confirmed bool, roles ...string) *storage.User {
	t.Helper()
	ctx := context.Background()

	user := &storage.User{UserName: email, Email: email}
	if err := ti.Users.Create(ctx, user, TestPassword); err != nil {
		t.Fatalf("Failed to create user %s: %v", email, err)
	}
	if confirmed {
		token, err := ti.Users.GenerateEmailConfirmationToken(ctx, user)
		if err != nil {
			t.Fatalf("Failed to generate confirmation token: %v", err)
		}
		if err := ti.Users.ConfirmEmail(ctx, user, token); err != nil {
			t.Fatalf("Failed to confirm %s: %v", email, err)
		}
	}
	if len(roles) > 0 {
		if err := ti.Roles.EnsureRoles(ctx, roles...); err != nil {
			t.Fatalf("Failed to create roles: %v", err)
		}
		for _, role := range roles {
			if err := ti.Users.AddToRole(ctx, user, role); err != nil {
				t.Fatalf("Failed to add %s to %s: %v", email, role, err)
			}
		}
	}
	return user
}

// WaitForCondition polls a condition function with timeout, replacing sleep-based timing.
// The condition is checked every TestPollInterval; on timeout the test fails with t.Fatalf.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, description string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(TestPollInterval)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}

		<-ticker.C
		if time.Now().After(deadline) {
			t.Fatalf("Timeout waiting for condition: %s (timeout: %v)", description, timeout)
		}
	}
}
