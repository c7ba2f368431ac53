package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"education/bootstrap"
	testinghelpers "education/testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a config file whose database lives in the test's temp dir,
// so it survives across command invocations
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	content := fmt.Sprintf(`environment: Production
connection_strings:
  MyConnection: %q
database:
  log_level: silent
server:
  urls: "http://127.0.0.1:0"
identity:
  cookie_secret: %q
  bcrypt_cost: %d
logging:
  level: fatal
`, filepath.Join(dir, "cli.db"), testinghelpers.TestCookieSecret, testinghelpers.TestBcryptCost)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// runCmd executes root with args and returns its output
func runCmd(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// openTestApp builds the application over the config at path for assertions
func openTestApp(t *testing.T, path string) *bootstrap.App {
	t.Helper()
	app, cleanup, err := openApp(&globalFlags{configFile: path})
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return app
}

// TestNewUsersCmd tests the users command hierarchy
func TestNewUsersCmd(t *testing.T) {
	cmd := NewUsersCmd()
	assert.Equal(t, "users", cmd.Use)

	actual := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		actual[sub.Name()] = true
	}
	for _, expected := range []string{"create", "confirm", "add-role", "list"} {
		assert.True(t, actual[expected], "Missing command: %s", expected)
	}

	for _, flag := range []string{"config", "environment", "json", "no-color"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

// TestNewRolesCmd tests the roles command hierarchy
func TestNewRolesCmd(t *testing.T) {
	cmd := NewRolesCmd()
	assert.Equal(t, "roles", cmd.Use)

	actual := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		actual[sub.Name()] = true
	}
	assert.True(t, actual["create"])
	assert.True(t, actual["list"])
}

// TestCommandArgValidation tests positional argument counts
func TestCommandArgValidation(t *testing.T) {
	tests := []struct {
		name string
		root func() *cobra.Command
		args []string
	}{
		{"users create without email", NewUsersCmd, []string{"create"}},
		{"users confirm with two args", NewUsersCmd, []string{"confirm", "a@example.com", "b@example.com"}},
		{"users add-role without role", NewUsersCmd, []string{"add-role", "a@example.com"}},
		{"roles create without name", NewRolesCmd, []string{"create"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, tt.root(), tt.args...)
			assert.Error(t, err)
		})
	}
}

// TestUsersCreate_ConfirmedAdmin tests creating a confirmed administrator
func TestUsersCreate_ConfirmedAdmin(t *testing.T) {
	path := writeTestConfig(t)

	out, err := runCmd(t, NewUsersCmd(), "create", "admin@example.com",
		"--password", testinghelpers.TestPassword, "--confirmed", "--role", "Admin", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "User admin@example.com created")
	assert.NotContains(t, out, "Generated password")

	app := openTestApp(t, path)
	ctx := context.Background()
	user, err := app.Users.FindByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.True(t, user.EmailConfirmed)

	roles, err := app.Users.GetRoles(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin"}, roles)

	result, err := app.SignIn.CheckPasswordSignIn(ctx, user, testinghelpers.TestPassword, false)
	require.NoError(t, err)
	assert.True(t, result.Succeeded)
}

// TestUsersCreate_GeneratedPassword tests that a password is generated and printed once
func TestUsersCreate_GeneratedPassword(t *testing.T) {
	path := writeTestConfig(t)

	out, err := runCmd(t, NewUsersCmd(), "create", "ops@example.com", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated password: ")
	assert.Contains(t, out, "education users confirm ops@example.com")

	var password string
	for _, line := range strings.Split(out, "\n") {
		if _, after, ok := strings.Cut(line, "Generated password: "); ok {
			password = strings.TrimSpace(after)
		}
	}
	require.NotEmpty(t, password)

	app := openTestApp(t, path)
	ctx := context.Background()
	user, err := app.Users.FindByEmail(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.False(t, user.EmailConfirmed)
	assert.True(t, app.Users.CheckPassword(user, password))
}

// TestUsersCreate_Errors tests the failures reported by create
func TestUsersCreate_Errors(t *testing.T) {
	path := writeTestConfig(t)

	_, err := runCmd(t, NewUsersCmd(), "create", "a@example.com", "--role", "Auditors", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `role "Auditors" does not exist`)

	_, err = runCmd(t, NewUsersCmd(), "create", "a@example.com", "--password", "short", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Passwords must be at least 6 characters.")

	_, err = runCmd(t, NewUsersCmd(), "create", "a@example.com", "--password", testinghelpers.TestPassword, "--config", path)
	require.NoError(t, err)
	_, err = runCmd(t, NewUsersCmd(), "create", "a@example.com", "--password", testinghelpers.TestPassword, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Username 'a@example.com' is already taken.")
}

// TestUsersConfirm tests confirming an account and confirming it again
func TestUsersConfirm(t *testing.T) {
	path := writeTestConfig(t)

	_, err := runCmd(t, NewUsersCmd(), "create", "u@example.com", "--password", testinghelpers.TestPassword, "--config", path)
	require.NoError(t, err)

	out, err := runCmd(t, NewUsersCmd(), "confirm", "u@example.com", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "User u@example.com confirmed")

	out, err = runCmd(t, NewUsersCmd(), "confirm", "U@Example.com", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already confirmed")

	_, err = runCmd(t, NewUsersCmd(), "confirm", "nobody@example.com", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no user with email nobody@example.com")
}

// TestUsersAddRole tests role membership changes
func TestUsersAddRole(t *testing.T) {
	path := writeTestConfig(t)

	_, err := runCmd(t, NewUsersCmd(), "create", "u@example.com", "--password", testinghelpers.TestPassword, "--config", path)
	require.NoError(t, err)

	out, err := runCmd(t, NewUsersCmd(), "add-role", "u@example.com", "Admin", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "added to role Admin")

	out, err = runCmd(t, NewUsersCmd(), "add-role", "u@example.com", "Admin", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already in role Admin")

	_, err = runCmd(t, NewUsersCmd(), "add-role", "u@example.com", "Ghosts", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `role "Ghosts" does not exist`)
}

// TestUsersList tests the table and JSON listings
func TestUsersList(t *testing.T) {
	path := writeTestConfig(t)

	out, err := runCmd(t, NewUsersCmd(), "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No users found")

	_, err = runCmd(t, NewUsersCmd(), "create", "admin@example.com",
		"--password", testinghelpers.TestPassword, "--confirmed", "--role", "Admin", "--config", path)
	require.NoError(t, err)
	_, err = runCmd(t, NewUsersCmd(), "create", "guest@example.com", "--password", testinghelpers.TestPassword, "--config", path)
	require.NoError(t, err)

	out, err = runCmd(t, NewUsersCmd(), "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "USERS")
	assert.Contains(t, out, "admin@example.com")
	assert.Contains(t, out, "guest@example.com")
	assert.Contains(t, out, "2 user(s), confirmed: No (1/2)")

	out, err = runCmd(t, NewUsersCmd(), "list", "--json", "--config", path)
	require.NoError(t, err)

	var rows []userRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	byEmail := map[string]userRow{}
	for _, r := range rows {
		byEmail[r.Email] = r
	}
	assert.True(t, byEmail["admin@example.com"].EmailConfirmed)
	assert.Equal(t, []string{"Admin"}, byEmail["admin@example.com"].Roles)
	assert.False(t, byEmail["guest@example.com"].EmailConfirmed)
	assert.Empty(t, byEmail["guest@example.com"].Roles)
}

// TestRoles tests creating and listing roles
func TestRoles(t *testing.T) {
	path := writeTestConfig(t)

	out, err := runCmd(t, NewRolesCmd(), "create", "Editors", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Role Editors created")

	_, err = runCmd(t, NewRolesCmd(), "create", "editors", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Role name 'editors' is already taken.")

	_, err = runCmd(t, NewUsersCmd(), "create", "e@example.com",
		"--password", testinghelpers.TestPassword, "--role", "Editors", "--config", path)
	require.NoError(t, err)

	out, err = runCmd(t, NewRolesCmd(), "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ROLES")
	assert.Contains(t, out, "Admin")
	assert.Contains(t, out, "Editors")

	out, err = runCmd(t, NewRolesCmd(), "list", "--json", "--config", path)
	require.NoError(t, err)
	var rows []roleRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.Name] = r.Users
	}
	assert.Equal(t, 0, counts["Admin"])
	assert.Equal(t, 1, counts["Editors"])
}

// TestOpenApp_MissingConnection tests that commands fail like the server without MyConnection
func TestOpenApp_MissingConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: Production\nlogging:\n  level: fatal\n"), 0o600))
	t.Setenv("EDUCATION_CONNECTION_STRINGS_MYCONNECTION", "")

	_, err := runCmd(t, NewUsersCmd(), "list", "--config", path)
	require.Error(t, err)
	assert.Contains(t, bootstrap.FatalBanner(err), "FATAL: Connection String Missing")
}

// TestHostArgs tests the arguments forwarded to the application builder
func TestHostArgs(t *testing.T) {
	assert.Empty(t, (&globalFlags{}).hostArgs())
	assert.Equal(t, []string{"--config", "c.yaml", "--environment", "Staging"},
		(&globalFlags{configFile: "c.yaml", environment: "Staging"}).hostArgs())
}

// TestFormatBool tests the colored boolean formatter
func TestFormatBool(t *testing.T) {
	color.NoColor = true
	assert.Equal(t, "Yes", formatBool(true))
	assert.Equal(t, "No", formatBool(false))
}
