package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"education/bootstrap"
	"education/storage"

	"github.com/spf13/cobra"
)

const generatedPasswordLength = 20

// userRow is the listing form of a user account
type userRow struct {
	ID             string   `json:"id"`
	UserName       string   `json:"user_name"`
	Email          string   `json:"email"`
	EmailConfirmed bool     `json:"email_confirmed"`
	LockedOut      bool     `json:"locked_out"`
	Roles          []string `json:"roles"`
	CreatedAt      string   `json:"created_at"`
}

// NewUsersCmd creates the users command with its subcommands
func NewUsersCmd() *cobra.Command {
	flags := &globalFlags{}

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
		Long: `Manage user accounts in the application database.

Accounts created here can sign in through the account pages. Use --confirmed to skip
email confirmation and --role Admin to grant access to the administration pages.`,
	}
	addGlobalFlags(usersCmd, flags)

	usersCmd.AddCommand(newUsersCreateCmd(flags))
	usersCmd.AddCommand(newUsersConfirmCmd(flags))
	usersCmd.AddCommand(newUsersAddRoleCmd(flags))
	usersCmd.AddCommand(newUsersListCmd(flags))

	return usersCmd
}

// newUsersCreateCmd creates the 'create' subcommand
func newUsersCreateCmd(flags *globalFlags) *cobra.Command {
	var (
		password  string
		confirmed bool
		roles     []string
	)

	cmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a user account",
		Long:  "Create a user account whose user name is its email. A password is generated when --password is omitted.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := strings.TrimSpace(args[0])
			out := cmd.OutOrStdout()

			generated := false
			if password == "" {
				p, err := bootstrap.GenerateSecurePassword(generatedPasswordLength)
				if err != nil {
					return err
				}
				password = p
				generated = true
			}

			return withApp(flags, func(ctx context.Context, app *bootstrap.App) error {
				for _, role := range roles {
					exists, err := app.Roles.Exists(ctx, role)
					if err != nil {
						return fmt.Errorf("failed to look up role %s: %w", role, err)
					}
					if !exists {
						return fmt.Errorf("role %q does not exist, create it with 'education roles create %s'", role, role)
					}
				}

				user := &storage.User{UserName: email, Email: email}
				if err := app.Users.Create(ctx, user, password); err != nil {
					return fmt.Errorf("failed to create user: %w", describe(err))
				}

				if confirmed {
					if err := confirmUser(ctx, app, user); err != nil {
						return err
					}
				}
				for _, role := range roles {
					if err := app.Users.AddToRole(ctx, user, role); err != nil {
						return fmt.Errorf("failed to add %s to %s: %w", email, role, err)
					}
				}

				if flags.outputJSON {
					row, err := toUserRow(ctx, app, user)
					if err != nil {
						return err
					}
					return outputAsJSON(out, row)
				}

				successColor.Fprintf(out, "✓ User %s created (id %s)\n", user.UserName, user.ID)
				if generated {
					warningColor.Fprintf(out, "  Generated password: %s\n", password)
					warningColor.Fprintln(out, "  Store it now, it will not be shown again.")
				}
				if !confirmed && app.IdentityOptions.SignIn.RequireConfirmedAccount {
					infoColor.Fprintf(out, "  Sign-in requires confirmation: education users confirm %s\n", email)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "Account password (generated when empty)")
	cmd.Flags().BoolVar(&confirmed, "confirmed", false, "Mark the email as confirmed")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to add the user to (repeatable)")

	return cmd
}

// newUsersConfirmCmd creates the 'confirm' subcommand
func newUsersConfirmCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <email>",
		Short: "Confirm the email of a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withApp(flags, func(ctx context.Context, app *bootstrap.App) error {
				user, err := findUser(ctx, app, args[0])
				if err != nil {
					return err
				}
				if user.EmailConfirmed {
					infoColor.Fprintf(out, "User %s is already confirmed\n", user.UserName)
					return nil
				}
				if err := confirmUser(ctx, app, user); err != nil {
					return err
				}
				successColor.Fprintf(out, "✓ User %s confirmed\n", user.UserName)
				return nil
			})
		},
	}
}

// newUsersAddRoleCmd creates the 'add-role' subcommand
func newUsersAddRoleCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add-role <email> <role>",
		Short: "Add a user account to a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			role := args[1]
			return withApp(flags, func(ctx context.Context, app *bootstrap.App) error {
				user, err := findUser(ctx, app, args[0])
				if err != nil {
					return err
				}
				if err := app.Users.AddToRole(ctx, user, role); err != nil {
					switch {
					case errors.Is(err, storage.ErrRoleNotFound):
						return fmt.Errorf("role %q does not exist", role)
					case errors.Is(err, storage.ErrUserAlreadyInRole):
						infoColor.Fprintf(out, "User %s is already in role %s\n", user.UserName, role)
						return nil
					}
					return fmt.Errorf("failed to add %s to %s: %w", user.UserName, role, err)
				}
				successColor.Fprintf(out, "✓ User %s added to role %s\n", user.UserName, role)
				return nil
			})
		},
	}
}

// newUsersListCmd creates the 'list' subcommand
func newUsersListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withApp(flags, func(ctx context.Context, app *bootstrap.App) error {
				users, err := app.Users.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list users: %w", err)
				}

				rows := make([]userRow, 0, len(users))
				for i := range users {
					row, err := toUserRow(ctx, app, &users[i])
					if err != nil {
						return err
					}
					rows = append(rows, row)
				}

				if flags.outputJSON {
					return outputAsJSON(out, rows)
				}
				renderUsersTable(out, rows)
				return nil
			})
		},
	}
}

func findUser(ctx context.Context, app *bootstrap.App, email string) (*storage.User, error) {
	user, err := app.Users.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", email, err)
	}
	return user, nil
}

func confirmUser(ctx context.Context, app *bootstrap.App, user *storage.User) error {
	token, err := app.Users.GenerateEmailConfirmationToken(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to generate confirmation token: %w", err)
	}
	if err := app.Users.ConfirmEmail(ctx, user, token); err != nil {
		return fmt.Errorf("failed to confirm %s: %w", user.UserName, err)
	}
	return nil
}

func toUserRow(ctx context.Context, app *bootstrap.App, user *storage.User) (userRow, error) {
	roles, err := app.Users.GetRoles(ctx, user)
	if err != nil {
		return userRow{}, fmt.Errorf("failed to load roles of %s: %w", user.UserName, err)
	}
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:             user.ID,
		UserName:       user.UserName,
		Email:          user.Email,
		EmailConfirmed: user.EmailConfirmed,
		LockedOut:      app.Users.IsLockedOut(user),
		Roles:          roles,
		CreatedAt:      formatTime(user.CreatedAt),
	}, nil
}
