package cmd

import (
	"context"
	"fmt"

	"education/bootstrap"

	"github.com/spf13/cobra"
)

// roleRow is the listing form of a role
type roleRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Users     int    `json:"users"`
	CreatedAt string `json:"created_at"`
}

// NewRolesCmd creates the roles command with its subcommands
func NewRolesCmd() *cobra.Command {
	flags := &globalFlags{}

	rolesCmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage roles",
		Long:  "Create and list the roles that authorize access to protected pages.",
	}
	addGlobalFlags(rolesCmd, flags)

	rolesCmd.AddCommand(newRolesCreateCmd(flags))
	rolesCmd.AddCommand(newRolesListCmd(flags))

	return rolesCmd
}

// newRolesCreateCmd creates the 'create' subcommand
func newRolesCreateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withApp(flags, func(ctx context.Context, app *bootstrap.App) error {
				role, err := app.Roles.Create(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to create role: %w", describe(err))
				}
				if flags.outputJSON {
					return outputAsJSON(out, roleRow{ID: role.ID, Name: role.Name, CreatedAt: formatTime(role.CreatedAt)})
				}
				successColor.Fprintf(out, "✓ Role %s created\n", role.Name)
				return nil
			})
		},
	}
}

// newRolesListCmd creates the 'list' subcommand
func newRolesListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List roles with their member counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withApp(flags, func(ctx context.Context, app *bootstrap.App) error {
				roles, err := app.Roles.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list roles: %w", err)
				}

				rows := make([]roleRow, 0, len(roles))
				for _, r := range roles {
					members, err := app.Users.GetUsersInRole(ctx, r.Name)
					if err != nil {
						return fmt.Errorf("failed to count members of %s: %w", r.Name, err)
					}
					rows = append(rows, roleRow{ID: r.ID, Name: r.Name, Users: len(members), CreatedAt: formatTime(r.CreatedAt)})
				}

				if flags.outputJSON {
					return outputAsJSON(out, rows)
				}
				renderRolesTable(out, rows)
				return nil
			})
		},
	}
}
