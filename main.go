// Package main is the entry point of the education web app.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"education/bootstrap"
	"education/cmd"

	"github.com/spf13/cobra"
)

// commands are the administration subcommands dispatched by their first argument
var commands = map[string]func() *cobra.Command{
	"users": cmd.NewUsersCmd,
	"roles": cmd.NewRolesCmd,
}

// run executes a subcommand or builds and runs the web host until it is stopped.
// It returns the process exit code.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	if len(args) > 0 {
		if newCmd, ok := commands[args[0]]; ok {
			c := newCmd()
			c.SetArgs(args[1:])
			c.SetErr(stderr)
			if err := c.ExecuteContext(ctx); err != nil {
				fmt.Fprint(stderr, bootstrap.FatalBanner(err))
				return 1
			}
			return 0
		}
	}

	app, err := bootstrap.NewApp(args)
	if err != nil {
		fmt.Fprint(stderr, bootstrap.FatalBanner(err))
		return 1
	}

	// Run blocks until SIGINT or SIGTERM and shuts down gracefully
	if err := app.Run(ctx); err != nil {
		fmt.Fprint(stderr, bootstrap.FatalBanner(err))
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr))
}
