// Package cmd provides the administration commands of the education web app.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"education/bootstrap"
	"education/identity"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags shared by the users and roles commands
type globalFlags struct {
	configFile  string
	environment string
	outputJSON  bool
	noColor     bool
}

const defaultTimeout = 2 * time.Minute

func addGlobalFlags(c *cobra.Command, f *globalFlags) {
	c.PersistentFlags().StringVar(&f.configFile, "config", "", "Config file path")
	c.PersistentFlags().StringVar(&f.environment, "environment", "", "Hosting environment")
	c.PersistentFlags().BoolVar(&f.outputJSON, "json", false, "Output in JSON format")
	c.PersistentFlags().BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	c.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f.noColor {
			color.NoColor = true
		}
	}
}

// hostArgs turns the global flags into the arguments the application builder parses
func (f *globalFlags) hostArgs() []string {
	var args []string
	if f.configFile != "" {
		args = append(args, "--config", f.configFile)
	}
	if f.environment != "" {
		args = append(args, "--environment", f.environment)
	}
	return args
}

// openApp builds the application against the configured database without
// configuring its request pipeline. cleanup closes the database.
func openApp(f *globalFlags) (*bootstrap.App, func(), error) {
	builder, err := bootstrap.CreateBuilder(f.hostArgs())
	if err != nil {
		return nil, nil, err
	}
	bootstrap.ConfigureServices(builder)

	app, err := builder.Build()
	if err != nil {
		return nil, nil, err
	}
	return app, app.Shutdown, nil
}

// withApp runs fn with a built application and a bounded context
func withApp(f *globalFlags, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	app, cleanup, err := openApp(f)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(ctx, app)
}

// describe flattens identity validation failures into one line
func describe(err error) error {
	var ve *identity.ValidationError
	if errors.As(err, &ve) {
		return fmt.Errorf("%s", strings.Join(ve.Descriptions(), " "))
	}
	return err
}

// outputAsJSON writes data as indented JSON
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// formatBool returns a colored boolean string
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

// formatTime formats a timestamp
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return t.Format("2006-01-02 15:04:05")
}
