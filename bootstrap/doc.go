// Package bootstrap provides application initialization and lifecycle management.
// It holds the builder that registers services, the App that owns the request
// pipeline and HTTP servers, and the composition root that wires them together.
//
// Usage:
//
//	app, err := bootstrap.NewApp(os.Args[1:])
//	if err != nil {
//	    fmt.Fprint(os.Stderr, bootstrap.FatalBanner(err))
//	    os.Exit(1)
//	}
//
//	// Blocks until ctx is cancelled or SIGINT/SIGTERM arrives
//	if err := app.Run(ctx); err != nil {
//	    fmt.Fprint(os.Stderr, bootstrap.FatalBanner(err))
//	    os.Exit(1)
//	}
package bootstrap
