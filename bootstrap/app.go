package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"education/config"
	"education/controllers"
	"education/identity"
	"education/storage"
	"education/ui"
	"education/web"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App is the built application: configuration, logger, session factory, identity,
// views, router, request pipeline and the HTTP servers it runs.
type App struct {
	// Configuration
	Config      *config.Config
	Logger      *zap.Logger
	Sugar       *zap.SugaredLogger
	Environment *Environment

	// Storage
	DbContext *storage.DbContext

	// Identity
	IdentityOptions *identity.Options
	Users           *identity.UserManager
	Roles           *identity.RoleManager
	SignIn          *identity.SignInManager
	EmailSender     identity.EmailSender
	LoginLimiter    *identity.LoginLimiter

	// MVC
	Views    *web.ViewEngine
	Router   *web.Router
	Services *web.AppServices

	pipeline    *web.Pipeline
	handler     http.Handler
	handlerOnce sync.Once

	// Servers
	servers   []*http.Server
	listeners []net.Listener
	serveErr  chan error

	// Lifecycle
	serviceWg    sync.WaitGroup
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// UseExceptionHandler re-executes failed requests against errorPath with status 500
func (a *App) UseExceptionHandler(errorPath string) error {
	return a.pipeline.Use(web.StageExceptionHandler, web.ExceptionHandler(errorPath, a.Sugar))
}

// UseHsts sends Strict-Transport-Security on HTTPS responses
func (a *App) UseHsts() error {
	return a.pipeline.Use(web.StageHSTS, web.HSTS(web.HSTSOptions{
		MaxAge:            a.Config.HSTS.MaxAge,
		IncludeSubDomains: a.Config.HSTS.IncludeSubdomains,
		Preload:           a.Config.HSTS.Preload,
		ExcludedHosts:     web.DefaultHSTSExcludedHosts,
	}))
}

// UseHTTPSRedirection redirects plain-HTTP requests to the configured HTTPS port
func (a *App) UseHTTPSRedirection() error {
	return a.pipeline.Use(web.StageHTTPSRedirection, web.HTTPSRedirection(a.Config.GetHTTPSPort(), a.Sugar))
}

// UseStaticFiles serves the embedded web root
func (a *App) UseStaticFiles() error {
	return a.pipeline.Use(web.StageStaticFiles, web.StaticFiles(ui.WebRoot()))
}

// UseRouting selects the endpoint of each request
func (a *App) UseRouting() error {
	return a.pipeline.Use(web.StageRouting, web.Routing(a.Router))
}

// UseAuthorization authenticates the identity cookie and enforces endpoint policies
func (a *App) UseAuthorization() error {
	if a.SignIn == nil {
		return errors.New("UseAuthorization requires AddDefaultIdentity")
	}
	return a.pipeline.Use(web.StageAuthorization, web.Authorization(a.SignIn, a.IdentityOptions.Cookie, a.Sugar))
}

// MapControllerRoute registers a conventional controller route
func (a *App) MapControllerRoute(name, pattern string) error {
	return a.Router.MapControllerRoute(name, pattern)
}

// MapPages registers the page endpoint group
func (a *App) MapPages() error {
	return a.Router.MapPages()
}

// Pipeline returns the request pipeline
func (a *App) Pipeline() *web.Pipeline {
	return a.pipeline
}

// Handler composes the pipeline around the endpoint executor and wraps it with the
// host middleware. The pipeline is frozen on the first call.
func (a *App) Handler() http.Handler {
	a.handlerOnce.Do(func() {
		executor := web.NewEndpointExecutor(a.Views, web.NewAntiforgery(""), a.Services, a.Sugar)
		a.handler = web.HostMiddleware(a.Sugar)(a.pipeline.Build(executor))
	})
	return a.handler
}

// listenAddr turns a listen URL into a host:port for net.Listen
func listenAddr(u *url.URL) string {
	host := u.Hostname()
	if host == "*" || host == "+" {
		host = ""
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(host, port)
}

// Start binds every listen URL and the optional metrics address, then serves in the
// background. Binding is synchronous: a port that cannot be bound is returned as error
// and nothing is served.
func (a *App) Start(ctx context.Context) error {
	handler := a.Handler()

	type binding struct {
		ln      net.Listener
		handler http.Handler
		name    string
	}
	var bindings []binding
	closeAll := func() {
		for _, b := range bindings {
			_ = b.ln.Close()
		}
	}

	var tlsConfig *tls.Config
	for _, u := range a.Config.ListenURLs() {
		addr := listenAddr(u)

		if u.Scheme == "https" && tlsConfig == nil {
			cert, err := tls.LoadX509KeyPair(a.Config.Server.TLS.CertFile, a.Config.Server.TLS.KeyFile)
			if err != nil {
				closeAll()
				return bindError(fmt.Errorf("failed to load TLS key pair: %w", err), addr)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
				NextProtos:   []string{"http/1.1"},
			}
		}

		ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
		if err != nil {
			closeAll()
			return bindError(err, addr)
		}
		if u.Scheme == "https" {
			ln = tls.NewListener(ln, tlsConfig)
		}
		bindings = append(bindings, binding{ln: ln, handler: handler, name: u.Scheme + "://" + ln.Addr().String()})
	}

	if addr := a.Config.Server.MetricsAddr; addr != "" {
		ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
		if err != nil {
			closeAll()
			return bindError(err, addr)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		bindings = append(bindings, binding{ln: ln, handler: mux, name: "metrics http://" + ln.Addr().String()})
	}

	a.serveErr = make(chan error, len(bindings))
	for _, b := range bindings {
		srv := &http.Server{
			Handler:      b.handler,
			ReadTimeout:  a.Config.Server.ReadTimeout,
			WriteTimeout: a.Config.Server.WriteTimeout,
			IdleTimeout:  a.Config.Server.IdleTimeout,
			ErrorLog:     zap.NewStdLog(a.Logger),
		}
		a.servers = append(a.servers, srv)
		a.listeners = append(a.listeners, b.ln)

		a.serviceWg.Add(1)
		go func(srv *http.Server, ln net.Listener, name string) {
			defer a.serviceWg.Done()
			a.Sugar.Infow("Now listening", "address", name)
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Sugar.Errorw("HTTP server error", "address", name, "error", err)
				a.serveErr <- fmt.Errorf("server %s failed: %w", name, err)
			}
		}(srv, b.ln, b.name)
	}

	a.Sugar.Infow("Application started", "environment", a.Environment.Name)
	return nil
}

// Addrs returns the bound listener addresses, in listen URL order with the
// metrics listener last
func (a *App) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(a.listeners))
	for _, ln := range a.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Run starts the servers and blocks until ctx is cancelled, SIGINT or SIGTERM arrives,
// or a server fails. It shuts down gracefully before returning.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Shutdown()
		return err
	}
	err := a.WaitForShutdown(ctx)
	a.Shutdown()
	return err
}

// WaitForShutdown blocks until a shutdown signal is received, ctx is cancelled or a
// server fails. A server failure is returned.
func (a *App) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		a.Sugar.Info("Shutdown signal received")
		return nil
	case err := <-a.serveErr:
		return err
	case <-a.shutdownCh:
		return nil
	}
}

// Shutdown gracefully shuts down all components. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")
		close(a.shutdownCh)

		// Phase 1 - Stop accepting requests and drain in-flight ones
		a.Sugar.Info("Phase 1: Stopping HTTP servers...")
		timeout := a.Config.Server.ShutdownTimeout
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		for _, srv := range a.servers {
			if err := srv.Shutdown(ctx); err != nil {
				a.Sugar.Errorw("Failed to stop HTTP server gracefully", "error", err)
				_ = srv.Close()
			}
		}

		// Phase 2 - Wait for server goroutines
		a.Sugar.Info("Phase 2: Waiting for server goroutines to complete...")
		done := make(chan struct{})
		go func() {
			a.serviceWg.Wait()
			close(done)
		}()
		select {
		case <-done:
			a.Sugar.Info("All server goroutines stopped successfully")
		case <-time.After(timeout + 5*time.Second):
			a.Sugar.Warn("Server goroutine shutdown timed out")
		}

		// Phase 3 - Stop background workers
		a.Sugar.Info("Phase 3: Stopping login rate limiter...")
		a.stopLimiter()

		// Phase 4 - Close database connections
		a.Sugar.Info("Phase 4: Closing database connections...")
		if a.DbContext != nil {
			if err := a.DbContext.Close(); err != nil {
				a.Sugar.Errorw("Failed to close database", "error", err)
			}
		}

		a.Sugar.Info("Shutdown complete")
		_ = a.Logger.Sync()
	})
}

// runFirstRunSetup ensures the Admin role exists and points the operator at the CLI
// when the database has no users yet.
func (a *App) runFirstRunSetup() error {
	if a.Users == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.Roles != nil {
		if err := a.Roles.EnsureRoles(ctx, controllers.AdminRole); err != nil {
			return fmt.Errorf("failed to ensure %s role: %w", controllers.AdminRole, err)
		}
	}

	users, err := a.Users.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if len(users) == 0 {
		a.Sugar.Info("========================================")
		a.Sugar.Info("FIRST RUN DETECTED - no user accounts exist")
		a.Sugar.Infow("Create an administrator with the CLI",
			"command", "education users create <email> --confirmed --role "+controllers.AdminRole)
		a.Sugar.Info("========================================")
	}
	return nil
}
