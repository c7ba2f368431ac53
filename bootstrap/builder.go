package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"education/config"
	"education/identity"
	"education/pages"
	"education/storage"
	"education/ui"
	"education/web"

	"github.com/gorilla/securecookie"
	"go.uber.org/zap"
)

var (
	// ErrNoDbContext is returned by Build when identity stores were bound to no session factory
	ErrNoDbContext = errors.New("identity stores require a registered DbContext")

	// ErrMVCNotRegistered is returned by Build when AddControllersWithViews was not called
	ErrMVCNotRegistered = errors.New("controllers with views are not registered")
)

// ConnectionName is the connection string the session factory is configured from
const ConnectionName = "MyConnection"

const dbOpenTimeout = 30 * time.Second

// Environment describes the hosting environment
type Environment struct {
	Name string
}

// IsDevelopment reports whether the environment is Development
func (e *Environment) IsDevelopment() bool { return e.IsEnvironment(config.EnvironmentDevelopment) }

// IsStaging reports whether the environment is Staging
func (e *Environment) IsStaging() bool { return e.IsEnvironment(config.EnvironmentStaging) }

// IsProduction reports whether the environment is Production
func (e *Environment) IsProduction() bool { return e.IsEnvironment(config.EnvironmentProduction) }

// IsEnvironment compares the environment name case-insensitively
func (e *Environment) IsEnvironment(name string) bool {
	return strings.EqualFold(e.Name, name)
}

// Builder collects configuration and service registrations before Build
type Builder struct {
	Configuration *config.Config
	Environment   *Environment
	Services      *Services
	Logger        *zap.SugaredLogger

	zapLogger *zap.Logger
}

// CreateBuilder parses args, loads configuration and creates the logger
func CreateBuilder(args []string) (*Builder, error) {
	cfg, v, err := InitConfig(args)
	if err != nil {
		return nil, &FatalError{Kind: FatalConfiguration, Err: err, Remediation: err.Error()}
	}

	logger, sugar, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if v.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}
	sugar.Infow("Config loaded",
		"environment", cfg.Environment,
		"urls", cfg.Server.URLs,
		"database_provider", cfg.Database.Provider)

	return &Builder{
		Configuration: cfg,
		Environment:   &Environment{Name: cfg.Environment},
		Services:      &Services{config: cfg, logger: sugar},
		Logger:        sugar,
		zapLogger:     logger,
	}, nil
}

// Services is the registration surface of the builder
type Services struct {
	config *config.Config
	logger *zap.SugaredLogger

	mvc         bool
	controllers []web.Controller
	pages       []web.Page

	dbContext *storage.DbContext
	identity  *IdentityBuilder

	emailSender identity.EmailSender
	errs        []error
}

// AddControllersWithViews registers MVC support: the given controllers and the view engine.
// It may be called more than once; controllers accumulate.
func (s *Services) AddControllersWithViews(controllers ...web.Controller) *Services {
	s.mvc = true
	s.controllers = append(s.controllers, controllers...)
	return s
}

// AddPages registers page endpoints, served once MapPages is called
func (s *Services) AddPages(pages ...web.Page) *Services {
	s.pages = append(s.pages, pages...)
	return s
}

// AddDbContext registers the session factory. configure selects the provider and
// connection string; pool limits and log level come from configuration first.
// The factory is opened and migrated by Build.
func (s *Services) AddDbContext(configure func(*storage.Options)) *Services {
	if s.dbContext != nil {
		s.errs = append(s.errs, errors.New("AddDbContext was called more than once"))
		return s
	}

	opts := storage.Options{
		MaxOpenConns:    s.config.Database.MaxOpenConns,
		MaxIdleConns:    s.config.Database.MaxIdleConns,
		ConnMaxLifetime: s.config.Database.ConnMaxLifetime,
		LogLevel:        s.config.Database.LogLevel,
	}
	if configure != nil {
		configure(&opts)
	}
	s.dbContext = storage.NewDbContext(opts, s.logger)
	return s
}

// DbContext returns the registered session factory, or nil
func (s *Services) DbContext() *storage.DbContext {
	return s.dbContext
}

// ConnectionString returns the named connection string from configuration
func (s *Services) ConnectionString(name string) string {
	return s.config.GetConnectionString(name)
}

// AddEmailSender replaces the default logging email sender
func (s *Services) AddEmailSender(sender identity.EmailSender) *Services {
	s.emailSender = sender
	return s
}

// AddDefaultIdentity registers the identity system with its account pages.
// Options start from the identity defaults with cookie settings from configuration.
func (s *Services) AddDefaultIdentity(configure func(*identity.Options)) *IdentityBuilder {
	if s.identity != nil {
		s.errs = append(s.errs, errors.New("AddDefaultIdentity was called more than once"))
		return s.identity
	}

	opts := identity.DefaultOptions()
	opts.Cookie.Name = s.config.Identity.CookieName
	opts.Cookie.ExpireTimeSpan = s.config.Identity.CookieExpiry
	if configure != nil {
		configure(&opts)
	}

	s.identity = &IdentityBuilder{options: opts}
	return s.identity
}

// Identity returns the identity registration, or nil
func (s *Services) Identity() *IdentityBuilder {
	return s.identity
}

// IdentityBuilder configures role support and persistence of the identity system
type IdentityBuilder struct {
	options   identity.Options
	roles     bool
	dbContext *storage.DbContext
	storesSet bool
}

// AddRoles enables role support
func (b *IdentityBuilder) AddRoles() *IdentityBuilder {
	b.roles = true
	return b
}

// AddStores binds identity persistence to dbc
func (b *IdentityBuilder) AddStores(dbc *storage.DbContext) *IdentityBuilder {
	b.dbContext = dbc
	b.storesSet = true
	return b
}

// Options returns the identity options
func (b *IdentityBuilder) Options() identity.Options {
	return b.options
}

// RolesEnabled reports whether AddRoles was called
func (b *IdentityBuilder) RolesEnabled() bool {
	return b.roles
}

// DbContext returns the session factory the stores are bound to
func (b *IdentityBuilder) DbContext() *storage.DbContext {
	return b.dbContext
}

// Build resolves every registration: views are parsed, controllers and pages are
// registered with the router, identity stores are bound, and the session factory
// is opened and migrated. Any failure is returned and nothing is served.
func (b *Builder) Build() (_ *App, err error) {
	s := b.Services
	if len(s.errs) > 0 {
		return nil, errors.Join(s.errs...)
	}
	if !s.mvc {
		return nil, ErrMVCNotRegistered
	}

	views, err := web.NewViewEngine(ui.Templates(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse views: %w", err)
	}

	router := web.NewRouter()
	for _, c := range s.controllers {
		if err := router.AddController(c); err != nil {
			return nil, fmt.Errorf("failed to register controller: %w", err)
		}
	}

	app := &App{
		Config:      b.Configuration,
		Logger:      b.zapLogger,
		Sugar:       b.Logger,
		Environment: b.Environment,
		DbContext:   s.dbContext,
		Views:       views,
		Router:      router,
		pipeline:    web.NewPipeline(),
		shutdownCh:  make(chan struct{}),
	}
	defer func() {
		if err != nil {
			app.stopLimiter()
		}
	}()

	allPages := s.pages
	if s.identity != nil {
		if err := app.initIdentity(s); err != nil {
			return nil, err
		}
		allPages = append(pages.IdentityPages(), allPages...)
	}
	if err := router.AddPages(allPages...); err != nil {
		return nil, fmt.Errorf("failed to register pages: %w", err)
	}

	if err := app.openDbContext(); err != nil {
		return nil, err
	}
	if err := app.runFirstRunSetup(); err != nil {
		_ = app.DbContext.Close()
		return nil, err
	}

	if app.Environment.IsDevelopment() {
		if err := app.pipeline.Use(web.StageDeveloperExceptionPage, web.DeveloperExceptionPage(app.Sugar)); err != nil {
			if app.DbContext != nil {
				_ = app.DbContext.Close()
			}
			return nil, err
		}
	}

	app.Services = &web.AppServices{
		Users:         app.Users,
		Roles:         app.Roles,
		SignIn:        app.SignIn,
		EmailSender:   app.EmailSender,
		LoginLimiter:  app.LoginLimiter,
		Environment:   app.Environment.Name,
		IsDevelopment: app.Environment.IsDevelopment(),
		Logger:        app.Sugar,
	}

	app.Sugar.Infow("Application built",
		"environment", app.Environment.Name,
		"controllers", len(s.controllers),
		"pages", len(allPages))
	return app, nil
}

func (a *App) initIdentity(s *Services) error {
	ib := s.identity
	if (ib.storesSet && ib.dbContext == nil) || (!ib.storesSet && s.dbContext == nil) {
		return ErrNoDbContext
	}
	dbc := ib.dbContext
	if dbc == nil {
		dbc = s.dbContext
	}
	if a.DbContext == nil {
		a.DbContext = dbc
	}

	opts := ib.options
	a.IdentityOptions = &opts

	cfg := a.Config.Identity
	users := identity.NewUserManager(storage.NewGormUserStore(dbc, a.Sugar), a.IdentityOptions, identity.NewBcryptHasher(cfg.BcryptCost), a.Sugar)
	if ib.roles {
		a.Roles = identity.NewRoleManager(storage.NewGormRoleStore(dbc, a.Sugar), a.Sugar)
		users.EnableRoles(a.Roles)
	}
	a.Users = users

	secret := cfg.CookieSecret
	if secret == "" {
		secret = string(securecookie.GenerateRandomKey(32))
		a.Sugar.Warn("identity.cookie_secret is not set; using an ephemeral key, sign-ins will not survive a restart")
	}
	store := identity.NewCookieStore(secret, opts.Cookie.ExpireTimeSpan)
	a.SignIn = identity.NewSignInManager(users, store, cfg.PrincipalCache.Size, cfg.PrincipalCache.TTL, a.Sugar)
	a.LoginLimiter = newLoginLimiter(cfg.LoginRateLimit.RequestsPerMinute, cfg.LoginRateLimit.Burst, 10*time.Minute)

	a.EmailSender = s.emailSender
	if a.EmailSender == nil {
		a.EmailSender = identity.NewLoggingEmailSender(a.Sugar)
	}
	return nil
}

func (a *App) openDbContext() error {
	if a.DbContext == nil {
		return nil
	}
	opts := a.DbContext.Options()
	if strings.TrimSpace(opts.ConnectionString) == "" {
		return missingConnectionError(ConnectionName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbOpenTimeout)
	defer cancel()
	if err := a.DbContext.Open(ctx); err != nil {
		if errors.Is(err, storage.ErrMissingConnectionString) {
			return missingConnectionError(ConnectionName)
		}
		return driverError(err, opts)
	}
	return nil
}

// newLoginLimiter creates the sign-in throttle started by Build
var newLoginLimiter = identity.NewLoginLimiter

func (a *App) stopLimiter() {
	if a.LoginLimiter != nil {
		a.LoginLimiter.Close()
	}
}
