package bootstrap

import (
	"education/config"
	"education/controllers"
	"education/identity"
	"education/storage"
)

// DefaultRoutePattern is the conventional controller route
const DefaultRoutePattern = "{controller=Home}/{action=Index}/{id?}"

// NewApp is the composition root: it builds the application from the process
// arguments and configures its request pipeline. The returned App is ready to Run.
func NewApp(args []string) (*App, error) {
	builder, err := CreateBuilder(args)
	if err != nil {
		return nil, err
	}

	ConfigureServices(builder)

	app, err := builder.Build()
	if err != nil {
		return nil, err
	}

	if err := ConfigurePipeline(app); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

// ConfigureServices registers MVC, the session factory and identity on builder
func ConfigureServices(builder *Builder) {
	services := builder.Services

	services.AddControllersWithViews(
		controllers.NewHomeController(),
		controllers.NewAdminController(),
	)

	provider := builder.Configuration.Database.Provider
	services.AddDbContext(func(o *storage.Options) {
		conn := services.ConnectionString(ConnectionName)
		if provider == config.ProviderPostgres {
			o.UsePostgres(conn)
			return
		}
		o.UseSQLite(conn)
	})

	services.AddDefaultIdentity(func(o *identity.Options) {
		o.SignIn.RequireConfirmedAccount = true
	}).
		AddRoles().
		AddStores(services.DbContext())
}

// ConfigurePipeline adds the request stages in order and maps the endpoints.
// Outside Development failures are re-executed against /Home/Error and HSTS is sent;
// in Development the developer exception page added by Build reports them instead.
func ConfigurePipeline(app *App) error {
	if !app.Environment.IsDevelopment() {
		if err := app.UseExceptionHandler("/Home/Error"); err != nil {
			return err
		}
		if err := app.UseHsts(); err != nil {
			return err
		}
	}

	for _, use := range []func() error{
		app.UseHTTPSRedirection,
		app.UseStaticFiles,
		app.UseRouting,
		app.UseAuthorization,
	} {
		if err := use(); err != nil {
			return err
		}
	}

	if err := app.MapControllerRoute("default", DefaultRoutePattern); err != nil {
		return err
	}
	return app.MapPages()
}
