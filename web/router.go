package web

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
)

// Errors returned while registering endpoints
var (
	ErrDuplicateRoute      = errors.New("duplicate route name")
	ErrPagesAlreadyMapped  = errors.New("pages are already mapped")
	ErrDuplicateController = errors.New("duplicate controller")
	ErrDuplicatePage       = errors.New("duplicate page")
)

// Policy is the authorization requirement of an endpoint. A nil policy allows anonymous access.
type Policy struct {
	// Roles, when non-empty, requires membership in at least one of them
	Roles []string
}

// Authorize requires an authenticated user, optionally in one of roles
func Authorize(roles ...string) *Policy {
	return &Policy{Roles: roles}
}

// ActionFunc handles a routed request
type ActionFunc func(c *ActionContext) (Result, error)

// Action is one controller action
type Action struct {
	Name string
	// Methods defaults to GET (HEAD is always accepted with GET)
	Methods []string
	// Policy overrides the controller policy; AllowAnonymous clears it
	Policy         *Policy
	AllowAnonymous bool
	// SkipAntiforgery disables token validation for unsafe methods
	SkipAntiforgery bool
	Handler         ActionFunc
}

// Controller is a named group of actions reached through conventional routes
type Controller interface {
	Name() string
	Actions() []Action
}

// PolicyController is implemented by controllers whose every action requires authorization
type PolicyController interface {
	Controller
	Policy() *Policy
}

// Page is an endpoint with a fixed path, handled per HTTP method
type Page struct {
	// Path is the literal request path, e.g. "/Account/Login"
	Path string
	// View is the template name, e.g. "Account/Login"
	View     string
	Policy   *Policy
	Handlers map[string]ActionFunc
}

// EndpointKind distinguishes controller actions from pages
type EndpointKind int

const (
	EndpointController EndpointKind = iota
	EndpointPage
)

// Endpoint is the unit selected by Routing and executed by the terminal handler
type Endpoint struct {
	DisplayName     string
	Kind            EndpointKind
	Controller      string
	Action          string
	RouteName       string
	Path            string
	View            string
	Policy          *Policy
	SkipAntiforgery bool
	handler         ActionFunc
}

// ConventionalRoute is a registered controller route
type ConventionalRoute struct {
	Name      string
	Pattern   *RoutePattern
	Templates []string
}

// EndpointSummary describes what is mapped
type EndpointSummary struct {
	ControllerRoutes []ConventionalRoute
	PageGroups       int
	Pages            []string
	Actions          []string
}

type actionDescriptor struct {
	methods  map[string]bool
	endpoint *Endpoint
}

type controllerDescriptor struct {
	name    string
	actions map[string]*actionDescriptor
}

// Router maps requests to endpoints. Page endpoints are matched before conventional
// routes regardless of registration order.
type Router struct {
	controllers map[string]*controllerDescriptor
	pages       []Page
	pagePaths   map[string]bool

	pageMux  *mux.Router
	routeMux *mux.Router

	routes      []ConventionalRoute
	pagesMapped bool
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		controllers: make(map[string]*controllerDescriptor),
		pagePaths:   make(map[string]bool),
		pageMux:     mux.NewRouter(),
		routeMux:    mux.NewRouter(),
	}
}

// AddController registers a controller and its actions
func (rt *Router) AddController(c Controller) error {
	name := c.Name()
	key := strings.ToLower(name)
	if _, exists := rt.controllers[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateController, name)
	}

	var controllerPolicy *Policy
	if pc, ok := c.(PolicyController); ok {
		controllerPolicy = pc.Policy()
	}

	desc := &controllerDescriptor{name: name, actions: make(map[string]*actionDescriptor)}
	for _, a := range c.Actions() {
		akey := strings.ToLower(a.Name)
		if _, exists := desc.actions[akey]; exists {
			return fmt.Errorf("%w: action %s.%s registered twice", ErrDuplicateController, name, a.Name)
		}

		policy := controllerPolicy
		if a.Policy != nil {
			policy = a.Policy
		}
		if a.AllowAnonymous {
			policy = nil
		}

		methods := a.Methods
		if len(methods) == 0 {
			methods = []string{http.MethodGet}
		}
		allowed := make(map[string]bool, len(methods)+1)
		for _, m := range methods {
			m = strings.ToUpper(m)
			allowed[m] = true
			if m == http.MethodGet {
				allowed[http.MethodHead] = true
			}
		}

		desc.actions[akey] = &actionDescriptor{
			methods: allowed,
			endpoint: &Endpoint{
				DisplayName:     name + "." + a.Name,
				Kind:            EndpointController,
				Controller:      name,
				Action:          a.Name,
				View:            name + "/" + a.Name,
				Policy:          policy,
				SkipAntiforgery: a.SkipAntiforgery,
				handler:         a.Handler,
			},
		}
	}

	rt.controllers[key] = desc
	return nil
}

// AddPages registers pages to be exposed by MapPages
func (rt *Router) AddPages(pages ...Page) error {
	for _, p := range pages {
		key := strings.ToLower(p.Path)
		if rt.pagePaths[key] {
			return fmt.Errorf("%w: %s", ErrDuplicatePage, p.Path)
		}
		rt.pagePaths[key] = true
		rt.pages = append(rt.pages, p)
	}
	return nil
}

// MapControllerRoute registers a conventional route such as "{controller=Home}/{action=Index}/{id?}"
func (rt *Router) MapControllerRoute(name, pattern string) error {
	for _, r := range rt.routes {
		if strings.EqualFold(r.Name, name) {
			return fmt.Errorf("%w: %s", ErrDuplicateRoute, name)
		}
	}

	parsed, err := ParseRoutePattern(pattern)
	if err != nil {
		return err
	}

	route := ConventionalRoute{Name: name, Pattern: parsed, Templates: parsed.Templates()}
	for _, tpl := range route.Templates {
		rt.routeMux.Path(tpl).Name(fmt.Sprintf("%s:%s", name, tpl)).Handler(routeMarker{route: &route})
	}
	rt.routes = append(rt.routes, route)
	return nil
}

// MapPages maps every registered page as one endpoint group. It may be called once.
func (rt *Router) MapPages() error {
	if rt.pagesMapped {
		return ErrPagesAlreadyMapped
	}
	rt.pagesMapped = true

	for _, p := range rt.pages {
		handlers := make(map[string]ActionFunc, len(p.Handlers)+1)
		for m, h := range p.Handlers {
			handlers[strings.ToUpper(m)] = h
		}
		if h, ok := handlers[http.MethodGet]; ok {
			if _, hasHead := handlers[http.MethodHead]; !hasHead {
				handlers[http.MethodHead] = h
			}
		}

		for method, h := range handlers {
			ep := &Endpoint{
				DisplayName: "Page " + p.Path,
				Kind:        EndpointPage,
				Path:        p.Path,
				View:        p.View,
				Policy:      p.Policy,
				handler:     h,
			}
			rt.pageMux.Path(strings.ToLower(p.Path)).Methods(method).Handler(pageMarker{endpoint: ep})
		}
	}
	return nil
}

// Endpoints reports the registered routes and page groups
func (rt *Router) Endpoints() EndpointSummary {
	summary := EndpointSummary{ControllerRoutes: append([]ConventionalRoute(nil), rt.routes...)}
	if rt.pagesMapped {
		summary.PageGroups = 1
		for _, p := range rt.pages {
			summary.Pages = append(summary.Pages, p.Path)
		}
	}
	for _, c := range rt.controllers {
		for _, a := range c.actions {
			summary.Actions = append(summary.Actions, a.endpoint.DisplayName)
		}
	}
	sort.Strings(summary.Actions)
	return summary
}

// routeMarker and pageMarker are never served; they carry the match result out of mux
type routeMarker struct{ route *ConventionalRoute }

func (routeMarker) ServeHTTP(http.ResponseWriter, *http.Request) {}

type pageMarker struct{ endpoint *Endpoint }

func (pageMarker) ServeHTTP(http.ResponseWriter, *http.Request) {}

// Match selects the endpoint for r, or returns nil
func (rt *Router) Match(r *http.Request) (*Endpoint, RouteValues) {
	path := r.URL.Path
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	if rt.pagesMapped {
		pageReq := matchRequest(r, strings.ToLower(path))
		var m mux.RouteMatch
		if rt.pageMux.Match(pageReq, &m) && m.MatchErr == nil {
			if pm, ok := m.Handler.(pageMarker); ok {
				return pm.endpoint, RouteValues{"page": pm.endpoint.Path}
			}
		}
	}

	var m mux.RouteMatch
	if !rt.routeMux.Match(matchRequest(r, path), &m) || m.MatchErr != nil {
		return nil, nil
	}
	marker, ok := m.Handler.(routeMarker)
	if !ok {
		return nil, nil
	}

	values := marker.route.Pattern.values(m.Vars)
	ep := rt.resolveAction(r.Method, values)
	if ep == nil {
		return nil, nil
	}
	ep.RouteName = marker.route.Name
	return ep, values
}

func (rt *Router) resolveAction(method string, values RouteValues) *Endpoint {
	controller := values.Get("controller")
	action := values.Get("action")
	if controller == "" || action == "" {
		return nil
	}

	desc, ok := rt.controllers[strings.ToLower(controller)]
	if !ok {
		return nil
	}
	ad, ok := desc.actions[strings.ToLower(action)]
	if !ok || !ad.methods[method] {
		return nil
	}

	ep := *ad.endpoint
	return &ep
}

func matchRequest(r *http.Request, path string) *http.Request {
	if path == r.URL.Path {
		return r
	}
	u := *r.URL
	u.Path = path
	u.RawPath = ""
	cp := *r
	cp.URL = &u
	return &cp
}
