package web

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"education/identity"
)

// Layout and partial conventions
const (
	LayoutTemplate = "layout"
	sharedDir      = "Shared"
	layoutFile     = "Shared/_Layout.html"
)

// ViewData is passed to every template
type ViewData struct {
	Title            string
	Model            any
	User             *identity.Principal
	AntiforgeryField string
	AntiforgeryToken string
	Path             string
	RequestID        string
	IsDevelopment    bool
	StatusMessage    string
	Errors           []string
}

// ViewEngine holds one parsed template set per view. Each set contains the shared
// layout and partials (Shared/_*.html) plus the view, which defines "content".
type ViewEngine struct {
	views map[string]*template.Template
}

// DefaultFuncs are available to every template
func DefaultFuncs() template.FuncMap {
	return template.FuncMap{
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"join":  strings.Join,
		"year":  func() int { return time.Now().Year() },
		"formatTime": func(t any) string {
			switch v := t.(type) {
			case time.Time:
				if v.IsZero() {
					return ""
				}
				return v.UTC().Format("2006-01-02 15:04 MST")
			case *time.Time:
				if v == nil || v.IsZero() {
					return ""
				}
				return v.UTC().Format("2006-01-02 15:04 MST")
			}
			return ""
		},
	}
}

// NewViewEngine parses every view under fsys eagerly, so template errors surface at startup.
// funcs extends DefaultFuncs.
func NewViewEngine(fsys fs.FS, funcs template.FuncMap) (*ViewEngine, error) {
	if _, err := fs.Stat(fsys, layoutFile); err != nil {
		return nil, fmt.Errorf("layout %s not found: %w", layoutFile, err)
	}

	shared, err := fs.Glob(fsys, sharedDir+"/_*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list shared partials: %w", err)
	}

	allFuncs := DefaultFuncs()
	for name, fn := range funcs {
		allFuncs[name] = fn
	}

	engine := &ViewEngine{views: make(map[string]*template.Template)}
	err = fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || path.Ext(p) != ".html" || strings.HasPrefix(path.Base(p), "_") {
			return nil
		}

		files := append(append([]string(nil), shared...), p)
		tpl, err := template.New(path.Base(p)).Funcs(allFuncs).ParseFS(fsys, files...)
		if err != nil {
			return fmt.Errorf("failed to parse view %s: %w", p, err)
		}
		if tpl.Lookup("content") == nil {
			return fmt.Errorf("view %s does not define a \"content\" template", p)
		}

		engine.views[viewKey(strings.TrimSuffix(p, ".html"))] = tpl
		return nil
	})
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func viewKey(name string) string {
	return strings.ToLower(strings.TrimPrefix(name, "/"))
}

// Find returns the first view among names that exists
func (e *ViewEngine) Find(names ...string) (*template.Template, string, bool) {
	for _, name := range names {
		if tpl, ok := e.views[viewKey(name)]; ok {
			return tpl, name, true
		}
	}
	return nil, "", false
}

// Has reports whether the named view exists
func (e *ViewEngine) Has(name string) bool {
	_, ok := e.views[viewKey(name)]
	return ok
}

// Names returns the parsed view names, sorted
func (e *ViewEngine) Names() []string {
	names := make([]string, 0, len(e.views))
	for name := range e.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the layout of the named view
func (e *ViewEngine) Render(w io.Writer, name string, data *ViewData) error {
	tpl, _, ok := e.Find(name)
	if !ok {
		return fmt.Errorf("the view '%s' was not found", name)
	}
	return tpl.ExecuteTemplate(w, LayoutTemplate, data)
}
