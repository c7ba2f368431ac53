// Package web implements the request pipeline, endpoint routing, MVC action
// results, server-rendered views and antiforgery tokens.
package web

import (
	"fmt"
	"net/http"
)

// Stage names used by the application pipeline
const (
	StageDeveloperExceptionPage = "DeveloperExceptionPage"
	StageExceptionHandler       = "ExceptionHandler"
	StageHSTS                   = "HSTS"
	StageHTTPSRedirection       = "HTTPSRedirection"
	StageStaticFiles            = "StaticFiles"
	StageRouting                = "Routing"
	StageAuthorization          = "Authorization"
)

// Middleware wraps the rest of the pipeline
type Middleware func(http.Handler) http.Handler

// Stage is a named pipeline step
type Stage struct {
	Name       string
	Middleware Middleware
}

// Pipeline is an ordered list of stages. The first stage added sees the request first.
type Pipeline struct {
	stages []Stage
	built  bool
}

// NewPipeline returns an empty pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Use appends a stage. Stages cannot be added once the pipeline is built.
func (p *Pipeline) Use(name string, mw Middleware) error {
	if p.built {
		return fmt.Errorf("cannot add stage %s: pipeline already built", name)
	}
	if mw == nil {
		return fmt.Errorf("stage %s has no middleware", name)
	}
	p.stages = append(p.stages, Stage{Name: name, Middleware: mw})
	return nil
}

// Names returns the stage names in execution order
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Has reports whether a stage with the given name was added
func (p *Pipeline) Has(name string) bool {
	for _, s := range p.stages {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Build composes the stages around terminal. The pipeline is frozen afterwards.
func (p *Pipeline) Build(terminal http.Handler) http.Handler {
	p.built = true
	h := terminal
	for i := len(p.stages) - 1; i >= 0; i-- {
		h = p.stages[i].Middleware(h)
	}
	return h
}
