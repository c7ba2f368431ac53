// Package ui embeds the server-rendered views and the static web root.
package ui

import (
	"embed"
	"io/fs"
)

//go:embed all:templates
var templates embed.FS

//go:embed wwwroot
var wwwroot embed.FS

// Templates returns the view tree rooted at the templates directory
func Templates() fs.FS {
	sub, err := fs.Sub(templates, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// WebRoot returns the static files served by the StaticFiles stage
func WebRoot() fs.FS {
	sub, err := fs.Sub(wwwroot, "wwwroot")
	if err != nil {
		panic(err)
	}
	return sub
}
