package web

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRoutePattern is wrapped by every route pattern parse failure
var ErrInvalidRoutePattern = errors.New("invalid route pattern")

var routeParamName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// literalVarPrefix marks the mux variables generated for literal segments
const literalVarPrefix = "__lit"

// RouteValues are the values captured from a request path, keyed by lower-cased parameter name
type RouteValues map[string]string

// Get returns the value for name (case-insensitive)
func (v RouteValues) Get(name string) string {
	return v[strings.ToLower(name)]
}

// RouteSegment is one path segment of a route pattern
type RouteSegment struct {
	// Literal is set for literal segments; Name is empty for them
	Literal    string
	Name       string
	Default    string
	HasDefault bool
	Optional   bool
}

// IsParameter reports whether the segment captures a value
func (s RouteSegment) IsParameter() bool {
	return s.Name != ""
}

// Omissible reports whether the segment may be left out of a request path
func (s RouteSegment) Omissible() bool {
	return s.HasDefault || s.Optional
}

// RoutePattern is a parsed conventional route template such as
// "{controller=Home}/{action=Index}/{id?}"
type RoutePattern struct {
	Raw      string
	Segments []RouteSegment
}

// ParseRoutePattern parses a route template made of literal segments and
// {name}, {name=default} and {name?} parameters
func ParseRoutePattern(pattern string) (*RoutePattern, error) {
	raw := pattern
	trimmed := strings.TrimPrefix(strings.TrimPrefix(pattern, "~"), "/")
	p := &RoutePattern{Raw: raw}
	if trimmed == "" {
		return p, nil
	}

	seen := make(map[string]bool)
	omissibleSeen := false
	for i, part := range strings.Split(trimmed, "/") {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("%w %q: segment %d: %v", ErrInvalidRoutePattern, raw, i+1, err)
		}

		if seg.IsParameter() {
			key := strings.ToLower(seg.Name)
			if seen[key] {
				return nil, fmt.Errorf("%w %q: parameter %q appears more than once", ErrInvalidRoutePattern, raw, seg.Name)
			}
			seen[key] = true
		}

		if seg.Omissible() {
			omissibleSeen = true
		} else if omissibleSeen {
			return nil, fmt.Errorf("%w %q: segment %q follows a default or optional segment", ErrInvalidRoutePattern, raw, part)
		}

		p.Segments = append(p.Segments, seg)
	}
	return p, nil
}

func parseSegment(part string) (RouteSegment, error) {
	if part == "" {
		return RouteSegment{}, errors.New("empty segment")
	}

	if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
		if strings.ContainsAny(part, "{}") {
			return RouteSegment{}, fmt.Errorf("complex segment %q is not supported", part)
		}
		return RouteSegment{Literal: part}, nil
	}

	inner := part[1 : len(part)-1]
	if strings.ContainsAny(inner, "{}") {
		return RouteSegment{}, fmt.Errorf("malformed parameter %q", part)
	}

	var seg RouteSegment
	switch {
	case strings.Contains(inner, "="):
		name, def, _ := strings.Cut(inner, "=")
		if strings.HasSuffix(name, "?") {
			return RouteSegment{}, fmt.Errorf("optional parameter %q cannot have a default value", name)
		}
		seg = RouteSegment{Name: name, Default: def, HasDefault: true}
	case strings.HasSuffix(inner, "?"):
		seg = RouteSegment{Name: strings.TrimSuffix(inner, "?"), Optional: true}
	default:
		seg = RouteSegment{Name: inner}
	}

	if !routeParamName.MatchString(seg.Name) {
		return RouteSegment{}, fmt.Errorf("invalid parameter name %q", seg.Name)
	}
	return seg, nil
}

// Parameters returns the lower-cased parameter names in order
func (p *RoutePattern) Parameters() []string {
	var names []string
	for _, s := range p.Segments {
		if s.IsParameter() {
			names = append(names, strings.ToLower(s.Name))
		}
	}
	return names
}

// Defaults returns the default value of every parameter that has one
func (p *RoutePattern) Defaults() RouteValues {
	defaults := RouteValues{}
	for _, s := range p.Segments {
		if s.HasDefault {
			defaults[strings.ToLower(s.Name)] = s.Default
		}
	}
	return defaults
}

// Templates expands the pattern into gorilla/mux path templates, one for each
// omissible trailing suffix, longest first. Literal segments match case-insensitively.
func (p *RoutePattern) Templates() []string {
	first := len(p.Segments)
	for i, s := range p.Segments {
		if s.Omissible() {
			first = i
			break
		}
	}

	templates := make([]string, 0, len(p.Segments)-first+1)
	for n := len(p.Segments); n >= first; n-- {
		parts := make([]string, n)
		for i := 0; i < n; i++ {
			s := p.Segments[i]
			if s.IsParameter() {
				parts[i] = "{" + strings.ToLower(s.Name) + "}"
			} else {
				parts[i] = fmt.Sprintf("{%s%d:(?i)%s}", literalVarPrefix, i, regexp.QuoteMeta(s.Literal))
			}
		}
		templates = append(templates, "/"+strings.Join(parts, "/"))
	}
	return templates
}

// values merges the captured mux variables with the pattern defaults
func (p *RoutePattern) values(vars map[string]string) RouteValues {
	values := p.Defaults()
	for k, v := range vars {
		if strings.HasPrefix(k, literalVarPrefix) {
			continue
		}
		values[k] = v
	}
	return values
}
