package web

import (
	"context"

	"education/identity"
)

// contextKey is a private type so no other package can collide with these keys
type contextKey string

const (
	contextKeyEndpoint    contextKey = "endpoint"
	contextKeyRouteValues contextKey = "route_values"
	contextKeyPrincipal   contextKey = "principal"
	contextKeyException   contextKey = "exception"
	contextKeySink        contextKey = "exception_sink"
	contextKeyRequestID   contextKey = "request_id"
)

// WithEndpoint stores the selected endpoint and its route values
func WithEndpoint(ctx context.Context, ep *Endpoint, values RouteValues) context.Context {
	ctx = context.WithValue(ctx, contextKeyEndpoint, ep)
	return context.WithValue(ctx, contextKeyRouteValues, values)
}

// EndpointFrom returns the endpoint selected by the Routing stage, or nil
func EndpointFrom(ctx context.Context) *Endpoint {
	ep, _ := ctx.Value(contextKeyEndpoint).(*Endpoint)
	return ep
}

// RouteValuesFrom returns the route values captured by the Routing stage
func RouteValuesFrom(ctx context.Context) RouteValues {
	values, _ := ctx.Value(contextKeyRouteValues).(RouteValues)
	return values
}

// WithPrincipal stores the authenticated user
func WithPrincipal(ctx context.Context, p *identity.Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// PrincipalFrom returns the authenticated user, or nil for anonymous requests
func PrincipalFrom(ctx context.Context) *identity.Principal {
	p, _ := ctx.Value(contextKeyPrincipal).(*identity.Principal)
	return p
}

// WithException stores the error being handled by a re-executed error page
func WithException(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, contextKeyException, err)
}

// ExceptionFrom returns the error that triggered the error page, or nil
func ExceptionFrom(ctx context.Context) error {
	err, _ := ctx.Value(contextKeyException).(error)
	return err
}

// WithRequestID stores the request correlation ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFrom returns the request correlation ID, or "" when none was assigned
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}
