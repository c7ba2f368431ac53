package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"runtime"
	"sort"
	"strings"

	"education/metrics"

	"go.uber.org/zap"
)

// exceptionSink receives errors returned by endpoints so the nearest exception
// stage can handle them the same way as panics
type exceptionSink struct {
	err      error
	endpoint *Endpoint
}

// PanicError wraps a value recovered from a panic
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// captureStack captures the current goroutine's stack trace into buf
// Returns the number of bytes written
func captureStack(buf []byte) int {
	return runtime.Stack(buf, false)
}

func newPanicError(value any) *PanicError {
	stackBuf := make([]byte, 8192)
	n := captureStack(stackBuf)
	return &PanicError{Value: value, Stack: string(stackBuf[:n])}
}

// serveCapturing runs h and converts a panic into a *PanicError
func serveCapturing(h http.Handler, w http.ResponseWriter, r *http.Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err = newPanicError(rec)
		}
	}()
	h.ServeHTTP(w, r)
	return nil
}

func withSink(r *http.Request, sink *exceptionSink) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), contextKeySink, sink))
}

// noteEndpoint records the selected endpoint for error reporting
func noteEndpoint(r *http.Request, ep *Endpoint) {
	if sink, _ := r.Context().Value(contextKeySink).(*exceptionSink); sink != nil {
		sink.endpoint = ep
	}
}

// reportError hands err to the nearest exception stage. Without one, a plain 500 is written.
func reportError(w http.ResponseWriter, r *http.Request, err error, logger *zap.SugaredLogger) {
	if sink, _ := r.Context().Value(contextKeySink).(*exceptionSink); sink != nil && sink.err == nil {
		sink.err = err
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal Server Error", err, logger)
}

func exceptionKind(err error) string {
	var pe *PanicError
	if errors.As(err, &pe) {
		return "panic"
	}
	return "error"
}

func logException(logger *zap.SugaredLogger, r *http.Request, err error) {
	metrics.UnhandledExceptions.WithLabelValues(exceptionKind(err)).Inc()

	fields := []interface{}{
		"error", err.Error(),
		"request_id", RequestIDFrom(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		fields = append(fields, "stack_trace", pe.Stack)
	}
	logger.Errorw("An unhandled exception has occurred while executing the request", fields...)
}

// ExceptionHandler recovers panics and endpoint errors from the rest of the pipeline
// and re-executes it as GET errorPath with status 500. The error is available to the
// error page through ExceptionFrom.
func ExceptionHandler(errorPath string, logger *zap.SugaredLogger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := newTrackingWriter(w)
			sink := &exceptionSink{}

			err := serveCapturing(next, tw, withSink(r, sink))
			if err == nil {
				err = sink.err
			}
			if err == nil {
				return
			}

			logException(logger, r, err)
			if tw.started {
				logger.Warnw("The response has already started, the error handler will not be executed",
					"path", r.URL.Path)
				return
			}

			for key := range tw.Header() {
				tw.Header().Del(key)
			}

			errReq := reexecuteRequest(r, errorPath, err)
			ow := &statusOverrideWriter{ResponseWriter: tw, status: http.StatusInternalServerError}
			if rerr := serveCapturing(next, ow, errReq); rerr != nil {
				logger.Errorw("An exception was thrown attempting to execute the error handler",
					"error", rerr.Error(),
					"original_error", err.Error(),
					"path", errorPath)
				if !tw.started {
					http.Error(tw, "Internal Server Error", http.StatusInternalServerError)
				}
			}
		})
	}
}

// reexecuteRequest builds the GET request for the error page. The endpoint of the
// failed request is dropped so Routing selects the error page.
func reexecuteRequest(r *http.Request, path string, err error) *http.Request {
	ctx := context.WithValue(r.Context(), contextKeySink, (*exceptionSink)(nil))
	ctx = context.WithValue(ctx, contextKeyEndpoint, (*Endpoint)(nil))
	ctx = context.WithValue(ctx, contextKeyRouteValues, RouteValues(nil))
	ctx = WithException(ctx, err)

	errReq := r.Clone(ctx)
	errReq.Method = http.MethodGet
	u := *r.URL
	u.Path = path
	u.RawPath = ""
	u.RawQuery = ""
	errReq.URL = &u
	errReq.RequestURI = path
	errReq.Body = http.NoBody
	errReq.ContentLength = 0
	errReq.Form = nil
	errReq.PostForm = nil
	return errReq
}

// DeveloperExceptionPage renders error details, stack traces and request data for
// unhandled errors. It is meant for the Development environment only.
func DeveloperExceptionPage(logger *zap.SugaredLogger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := newTrackingWriter(w)
			sink := &exceptionSink{}

			err := serveCapturing(next, tw, withSink(r, sink))
			if err == nil {
				err = sink.err
			}
			if err == nil {
				return
			}

			logException(logger, r, err)
			if tw.started {
				logger.Warnw("The response has already started, the developer exception page will not be shown",
					"path", r.URL.Path)
				return
			}

			data := developerPageData{
				Message:   err.Error(),
				Method:    r.Method,
				Path:      r.URL.Path,
				Query:     r.URL.Query(),
				Headers:   redactHeaders(r.Header),
				RequestID: RequestIDFrom(r.Context()),
			}
			var pe *PanicError
			if errors.As(err, &pe) {
				data.Stack = pe.Stack
			}
			if sink.endpoint != nil {
				data.Endpoint = sink.endpoint.DisplayName
			}

			tw.Header().Set("Content-Type", "text/html; charset=utf-8")
			tw.Header().Set("Cache-Control", "no-cache, no-store")
			tw.WriteHeader(http.StatusInternalServerError)
			if rerr := developerPageTemplate.Execute(tw, data); rerr != nil {
				logger.Errorw("Failed to render developer exception page", "error", rerr.Error())
			}
		})
	}
}

type developerPageData struct {
	Message   string
	Stack     string
	Method    string
	Path      string
	Endpoint  string
	RequestID string
	Query     url.Values
	Headers   []headerLine
}

type headerLine struct {
	Name  string
	Value string
}

// redactHeaders lists request headers sorted by name, hiding credentials
func redactHeaders(h http.Header) []headerLine {
	lines := make([]headerLine, 0, len(h))
	for name, values := range h {
		value := strings.Join(values, ", ")
		if strings.EqualFold(name, "Authorization") || strings.EqualFold(name, "Cookie") {
			value = "<redacted>"
		}
		lines = append(lines, headerLine{Name: name, Value: value})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Name < lines[j].Name })
	return lines
}

var developerPageTemplate = template.Must(template.New("developer").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8" />
<title>Internal Server Error</title>
<style>
body { font-family: Segoe UI, Tahoma, Arial, sans-serif; margin: 2em; color: #222; }
h1 { color: #a4000f; font-size: 1.6em; }
pre { background: #f6f6f6; padding: 1em; overflow: auto; }
th { text-align: left; padding-right: 1em; vertical-align: top; }
</style>
</head>
<body>
<h1>An unhandled exception occurred while processing the request.</h1>
<p><strong>{{.Message}}</strong></p>
{{if .Endpoint}}<p>Endpoint: {{.Endpoint}}</p>{{end}}
{{if .Stack}}<h2>Stack</h2><pre>{{.Stack}}</pre>{{end}}
<h2>Request</h2>
<table>
<tr><th>Method</th><td>{{.Method}}</td></tr>
<tr><th>Path</th><td>{{.Path}}</td></tr>
{{if .RequestID}}<tr><th>Request ID</th><td>{{.RequestID}}</td></tr>{{end}}
</table>
{{if .Query}}<h2>Query</h2>
<table>{{range $k, $v := .Query}}<tr><th>{{$k}}</th><td>{{range $v}}{{.}} {{end}}</td></tr>{{end}}</table>{{end}}
<h2>Headers</h2>
<table>{{range .Headers}}<tr><th>{{.Name}}</th><td>{{.Value}}</td></tr>{{end}}</table>
</body>
</html>
`))
