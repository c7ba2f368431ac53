package web

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HSTSOptions configures the Strict-Transport-Security header
type HSTSOptions struct {
	MaxAge            time.Duration
	IncludeSubDomains bool
	Preload           bool
	// ExcludedHosts never receive the header
	ExcludedHosts []string
}

// DefaultHSTSExcludedHosts are the loopback hosts excluded from HSTS
var DefaultHSTSExcludedHosts = []string{"localhost", "127.0.0.1", "[::1]"}

// HeaderValue renders the header value for these options
func (o HSTSOptions) HeaderValue() string {
	v := "max-age=" + strconv.FormatInt(int64(o.MaxAge/time.Second), 10)
	if o.IncludeSubDomains {
		v += "; includeSubDomains"
	}
	if o.Preload {
		v += "; preload"
	}
	return v
}

// HSTS sets Strict-Transport-Security on HTTPS responses, except for excluded hosts.
func HSTS(opts HSTSOptions) Middleware {
	if opts.ExcludedHosts == nil {
		opts.ExcludedHosts = DefaultHSTSExcludedHosts
	}
	value := opts.HeaderValue()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS != nil && !isExcludedHost(r.Host, opts.ExcludedHosts) {
				w.Header().Set("Strict-Transport-Security", value)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isExcludedHost(hostport string, excluded []string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	for _, ex := range excluded {
		if strings.EqualFold(host, strings.Trim(ex, "[]")) {
			return true
		}
	}
	return false
}

// HTTPSRedirection redirects plain-HTTP requests to HTTPS with 307 Temporary Redirect.
// When httpsPort is 0 the port is unknown: a warning is logged once and requests pass through.
func HTTPSRedirection(httpsPort int, logger *zap.SugaredLogger) Middleware {
	var warnOnce sync.Once

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS != nil {
				next.ServeHTTP(w, r)
				return
			}
			if httpsPort == 0 {
				warnOnce.Do(func() {
					logger.Warnw("Failed to determine the https port for redirect")
				})
				next.ServeHTTP(w, r)
				return
			}

			http.Redirect(w, r, httpsURL(r, httpsPort), http.StatusTemporaryRedirect)
		})
	}
}

func httpsURL(r *http.Request, port int) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	if port != 443 {
		host = fmt.Sprintf("%s:%d", host, port)
	}
	return "https://" + host + r.URL.RequestURI()
}
