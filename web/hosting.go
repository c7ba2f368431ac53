package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"education/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const contextKeyRequestInfo contextKey = "request_info"

// requestInfo is filled in by inner stages for the host-level logger.
// The first endpoint wins so re-executed error pages keep the original route label.
type requestInfo struct {
	endpoint *Endpoint
}

func recordEndpoint(r *http.Request, ep *Endpoint) {
	if info, _ := r.Context().Value(contextKeyRequestInfo).(*requestInfo); info != nil && info.endpoint == nil {
		info.endpoint = ep
	}
}

// HostMiddleware wraps the application pipeline with host concerns that sit outside it:
// request IDs, request logging, Prometheus request metrics and last-resort panic recovery.
func HostMiddleware(logger *zap.SugaredLogger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 128 {
				requestID = uuid.NewString()
			}
			info := &requestInfo{}
			ctx := WithRequestID(r.Context(), requestID)
			ctx = context.WithValue(ctx, contextKeyRequestInfo, info)
			r = r.WithContext(ctx)
			w.Header().Set("X-Request-ID", requestID)

			tw := newTrackingWriter(w)
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					pe := newPanicError(rec)
					logger.Errorw("PANIC RECOVERED",
						"error", fmt.Sprintf("%v", rec),
						"request_id", requestID,
						"method", r.Method,
						"path", r.URL.Path,
						"client_ip", r.RemoteAddr,
						"stack_trace", pe.Stack,
					)
					metrics.PanicsRecovered.WithLabelValues(r.Method).Inc()
					if !tw.started {
						writeError(tw, http.StatusInternalServerError, "Internal Server Error", pe, nil)
					}
				}
				logRequest(logger, r, tw, info, requestID, start)
			}()

			next.ServeHTTP(tw, r)
		})
	}
}

func logRequest(logger *zap.SugaredLogger, r *http.Request, tw *trackingWriter, info *requestInfo, requestID string, start time.Time) {
	status := tw.Status()
	if status == 0 {
		status = http.StatusOK
	}
	route := "unmatched"
	if info.endpoint != nil {
		route = info.endpoint.DisplayName
	}
	duration := time.Since(start)

	metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

	logger.Infow("Request finished",
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"route", route,
		"status", status,
		"bytes", tw.bytes,
		"duration_ms", duration.Milliseconds(),
		"remote_addr", r.RemoteAddr)
}
