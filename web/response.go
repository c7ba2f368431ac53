package web

import (
	"net/http"

	"go.uber.org/zap"
)

// trackingWriter records the status code and whether the response has started
type trackingWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	started bool
}

func newTrackingWriter(w http.ResponseWriter) *trackingWriter {
	if tw, ok := w.(*trackingWriter); ok {
		return tw
	}
	return &trackingWriter{ResponseWriter: w}
}

func (tw *trackingWriter) WriteHeader(code int) {
	if tw.started {
		return
	}
	tw.status = code
	tw.started = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	if !tw.started {
		tw.WriteHeader(http.StatusOK)
	}
	n, err := tw.ResponseWriter.Write(b)
	tw.bytes += n
	return n, err
}

// Status returns the status written so far, 200 when only a body was written, 0 when nothing was
func (tw *trackingWriter) Status() int {
	return tw.status
}

func (tw *trackingWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}

// statusOverrideWriter replaces an implicit or explicit 200 with a fixed status
type statusOverrideWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusOverrideWriter) WriteHeader(code int) {
	if sw.wroteHeader {
		return
	}
	sw.wroteHeader = true
	if code == http.StatusOK {
		code = sw.status
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusOverrideWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusOverrideWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// writeError logs err and writes a plain-text error response.
// The message is sent to the client, err never is.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message,
				"error", err.Error(),
				"status_code", statusCode,
			)
		} else {
			logger.Errorw(message,
				"status_code", statusCode,
			)
		}
	}
	http.Error(w, message, statusCode)
}
