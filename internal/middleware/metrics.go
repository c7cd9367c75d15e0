package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// RequestRecorder receives one call per served request.
type RequestRecorder interface {
	RecordHTTPRequest(method, route string, status int, elapsed time.Duration)
}

// unmatchedRoute labels requests no named route matched.
const unmatchedRoute = "other"

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush keeps SSE streams of the MCP handler working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Metrics is a mux middleware recording method, route template, status and
// latency of every request.
func Metrics(recorder RequestRecorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			recorder.RecordHTTPRequest(r.Method, routeLabel(r), sw.status, time.Since(start))
		})
	}
}

func routeLabel(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return unmatchedRoute
	}
	if tpl, err := route.GetPathTemplate(); err == nil {
		return tpl
	}
	if tpl, err := route.GetPathRegexp(); err == nil {
		return tpl
	}
	if name := route.GetName(); name != "" {
		return name
	}
	return unmatchedRoute
}
