package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// jsonError is the standard JSON error response.
type jsonError struct {
	Error string `json:"error"`
}

// timeoutBody is the 503 body written when a local route
// exceeds the write timeout.
var timeoutBody = func() string {
	b, _ := json.Marshal(jsonError{Error: "request timed out"})
	return string(b)
}()

// routeKind says how long a route may hold its connection.
type routeKind int

const (
	// timedRoute is cut off at cfg.WriteTimeout.
	timedRoute routeKind = iota
	// remoteRoute syncs from or posts movements to Stock and
	// is bounded only by the remote client's request timeout.
	// Cutting a movement short after Stock accepted it would
	// leave the catalog unreconciled.
	remoteRoute
)

// handle registers h under pattern, wrapping timed routes in
// withTimeout.
func (s *Server) handle(
	pattern string, kind routeKind, h http.HandlerFunc,
) {
	if kind == remoteRoute {
		s.mux.Handle(pattern, h)
		return
	}
	s.mux.Handle(pattern, s.withTimeout(h))
}

// withTimeout bounds h by cfg.WriteTimeout. On expiry the
// client gets a 503 with a JSON error body.
func (s *Server) withTimeout(h http.HandlerFunc) http.Handler {
	inner := h
	if delay := s.handlerDelay; delay > 0 {
		inner = func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(delay)
			h(w, r)
		}
	}
	th := http.TimeoutHandler(inner, s.cfg.WriteTimeout, timeoutBody)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		th.ServeHTTP(&contentTypeWrapper{
			ResponseWriter: w,
			contentType:    "application/json",
			triggerStatus:  http.StatusServiceUnavailable,
		}, r)
	})
}

// contentTypeWrapper fills in Content-Type when the response
// status is triggerStatus and the handler left it unset.
// http.TimeoutHandler writes its body without one.
type contentTypeWrapper struct {
	http.ResponseWriter
	contentType   string
	triggerStatus int
	wroteHeader   bool
}

func (w *contentTypeWrapper) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	h := w.Header()
	if code == w.triggerStatus && h.Get("Content-Type") == "" {
		h.Set("Content-Type", w.contentType)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *contentTypeWrapper) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
