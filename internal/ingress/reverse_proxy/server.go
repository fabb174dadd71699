package reverse_proxy

import (
	"net/http"
	"time"

	"github.com/eagraf/bookstore-ingress/internal/ingress/pubsub"
	"github.com/rs/zerolog"
)

const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

// setCORSHeaders replaces whatever the upstream sent for these headers.
func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
}

type ProxyServer struct {
	logger *zerolog.Logger
	events pubsub.Publisher[ProxyEvent]
	Rules  *RuleSet
}

func NewProxyServer(logger *zerolog.Logger, rules *RuleSet, events pubsub.Publisher[ProxyEvent]) *ProxyServer {
	if events == nil {
		events = pubsub.NopPublisher[ProxyEvent]{}
	}
	return &ProxyServer{
		logger: logger,
		events: events,
		Rules:  rules,
	}
}

func (s *ProxyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info := &requestInfo{
		id:     requestID(r),
		method: r.Method,
		path:   r.URL.Path,
		start:  time.Now(),
		events: s.events,
		logger: s.logger,
	}
	info.publish(info.event(EventRequestReceived))

	rw := &responseWriter{ResponseWriter: w}

	if r.Method == http.MethodOptions {
		rw.WriteHeader(http.StatusOK)
		e := info.event(EventPreflight)
		e.Status = http.StatusOK
		info.publish(e)
		return
	}

	route, ok := s.Rules.Match(r.URL)
	if !ok {
		// Only reachable when the rule set has no fallback rule.
		http.Error(rw, "no rule matched "+r.URL.Path, http.StatusNotFound)
		return
	}
	info.route = route
	info.publish(info.event(EventRouteSelected))

	route.Handler().ServeHTTP(rw, r.WithContext(withRequestInfo(r.Context(), info)))
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}

	if !info.failed && !info.abandoned {
		e := info.event(EventResponseForwarded)
		e.Status = rw.status
		info.publish(e)
	}
}

// responseWriter adds the CORS headers right before the status line goes out, so they are
// present on forwarded, served, preflight and error responses alike.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if code >= 100 && code <= 199 {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	if !w.wroteHeader {
		w.wroteHeader = true
		w.status = code
		setCORSHeaders(w.Header())
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach Flush and Hijack on the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
