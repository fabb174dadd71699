package reverse_proxy

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/eagraf/bookstore-ingress/internal/ingress/pubsub"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const HeaderRequestID = "X-Request-ID"

type EventKind string

const (
	EventRequestReceived   EventKind = "request_received"
	EventPreflight         EventKind = "preflight"
	EventRouteSelected     EventKind = "route_selected"
	EventResponseForwarded EventKind = "response_forwarded"
	EventUpstreamFailed    EventKind = "upstream_failed"
)

// ProxyEvent is published at fixed points of a request's life. Rule and Upstream are empty
// until a route has been selected; Status and Duration are set once a response exists.
type ProxyEvent struct {
	Kind      EventKind
	RequestID string
	Method    string
	Path      string
	Rule      string
	Upstream  string
	Status    int
	Duration  time.Duration
	Err       error
}

type requestInfoKey struct{}

// requestInfo follows one request through the router and the rule handler.
type requestInfo struct {
	id     string
	method string
	path   string
	start  time.Time
	route  *Route
	failed bool
	// abandoned is set when the client went away before the upstream answered.
	abandoned bool

	events pubsub.Publisher[ProxyEvent]
	logger *zerolog.Logger
}

func withRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func requestInfoFromContext(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

func (i *requestInfo) event(kind EventKind) *ProxyEvent {
	e := &ProxyEvent{
		Kind:      kind,
		RequestID: i.id,
		Method:    i.method,
		Path:      i.path,
		Duration:  time.Since(i.start),
	}
	if i.route != nil {
		e.Rule = i.route.Name
		e.Upstream = i.route.Upstream()
	}
	return e
}

// publish never lets a subscriber failure reach the response.
func (i *requestInfo) publish(e *ProxyEvent) {
	if err := i.events.PublishEvent(e); err != nil {
		i.logger.Warn().Err(err).Str("event", string(e.Kind)).Str("request_id", e.RequestID).Msg("proxy event subscriber failed")
	}
}

func (i *requestInfo) fail(err error) {
	i.failed = true
	e := i.event(EventUpstreamFailed)
	e.Status = http.StatusInternalServerError
	e.Err = err
	i.publish(e)
}

// abandon records a request the client cancelled. It is not an upstream failure, so no
// event is published for it.
func (i *requestInfo) abandon(err error) {
	i.abandoned = true
	i.logger.Debug().Err(err).Str("request_id", i.id).Str("path", i.path).Msg("client went away before the upstream answered")
}

// requestID reuses a sane inbound X-Request-ID, otherwise generates one.
func requestID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
	if id == "" || len(id) > 128 || strings.ContainsAny(id, "\r\n") {
		return uuid.New().String()
	}
	return id
}

// EventLogger writes proxy events as structured log lines.
type EventLogger struct {
	logger *zerolog.Logger
}

func NewEventLogger(logger *zerolog.Logger) *EventLogger {
	return &EventLogger{
		logger: logger,
	}
}

func (l *EventLogger) ConsumeEvent(e *ProxyEvent) error {
	var evt *zerolog.Event
	switch e.Kind {
	case EventUpstreamFailed:
		evt = l.logger.Error().Err(e.Err)
	case EventRouteSelected:
		evt = l.logger.Info()
	default:
		evt = l.logger.Debug()
	}

	evt = evt.Str("request_id", e.RequestID).Str("method", e.Method).Str("path", e.Path)
	if e.Rule != "" {
		evt = evt.Str("rule", e.Rule).Str("upstream", e.Upstream)
	}
	if e.Status != 0 {
		evt = evt.Int("status", e.Status).Dur("duration", e.Duration)
	}
	evt.Msg(eventMessages[e.Kind])
	return nil
}

var eventMessages = map[EventKind]string{
	EventRequestReceived:   "request received",
	EventPreflight:         "preflight answered",
	EventRouteSelected:     "route selected",
	EventResponseForwarded: "response forwarded",
	EventUpstreamFailed:    "proxy error",
}
