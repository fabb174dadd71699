package reverse_proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/eagraf/bookstore-ingress/internal/ingress/pubsub"
	"github.com/eagraf/bookstore-ingress/internal/ingress/pubsub/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// echoUpstream answers with its name, the method, escaped path, query and Host it saw.
func echoUpstream(t *testing.T, name string, hits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Upstream", name)
		w.Header().Set("Access-Control-Allow-Origin", "https://bookstore.example.com")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s %s %s?%s host=%s auth=%s body=%s", name, r.Method, r.URL.EscapedPath(), r.URL.RawQuery, r.Host, r.Header.Get("Authorization"), body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustParse(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestRouter(t *testing.T, apiTarget, defaultTarget string, events pubsub.Publisher[ProxyEvent]) *ProxyServer {
	rules := NewRuleSet()
	require.NoError(t, rules.Add("api", &RedirectRule{
		Matcher:         "/api",
		ForwardLocation: mustParse(t, apiTarget),
		RewriteOrigin:   true,
	}))
	require.NoError(t, rules.Add("default", &RedirectRule{
		Matcher:         "",
		ForwardLocation: mustParse(t, defaultTarget),
	}))
	return NewProxyServer(nopLogger(), rules, events)
}

func assertCORSHeaders(t *testing.T, h http.Header) {
	t.Helper()
	assert.Equal(t, []string{"*"}, h.Values("Access-Control-Allow-Origin"))
	assert.Equal(t, []string{"GET, POST, PUT, DELETE, OPTIONS"}, h.Values("Access-Control-Allow-Methods"))
	assert.Equal(t, []string{"Content-Type, Authorization"}, h.Values("Access-Control-Allow-Headers"))
}

func doRequest(t *testing.T, handler http.Handler, req *http.Request) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	resp := rec.Result()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestRouting(t *testing.T) {
	api := echoUpstream(t, "api", nil)
	frontend := echoUpstream(t, "default", nil)
	router := newTestRouter(t, api.URL, frontend.URL, nil)

	testCases := []struct {
		path     string
		expected string
	}{
		{"/api/books", "api GET /books?"},
		{"/api/books/42", "api GET /books/42?"},
		{"/api", "api GET /?"},
		{"/apiary", "api GET /ary?"},
		{"/", "default GET /?"},
		{"/books", "default GET /books?"},
		{"/static/js/main.js?v=3", "default GET /static/js/main.js?v=3"},
		{"/api/books/a%2Fb", "api GET /books/a%2Fb?"},
		{"/covers/war%20%26%20peace.png", "default GET /covers/war%20%26%20peace.png?"},
		{"/api/search?q=a;b", "api GET /search?q=a;b"},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			resp, body := doRequest(t, router, httptest.NewRequest(http.MethodGet, "http://ingress.local"+tc.path, nil))
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.True(t, strings.HasPrefix(body, tc.expected), body)
			assertCORSHeaders(t, resp.Header)
		})
	}
}

func TestForwardedResponsePassesThrough(t *testing.T) {
	api := echoUpstream(t, "api", nil)
	router := newTestRouter(t, api.URL, "http://localhost:1", nil)

	req := httptest.NewRequest(http.MethodPost, "http://ingress.local/api/books?draft=1", strings.NewReader(`{"title":"Dune"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token")

	resp, body := doRequest(t, router, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "api", resp.Header.Get("X-Upstream"))
	assert.Contains(t, body, "api POST /books?draft=1")
	assert.Contains(t, body, "auth=Bearer token")
	assert.Contains(t, body, `body={"title":"Dune"}`)

	// The upstream's own CORS value is replaced, not duplicated.
	assertCORSHeaders(t, resp.Header)
}

func TestForwardingHeadersUnchanged(t *testing.T) {
	seen := make(chan http.Header, 2)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
	}))
	defer api.Close()
	router := newTestRouter(t, api.URL, "http://localhost:1", nil)

	doRequest(t, router, httptest.NewRequest(http.MethodGet, "http://ingress.local/api/books", nil))
	_, ok := (<-seen)["X-Forwarded-For"]
	assert.False(t, ok)

	req := httptest.NewRequest(http.MethodGet, "http://ingress.local/api/books", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("X-Forwarded-Proto", "https")
	doRequest(t, router, req)
	h := <-seen
	assert.Equal(t, []string{"203.0.113.7"}, h.Values("X-Forwarded-For"))
	assert.Equal(t, "https", h.Get("X-Forwarded-Proto"))
}

func TestTargetPathIsPrefixed(t *testing.T) {
	api := echoUpstream(t, "api", nil)
	router := newTestRouter(t, api.URL+"/api", "http://localhost:1", nil)

	_, body := doRequest(t, router, httptest.NewRequest(http.MethodGet, "http://ingress.local/api/books", nil))
	assert.True(t, strings.HasPrefix(body, "api GET /api/books?"), body)
}

func TestRewriteOrigin(t *testing.T) {
	api := echoUpstream(t, "api", nil)
	frontend := echoUpstream(t, "default", nil)
	router := newTestRouter(t, api.URL, frontend.URL, nil)

	_, body := doRequest(t, router, httptest.NewRequest(http.MethodGet, "http://ingress.local/api/me", nil))
	assert.Contains(t, body, "host="+mustParse(t, api.URL).Host)

	// The default rule does not rewrite the origin.
	_, body = doRequest(t, router, httptest.NewRequest(http.MethodGet, "http://ingress.local/", nil))
	assert.Contains(t, body, "host=ingress.local")
}

func TestPreflight(t *testing.T) {
	var hits atomic.Int32
	api := echoUpstream(t, "api", &hits)
	frontend := echoUpstream(t, "default", &hits)
	router := newTestRouter(t, api.URL, frontend.URL, nil)

	for _, path := range []string{"/api/books", "/", "/anything/else"} {
		req := httptest.NewRequest(http.MethodOptions, "http://ingress.local"+path, nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "DELETE")

		resp, body := doRequest(t, router, req)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "", body)
		assertCORSHeaders(t, resp.Header)
	}
	assert.Equal(t, int32(0), hits.Load())
}

func unreachableURL(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "http://" + addr
}

func TestUpstreamUnavailable(t *testing.T) {
	frontend := echoUpstream(t, "default", nil)
	router := newTestRouter(t, unreachableURL(t), frontend.URL, nil)

	resp, body := doRequest(t, router, httptest.NewRequest(http.MethodGet, "http://ingress.local/api/books", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "Proxy error: "), body)
	assert.Contains(t, body, "connection refused")
	assertCORSHeaders(t, resp.Header)

	// The other upstream is not used as a fallback.
	assert.NotContains(t, body, "default")
}

func TestUpstreamCertificateVerification(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secure")
	}))
	defer upstream.Close()

	verifying := NewRuleSet()
	require.NoError(t, verifying.Add("default", &RedirectRule{ForwardLocation: mustParse(t, upstream.URL)}))
	resp, body := doRequest(t, NewProxyServer(nopLogger(), verifying, nil), httptest.NewRequest(http.MethodGet, "http://ingress.local/", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "certificate")

	insecure := NewRuleSet()
	require.NoError(t, insecure.Add("default", &RedirectRule{ForwardLocation: mustParse(t, upstream.URL), InsecureSkipVerify: true}))
	resp, body = doRequest(t, NewProxyServer(nopLogger(), insecure, nil), httptest.NewRequest(http.MethodGet, "http://ingress.local/", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "secure", body)
}

func TestNoMatchingRule(t *testing.T) {
	rules := NewRuleSet()
	require.NoError(t, rules.Add("api", &RedirectRule{Matcher: "/api", ForwardLocation: mustParse(t, "http://localhost:1")}))

	resp, _ := doRequest(t, NewProxyServer(nopLogger(), rules, nil), httptest.NewRequest(http.MethodGet, "http://ingress.local/", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assertCORSHeaders(t, resp.Header)
}

func TestProxyOverRealServer(t *testing.T) {
	api := echoUpstream(t, "api", nil)
	frontend := echoUpstream(t, "default", nil)
	ingress := httptest.NewServer(newTestRouter(t, api.URL, frontend.URL, nil))
	defer ingress.Close()

	resp, err := http.Get(ingress.URL + "/api/books")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "api GET /books?"))
	assertCORSHeaders(t, resp.Header)
}

type kindMatcher struct {
	kind   EventKind
	status int
}

func (m kindMatcher) Matches(x any) bool {
	e, ok := x.(*ProxyEvent)
	if !ok || e.Kind != m.kind {
		return false
	}
	return m.status == 0 || e.Status == m.status
}

func (m kindMatcher) String() string {
	return fmt.Sprintf("event %s with status %d", m.kind, m.status)
}

func eventOf(kind EventKind) gomock.Matcher {
	return kindMatcher{kind: kind}
}

func TestEventsForForwardedRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubscriber[ProxyEvent](ctrl)

	events := pubsub.NewSimplePublisher[ProxyEvent]()
	events.AddSubscriber(sub)

	api := echoUpstream(t, "api", nil)
	router := newTestRouter(t, api.URL, "http://localhost:1", events)

	var routed *ProxyEvent
	gomock.InOrder(
		sub.EXPECT().ConsumeEvent(eventOf(EventRequestReceived)).Return(nil),
		sub.EXPECT().ConsumeEvent(eventOf(EventRouteSelected)).DoAndReturn(func(e *ProxyEvent) error {
			routed = e
			return nil
		}),
		sub.EXPECT().ConsumeEvent(kindMatcher{kind: EventResponseForwarded, status: http.StatusOK}).Return(nil),
	)

	req := httptest.NewRequest(http.MethodGet, "http://ingress.local/api/books", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	doRequest(t, router, req)

	require.NotNil(t, routed)
	assert.Equal(t, "req-42", routed.RequestID)
	assert.Equal(t, "api", routed.Rule)
	assert.Equal(t, api.URL, routed.Upstream)
	assert.Equal(t, "/api/books", routed.Path)
}

func TestEventsForUpstreamFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubscriber[ProxyEvent](ctrl)

	events := pubsub.NewSimplePublisher[ProxyEvent]()
	events.AddSubscriber(sub)

	router := newTestRouter(t, unreachableURL(t), "http://localhost:1", events)

	var failed *ProxyEvent
	gomock.InOrder(
		sub.EXPECT().ConsumeEvent(eventOf(EventRequestReceived)).Return(nil),
		sub.EXPECT().ConsumeEvent(eventOf(EventRouteSelected)).Return(nil),
		sub.EXPECT().ConsumeEvent(kindMatcher{kind: EventUpstreamFailed, status: http.StatusInternalServerError}).DoAndReturn(func(e *ProxyEvent) error {
			failed = e
			return nil
		}),
	)

	doRequest(t, router, httptest.NewRequest(http.MethodGet, "http://ingress.local/api/books", nil))

	require.NotNil(t, failed)
	assert.NotNil(t, failed.Err)
	_, err := uuid.Parse(failed.RequestID)
	assert.Nil(t, err)
}

func TestEventsForCancelledRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubscriber[ProxyEvent](ctrl)

	events := pubsub.NewSimplePublisher[ProxyEvent]()
	events.AddSubscriber(sub)

	api := echoUpstream(t, "api", nil)
	router := newTestRouter(t, api.URL, "http://localhost:1", events)

	// Neither upstream_failed nor response_forwarded is expected.
	gomock.InOrder(
		sub.EXPECT().ConsumeEvent(eventOf(EventRequestReceived)).Return(nil),
		sub.EXPECT().ConsumeEvent(eventOf(EventRouteSelected)).Return(nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "http://ingress.local/api/books", nil).WithContext(ctx)
	resp, _ := doRequest(t, router, req)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestEventsForPreflight(t *testing.T) {
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubscriber[ProxyEvent](ctrl)

	events := pubsub.NewSimplePublisher[ProxyEvent]()
	events.AddSubscriber(sub)

	router := newTestRouter(t, "http://localhost:1", "http://localhost:1", events)

	gomock.InOrder(
		sub.EXPECT().ConsumeEvent(eventOf(EventRequestReceived)).Return(nil),
		sub.EXPECT().ConsumeEvent(kindMatcher{kind: EventPreflight, status: http.StatusOK}).Return(nil),
	)

	doRequest(t, router, httptest.NewRequest(http.MethodOptions, "http://ingress.local/api/books", nil))
}

func TestSubscriberFailureDoesNotAffectResponse(t *testing.T) {
	ctrl := gomock.NewController(t)
	events := mocks.NewMockPublisher[ProxyEvent](ctrl)
	events.EXPECT().PublishEvent(gomock.Any()).Return(errors.New("metrics backend down")).AnyTimes()

	api := echoUpstream(t, "api", nil)
	router := newTestRouter(t, api.URL, "http://localhost:1", events)

	resp, body := doRequest(t, router, httptest.NewRequest(http.MethodGet, "http://ingress.local/api/books", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body, "api GET /books?"))
}
