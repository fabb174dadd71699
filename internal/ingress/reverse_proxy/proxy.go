package reverse_proxy

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultDialTimeout = 10 * time.Second

var forwardedHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

// Route is a named rule inside a RuleSet.
type Route struct {
	Name string
	RuleHandler
}

// RuleSet holds rules in declaration order; the first match wins. It is built before the
// proxy starts serving and must not be modified afterwards.
type RuleSet struct {
	routes []*Route
}

func NewRuleSet() *RuleSet {
	return &RuleSet{
		routes: make([]*Route, 0),
	}
}

func (r *RuleSet) Add(name string, rule RuleHandler) error {
	for _, route := range r.routes {
		if route.Name == name {
			return fmt.Errorf("rule name %s is already taken", name)
		}
	}
	r.routes = append(r.routes, &Route{Name: name, RuleHandler: rule})
	return nil
}

func (r *RuleSet) Remove(name string) error {
	for i, route := range r.routes {
		if route.Name == name {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("rule %s does not exist", name)
}

func (r *RuleSet) Match(u *url.URL) (*Route, bool) {
	for _, route := range r.routes {
		if route.Match(u) {
			return route, true
		}
	}
	return nil, false
}

func (r *RuleSet) Routes() []*Route {
	routes := make([]*Route, len(r.routes))
	copy(routes, r.routes)
	return routes
}

func (r *RuleSet) Len() int {
	return len(r.routes)
}

type RuleHandler interface {
	Match(url *url.URL) bool
	Handler() http.Handler
	Upstream() string
}

// matchPrefix is a plain string prefix check, so "/api" also matches "/apiary".
// An empty matcher matches every path.
func matchPrefix(u *url.URL, matcher string) bool {
	return strings.HasPrefix(u.Path, matcher)
}

// joinURLPath appends the part of the request path left after the matcher to base.
func joinURLPath(base, rest string) string {
	if rest == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	baseSlash := strings.HasSuffix(base, "/")
	restSlash := strings.HasPrefix(rest, "/")
	switch {
	case baseSlash && restSlash:
		return base + rest[1:]
	case !baseSlash && !restSlash:
		return base + "/" + rest
	}
	return base + rest
}

// stripPrefix removes prefix from both the decoded and the escaped form of the path, so
// encoded bytes such as %2F survive forwarding.
func stripPrefix(u *url.URL, prefix string) (path, rawPath string) {
	path = strings.TrimPrefix(u.Path, prefix)
	escapedPrefix := (&url.URL{Path: prefix}).EscapedPath()
	if escaped := u.EscapedPath(); strings.HasPrefix(escaped, escapedPrefix) {
		return path, strings.TrimPrefix(escaped, escapedPrefix)
	}
	// The client encoded part of the prefix itself.
	return path, (&url.URL{Path: path}).EscapedPath()
}

type FileServerRule struct {
	Matcher string
	Path    string
}

func (r *FileServerRule) Match(url *url.URL) bool {
	return matchPrefix(url, r.Matcher)
}

func (r *FileServerRule) Handler() http.Handler {
	return &FileServerHandler{
		Prefix: r.Matcher,
		Path:   r.Path,
	}
}

func (r *FileServerRule) Upstream() string {
	return "file://" + r.Path
}

type FileServerHandler struct {
	Prefix string
	Path   string
}

func (h *FileServerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := r.Clone(r.Context())
	rest, rawRest := stripPrefix(r.URL, h.Prefix)
	req.URL.Path = joinURLPath("/", rest)
	req.URL.RawPath = joinURLPath("/", rawRest)

	http.FileServer(http.Dir(h.Path)).ServeHTTP(w, req)
}

// RedirectRule forwards matching requests to ForwardLocation. The matched prefix is removed
// and the rest of the path is joined onto the target's path.
type RedirectRule struct {
	Matcher         string
	ForwardLocation *url.URL

	// RewriteOrigin sets the outbound Host header to the upstream's host.
	RewriteOrigin bool
	// InsecureSkipVerify turns off certificate verification for this upstream.
	InsecureSkipVerify bool
	DialTimeout        time.Duration

	once  sync.Once
	proxy *httputil.ReverseProxy
}

func (r *RedirectRule) Match(url *url.URL) bool {
	return matchPrefix(url, r.Matcher)
}

func (r *RedirectRule) Upstream() string {
	return r.ForwardLocation.String()
}

func (r *RedirectRule) Handler() http.Handler {
	r.once.Do(func() {
		r.proxy = r.newReverseProxy()
	})
	return r.proxy
}

func (r *RedirectRule) newReverseProxy() *httputil.ReverseProxy {
	target := r.ForwardLocation

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			out := pr.Out
			rest, rawRest := stripPrefix(pr.In.URL, r.Matcher)
			out.URL.Scheme = target.Scheme
			out.URL.Host = target.Host
			out.URL.Path = joinURLPath(target.Path, rest)
			out.URL.RawPath = joinURLPath(target.EscapedPath(), rawRest)
			// The inbound query is used as sent, including parameters Go cannot parse.
			query := pr.In.URL.RawQuery
			if target.RawQuery == "" || query == "" {
				out.URL.RawQuery = target.RawQuery + query
			} else {
				out.URL.RawQuery = target.RawQuery + "&" + query
			}
			if r.RewriteOrigin {
				out.Host = target.Host
			}
			// Rewrite mode drops inbound forwarding headers; the client's own values go through as sent.
			for _, h := range forwardedHeaders {
				if values, ok := pr.In.Header[h]; ok {
					out.Header[h] = values
				}
			}
		},
		Transport: r.transport(),
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			if info := requestInfoFromContext(req.Context()); info != nil {
				if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
					info.abandon(err)
				} else {
					info.fail(err)
				}
			}
			rw.Header().Set("Content-Type", "text/plain")
			rw.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(rw, "Proxy error: "+err.Error())
		},
	}
}

func (r *RedirectRule) transport() *http.Transport {
	timeout := r.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: r.InsecureSkipVerify, // #nosec G402 -- opt-in per rule, warned at startup
		},
	}
}
