// Package gateway classifies inbound requests, verifies credentials where the
// route requires it and forwards annotated requests to backend services.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/athalino-bakti/UTS/internal/auth"
	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/logger"
	"github.com/athalino-bakti/UTS/internal/metrics"
	"github.com/athalino-bakti/UTS/internal/middleware"
)

// Router dispatches requests by route classification. Every route shares the
// same chain: identity headers are stripped, then protected and optional
// routes run Authenticate with the corresponding failure policy, then the
// request is proxied.
type Router struct {
	table    *Table
	handlers map[*Route]http.Handler
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// Option customises a Router.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	metrics   *metrics.Metrics
}

// WithTransport replaces the upstream transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// NewRouter builds a Router for table. verifier is only consulted for
// protected and optional routes.
func NewRouter(table *Table, verifier middleware.IdentityVerifier, mw *middleware.Middleware, proxyCfg config.ProxyConfig, log *logger.Logger, opts ...Option) (*Router, error) {
	if table == nil {
		return nil, errors.New("route table is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.transport == nil {
		o.transport = NewTransport(proxyCfg)
	}

	rt := &Router{
		table:    table,
		handlers: make(map[*Route]http.Handler, len(table.routes)),
		log:      log.WithComponent("gateway"),
		metrics:  o.metrics,
	}

	for _, route := range table.routes {
		var h http.Handler = rt.proxy(route, o.transport)

		switch route.Access {
		case AccessProtected, AccessOptional:
			if verifier == nil {
				return nil, errors.New("route " + route.Prefix + " needs a verifier")
			}
			h = mw.Authenticate(verifier, route.Access == AccessProtected)(h)
		}
		h = mw.StripIdentity(h)

		rt.handlers[route] = h
	}

	return rt, nil
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := rt.table.Match(r.URL.Path)
	if err != nil {
		rt.metrics.Routed("none", "not_found")
		middleware.WriteError(w, http.StatusNotFound, "route_not_found", "No route matches "+r.URL.Path)
		return
	}
	rt.handlers[route].ServeHTTP(w, r)
}

func (rt *Router) proxy(route *Route, transport http.RoundTripper) http.Handler {
	access := string(route.Access)
	log := rt.log.With().Str("backend", route.Backend).Str("prefix", route.Prefix).Logger()

	return &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			if route.StripPrefix {
				rewritePath(pr.Out.URL, pr.In.URL, route.Prefix)
			}
			pr.SetURL(route.Target)
			pr.SetXForwarded()
			annotate(pr.Out.Header, pr.In)
			pr.Out.Header.Set(middleware.RequestIDHeader, pr.In.Header.Get(middleware.RequestIDHeader))
			rt.metrics.Routed(access, "forwarded")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) {
				// Client went away; nothing useful to send.
				w.WriteHeader(499)
				return
			}
			log.Error().
				Err(err).
				Str("path", r.URL.Path).
				Str("request_id", middleware.GetRequestID(r.Context())).
				Msg("backend request failed")
			rt.metrics.Routed(access, "bad_gateway")
			middleware.WriteError(w, http.StatusBadGateway, "bad_gateway", "The upstream service is unavailable")
		},
	}
}

// annotate sets the identity headers on the outbound request from the
// verified identity alone. The proxy has already dropped any header the
// client named in Connection, so nothing set on the inbound request is relied on.
func annotate(out http.Header, in *http.Request) {
	for _, h := range auth.IdentityHeaders {
		out.Del(h)
	}
	id, ok := middleware.GetIdentity(in.Context())
	if !ok {
		return
	}
	out.Set(auth.HeaderSubjectID, id.SubjectID)
	out.Set(auth.HeaderEmail, id.Email)
	out.Set(auth.HeaderRole, id.Role)
}

// rewritePath removes prefix from the inbound path, keeping escapes such as
// %2F intact on the way to the backend.
func rewritePath(out, in *url.URL, prefix string) {
	escaped := in.EscapedPath()
	if strings.HasPrefix(escaped, prefix) {
		raw := stripPrefix(escaped, prefix)
		if path, err := url.PathUnescape(raw); err == nil {
			out.Path = path
			out.RawPath = raw
			return
		}
	}
	out.Path = stripPrefix(in.Path, prefix)
	out.RawPath = ""
}

func stripPrefix(path, prefix string) string {
	if prefix == "/" {
		return path
	}
	out := strings.TrimPrefix(path, prefix)
	if out == "" || out[0] != '/' {
		out = "/" + out
	}
	return out
}

// NewTransport returns the upstream transport with the configured timeouts.
func NewTransport(cfg config.ProxyConfig) *http.Transport {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dial,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}
}
