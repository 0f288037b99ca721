package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tetherview/scadabridge/pkg/errors"
	"github.com/tetherview/scadabridge/pkg/observability"
)

// hopByHopHeaders must not be forwarded in either direction.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// frameBlockingHeaders would stop the browser from rendering the upstream
// application inside the operator console's iframe.
var frameBlockingHeaders = []string{
	"X-Frame-Options",
	"Frame-Options",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"X-Content-Security-Policy",
}

// LoginFunc mints a fresh authenticated upstream session and returns the
// cookies the upstream set for it.
type LoginFunc func(ctx context.Context) ([]*http.Cookie, error)

// Config holds the gateway's wiring.
type Config struct {
	// Upstream is the legacy application's base URL, including any path
	// prefix it is served under.
	Upstream *url.URL
	// PublicOrigin is the scheme://host[:port] browsers use to reach this
	// gateway.
	PublicOrigin *url.URL
	// Prefix is the gateway path the application is embedded under.
	Prefix string
	// Login establishes upstream sessions for new browsers.
	Login LoginFunc
	// Logger for request logging.
	Logger *slog.Logger
}

// Gateway is the reverse proxy that embeds the legacy application. It owns
// the browser-facing gateway cookie and translates between it and the
// upstream's own cookies on every request.
type Gateway struct {
	upstream *url.URL
	public   *url.URL
	prefix   string
	login    LoginFunc
	sessions *SessionTable
	client   *http.Client
	relay    *wsRelay
	logger   *slog.Logger
}

// NewGateway constructs the proxy gateway.
func NewGateway(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		upstream: cfg.Upstream,
		public:   cfg.PublicOrigin,
		prefix:   strings.TrimSuffix(cfg.Prefix, "/"),
		login:    cfg.Login,
		sessions: NewSessionTable(),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			// Redirects go back to the browser with a rewritten Location.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
	g.relay = newWSRelay(g)
	return g
}

// Sessions exposes the session table, used by tests and the sweeper.
func (g *Gateway) Sessions() *SessionTable {
	return g.sessions
}

// RunSweeper evicts idle sessions until ctx is cancelled.
func (g *Gateway) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := g.sessions.Sweep(); n > 0 {
				g.logger.Info("proxy sessions swept", "evicted", n)
			}
		}
	}
}

// ServeHTTP handles one embedded-application request.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	token, cookies, created, err := g.resolveSession(r)
	if err != nil {
		g.respondUpstreamUnavailable(w, err)
		return
	}

	if isWebsocketUpgrade(r) {
		g.relay.serve(w, r, cookies)
		return
	}

	upstreamURL := *g.upstream
	upstreamURL.Path = singleJoiningSlash(g.upstream.Path, g.innerPath(r))
	upstreamURL.RawQuery = r.URL.RawQuery

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), r.Body)
	if err != nil {
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}
	// The body is an opaque reader here, so the declared length has to be
	// carried over or the upstream request goes out chunked.
	upstreamReq.ContentLength = r.ContentLength
	g.forwardRequestHeaders(r, upstreamReq, cookies)

	resp, err := g.client.Do(upstreamReq)
	if err != nil {
		g.logger.Error("upstream request failed",
			"method", r.Method, "path", r.URL.Path,
			"error", err, "duration", time.Since(startTime))
		g.respondUpstreamUnavailable(w, err)
		return
	}
	defer resp.Body.Close()

	g.sessions.Absorb(token, resp.Cookies())

	g.writeResponseHeaders(w, resp)
	if created {
		g.setGatewayCookie(w, token)
	}
	w.WriteHeader(resp.StatusCode)
	bytesCopied, _ := io.Copy(w, resp.Body)

	observability.ProxyRequests.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	observability.ProxyRelayDuration.Observe(time.Since(startTime).Seconds())
	g.logger.Debug("proxied request",
		"method", r.Method, "path", r.URL.Path,
		"status", resp.StatusCode, "bytes", bytesCopied,
		"duration", time.Since(startTime))
}

// resolveSession finds or establishes the upstream session for this browser.
// created reports whether a new gateway cookie must be set on the response.
func (g *Gateway) resolveSession(r *http.Request) (token string, cookies []*http.Cookie, created bool, err error) {
	if c, cerr := r.Cookie(GatewayCookie); cerr == nil {
		if cookies, ok := g.sessions.Cookies(c.Value); ok {
			return c.Value, cookies, false, nil
		}
	}
	minted, err := g.login(r.Context())
	if err != nil {
		return "", nil, false, err
	}
	token = g.sessions.Create(minted)
	cookies, _ = g.sessions.Cookies(token)
	g.logger.Info("upstream session established", "cookies", len(minted))
	return token, cookies, true, nil
}

// innerPath strips the embed prefix so the upstream sees its own paths.
func (g *Gateway) innerPath(r *http.Request) string {
	p := strings.TrimPrefix(r.URL.Path, g.prefix)
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return p
}

// forwardRequestHeaders copies browser headers upstream, replacing the
// cookie and origin headers so the upstream believes the request came from
// its own pages.
func (g *Gateway) forwardRequestHeaders(r *http.Request, upstreamReq *http.Request, cookies []*http.Cookie) {
	for key, values := range r.Header {
		if hopByHopHeaders[strings.ToLower(key)] {
			continue
		}
		switch http.CanonicalHeaderKey(key) {
		case "Cookie", "Origin", "Referer", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto":
			continue
		}
		for _, value := range values {
			upstreamReq.Header.Add(key, value)
		}
	}
	for _, c := range cookies {
		upstreamReq.AddCookie(c)
	}
	upstreamOrigin := (&url.URL{Scheme: g.upstream.Scheme, Host: g.upstream.Host}).String()
	if r.Header.Get("Origin") != "" {
		upstreamReq.Header.Set("Origin", upstreamOrigin)
	}
	if ref := r.Header.Get("Referer"); ref != "" {
		upstreamReq.Header.Set("Referer", g.rewriteToUpstream(ref))
	}
}

// writeResponseHeaders copies upstream headers to the browser, dropping the
// ones that would break embedding and rewriting upstream URLs back to the
// gateway's origin. Set-Cookie never reaches the browser; those cookies
// live in the session table.
func (g *Gateway) writeResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if hopByHopHeaders[strings.ToLower(key)] {
			continue
		}
		canonical := http.CanonicalHeaderKey(key)
		if canonical == "Set-Cookie" {
			continue
		}
		skip := false
		for _, blocked := range frameBlockingHeaders {
			if canonical == blocked {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, value := range values {
			switch canonical {
			case "Location", "Content-Location":
				value = g.rewriteToGateway(value)
			case "Refresh":
				value = rewriteRefresh(value, g.rewriteToGateway)
			}
			w.Header().Add(key, value)
		}
	}
}

func (g *Gateway) setGatewayCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     GatewayCookie,
		Value:    token,
		Path:     g.prefix + "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// rewriteToGateway maps an upstream URL to the equivalent gateway URL.
// Relative paths get the embed prefix; absolute URLs pointing at the
// upstream get origin and prefix swapped in. Foreign URLs pass through.
func (g *Gateway) rewriteToGateway(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Host != "" && !strings.EqualFold(u.Host, g.upstream.Host) {
		return raw
	}
	if u.Host == "" && !strings.HasPrefix(u.Path, "/") {
		return raw
	}
	inner := strings.TrimPrefix(u.Path, strings.TrimSuffix(g.upstream.Path, "/"))
	if inner == "" || inner[0] != '/' {
		inner = "/" + inner
	}
	u.Scheme = g.public.Scheme
	u.Host = g.public.Host
	u.Path = g.prefix + inner
	return u.String()
}

// rewriteToUpstream maps a gateway URL (typically a Referer) back to the
// upstream URL it proxies.
func (g *Gateway) rewriteToUpstream(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Host != "" && !strings.EqualFold(u.Host, g.public.Host) {
		return raw
	}
	inner := strings.TrimPrefix(u.Path, g.prefix)
	if inner == "" || inner[0] != '/' {
		inner = "/" + inner
	}
	u.Scheme = g.upstream.Scheme
	u.Host = g.upstream.Host
	u.Path = singleJoiningSlash(g.upstream.Path, inner)
	return u.String()
}

// rewriteRefresh handles the "seconds; url=..." form of the Refresh header.
func rewriteRefresh(value string, rewrite func(string) string) string {
	idx := strings.Index(strings.ToLower(value), "url=")
	if idx < 0 {
		return value
	}
	return value[:idx+4] + rewrite(strings.TrimSpace(value[idx+4:]))
}

func (g *Gateway) respondUpstreamUnavailable(w http.ResponseWriter, err error) {
	observability.ProxyRequests.WithLabelValues("5xx").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	body := map[string]any{
		"error": map[string]any{
			"code":    string(errors.ErrCodeUpstreamUnavailable),
			"message": "upstream application is unreachable",
		},
	}
	_ = json.NewEncoder(w).Encode(body)
	if err != nil {
		g.logger.Warn("served upstream unavailable", "error", err)
	}
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}
