package proxy

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherview/scadabridge/pkg/observability"
)

// wsRelay carries websocket traffic between the browser and the upstream
// application. Frames are copied verbatim in both directions; the relay
// never inspects or rewrites payloads.
type wsRelay struct {
	gateway  *Gateway
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

func newWSRelay(g *Gateway) *wsRelay {
	return &wsRelay{
		gateway: g,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The browser's origin is the gateway itself; same-origin
			// enforcement happens at the console layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// serve upgrades the browser connection, dials the matching upstream
// endpoint with the session's upstream cookies, and copies frames both
// ways until either side closes.
func (rl *wsRelay) serve(w http.ResponseWriter, r *http.Request, cookies []*http.Cookie) {
	g := rl.gateway

	upstreamURL := *g.upstream
	switch upstreamURL.Scheme {
	case "https":
		upstreamURL.Scheme = "wss"
	default:
		upstreamURL.Scheme = "ws"
	}
	upstreamURL.Path = singleJoiningSlash(g.upstream.Path, g.innerPath(r))
	upstreamURL.RawQuery = r.URL.RawQuery

	header := http.Header{}
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		header.Set("Sec-WebSocket-Protocol", proto)
	}
	header.Set("Origin", (&url.URL{Scheme: g.upstream.Scheme, Host: g.upstream.Host}).String())
	cookiePairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		cookiePairs = append(cookiePairs, c.Name+"="+c.Value)
	}
	if len(cookiePairs) > 0 {
		header.Set("Cookie", strings.Join(cookiePairs, "; "))
	}

	upstreamConn, resp, err := rl.dialer.DialContext(r.Context(), upstreamURL.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		g.logger.Warn("upstream websocket dial failed", "path", r.URL.Path, "error", err)
		g.respondUpstreamUnavailable(w, err)
		return
	}
	defer upstreamConn.Close()

	browserConn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("browser websocket upgrade failed", "error", err)
		return
	}
	defer browserConn.Close()

	observability.ProxyWebsocketRelays.Inc()
	defer observability.ProxyWebsocketRelays.Dec()
	g.logger.Info("websocket relay open", "path", r.URL.Path)

	var once sync.Once
	done := make(chan struct{})
	shutdown := func() { once.Do(func() { close(done) }) }

	go rl.pump(browserConn, upstreamConn, shutdown)
	go rl.pump(upstreamConn, browserConn, shutdown)
	<-done

	g.logger.Info("websocket relay closed", "path", r.URL.Path)
}

// pump copies messages from src to dst until either side fails.
func (rl *wsRelay) pump(src, dst *websocket.Conn, shutdown func()) {
	defer shutdown()
	for {
		messageType, payload, err := src.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				msg := websocket.FormatCloseMessage(closeErr.Code, closeErr.Text)
				_ = dst.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			}
			return
		}
		if err := dst.WriteMessage(messageType, payload); err != nil {
			return
		}
	}
}
