// Package proxy embeds the legacy web application behind this gateway. It
// forwards browser traffic upstream, rewrites the headers that would break
// embedding, and keeps the upstream's own session cookies server-side so the
// browser only ever sees one gateway cookie.
package proxy

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GatewayCookie is the single cookie the browser holds for the embedded
// application. Its value keys the server-side mapping to the upstream's
// real session cookies.
const GatewayCookie = "sb_session"

const sessionIdleTimeout = 4 * time.Hour

type session struct {
	cookies  map[string]*http.Cookie // keyed by upstream cookie name
	lastSeen time.Time
}

// SessionTable maps gateway cookie values to the upstream cookies minted
// for that browser. All methods are safe for concurrent use.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionTable constructs an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*session)}
}

// Create registers a new gateway session holding the given upstream cookies
// and returns the gateway cookie value.
func (t *SessionTable) Create(cookies []*http.Cookie) string {
	token := uuid.NewString()
	s := &session{cookies: make(map[string]*http.Cookie), lastSeen: time.Now()}
	for _, c := range cookies {
		s.cookies[c.Name] = c
	}
	t.mu.Lock()
	t.sessions[token] = s
	t.mu.Unlock()
	return token
}

// Cookies returns the upstream cookies for a gateway token. The second
// return is false when the token is unknown or expired.
func (t *SessionTable) Cookies(token string) ([]*http.Cookie, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[token]
	if !ok {
		return nil, false
	}
	if time.Since(s.lastSeen) > sessionIdleTimeout {
		delete(t.sessions, token)
		return nil, false
	}
	s.lastSeen = time.Now()
	out := make([]*http.Cookie, 0, len(s.cookies))
	for _, c := range s.cookies {
		out = append(out, c)
	}
	return out, true
}

// Absorb folds upstream Set-Cookie headers into an existing session. The
// upstream rotates its session id on login, so later cookies replace
// earlier ones of the same name. Expired cookies are removed.
func (t *SessionTable) Absorb(token string, setCookies []*http.Cookie) {
	if len(setCookies) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[token]
	if !ok {
		return
	}
	for _, c := range setCookies {
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(s.cookies, c.Name)
			continue
		}
		s.cookies[c.Name] = c
	}
	s.lastSeen = time.Now()
}

// Drop removes a session.
func (t *SessionTable) Drop(token string) {
	t.mu.Lock()
	delete(t.sessions, token)
	t.mu.Unlock()
}

// Len returns the number of live sessions.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Sweep evicts idle sessions. The gateway runs this periodically.
func (t *SessionTable) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for token, s := range t.sessions {
		if time.Since(s.lastSeen) > sessionIdleTimeout {
			delete(t.sessions, token)
			evicted++
		}
	}
	return evicted
}
