package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tetherview/scadabridge/pkg/errors"
)

// fakeScada emulates the legacy application's REST surface: cookie-based
// sessions, value reads, and writes.
type fakeScada struct {
	session     atomic.Int64
	authCount   atomic.Int64
	writeCount  atomic.Int64
	values      map[string]string
	expireAfter atomic.Int64 // requests served before the session expires; 0 disables
	served      atomic.Int64
	lastWrite   atomic.Value // string
}

func newFakeScada() *fakeScada {
	return &fakeScada{values: map[string]string{}}
}

func (f *fakeScada) sessionCookie() string {
	return fmt.Sprintf("s%d", f.session.Load())
}

func (f *fakeScada) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/auth/"):
			f.authCount.Add(1)
			f.session.Add(1)
			f.served.Store(0)
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: f.sessionCookie(), Path: "/"})
			w.WriteHeader(http.StatusOK)
			return
		}

		cookie, err := r.Cookie("JSESSIONID")
		valid := err == nil && cookie.Value == f.sessionCookie()
		if valid {
			if limit := f.expireAfter.Load(); limit > 0 && f.served.Add(1) > limit {
				valid = false
			}
		}
		if !valid {
			w.Header().Set("Location", "/Scada-LTS/login.htm")
			w.WriteHeader(http.StatusFound)
			return
		}

		switch {
		case strings.HasPrefix(r.URL.Path, "/api/point_value/getValue/"):
			tag := strings.TrimPrefix(r.URL.Path, "/api/point_value/getValue/")
			value, ok := f.values[tag]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprintf(w, `{"value": %s, "ts": 1700000000000}`, value)
		case strings.HasPrefix(r.URL.Path, "/api/point_value/setValue/"):
			f.writeCount.Add(1)
			f.lastWrite.Store(strings.TrimPrefix(r.URL.Path, "/api/point_value/setValue/"))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:  baseURL,
		Username: "operator",
		Password: "secret",
		Timeout:  2 * time.Second,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "localhost:8080"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid))
}

func TestAuthenticate(t *testing.T) {
	fake := newFakeScada()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	require.NoError(t, client.Authenticate(context.Background()))
	assert.True(t, client.Connected())
	assert.Equal(t, int64(1), fake.authCount.Load())
}

func TestAuthenticateBadCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.Authenticate(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAuthFailed))
	assert.False(t, client.Connected())
}

func TestReadPointAuthenticatesOnDemand(t *testing.T) {
	fake := newFakeScada()
	fake.values["DP_1"] = "42.5"
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	pv, err := client.ReadPoint(context.Background(), "DP_1")
	require.NoError(t, err)
	assert.Equal(t, 42.5, pv.Value)
	assert.Equal(t, "DP_1", pv.Tag)
	assert.Equal(t, int64(1), fake.authCount.Load())
}

func TestReadPointReauthenticatesOnceOnExpiry(t *testing.T) {
	fake := newFakeScada()
	fake.values["DP_1"] = "7"
	fake.expireAfter.Store(2)
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		pv, err := client.ReadPoint(ctx, "DP_1")
		require.NoError(t, err, "read %d", i)
		assert.Equal(t, 7.0, pv.Value)
	}
	// The session dies every two reads, so more than a single auth happened
	// and every caller still saw a successful read.
	assert.Greater(t, fake.authCount.Load(), int64(1))
}

func TestReadPointUnknownTag(t *testing.T) {
	fake := newFakeScada()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.ReadPoint(context.Background(), "ghost")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeReadFailed))
}

func TestReadPointUpstreamDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(t, server.URL)
	server.Close()

	_, err := client.ReadPoint(context.Background(), "DP_1")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUpstreamUnavailable))
	assert.True(t, apperrors.IsRetryable(err))
	assert.False(t, client.Connected())
}

func TestReadPointHTMLBodyMeansExpiredSession(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/auth/") {
			w.WriteHeader(http.StatusOK)
			return
		}
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<!DOCTYPE html><html>login page</html>")
			return
		}
		fmt.Fprint(w, `{"value": 3, "ts": 0}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	pv, err := client.ReadPoint(context.Background(), "DP_1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, pv.Value)
}

func TestWritePoint(t *testing.T) {
	fake := newFakeScada()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.WritePoint(context.Background(), "control_valve", DataTypeNumeric, 50)
	require.NoError(t, err)
	assert.Equal(t, "control_valve/3/50", fake.lastWrite.Load())
}

func TestWritePointInvalidDataType(t *testing.T) {
	fake := newFakeScada()
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.WritePoint(context.Background(), "v", DataType(9), 1)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
	assert.Equal(t, int64(0), fake.writeCount.Load())
}

func TestLoginMintsIndependentSession(t *testing.T) {
	fake := newFakeScada()
	fake.values["DP_1"] = "1"
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	client := newTestClient(t, server.URL)
	require.NoError(t, client.Authenticate(context.Background()))

	cookies, err := client.Login(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, cookies)
	assert.Equal(t, "JSESSIONID", cookies[0].Name)
	assert.Equal(t, int64(2), fake.authCount.Load())
}

func TestEndpointJoinsBasePath(t *testing.T) {
	client := newTestClient(t, "http://10.0.0.5:9600/Scada-LTS/")
	got := client.endpoint("api", "auth", "u", "p")
	assert.Equal(t, "http://10.0.0.5:9600/Scada-LTS/api/auth/u/p", got)
}

func TestCoerceValue(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"null", 0},
		{"", 0},
		{"12.5", 12.5},
		{"true", 1},
		{"false", 0},
		{`"42"`, 42},
		{`" 7.5 "`, 7.5},
		{`"not a number"`, 0},
		{`{"nested": true}`, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, coerceValue([]byte(tc.raw)), "raw=%s", tc.raw)
	}
}

func TestAuthExpiredDetection(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusUnauthorized, Header: http.Header{}}
	assert.True(t, authExpired(resp))

	resp = &http.Response{StatusCode: http.StatusFound, Header: http.Header{}}
	resp.Header.Set("Location", "/Scada-LTS/login.htm")
	assert.True(t, authExpired(resp))

	resp = &http.Response{StatusCode: http.StatusFound, Header: http.Header{}}
	resp.Header.Set("Location", "/Scada-LTS/views.htm")
	assert.False(t, authExpired(resp))

	resp = &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}
	assert.False(t, authExpired(resp))
}

func TestParseDataType(t *testing.T) {
	dt, err := ParseDataType("numeric")
	require.NoError(t, err)
	assert.Equal(t, DataTypeNumeric, dt)

	_, err = ParseDataType("imaginary")
	assert.Error(t, err)
}
