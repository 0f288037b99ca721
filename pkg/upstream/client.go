// Package upstream implements the REST client for the legacy SCADA
// application. It owns the upstream session credential: authentication is
// serialized, reads run concurrently once a session exists, and an expired
// session is refreshed transparently exactly once per call.
package upstream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/tetherview/scadabridge/pkg/errors"
	"github.com/tetherview/scadabridge/pkg/observability"
)

// maxErrorPreview bounds how much of an unexpected body ends up in logs.
const maxErrorPreview = 200

// Config holds the upstream connection settings.
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Client talks to the legacy application's REST surface. Safe for concurrent
// use from the collector loop, the proxy relay, and the command executor.
type Client struct {
	base      *url.URL
	username  string
	password  string
	http      *http.Client
	logger    *slog.Logger
	authGroup singleflight.Group
	connected atomic.Bool
	// authEpoch increments on every successful authentication so callers can
	// tell whether someone else already refreshed the session.
	authEpoch atomic.Uint64
}

// NewClient builds a client. It does not authenticate; the first call that
// needs a session triggers authentication.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "upstream base URL %q is not absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		base:     base,
		username: cfg.Username,
		password: cfg.Password,
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
			// Auth-expired sessions answer with a redirect to the login
			// page; following it would hide the signal we key retries on.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: cfg.Logger.With("component", "upstream"),
	}, nil
}

// BaseURL returns the upstream root URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Connected reports whether the last upstream exchange succeeded.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Authenticate establishes an upstream session. Concurrent callers share a
// single in-flight authentication.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.authenticate(ctx)
	return err
}

func (c *Client) authenticate(ctx context.Context) (uint64, error) {
	v, err, _ := c.authGroup.Do("auth", func() (any, error) {
		authURL := c.endpoint("api", "auth", c.username, c.password)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
		if err != nil {
			return uint64(0), err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.connected.Store(false)
			return uint64(0), apperrors.Wrap(err, apperrors.ErrCodeUpstreamUnavailable, "authentication request failed").
				WithRetryable(true)
		}
		defer drainClose(resp.Body)

		if resp.StatusCode != http.StatusOK {
			c.connected.Store(false)
			return uint64(0), apperrors.Newf(apperrors.ErrCodeAuthFailed, "authentication failed with status %d", resp.StatusCode)
		}

		c.connected.Store(true)
		epoch := c.authEpoch.Add(1)
		observability.UpstreamAuths.Inc()
		c.logger.Info("authenticated against upstream", "url", c.base.String())
		return epoch, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// Login performs a standalone authentication with its own cookie state and
// returns the session cookies the upstream issued. The proxy uses it to mint
// upstream credentials for a browser session without disturbing the client's
// own session.
func (c *Client) Login(ctx context.Context) ([]*http.Cookie, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("api", "auth", c.username, c.password), nil)
	if err != nil {
		return nil, err
	}

	// No jar: the cookies belong to the browser session's mapping, not us.
	bare := &http.Client{
		Timeout: c.http.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := bare.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUpstreamUnavailable, "login request failed").WithRetryable(true)
	}
	defer drainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.ErrCodeAuthFailed, "login failed with status %d", resp.StatusCode)
	}
	observability.UpstreamAuths.Inc()
	return resp.Cookies(), nil
}

type readResponse struct {
	Value json.RawMessage `json:"value"`
	TS    int64           `json:"ts"`
}

// ReadPoint reads the current value of a point by upstream tag.
func (c *Client) ReadPoint(ctx context.Context, tag string) (PointValue, error) {
	var pv PointValue

	err := c.withAuthRetry(ctx, func() error {
		readURL := c.endpoint("api", "point_value", "getValue", tag)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, readURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.connected.Store(false)
			return apperrors.Wrap(err, apperrors.ErrCodeUpstreamUnavailable, "read request failed").
				WithContext("tag", tag).WithRetryable(true)
		}
		defer drainClose(resp.Body)

		if authExpired(resp) {
			return apperrors.Newf(apperrors.ErrCodeAuthFailed, "session expired reading %s", tag)
		}
		if resp.StatusCode != http.StatusOK {
			observability.UpstreamReadErrors.Inc()
			return apperrors.Newf(apperrors.ErrCodeReadFailed, "read %s returned status %d", tag, resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			observability.UpstreamReadErrors.Inc()
			return apperrors.Wrap(err, apperrors.ErrCodeReadFailed, "reading response body").WithContext("tag", tag)
		}

		var parsed readResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			// Expired sessions sometimes answer 200 with the login page HTML.
			if looksLikeHTML(body) {
				return apperrors.Newf(apperrors.ErrCodeAuthFailed, "session expired reading %s (HTML response)", tag)
			}
			observability.UpstreamReadErrors.Inc()
			return apperrors.Newf(apperrors.ErrCodeReadFailed, "read %s: unparseable response %q", tag, preview(body))
		}

		pv = PointValue{
			Tag:       tag,
			Value:     coerceValue(parsed.Value),
			Timestamp: timestampFrom(parsed.TS),
		}
		c.connected.Store(true)
		return nil
	})
	return pv, err
}

// WritePoint writes a value to a point. The data type passes through to the
// upstream unchanged.
func (c *Client) WritePoint(ctx context.Context, tag string, dataType DataType, value float64) error {
	if !dataType.Valid() {
		return apperrors.Newf(apperrors.ErrCodeInvalidInput, "invalid data type %d", dataType)
	}

	return c.withAuthRetry(ctx, func() error {
		writeURL := c.endpoint("api", "point_value", "setValue", tag,
			strconv.Itoa(int(dataType)), strconv.FormatFloat(value, 'f', -1, 64))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, writeURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.connected.Store(false)
			return apperrors.Wrap(err, apperrors.ErrCodeUpstreamUnavailable, "write request failed").
				WithContext("tag", tag).WithRetryable(true)
		}
		defer drainClose(resp.Body)

		if authExpired(resp) {
			return apperrors.Newf(apperrors.ErrCodeAuthFailed, "session expired writing %s", tag)
		}
		if resp.StatusCode != http.StatusOK {
			observability.UpstreamWriteErrors.Inc()
			return apperrors.Newf(apperrors.ErrCodeWriteFailed, "write %s returned status %d", tag, resp.StatusCode)
		}

		c.connected.Store(true)
		c.logger.Info("wrote upstream point", "tag", tag, "data_type", dataType.String(), "value", value)
		return nil
	})
}

// withAuthRetry runs fn, and on an auth-expired signal re-authenticates once
// and retries fn exactly once before surfacing the error.
func (c *Client) withAuthRetry(ctx context.Context, fn func() error) error {
	before := c.authEpoch.Load()

	err := fn()
	if err == nil || !apperrors.IsCode(err, apperrors.ErrCodeAuthFailed) {
		return err
	}

	if epoch, authErr := c.authenticate(ctx); authErr != nil {
		return authErr
	} else if epoch == before {
		// Raced with a concurrent refresh that predates our failure; the
		// shared singleflight result may be stale, so refresh once more.
		if _, authErr := c.authenticate(ctx); authErr != nil {
			return authErr
		}
	}

	return fn()
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(parts, "/")
	return u.String()
}

// authExpired detects the upstream's redirect-to-login answer.
func authExpired(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
		loc := strings.ToLower(resp.Header.Get("Location"))
		return strings.Contains(loc, "login")
	}
	return false
}

// coerceValue converts the upstream's loosely typed value field to a float.
// Binary points answer true/false, numeric points answer numbers or numeric
// strings, and absent values read as zero.
func coerceValue(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1
		}
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}

func timestampFrom(ms int64) time.Time {
	if ms <= 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func looksLikeHTML(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "<")
}

func preview(body []byte) string {
	s := strings.ReplaceAll(string(body), "\n", " ")
	if len(s) > maxErrorPreview {
		s = s[:maxErrorPreview] + "..."
	}
	return s
}

func drainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4<<10))
	_ = rc.Close()
}
