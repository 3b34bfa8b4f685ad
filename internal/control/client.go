// Package control sends out-of-band commands to the scheduler's web server.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cocoview/internal/telemetry"
)

const (
	ActionResetStats = "reset_stats"
	ActionFetchInfo  = "fetch_info"

	DefaultTimeout = 5 * time.Second
	maxInfoBytes   = 8 << 20
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Op   string
	Code int
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func statusError(op string, resp *http.Response) *StatusError {
	return &StatusError{Op: op, Code: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())}
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func (e *StatusError) Error() string { return fmt.Sprintf("control: %s: http %d", e.Op, e.Code) }

// Info is the subset of POST /info the dashboard uses.
type Info struct {
	ProjectName string
}

// Client talks plain HTTP to the scheduler's web server.
type Client struct {
	base *url.URL
	hc   *http.Client
}

// NewClient derives the HTTP base from a server URL; ws(s) maps to http(s).
func NewClient(serverURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return nil, fmt.Errorf("control: parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("control: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("control: missing host")
	}
	u.Path, u.RawQuery, u.Fragment = "", "", ""
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{base: u, hc: &http.Client{Timeout: timeout}}, nil
}

func (c *Client) BaseURL() string { return c.base.String() }

// ResetStats posts action=reset_stats to "/". The body of the answer is ignored.
func (c *Client) ResetStats(ctx context.Context) error {
	form := url.Values{"action": {ActionResetStats}}
	resp, err := c.post(ctx, "/", form.Encode())
	if err != nil {
		return fmt.Errorf("control: reset stats: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return statusError(ActionResetStats, resp)
	}
	return nil
}

// FetchInfo posts to "/info" and reads info.project_name from the answer.
func (c *Client) FetchInfo(ctx context.Context) (Info, error) {
	resp, err := c.post(ctx, "/info", "")
	if err != nil {
		return Info{}, fmt.Errorf("control: fetch info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Info{}, statusError(ActionFetchInfo, resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoBytes))
	if err != nil {
		return Info{}, fmt.Errorf("control: fetch info: %w", err)
	}
	snap, err := telemetry.Decode(body)
	if err != nil {
		return Info{}, fmt.Errorf("control: fetch info: %w", err)
	}
	return Info{ProjectName: snap.ProjectName}, nil
}

func (c *Client) post(ctx context.Context, path, body string) (*http.Response, error) {
	u := *c.base
	u.Path = path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("User-Agent", "cocoview")
	return c.hc.Do(req)
}
