// Package httpclient is the cookie-session HTTP adapter used by the API client.
//
// It keeps session cookies in a jar, echoes the CSRF cookie in the X-CSRF-Token
// header, retries transient failures with linear backoff and reports terminal
// failures to a Notifier.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	appLog "worksched/internal/log"
)

const (
	CSRFHeader        = "X-CSRF-Token"
	DefaultCSRFCookie = "csrf_token"
	DefaultRetries    = 3
	DefaultTimeout    = 10 * time.Second

	// maxErrorBody caps how much of an error response is kept in HTTPError.Body.
	maxErrorBody = 64 << 10
)

// Options configures a Client. Zero values pick the defaults above.
type Options struct {
	BaseURL    string
	CSRFCookie string
	Timeout    time.Duration
	// Retries is the number of retries after the first attempt; negative disables retrying.
	Retries  int
	Notifier Notifier
	// Transport overrides the underlying RoundTripper (tests, proxies).
	Transport http.RoundTripper
	// Backoff returns the delay before retry number attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client performs requests against one backend origin.
type Client struct {
	base       *url.URL
	http       *http.Client
	jar        http.CookieJar
	csrfCookie string
	retries    int
	notifier   Notifier
	backoff    func(int) time.Duration
	sleep      func(context.Context, time.Duration) error
}

// Request describes one logical call. Body may be nil, url.Values (form encoded),
// []byte (sent as-is) or any JSON-marshalable value.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Response is a fully read successful response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the body into v. An empty body leaves v untouched.
func (r *Response) DecodeJSON(v any) error {
	if v == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// LinearBackoff waits attempt seconds before retry number attempt.
func LinearBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("httpclient: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("httpclient: base URL %q must be absolute", opts.BaseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		base:       base,
		jar:        jar,
		csrfCookie: opts.CSRFCookie,
		retries:    opts.Retries,
		notifier:   opts.Notifier,
		backoff:    opts.Backoff,
		sleep:      opts.Sleep,
	}
	if c.csrfCookie == "" {
		c.csrfCookie = DefaultCSRFCookie
	}
	switch {
	case c.retries == 0:
		c.retries = DefaultRetries
	case c.retries < 0:
		c.retries = 0
	}
	if c.notifier == nil {
		c.notifier = discardNotifier{}
	}
	if c.backoff == nil {
		c.backoff = LinearBackoff
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c.http = &http.Client{
		Timeout:   timeout,
		Jar:       jar,
		Transport: opts.Transport,
	}
	return c, nil
}

// BaseURL returns the configured backend origin.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Cookie returns the value of a session cookie for the backend origin.
func (c *Client) Cookie(name string) (string, bool) {
	for _, ck := range c.jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value, true
		}
	}
	return "", false
}

// SetCookie stores a cookie for the backend origin, e.g. a CSRF token returned in
// a JSON body by machine logins.
func (c *Client) SetCookie(name, value string) {
	c.jar.SetCookies(c.base, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

// Do performs req with retries. On a terminal failure the Notifier is called once
// and a *HTTPError or *NetworkError is returned.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	target := c.resolve(req.Path, req.Query)

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			appLog.Info("http retry", "method", req.Method, "path", req.Path, "attempt", attempt, "delay", delay, "cause", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.once(ctx, req, target, body, contentType)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// Caller gave up; not a user-facing failure.
			return nil, ctx.Err()
		}
		if !shouldRetry(err) {
			break
		}
	}

	appLog.Error("http request failed", lastErr, "method", req.Method, "path", req.Path, "kind", KindOf(lastErr).String())
	c.notifier.Notify(lastErr)
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, req Request, target string, body []byte, contentType string) (*Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, target, rdr)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if contentType != "" && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", "application/json")
	}
	if token, ok := c.Cookie(c.csrfCookie); ok && token != "" {
		hreq.Header.Set(CSRFHeader, token)
	}

	appLog.Debug("http request", "method", req.Method, "url", target)

	hresp, err := c.http.Do(hreq)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: target, Err: err}
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, &NetworkError{Method: req.Method, URL: target, Err: err}
	}

	if hresp.StatusCode >= 400 {
		he := &HTTPError{
			Method:     req.Method,
			URL:        target,
			StatusCode: hresp.StatusCode,
			Message:    serverMessage(data),
		}
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		he.Body = data
		return nil, he
	}

	return &Response{StatusCode: hresp.StatusCode, Header: hresp.Header, Body: data}, nil
}

// shouldRetry: network errors, or any response with status >= 500.
func shouldRetry(err error) bool {
	switch KindOf(err) {
	case KindNetworkUnreachable, KindServerError:
		return true
	}
	return false
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	case []byte:
		return b, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return data, "application/json", nil
	}
}

// Get performs a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	return resp.DecodeJSON(out)
}

// Send performs a state-changing request with a JSON (or form) body.
func (c *Client) Send(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.Do(ctx, Request{Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	return resp.DecodeJSON(out)
}
