package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"

	"github.com/amiskov/csrf-session-client/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

var (
	ErrTimeout   = errors.New("transport: request timed out")
	ErrTransport = errors.New("transport: request failed")
)

// Options tune a single call. Zero value is a plain request that follows
// redirects and uses the client's default timeout.
type Options struct {
	Headers map[string]string
	Query   url.Values
	// Form is sent url-encoded. Ignored when Body is set.
	Form url.Values
	// Body is sent as is for string and []byte, JSON encoded otherwise.
	Body        interface{}
	Timeout     time.Duration
	NoRedirects bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// Snippet returns at most n bytes of the body, for error messages.
func (r *Response) Snippet(n int) string {
	if len(r.Body) <= n {
		return string(r.Body)
	}
	return string(r.Body[:n])
}

// Client is a resty client pair sharing one cookie jar: one follows
// redirects, the other hands back the 3xx response as is.
type Client struct {
	baseURL  string
	timeout  time.Duration
	follow   *resty.Client
	noFollow *resty.Client
	jar      http.CookieJar
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("transport: invalid base URL `%s`", baseURL)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("transport: timeout must be positive, got %s", timeout)
	}

	baseURL = strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:  baseURL,
		timeout:  timeout,
		follow:   newResty(baseURL),
		noFollow: newResty(baseURL),
	}
	c.noFollow.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))

	if err := c.ResetCookies(); err != nil {
		return nil, err
	}
	return c, nil
}

func newResty(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetLogger(restyLogger{})
}

// restyLogger sends resty's own messages to whatever process logger is
// installed at the time they are written. Resty gives no request context,
// so loggers bound with logger.WithLogger never see these lines.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	logger.Log(context.Background()).Errorf("resty: "+format, v...)
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	logger.Log(context.Background()).Warnf("resty: "+format, v...)
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	logger.Log(context.Background()).Debugf("resty: "+format, v...)
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// ResetCookies replaces the cookie jar with an empty one.
func (c *Client) ResetCookies() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return fmt.Errorf("transport: can't create cookie jar, %w", err)
	}
	c.jar = jar
	c.follow.SetCookieJar(jar)
	c.noFollow.SetCookieJar(jar)
	return nil
}

// cookies lists what the jar would send to the base URL.
func (c *Client) cookies() []*http.Cookie {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil
	}
	return c.jar.Cookies(u)
}

// Request performs method on path, relative to the base URL.
func (c *Client) Request(ctx context.Context, method, path string, opts Options) (*Response, error) {
	timeout := c.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rc := c.follow
	if opts.NoRedirects {
		rc = c.noFollow
	}

	reqID := uuid.NewString()
	req := rc.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, reqID).
		SetHeaders(opts.Headers)
	if opts.Query != nil {
		req.SetQueryParamsFromValues(opts.Query)
	}
	switch {
	case opts.Body != nil:
		req.SetBody(opts.Body)
	case opts.Form != nil:
		req.SetFormDataFromValues(opts.Form)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		logger.Log(ctx).Debugf("transport: %s %s failed after %s (request %s), %v",
			method, path, time.Since(start), reqID, err)
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s after %s", ErrTimeout, method, path, timeout)
		}
		return nil, fmt.Errorf("%w: %s %s, %v", ErrTransport, method, path, err)
	}

	logger.Log(ctx).Debugf("transport: %s %s -> %d in %s (request %s)",
		method, path, resp.StatusCode(), time.Since(start), reqID)

	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
