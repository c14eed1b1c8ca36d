package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultTimeout bounds every request unless overridden with WithTimeout.
const DefaultTimeout = 10 * time.Second

const (
	maxErrorBody = 1 << 20  // 1 MB
	maxBody      = 50 << 20 // receipts and exports can be large
)

// Credentials supplies the bearer token for outgoing requests and is told
// when the API rejects it. Invalidate receives the token that was sent and
// returns false when that token is no longer the current one.
type Credentials interface {
	AccessToken() string
	Invalidate(rejected string) bool
}

// Navigator sends the user to the login entry point.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a plain function to Navigator.
type NavigatorFunc func()

// ToLogin calls f.
func (f NavigatorFunc) ToLogin() { f() }

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// Raw asks for a non-JSON payload (PDF receipts, CSV exports).
	Raw bool
	// Anonymous requests carry no bearer token and skip the 401 trap.
	Anonymous bool
}

// Response is a successful (2xx) API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into out. An empty body leaves out untouched.
func (r *Response) Decode(out any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client is the single choke point for calls to the store API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

type options struct {
	creds      Credentials
	nav        Navigator
	timeout    time.Duration
	httpClient *http.Client
	log        logrus.FieldLogger
}

// Option configures a Client.
type Option func(*options)

// WithCredentials attaches a token source; its Invalidate is called on 401.
func WithCredentials(c Credentials) Option {
	return func(o *options) { o.creds = c }
}

// WithNavigator sets where the user is sent after a 401.
func WithNavigator(n Navigator) Option {
	return func(o *options) { o.nav = n }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHTTPClient uses hc's transport as the innermost stage of the pipeline.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// New creates a new API client. baseURL includes the API prefix,
// e.g. "http://localhost:8000/api".
func New(baseURL string, opts ...Option) *Client {
	o := options{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = discardLogger()
	}

	var base http.RoundTripper = http.DefaultTransport
	if o.httpClient != nil && o.httpClient.Transport != nil {
		base = o.httpClient.Transport
	}

	// Outermost first: tracing, request id, auth policy, network.
	var rt http.RoundTripper = &authTransport{next: base, creds: o.creds, nav: o.nav, log: o.log}
	rt = &requestIDTransport{next: rt}
	rt = otelhttp.NewTransport(rt)

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   o.timeout,
			Transport: rt,
		},
		log: o.log,
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Send performs the request and returns the response for any 2xx status.
// Other statuses become *HTTPError, network failures *TransportError.
func (c *Client) Send(ctx context.Context, r Request) (*Response, error) {
	var reqBody io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	if r.Anonymous {
		ctx = withAnonymous(ctx)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Raw {
		req.Header.Set("Accept", "*/*")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithFields(logrus.Fields{"method": r.Method, "path": r.Path}).WithError(err).Debug("request failed")
		return nil, &TransportError{Method: r.Method, Path: r.Path, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	c.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("request")

	if resp.StatusCode >= 400 {
		return nil, readHTTPError(resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &TransportError{Method: r.Method, Path: r.Path, Err: fmt.Errorf("read body: %w", err)}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) do(ctx context.Context, r Request, out any) error {
	resp, err := c.Send(ctx, r)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, Request{Method: http.MethodGet, Path: path}, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

func readHTTPError(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
	}
	httpErr := &HTTPError{StatusCode: resp.StatusCode}

	var payload map[string]json.RawMessage
	if json.Unmarshal(respBody, &payload) != nil {
		httpErr.Message = strings.TrimSpace(string(respBody))
		if httpErr.Message == "" {
			httpErr.Message = http.StatusText(resp.StatusCode)
		}
		return httpErr
	}

	for key, raw := range payload {
		switch key {
		case "error", "detail", "message":
			var s string
			if json.Unmarshal(raw, &s) == nil && httpErr.Message == "" {
				httpErr.Message = s
			}
		case "success":
		default:
			var list []string
			if json.Unmarshal(raw, &list) == nil {
				addField(httpErr, key, list...)
				continue
			}
			var s string
			if json.Unmarshal(raw, &s) == nil {
				addField(httpErr, key, s)
			}
		}
	}
	if httpErr.Message == "" && len(httpErr.Fields) == 0 {
		httpErr.Message = http.StatusText(resp.StatusCode)
	}
	return httpErr
}

func addField(e *HTTPError, key string, msgs ...string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[key] = append(e.Fields[key], msgs...)
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
