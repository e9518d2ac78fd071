// Package gateway is the single chokepoint for outbound HTTP calls. Every
// outcome, including transport failures, comes back as a Result; Request
// never returns a Go error or panics for ordinary failures.
package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"civicreport/internal/logging"
	"civicreport/internal/phone"
)

// RequestIDHeader carries a per-call id for correlating client and server logs.
const RequestIDHeader = "X-Request-ID"

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Options describes one call. The zero value is a GET with no body.
type Options struct {
	Method  string
	Body    any
	Headers map[string]string
	Token   string
	Params  map[string]string
}

// Result is either Data (parsed JSON) or Error, never both.
type Result struct {
	Data  any
	Error *Error
	body  []byte
}

// Err returns Error as an error value, or a nil interface on success.
func (r Result) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Decode unmarshals the response body into v. A malformed body decodes as {}.
func (r Result) Decode(v any) error {
	if r.Error != nil {
		return r.Error
	}
	return json.Unmarshal(r.body, v)
}

// Client sends requests to one base origin.
type Client struct {
	baseURL        string
	http           *http.Client
	userAgent      string
	defaultHeaders map[string]string
	logger         *slog.Logger
	newID          func() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger routes request logs to l.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.Component(l, "gateway") }
}

// WithDefaultHeader sets a header on every request; caller headers win.
func WithDefaultHeader(key, value string) Option {
	return func(c *Client) { c.defaultHeaders[key] = value }
}

// WithRootCAs trusts pool for TLS on top of the transport defaults.
func WithRootCAs(pool *x509.CertPool) Option {
	return func(c *Client) {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
		c.http = &http.Client{Transport: tr}
	}
}

// New builds a client for baseURL (scheme and host, no trailing slash).
// No timeout is set; the transport default applies.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		defaultHeaders: map[string]string{},
		logger:         logging.Component(logging.Discard(), "gateway"),
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the origin requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

// Request performs one call and maps every outcome into a Result.
func (c *Client) Request(ctx context.Context, path string, opts Options) Result {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return failed(InvalidRequest, 0, fmt.Sprintf("unsupported method %q", opts.Method))
	}
	if !strings.HasPrefix(path, "/") {
		return failed(InvalidRequest, 0, fmt.Sprintf("path %q must begin with /", path))
	}

	target := c.baseURL + path
	if len(opts.Params) > 0 {
		q := url.Values{}
		for k, v := range opts.Params {
			q.Set(k, v)
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		target += sep + q.Encode()
	}

	requestID := c.newID()
	log := c.logger.With("method", method, "path", path, "request_id", requestID)

	var body io.Reader
	if opts.Body != nil {
		raw, err := encodeBody(ctx, log, opts.Body)
		if err != nil {
			return failed(InvalidRequest, 0, err.Error())
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return failed(InvalidRequest, 0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range c.defaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	log.DebugContext(ctx, "request start", "authenticated", opts.Token != "")

	resp, err := c.http.Do(req)
	if err != nil {
		log.WarnContext(ctx, "request failed", "outcome", "network_failure", "error", err.Error())
		return failed(NetworkFailure, 0, err.Error())
	}
	defer resp.Body.Close()

	raw, data := readJSON(resp.Body)
	if raw == nil {
		log.DebugContext(ctx, "response body not json, using empty object", "status_code", resp.StatusCode)
		raw, data = []byte("{}"), map[string]any{}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(data, resp.StatusCode)
		fields := []any{"outcome", "failure", "status_code", resp.StatusCode, "message", msg}
		if resp.StatusCode >= 500 {
			log.ErrorContext(ctx, "request failed", fields...)
		} else {
			log.WarnContext(ctx, "request failed", fields...)
		}
		return failed(HTTPError, resp.StatusCode, msg)
	}

	log.DebugContext(ctx, "request done", "status_code", resp.StatusCode)
	return Result{Data: data, body: raw}
}

// encodeBody serializes v and applies the phone rule to a top-level string
// "phone" field. v itself is never modified.
func encodeBody(ctx context.Context, log *slog.Logger, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return raw, nil
	}
	field, ok := obj["phone"]
	if !ok {
		return raw, nil
	}
	var p string
	if err := json.Unmarshal(field, &p); err != nil || p == "" {
		return raw, nil
	}
	normalized := phone.Normalize(p)
	if !phone.IsValid(normalized) {
		log.WarnContext(ctx, "phone does not look like a valid indian number", "phone", logging.MaskPhone(normalized))
	}
	if normalized == p {
		return raw, nil
	}
	obj["phone"], _ = json.Marshal(normalized)
	return json.Marshal(obj)
}

// readJSON returns nil raw when the body is empty, unreadable or not JSON.
func readJSON(r io.Reader) ([]byte, any) {
	raw, err := io.ReadAll(r)
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, nil
	}
	return raw, data
}

// errorMessage prefers "detail", then "error", then the status text.
func errorMessage(data any, status int) string {
	if m, ok := data.(map[string]any); ok {
		for _, key := range []string{"detail", "error"} {
			if s, ok := m[key].(string); ok && s != "" {
				return s
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Unknown error"
}

func failed(kind Kind, status int, msg string) Result {
	return Result{Error: &Error{Kind: kind, Status: status, Message: msg}}
}
