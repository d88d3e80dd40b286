// Package transport is the HTTP plane shared by the SQL and metadata
// endpoints: admin-secret authentication, timeouts, retries and the split
// between transport failures and logical service errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultSecretHeader = "X-Hasura-Admin-Secret"
	DefaultTimeout      = 30 * time.Second

	requestIDHeader = "X-Request-Id"
	maxBodyBytes    = 64 << 20
)

// Options configures a Client.
type Options struct {
	URL          string
	AdminSecret  string
	SecretHeader string
	Timeout      time.Duration
	Retries      int
	Logger       *slog.Logger
}

// Client posts JSON envelopes to the remote engine.
type Client struct {
	base    *url.URL
	secret  string
	header  string
	timeout time.Duration
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// New creates a Client for the engine at opts.URL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("endpoint url %q must be http or https", opts.URL)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	header := opts.SecretHeader
	if header == "" {
		header = DefaultSecretHeader
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.RetryMax = opts.Retries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logger

	return &Client{
		base:    base,
		secret:  opts.AdminSecret,
		header:  header,
		timeout: timeout,
		http:    rc,
		logger:  logger,
	}, nil
}

// Endpoint returns the base URL of the remote engine.
func (c *Client) Endpoint() string {
	return c.base.String()
}

// Post sends body to path and decodes a successful response into out.
// A logical rejection is returned as a *ServiceError with a nil error; any
// failure to obtain a well-formed answer is returned as an *Error.
func (c *Client) Post(ctx context.Context, path string, body, out any) (*ServiceError, error) {
	op := "POST " + path

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, Err: fmt.Errorf("encoding request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base.JoinPath(path).String(), payload)
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: op, Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, reqID)
	if c.secret != "" {
		req.Header.Set(c.header, c.secret)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapDoError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, wrapDoError(op, err)
	}

	c.logger.Debug("remote call",
		"path", path,
		"request_id", reqID,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuth, Op: op, Status: resp.StatusCode, Err: bodyError(data)}
	case resp.StatusCode == http.StatusBadGateway ||
		resp.StatusCode == http.StatusServiceUnavailable ||
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, &Error{Kind: KindUnavailable, Op: op, Status: resp.StatusCode, Err: bodyError(data)}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out != nil && len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, &Error{Kind: KindProtocol, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
			}
		}
		return nil, nil
	}

	svc := &ServiceError{}
	if err := json.Unmarshal(data, svc); err != nil || (svc.Code == "" && svc.Message == "") {
		return nil, &Error{Kind: KindProtocol, Op: op, Status: resp.StatusCode, Err: bodyError(data)}
	}
	if svc.Code == CodeAccessDenied || svc.Code == CodeInvalidHeaders {
		return nil, &Error{Kind: KindAuth, Op: op, Status: resp.StatusCode, Err: errors.New(svc.Message)}
	}
	return svc, nil
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

func wrapDoError(op string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func bodyError(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return nil
	}
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return errors.New(s)
}
