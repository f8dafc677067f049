package connect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/cdcsync/pkg/clients"
	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// maxBodyFragment caps how much of an error response ends up in an error
const maxBodyFragment = 512

// Client talks to one Kafka Connect worker's REST API. It performs exactly
// one HTTP call per method and never retries.
type Client struct {
	baseURL        string
	http           *clients.HTTPClient
	logger         *zap.Logger
	submitTimeout  time.Duration
	requestTimeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithSubmitTimeout bounds PUT requests
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Client) { c.submitTimeout = d }
}

// WithRequestTimeout bounds GET and POST requests
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// NewClient creates a client for the worker at baseURL
func NewClient(baseURL string, httpClient *clients.HTTPClient, logger *zap.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "invalid Kafka Connect URL").
			WithDetail("url", baseURL)
	}
	if httpClient == nil {
		httpClient = clients.NewHTTPClient(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		baseURL:        strings.TrimRight(u.String(), "/"),
		http:           httpClient,
		logger:         logger.With(zap.String("component", "connect_client")),
		submitTimeout:  120 * time.Second,
		requestTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized REST base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListConnectors calls GET /connectors. A 200 means the worker has finished
// loading its internal config topics and can accept connectors.
func (c *Client) ListConnectors(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.http.Get(ctx, c.baseURL+"/connectors", jsonHeaders())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "list connectors")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp, "list connectors")
	}

	var names []string
	if err := gojson.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "decode connector list")
	}
	return names, nil
}

// PutConfig creates or replaces the connector named cfg.Name. Repeating the
// call with the same config leaves Connect in the same state.
func (c *Client) PutConfig(ctx context.Context, cfg ConnectorConfig) (created bool, err error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	body, err := cfg.MarshalBody()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeValidation, "encode connector config").
			WithDetail("connector", cfg.Name)
	}

	ctx, cancel := withTimeout(ctx, c.submitTimeout)
	defer cancel()

	resp, err := c.http.Put(ctx, c.connectorURL(cfg.Name, "config"), bytes.NewReader(body), jsonHeaders())
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeConnection, "submit connector config").
			WithDetail("connector", cfg.Name)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		created = true
	case http.StatusOK:
	default:
		return false, responseError(resp, "submit connector config").WithDetail("connector", cfg.Name)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("connector config submitted",
		zap.String("connector", cfg.Name),
		zap.Bool("created", created))
	return created, nil
}

// Status calls GET /connectors/{name}/status
func (c *Client) Status(ctx context.Context, name string) (*ConnectorStatus, error) {
	ctx, cancel := withTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.http.Get(ctx, c.connectorURL(name, "status"), jsonHeaders())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "get connector status").
			WithDetail("connector", name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp, "get connector status").WithDetail("connector", name)
	}

	var status ConnectorStatus
	if err := gojson.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "decode connector status").
			WithDetail("connector", name)
	}
	if status.Name == "" {
		status.Name = name
	}
	return &status, nil
}

// RestartTask calls POST /connectors/{name}/tasks/{id}/restart
func (c *Client) RestartTask(ctx context.Context, name string, taskID int) error {
	ctx, cancel := withTimeout(ctx, c.requestTimeout)
	defer cancel()

	u := c.connectorURL(name, fmt.Sprintf("tasks/%d/restart", taskID))
	resp, err := c.http.Post(ctx, u, nil, jsonHeaders())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "restart connector task").
			WithDetail("connector", name).
			WithDetail("task", taskID)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	default:
		return responseError(resp, "restart connector task").
			WithDetail("connector", name).
			WithDetail("task", taskID)
	}
}

func (c *Client) connectorURL(name, suffix string) string {
	return c.baseURL + "/connectors/" + url.PathEscape(name) + "/" + suffix
}

// responseError maps a non-success response to a typed error with the HTTP
// status and the start of the body.
func responseError(resp *http.Response, op string) *errors.Error {
	fragment, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyFragment))

	var errType errors.ErrorType
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		errType = errors.ErrorTypeAuthentication
	case resp.StatusCode == http.StatusNotFound:
		errType = errors.ErrorTypeNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		errType = errors.ErrorTypeValidation
	default:
		errType = errors.ErrorTypeInternal
	}

	return errors.Newf(errType, "%s: HTTP %d", op, resp.StatusCode).
		WithDetail("status_code", resp.StatusCode).
		WithDetail("body", strings.TrimSpace(string(fragment)))
}

func jsonHeaders() map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
