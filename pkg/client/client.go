// Package client is the HTTP client for the workflow manager API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/workflowshelf/workflowshelf/pkg/logger"
	"github.com/workflowshelf/workflowshelf/pkg/models"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// Endpoint binds a source to its listing and document paths.
type Endpoint struct {
	List           string
	DocumentPrefix string
	Favorites      bool
	RequiresAuth   bool
}

// Endpoints maps each source to its endpoint.
type Endpoints map[models.Source]Endpoint

// DefaultEndpoints returns the standard workflow manager routes.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		models.SourceLocal: {
			List:           "/workflow_manager/list",
			DocumentPrefix: "/workflow_manager/workflows/",
			Favorites:      true,
		},
		models.SourceCloud: {
			List:           "/workflow_manager/remote/list",
			DocumentPrefix: "/workflow_manager/remote/workflows/",
			Favorites:      true,
			RequiresAuth:   true,
		},
		models.SourceMember: {
			List:           "/workflow_manager/user/workflows",
			DocumentPrefix: "/workflow_manager/user/workflows/",
			RequiresAuth:   true,
		},
	}
}

const (
	pathPurge      = "/workflow_manager/remote/cache/clear"
	pathLogin      = "/workflow_manager/auth/login"
	pathRegister   = "/workflow_manager/auth/register"
	pathUserInfo   = "/workflow_manager/user/info"
	pathAuthorized = "/workflow_manager/user/authorized"
	pathCheckAuth  = "/workflow_manager/user/check_auth"
	pathEvents     = "/workflow_manager/events"
)

// Client talks to a workflow manager server. Requests are never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	endpoints  Endpoints
}

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Endpoints Endpoints
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Endpoints == nil {
		cfg.Endpoints = DefaultEndpoints()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		endpoints: cfg.Endpoints,
	}
}

// BaseURL returns the server address the client was built for.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Endpoint returns the binding for a source.
func (c *Client) Endpoint(source models.Source) (Endpoint, error) {
	ep, ok := c.endpoints[source]
	if !ok {
		return Endpoint{}, fmt.Errorf("no endpoint for source %s", source)
	}
	return ep, nil
}

// newRequest builds a request against the base URL. When token is non-empty
// the bearer header is set.
func (c *Client) newRequest(ctx context.Context, method, path string, body any, token string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, "GET", "/health", nil, "")
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

// ListCatalog fetches the folder listing of a source. A 404 yields
// ErrNotImplemented and a 401 yields ErrUnauthorized.
func (c *Client) ListCatalog(ctx context.Context, source models.Source, token string) (models.Catalog, error) {
	ep, err := c.Endpoint(source)
	if err != nil {
		return nil, err
	}
	if ep.RequiresAuth && token == "" {
		return nil, ErrUnauthenticated
	}
	if !ep.RequiresAuth {
		token = ""
	}

	req, err := c.newRequest(ctx, "GET", ep.List, nil, token)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", source, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotImplemented
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, readStatusError(resp)
	}

	var catalog models.Catalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("parse %s catalog: %w", source, err)
	}
	if catalog == nil {
		catalog = models.Catalog{}
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s catalog: %w", source, err)
	}

	logger.Debug("Fetched %s catalog: %d folders, %d files", source, len(catalog), catalog.FileCount())
	return catalog, nil
}

// GetWorkflow fetches one workflow document. The body must be valid JSON; it
// is otherwise returned untouched.
func (c *Client) GetWorkflow(ctx context.Context, source models.Source, p string, token string) (json.RawMessage, error) {
	if p == "" {
		return nil, fmt.Errorf("workflow path is empty")
	}
	ep, err := c.Endpoint(source)
	if err != nil {
		return nil, err
	}
	if ep.RequiresAuth && token == "" {
		return nil, ErrUnauthenticated
	}

	req, err := c.newRequest(ctx, "GET", ep.DocumentPrefix+escapePath(p), nil, token)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, readStatusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("workflow %s is not valid JSON", p)
	}
	return json.RawMessage(data), nil
}

// PurgeRemoteCache asks the server to drop its cached remote catalog. Any
// non-2xx response is an error.
func (c *Client) PurgeRemoteCache(ctx context.Context, token string) error {
	req, err := c.newRequest(ctx, "POST", pathPurge, nil, token)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("purge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}

	var ack protocol.PurgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err == nil && ack.Message != "" {
		logger.Debug("Purge: %s", ack.Message)
	}
	return nil
}

// escapePath escapes each segment of a composite path.
func escapePath(p string) string {
	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
