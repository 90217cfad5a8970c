package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/workflowshelf/workflowshelf/pkg/models"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// Login authenticates with username/password and returns the new session.
// On a non-2xx response the error is a *StatusError carrying the server's
// message.
func (c *Client) Login(ctx context.Context, username, password string) (*models.Session, error) {
	return c.credentials(ctx, pathLogin, username, password)
}

// Register creates an account and returns its session.
func (c *Client) Register(ctx context.Context, username, password string) (*models.Session, error) {
	return c.credentials(ctx, pathRegister, username, password)
}

func (c *Client) credentials(ctx context.Context, path, username, password string) (*models.Session, error) {
	req, err := c.newRequest(ctx, "POST", path, protocol.CredentialsRequest{
		Username: username,
		Password: password,
	}, "")
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readStatusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read auth response: %w", err)
	}
	return sessionFromAuth(data)
}

// sessionFromAuth splits an auth response into token and profile. The token
// is not kept in the profile's raw fields.
func sessionFromAuth(data []byte) (*models.Session, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parse auth response: %w", err)
	}

	var token string
	if raw, ok := fields["token"]; ok {
		if err := json.Unmarshal(raw, &token); err != nil {
			return nil, fmt.Errorf("parse auth token: %w", err)
		}
	}
	if token == "" {
		return nil, fmt.Errorf("auth response has no token")
	}
	delete(fields, "token")

	rest, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	profile, err := models.ProfileFromJSON(rest)
	if err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &models.Session{Token: token, Profile: profile}, nil
}

// UserInfo probes the profile endpoint with token. A non-2xx response or an
// unauthenticated answer is an error.
func (c *Client) UserInfo(ctx context.Context, token string) (*models.Profile, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	req, err := c.newRequest(ctx, "GET", pathUserInfo, nil, token)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readStatusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read user info: %w", err)
	}
	var info protocol.UserInfoResponse
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse user info: %w", err)
	}
	if !info.Authenticated {
		return nil, ErrUnauthorized
	}

	profile, err := models.ProfileFromJSON(data)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// AuthorizedWorkflows lists the workflows the token's user is entitled to.
func (c *Client) AuthorizedWorkflows(ctx context.Context, token string) (*protocol.AuthorizedWorkflowsResponse, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	req, err := c.newRequest(ctx, "GET", pathAuthorized, nil, token)
	if err != nil {
		return nil, err
	}

	var result protocol.AuthorizedWorkflowsResponse
	if err := c.doJSON(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CheckWorkflowAuth reports whether the token's user may open workflowID.
func (c *Client) CheckWorkflowAuth(ctx context.Context, token, workflowID string) (*protocol.CheckAuthResponse, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	req, err := c.newRequest(ctx, "POST", pathCheckAuth, protocol.CheckAuthRequest{WorkflowID: workflowID}, token)
	if err != nil {
		return nil, err
	}

	var result protocol.CheckAuthResponse
	if err := c.doJSON(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parse %s response: %w", req.URL.Path, err)
	}
	return nil
}
