// Package protocol defines the API request/response types.
package protocol

import (
	"time"

	"github.com/workflowshelf/workflowshelf/pkg/models"
)

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// CredentialsRequest is the body for POST /workflow_manager/auth/login and
// POST /workflow_manager/auth/register.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is returned by a successful login or registration. The profile
// fields sit next to the token.
type AuthResponse struct {
	Token    string `json:"token"`
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Photo    string `json:"photo"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	IsMock   bool   `json:"is_mock,omitempty"`
}

// UserInfoResponse is returned by GET /workflow_manager/user/info.
type UserInfoResponse struct {
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message,omitempty"`
	ID            string `json:"id,omitempty"`
	Username      string `json:"username,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
	Avatar        string `json:"avatar,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Mock          bool   `json:"mock,omitempty"`
}

// PurgeResponse acknowledges POST /workflow_manager/remote/cache/clear.
type PurgeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Grant describes why a workflow is authorized for a user.
type Grant struct {
	Source    string     `json:"source"` // "package" or "direct"
	PackageID string     `json:"package_id,omitempty"`
	Type      string     `json:"type"`
	ExpiredAt *time.Time `json:"expired_at"`
}

// AuthorizedWorkflowsResponse is returned by GET /workflow_manager/user/authorized.
type AuthorizedWorkflowsResponse struct {
	WorkflowList    []string         `json:"workflow_list"`
	WorkflowDetails map[string]Grant `json:"workflow_details"`
}

// CheckAuthRequest is the body for POST /workflow_manager/user/check_auth.
type CheckAuthRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// CheckAuthResponse reports the authorization state of one workflow.
type CheckAuthResponse struct {
	WorkflowID string     `json:"workflow_id"`
	Authorized bool       `json:"authorized"`
	ExpiresAt  *time.Time `json:"expires_at"`
	Permanent  bool       `json:"permanent"`
}

// Event types sent on GET /workflow_manager/events.
const (
	EventCatalogChanged = "catalog_changed"
	EventCachePurged    = "cache_purged"
)

// CatalogEvent is a server-sent event announcing that a source's catalog changed.
type CatalogEvent struct {
	Type      string        `json:"type"`
	Source    models.Source `json:"source"`
	Path      string        `json:"path,omitempty"`
	Timestamp int64         `json:"timestamp"`
}
