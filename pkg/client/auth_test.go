package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

func TestLogin_Success(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/workflow_manager/auth/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req protocol.CredentialsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "alice" || req.Password != "secret1" {
			t.Errorf("unexpected credentials %+v", req)
		}
		json.NewEncoder(w).Encode(protocol.AuthResponse{
			Token:    "jwt-token-123",
			ID:       "7",
			Username: "alice",
			Nickname: "Alice",
			Photo:    "https://img/alice.png",
		})
	}))
	defer ts.Close()

	s, err := c.Login(context.Background(), "alice", "secret1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Token != "jwt-token-123" {
		t.Errorf("expected token jwt-token-123, got %s", s.Token)
	}
	if s.Profile.DisplayName != "Alice" || s.Profile.AvatarURL != "https://img/alice.png" {
		t.Errorf("unexpected profile %+v", s.Profile)
	}
	if strings.Contains(string(s.Profile.Raw), "jwt-token-123") {
		t.Error("token should not be kept in raw profile")
	}
}

func TestLogin_FailureMessageVerbatim(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized","message":"Invalid username or password","code":401}`))
	}))
	defer ts.Close()

	_, err := c.Login(context.Background(), "alice", "wrong")
	se, ok := AsStatus(err)
	if !ok {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != 401 || se.Message != "Invalid username or password" {
		t.Errorf("unexpected status error %+v", se)
	}
}

func TestRegister_PlainTextError(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/workflow_manager/auth/register" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("username taken\n"))
	}))
	defer ts.Close()

	_, err := c.Register(context.Background(), "alice", "secret1")
	se, ok := AsStatus(err)
	if !ok || se.Code != 409 || se.Message != "username taken" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestLogin_NoToken(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"username":"alice"}`))
	}))
	defer ts.Close()

	if _, err := c.Login(context.Background(), "alice", "secret1"); err == nil {
		t.Fatal("expected error for response without token")
	}
}

func TestLogin_NonStringToken(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":12345,"username":"alice"}`))
	}))
	defer ts.Close()

	_, err := c.Login(context.Background(), "alice", "secret1")
	if err == nil || !strings.Contains(err.Error(), "parse auth token") {
		t.Fatalf("expected token parse error, got %v", err)
	}
}

func TestUserInfo(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Write([]byte(`{"authenticated":true,"id":"1","username":"alice","avatar":"a.png"}`))
		case "Bearer anon":
			w.Write([]byte(`{"authenticated":false}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer ts.Close()
	ctx := context.Background()

	p, err := c.UserInfo(ctx, "good")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Username != "alice" || p.AvatarURL != "a.png" {
		t.Errorf("unexpected profile %+v", p)
	}

	if _, err := c.UserInfo(ctx, "bad"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := c.UserInfo(ctx, "anon"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for unauthenticated answer, got %v", err)
	}
	if _, err := c.UserInfo(ctx, ""); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestEntitlementQueries(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/workflow_manager/user/authorized":
			w.Write([]byte(`{"workflow_list":["cutout"],"workflow_details":{"cutout":{"source":"direct","type":"lifetime","expired_at":null}}}`))
		case "/workflow_manager/user/check_auth":
			var req protocol.CheckAuthRequest
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(protocol.CheckAuthResponse{WorkflowID: req.WorkflowID, Authorized: true, Permanent: true})
		}
	}))
	defer ts.Close()
	ctx := context.Background()

	list, err := c.AuthorizedWorkflows(ctx, "tok")
	if err != nil {
		t.Fatal(err)
	}
	if len(list.WorkflowList) != 1 || list.WorkflowDetails["cutout"].Type != "lifetime" {
		t.Errorf("unexpected list %+v", list)
	}

	check, err := c.CheckWorkflowAuth(ctx, "tok", "cutout")
	if err != nil {
		t.Fatal(err)
	}
	if check.WorkflowID != "cutout" || !check.Authorized || !check.Permanent {
		t.Errorf("unexpected check %+v", check)
	}
}
