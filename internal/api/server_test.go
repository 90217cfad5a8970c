package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/workflowshelf/workflowshelf/internal/auth"
	"github.com/workflowshelf/workflowshelf/internal/cache"
	"github.com/workflowshelf/workflowshelf/internal/entitlements"
	"github.com/workflowshelf/workflowshelf/internal/ratelimit"
	"github.com/workflowshelf/workflowshelf/internal/sources"
	"github.com/workflowshelf/workflowshelf/pkg/models"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// memBackend is a sources.Backend over an in-memory object map.
type memBackend map[string]string

func (m memBackend) Kind() string { return "mem" }

func (m memBackend) ListDir(_ context.Context, dir string) ([]sources.DirEntry, error) {
	prefix := dir + "/"
	seen := make(map[string]bool)
	var out []sources.DirEntry
	for key := range m {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		name, _, isDir := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, sources.DirEntry{Name: name, Dir: isDir})
	}
	if len(out) == 0 {
		return nil, sources.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memBackend) ReadFile(_ context.Context, p string) ([]byte, error) {
	content, ok := m[p]
	if !ok {
		return nil, sources.ErrNotFound
	}
	return []byte(content), nil
}

type testEnv struct {
	server  *Server
	handler http.Handler
	auth    *auth.Auth
}

func newTestEnv(t *testing.T, opts Options, withRemote bool) *testEnv {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "local", "top.json"), `{"nodes":[]}`)
	writeFile(t, filepath.Join(dir, "local", "Portraits", "face.json"), `{"nodes":[1]}`)
	writeFile(t, filepath.Join(dir, "local", "Portraits", "notes.txt"), `ignored`)
	local, err := sources.NewLocal(filepath.Join(dir, "local"))
	if err != nil {
		t.Fatal(err)
	}

	store, err := auth.Open(ctx, filepath.Join(dir, "users.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	a, err := auth.New(store, auth.Config{
		Enabled:        true,
		Secret:         "api-test-secret",
		TokenTTL:       time.Hour,
		TrialDays:      7,
		StarterPackage: "starter",
	})
	if err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		Local: local,
		Auth:  a,
		Entitlements: entitlements.NewEvaluator(entitlements.Catalog{
			"starter": {Workflows: []string{"alpha", "private"}},
		}),
		Limiter: ratelimit.New(0),
	}
	if withRemote {
		deps.Remote = sources.NewRemote(memBackend{
			"workflows/alpha.json":                      `{"id":"alpha"}`,
			"workflows/Video/beta.json":                 `{"id":"beta"}`,
			"workflows/Video/alpha2.json":               `{"id":"alpha2"}`,
			"workflows/user_workflows/private.json":     `{"id":"private"}`,
			"workflows/user_workflows/alpha.json":       `{"id":"alpha-member"}`,
			"workflows/Broken/bad.json":                 `{nope`,
			"workflows/Video/readme.md":                 `# skip`,
			"workflows/user_workflows/Nested/deep.json": `{}`,
		}, "workflows", cache.NewMemory(time.Minute))
	}

	s := NewServer(deps, opts)
	return &testEnv{server: s, handler: s.Handler(), auth: a}
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req = httptest.NewRequest(method, target, strings.NewReader(string(data)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, username string) string {
	t.Helper()
	rec := e.do(t, "POST", "/workflow_manager/auth/register", "", protocol.CredentialsRequest{
		Username: username,
		Password: "secret1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp protocol.AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) protocol.ErrorResponse {
	t.Helper()
	var resp protocol.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp
}

func decodeCatalog(t *testing.T, rec *httptest.ResponseRecorder) models.Catalog {
	t.Helper()
	var c models.Catalog
	if err := json.NewDecoder(rec.Body).Decode(&c); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	return c
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{}, false)
	rec := env.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" || body["remote"] != false {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestLocalCatalog(t *testing.T) {
	env := newTestEnv(t, Options{}, false)

	rec := env.do(t, "GET", "/workflow_manager/list", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	c := decodeCatalog(t, rec)
	if !c.Contains("top.json") || !c.Contains("Portraits/face.json") {
		t.Errorf("unexpected catalog: %+v", c)
	}
	if c.FileCount() != 2 {
		t.Errorf("expected only JSON files, got %d", c.FileCount())
	}

	rec = env.do(t, "GET", "/workflow_manager/workflows/Portraits/face.json", "", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"nodes":[1]}` {
		t.Errorf("unexpected document response %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", "/workflow_manager/workflows/Portraits/missing.json", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing workflow, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != http.StatusNotFound || e.Error != "Workflow not found" {
		t.Errorf("unexpected error body: %+v", e)
	}
}

func TestRemoteRequiresToken(t *testing.T) {
	env := newTestEnv(t, Options{CloudRequiresAuth: true}, true)

	rec := env.do(t, "GET", "/workflow_manager/remote/list", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "Token required" {
		t.Errorf("unexpected error: %+v", e)
	}

	rec = env.do(t, "GET", "/workflow_manager/remote/list", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}

	token := env.register(t, "carol")
	rec = env.do(t, "GET", "/workflow_manager/remote/list", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	c := decodeCatalog(t, rec)
	for _, p := range []string{"alpha.json", "Video/beta.json", "Video/alpha2.json", "Broken/bad.json"} {
		if !c.Contains(p) {
			t.Errorf("expected %s in cloud catalog %+v", p, c)
		}
	}
	if c.Contains("user_workflows/private.json") || c.Contains("Video/readme.md") {
		t.Errorf("member folder and non-JSON files must be hidden: %+v", c)
	}
}

func TestRemoteDocument(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	rec := env.do(t, "GET", "/workflow_manager/remote/workflows/Video/beta.json", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"beta"`) {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", "/workflow_manager/remote/workflows/Broken/bad.json", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for invalid JSON, got %d", rec.Code)
	}

	rec = env.do(t, "GET", "/workflow_manager/remote/workflows/nope.json", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRemoteNotConfigured(t *testing.T) {
	env := newTestEnv(t, Options{MemberCatalog: true}, false)
	token := env.register(t, "dave")

	for _, target := range []string{
		"/workflow_manager/remote/list",
		"/workflow_manager/remote/workflows/a.json",
		"/workflow_manager/user/workflows",
	} {
		rec := env.do(t, "GET", target, token, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestCachePurge(t *testing.T) {
	env := newTestEnv(t, Options{}, true)
	ch := env.server.Broadcaster().Subscribe()
	defer env.server.Broadcaster().Unsubscribe(ch)

	rec := env.do(t, "POST", "/workflow_manager/remote/cache/clear", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp protocol.PurgeResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "success" || resp.Message == "" {
		t.Errorf("unexpected purge response: %+v", resp)
	}

	select {
	case ev := <-ch:
		if ev.Type != protocol.EventCachePurged || ev.Source != models.SourceCloud {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected cache_purged event")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t, Options{}, false)
	env.register(t, "erin")

	tests := []struct {
		name      string
		path      string
		user      string
		pass      string
		wantCode  int
		wantError string
	}{
		{"duplicate", "register", "erin", "secret1", http.StatusConflict, "Username exists"},
		{"short username", "register", "ab", "secret1", http.StatusBadRequest, "Invalid username"},
		{"short password", "register", "frank", "12345", http.StatusBadRequest, "Invalid password"},
		{"register missing", "register", "", "", http.StatusBadRequest, "Missing username or password"},
		{"login missing", "login", "erin", "", http.StatusBadRequest, "Missing username or password"},
		{"wrong password", "login", "erin", "wrong-pass", http.StatusUnauthorized, "Login failed"},
		{"unknown user", "login", "nobody", "secret1", http.StatusUnauthorized, "Login failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/workflow_manager/auth/"+tt.path, "", protocol.CredentialsRequest{
				Username: tt.user,
				Password: tt.pass,
			})
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if e := decodeError(t, rec); e.Error != tt.wantError || e.Code != tt.wantCode {
				t.Errorf("unexpected error body: %+v", e)
			}
		})
	}

	rec := env.do(t, "POST", "/workflow_manager/auth/login", "", protocol.CredentialsRequest{
		Username: "erin",
		Password: "secret1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rec.Code)
	}
	var resp protocol.AuthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Token == "" || resp.Username != "erin" {
		t.Errorf("unexpected login response: %+v", resp)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, Options{}, false)
	env.server.limiter = ratelimit.New(2)
	env.handler = env.server.Handler()

	creds := protocol.CredentialsRequest{Username: "nobody", Password: "secret1"}
	for i := 0; i < 2; i++ {
		if rec := env.do(t, "POST", "/workflow_manager/auth/login", "", creds); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rec.Code)
		}
	}
	rec := env.do(t, "POST", "/workflow_manager/auth/login", "", creds)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestUserInfo(t *testing.T) {
	env := newTestEnv(t, Options{}, false)

	rec := env.do(t, "GET", "/workflow_manager/user/info", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for anonymous info, got %d", rec.Code)
	}
	var anon protocol.UserInfoResponse
	json.NewDecoder(rec.Body).Decode(&anon)
	if anon.Authenticated || anon.Message == "" {
		t.Errorf("unexpected anonymous info: %+v", anon)
	}

	rec = env.do(t, "GET", "/workflow_manager/user/info", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}

	token := env.register(t, "gina")
	rec = env.do(t, "GET", "/workflow_manager/user/info", token, nil)
	var info protocol.UserInfoResponse
	json.NewDecoder(rec.Body).Decode(&info)
	if rec.Code != http.StatusOK || !info.Authenticated || info.Username != "gina" {
		t.Errorf("unexpected info %d: %+v", rec.Code, info)
	}
}

func TestMemberCatalogFilteredByEntitlements(t *testing.T) {
	env := newTestEnv(t, Options{MemberCatalog: true}, true)
	token := env.register(t, "hank")

	rec := env.do(t, "GET", "/workflow_manager/user/workflows", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = env.do(t, "GET", "/workflow_manager/user/workflows", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	c := decodeCatalog(t, rec)
	if got := c.Paths(); len(got) != 1 || got[0] != "alpha.json" {
		t.Errorf("expected only the entitled workflow, got %v", got)
	}
}

func TestMemberCatalogDisabled(t *testing.T) {
	env := newTestEnv(t, Options{MemberCatalog: false}, true)
	token := env.register(t, "ivan")
	if rec := env.do(t, "GET", "/workflow_manager/user/workflows", token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 when member catalog is disabled, got %d", rec.Code)
	}
}

func TestMemberDocumentFallback(t *testing.T) {
	env := newTestEnv(t, Options{MemberCatalog: true}, true)
	token := env.register(t, "jill")

	rec := env.do(t, "GET", "/workflow_manager/user/workflows/alpha.json", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "alpha-member") {
		t.Errorf("expected member copy, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", "/workflow_manager/user/workflows/Video/beta.json", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"beta"`) {
		t.Errorf("expected public fallback, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", "/workflow_manager/user/workflows/ghost.json", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAuthorizedAndCheck(t *testing.T) {
	env := newTestEnv(t, Options{}, false)
	token := env.register(t, "kate")

	rec := env.do(t, "GET", "/workflow_manager/user/authorized", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list protocol.AuthorizedWorkflowsResponse
	json.NewDecoder(rec.Body).Decode(&list)
	if fmt.Sprint(list.WorkflowList) != "[alpha private]" {
		t.Errorf("unexpected workflow list: %v", list.WorkflowList)
	}
	if g := list.WorkflowDetails["alpha"]; g.Source != entitlements.SourcePackage || g.PackageID != "starter" {
		t.Errorf("unexpected grant: %+v", g)
	}

	rec = env.do(t, "POST", "/workflow_manager/user/check_auth", token, protocol.CheckAuthRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Error != "Missing workflow_id" {
		t.Errorf("unexpected error: %+v", e)
	}

	rec = env.do(t, "POST", "/workflow_manager/user/check_auth", token, protocol.CheckAuthRequest{WorkflowID: "alpha"})
	var check protocol.CheckAuthResponse
	json.NewDecoder(rec.Body).Decode(&check)
	if !check.Authorized || check.Permanent || check.ExpiresAt == nil {
		t.Errorf("trial grant should be authorized with an expiry: %+v", check)
	}

	rec = env.do(t, "POST", "/workflow_manager/user/check_auth", token, protocol.CheckAuthRequest{WorkflowID: "other"})
	check = protocol.CheckAuthResponse{}
	json.NewDecoder(rec.Body).Decode(&check)
	if check.Authorized {
		t.Errorf("unexpected authorization: %+v", check)
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, Options{}, false)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/workflow_manager/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.server.Broadcaster().Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	env.server.Broadcaster().CatalogChanged(models.SourceLocal, "Portraits/face.json")

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[0] != "event: "+protocol.EventCatalogChanged {
		t.Errorf("unexpected event line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "data: ") || !strings.Contains(lines[1], "Portraits/face.json") {
		t.Errorf("unexpected data line %q", lines[1])
	}
}

func TestDocumentError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("read x: %w", sources.ErrNotFound), http.StatusNotFound},
		{sources.ErrInvalidPath, http.StatusBadRequest},
		{fmt.Errorf("x: %w", sources.ErrInvalidDocument), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := documentError(tt.err); got != tt.want {
			t.Errorf("documentError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
