package sources

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/internal/metrics"
	"github.com/workflowshelf/workflowshelf/internal/retry"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// GitHubConfig holds settings for the GitHub contents backend.
type GitHubConfig struct {
	APIURL string
	Owner  string
	Repo   string
	Branch string // empty means the default branch
	Token  string // optional, raises the API rate limit
	Client *http.Client
	Retry  retry.Policy
}

// GitHub reads a repository through the contents API.
type GitHub struct {
	cfg    GitHubConfig
	client *http.Client
}

type githubItem struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// NewGitHub creates a GitHub backend.
func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultGitHubAPI
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = retry.Upstream()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logging.Info("GitHub backend configured",
		logging.String("repo", cfg.Owner+"/"+cfg.Repo),
		logging.String("branch", cfg.Branch))
	return &GitHub{cfg: cfg, client: client}, nil
}

// Kind implements Backend.
func (g *GitHub) Kind() string { return "github" }

// ListDir implements Backend.
func (g *GitHub) ListDir(ctx context.Context, dir string) ([]DirEntry, error) {
	body, err := g.contents(ctx, "list_dir", dir)
	if err != nil {
		return nil, err
	}

	var items []githubItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	entries := make([]DirEntry, 0, len(items))
	for _, it := range items {
		switch it.Type {
		case "dir":
			entries = append(entries, DirEntry{Name: it.Name, Dir: true})
		case "file":
			entries = append(entries, DirEntry{Name: it.Name})
		}
	}
	return entries, nil
}

// ReadFile implements Backend.
func (g *GitHub) ReadFile(ctx context.Context, p string) ([]byte, error) {
	body, err := g.contents(ctx, "get_file", p)
	if err != nil {
		return nil, err
	}

	var item githubItem
	if err := json.Unmarshal(body, &item); err != nil || item.Type != "file" {
		return nil, fmt.Errorf("%s is not a file: %w", p, ErrNotFound)
	}
	if item.Encoding != "" && item.Encoding != "base64" {
		return nil, fmt.Errorf("%s: unsupported encoding %q", p, item.Encoding)
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(item.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	return data, nil
}

func (g *GitHub) contents(ctx context.Context, op, p string) ([]byte, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/contents", g.cfg.APIURL, url.PathEscape(g.cfg.Owner), url.PathEscape(g.cfg.Repo))
	if p != "" {
		u += "/" + escapeSegments(p)
	}
	if g.cfg.Branch != "" {
		u += "?ref=" + url.QueryEscape(g.cfg.Branch)
	}

	return retry.Do(ctx, g.cfg.Retry, func() ([]byte, error) {
		start := time.Now()
		body, err := g.get(ctx, u)
		metrics.RecordUpstream(g.Kind(), op, time.Since(start), err == nil)
		if err != nil {
			logging.Debug("GitHub request failed", logging.String("url", u), logging.Err(err))
		}
		return body, err
	})
}

func (g *GitHub) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+g.cfg.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("github request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read github response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, retry.Transient(fmt.Errorf("github returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("github returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func escapeSegments(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
