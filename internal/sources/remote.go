package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/workflowshelf/workflowshelf/internal/cache"
	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/internal/metrics"
	"github.com/workflowshelf/workflowshelf/pkg/models"
)

// MemberDir is the folder under the remote base path that holds per-member
// workflows. It is hidden from the public catalog.
const MemberDir = "user_workflows"

// Cache key prefixes for remote listings and documents.
const (
	dirListPrefix     = "dir_list:"
	fileContentPrefix = "file_content:"
)

// DirEntry is one child of a remote directory.
type DirEntry struct {
	Name string `json:"name"`
	Dir  bool   `json:"dir"`
}

// Backend is the raw storage behind a Remote source. Paths are slash
// separated and relative to the backend root. ReadFile returns ErrNotFound
// for a missing object.
type Backend interface {
	Kind() string
	ListDir(ctx context.Context, dir string) ([]DirEntry, error)
	ReadFile(ctx context.Context, p string) ([]byte, error)
}

// Remote is the cloud catalog: a Backend scanned recursively under a base
// path, with directory listings and documents cached.
type Remote struct {
	backend Backend
	base    string
	cache   cache.Cache
}

// NewRemote creates a remote source. A nil cache disables caching.
func NewRemote(backend Backend, basePath string, c cache.Cache) *Remote {
	return &Remote{
		backend: backend,
		base:    strings.Trim(basePath, "/"),
		cache:   c,
	}
}

// Name implements Source.
func (r *Remote) Name() string { return "cloud" }

// Backend returns the underlying storage.
func (r *Remote) Backend() Backend { return r.backend }

// List scans the base path recursively. Folder names are relative to the
// base path, with the base itself reported as "/".
func (r *Remote) List(ctx context.Context) (models.Catalog, error) {
	start := time.Now()
	catalog := models.Catalog{}
	if err := r.scan(ctx, "", &catalog); err != nil {
		return nil, err
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].Folder < catalog[j].Folder })
	metrics.RecordCatalogScan(r.Name(), catalog.FileCount(), time.Since(start))
	return catalog, nil
}

func (r *Remote) scan(ctx context.Context, rel string, out *models.Catalog) error {
	entries, err := r.listDir(ctx, r.join(rel))
	if errors.Is(err, ErrNotFound) {
		logging.Warn("remote directory does not exist", logging.String("path", r.join(rel)))
		return nil
	}
	if err != nil {
		return err
	}

	var files, dirs []string
	for _, e := range entries {
		switch {
		case e.Dir:
			if rel == "" && e.Name == MemberDir {
				continue
			}
			dirs = append(dirs, e.Name)
		case isWorkflowFile(e.Name):
			files = append(files, e.Name)
		}
	}

	if len(files) > 0 {
		folder := rel
		if folder == "" {
			folder = models.RootFolder
		}
		sort.Strings(files)
		*out = append(*out, models.CatalogEntry{Folder: folder, Files: files})
	}

	sort.Strings(dirs)
	for _, d := range dirs {
		if err := r.scan(ctx, path.Join(rel, d), out); err != nil {
			return err
		}
	}
	return nil
}

func (r *Remote) listDir(ctx context.Context, dir string) ([]DirEntry, error) {
	key := dirListPrefix + dir
	if data, ok := r.cacheGet(ctx, key); ok {
		var entries []DirEntry
		if err := json.Unmarshal(data, &entries); err == nil {
			return entries, nil
		}
		logging.Debug("ignoring undecodable cached listing", logging.String("key", key))
	}

	entries, err := r.backend.ListDir(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if data, err := json.Marshal(entries); err == nil {
		r.cacheSet(ctx, key, data)
	}
	return entries, nil
}

// Get fetches a public workflow document.
func (r *Remote) Get(ctx context.Context, p string) (json.RawMessage, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	return r.read(ctx, r.join(clean))
}

// GetMember fetches a workflow for the member catalog: the member folder is
// tried first, then the public tree.
func (r *Remote) GetMember(ctx context.Context, p string) (json.RawMessage, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	doc, err := r.read(ctx, r.join(path.Join(MemberDir, clean)))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	logging.Debug("member workflow not in member folder, trying public tree", logging.String("path", clean))
	return r.read(ctx, r.join(clean))
}

func (r *Remote) read(ctx context.Context, full string) (json.RawMessage, error) {
	key := fileContentPrefix + full
	data, ok := r.cacheGet(ctx, key)
	if !ok {
		var err error
		data, err = r.backend.ReadFile(ctx, full)
		if err != nil {
			metrics.RecordWorkflowDownload(r.Name(), false)
			return nil, fmt.Errorf("read %s: %w", full, err)
		}
		r.cacheSet(ctx, key, data)
	}

	doc, err := document(data)
	if err != nil {
		metrics.RecordWorkflowDownload(r.Name(), false)
		return nil, fmt.Errorf("%s: %w", full, err)
	}
	metrics.RecordWorkflowDownload(r.Name(), true)
	return doc, nil
}

// Purge drops every cached listing and document.
func (r *Remote) Purge(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear remote cache: %w", err)
	}
	logging.Info("remote cache purged", logging.String("backend", r.backend.Kind()))
	return nil
}

func (r *Remote) join(rel string) string {
	if r.base == "" {
		return rel
	}
	if rel == "" {
		return r.base
	}
	return r.base + "/" + rel
}

// Cache failures degrade to a direct backend call.
func (r *Remote) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		logging.Warn("cache get failed", logging.String("key", key), logging.Err(err))
		return nil, false
	}
	return data, ok
}

func (r *Remote) cacheSet(ctx context.Context, key string, data []byte) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, data); err != nil {
		logging.Warn("cache set failed", logging.String("key", key), logging.Err(err))
	}
}
