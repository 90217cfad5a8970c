package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/internal/metrics"
	"github.com/workflowshelf/workflowshelf/pkg/models"
)

// Local serves workflows from a directory tree. Folders are reported relative
// to the root, with the root itself reported as "/".
type Local struct {
	root string
}

// NewLocal creates a local source rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("workflow dir is required")
	}
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create workflow dir %s: %w", dir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat workflow dir %s: %w", dir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("workflow dir %s is not a directory", dir)
	}
	return &Local{root: dir}, nil
}

// Name implements Source.
func (l *Local) Name() string { return "local" }

// Root returns the directory being served.
func (l *Local) Root() string { return l.root }

// List walks the directory and returns every folder holding at least one
// .json file. Folders and files are sorted by name.
func (l *Local) List(ctx context.Context) (models.Catalog, error) {
	start := time.Now()
	byFolder := make(map[string][]string)

	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == l.root {
				return err
			}
			logging.Warn("skipping unreadable path", logging.String("path", p), logging.Err(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !isWorkflowFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(l.root, filepath.Dir(p))
		if err != nil {
			return err
		}
		folder := filepath.ToSlash(rel)
		if folder == "." {
			folder = models.RootFolder
		}
		byFolder[folder] = append(byFolder[folder], d.Name())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", l.root, err)
	}

	catalog := make(models.Catalog, 0, len(byFolder))
	for folder, files := range byFolder {
		sort.Strings(files)
		catalog = append(catalog, models.CatalogEntry{Folder: folder, Files: files})
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].Folder < catalog[j].Folder })

	metrics.RecordCatalogScan(l.Name(), catalog.FileCount(), time.Since(start))
	return catalog, nil
}

// Get reads one workflow document.
func (l *Local) Get(_ context.Context, p string) (json.RawMessage, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(clean)))
	if errors.Is(err, os.ErrNotExist) {
		metrics.RecordWorkflowDownload(l.Name(), false)
		return nil, fmt.Errorf("%s: %w", clean, ErrNotFound)
	}
	if err != nil {
		metrics.RecordWorkflowDownload(l.Name(), false)
		return nil, fmt.Errorf("read %s: %w", clean, err)
	}

	doc, err := document(data)
	if err != nil {
		metrics.RecordWorkflowDownload(l.Name(), false)
		return nil, fmt.Errorf("%s: %w", clean, err)
	}
	metrics.RecordWorkflowDownload(l.Name(), true)
	return doc, nil
}
