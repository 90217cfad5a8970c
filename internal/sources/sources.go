// Package sources provides the workflow catalogs served by workflowd: a local
// directory and a remote store (GitHub repository or S3 bucket) behind a cache.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"strings"

	"github.com/workflowshelf/workflowshelf/pkg/models"
)

var (
	// ErrNotFound is returned when a workflow document does not exist.
	ErrNotFound = errors.New("workflow not found")

	// ErrInvalidPath is returned for empty, absolute or escaping paths.
	ErrInvalidPath = errors.New("invalid workflow path")

	// ErrInvalidDocument is returned when a stored document is not valid JSON.
	ErrInvalidDocument = errors.New("invalid JSON content")
)

// Source lists a workflow catalog and serves its documents by composite path.
type Source interface {
	Name() string
	List(ctx context.Context) (models.Catalog, error)
	Get(ctx context.Context, p string) (json.RawMessage, error)
}

// cleanPath normalizes a composite workflow path to slash form without a
// leading slash and rejects paths that would leave the source root.
func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrInvalidPath
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

func isWorkflowFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".json")
}

func document(data []byte) (json.RawMessage, error) {
	data = []byte(strings.TrimPrefix(string(data), "\ufeff"))
	if !json.Valid(data) {
		return nil, ErrInvalidDocument
	}
	return json.RawMessage(data), nil
}
