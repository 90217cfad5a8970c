// Package catalog retrieves workflow catalogs and computes which of their
// rendered items match a search keyword.
package catalog

import (
	"context"
	"errors"

	"github.com/workflowshelf/workflowshelf/pkg/client"
	"github.com/workflowshelf/workflowshelf/pkg/models"
)

// API is the subset of the HTTP client the fetcher needs.
type API interface {
	Endpoint(source models.Source) (client.Endpoint, error)
	ListCatalog(ctx context.Context, source models.Source, token string) (models.Catalog, error)
	PurgeRemoteCache(ctx context.Context, token string) error
}

// Fetcher retrieves catalogs for a source. Each call is a single attempt.
type Fetcher struct {
	api API
}

// NewFetcher creates a fetcher over api.
func NewFetcher(api API) *Fetcher {
	return &Fetcher{api: api}
}

// RequiresAuth reports whether source needs a session.
func (f *Fetcher) RequiresAuth(source models.Source) bool {
	ep, err := f.api.Endpoint(source)
	return err == nil && ep.RequiresAuth
}

// FavoritesApply reports whether favorites are shown for source.
func (f *Fetcher) FavoritesApply(source models.Source) bool {
	ep, err := f.api.Endpoint(source)
	return err == nil && ep.Favorites
}

// Fetch retrieves the catalog of source. An auth-requiring source with no
// session fails with client.ErrUnauthenticated without touching the network.
func (f *Fetcher) Fetch(ctx context.Context, source models.Source, s *models.Session) (models.Catalog, error) {
	token := tokenOf(s)
	if f.RequiresAuth(source) && token == "" {
		return nil, client.ErrUnauthenticated
	}
	return f.api.ListCatalog(ctx, source, token)
}

// PurgeRemoteCache invalidates the server-side cloud cache.
func (f *Fetcher) PurgeRemoteCache(ctx context.Context, s *models.Session) error {
	return f.api.PurgeRemoteCache(ctx, tokenOf(s))
}

func tokenOf(s *models.Session) string {
	if s == nil {
		return ""
	}
	return s.Token
}

// Outcome classifies the result of a fetch.
type Outcome int

const (
	OK Outcome = iota
	NotImplemented
	Unauthorized
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case NotImplemented:
		return "not implemented"
	case Unauthorized:
		return "unauthorized"
	default:
		return "failed"
	}
}

// Classify maps a fetch error to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, client.ErrNotImplemented):
		return NotImplemented
	case errors.Is(err, client.ErrUnauthenticated), errors.Is(err, client.ErrUnauthorized):
		return Unauthorized
	default:
		return Failed
	}
}
