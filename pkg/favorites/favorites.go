// Package favorites persists the set of workflow paths a user has starred.
package favorites

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/workflowshelf/workflowshelf/pkg/kvstore"
	"github.com/workflowshelf/workflowshelf/pkg/logger"
)

// Key is the storage key holding the favorites JSON array.
const Key = "workflow_favorites"

// ErrEmptyPath is returned when toggling an empty path.
var ErrEmptyPath = errors.New("favorite path is empty")

// Set is a set of composite "<folder>/<file>" paths.
type Set map[string]struct{}

// Has reports whether p is a member. Matching is exact and case-sensitive.
func (s Set) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Store reads and writes the favorites set through a key-value store.
type Store struct {
	kv kvstore.Store
}

// New creates a favorites store on top of kv.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// List returns the persisted favorites. An absent or malformed value yields an
// empty set, as does a failed read.
func (s *Store) List() Set {
	set, err := s.load()
	if err != nil {
		logger.Debug("read favorites: %v", err)
		return make(Set)
	}
	return set
}

// load is List without the read-error fallback. Only absent or malformed
// values decode to an empty set.
func (s *Store) load() (Set, error) {
	set := make(Set)

	raw, ok, err := s.kv.Get(Key)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return set, nil
	}

	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		logger.Debug("favorites value is malformed, ignoring: %v", err)
		return set, nil
	}
	for _, p := range paths {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return set, nil
}

// Toggle adds p if absent and removes it if present. The whole set is written
// back in one value. It returns the new membership of p.
func (s *Store) Toggle(p string) (bool, error) {
	if p == "" {
		return false, ErrEmptyPath
	}

	set, err := s.load()
	if err != nil {
		return false, fmt.Errorf("load favorites: %w", err)
	}
	member := !set.Has(p)
	if member {
		set[p] = struct{}{}
	} else {
		delete(set, p)
	}

	data, err := json.Marshal(set.Sorted())
	if err != nil {
		return !member, err
	}
	if err := s.kv.Set(Key, string(data)); err != nil {
		return !member, fmt.Errorf("save favorites: %w", err)
	}
	return member, nil
}

// Clear removes every favorite.
func (s *Store) Clear() error {
	if err := s.kv.Remove(Key); err != nil {
		return fmt.Errorf("clear favorites: %w", err)
	}
	return nil
}
