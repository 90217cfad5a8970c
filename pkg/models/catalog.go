// Package models contains the data types shared by the client and the server.
package models

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// RootFolder is the folder name reported for workflows at the top of a source.
const RootFolder = "/"

// CatalogEntry is one folder of a workflow catalog and the files listed in it.
type CatalogEntry struct {
	Folder string   `json:"name"`
	Files  []string `json:"files"`
}

// UnmarshalJSON accepts both the "name" and the "folder" spelling of the folder field.
func (e *CatalogEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name   *string  `json:"name"`
		Folder *string  `json:"folder"`
		Files  []string `json:"files"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Name != nil:
		e.Folder = *raw.Name
	case raw.Folder != nil:
		e.Folder = *raw.Folder
	default:
		return fmt.Errorf("catalog entry has no folder name")
	}
	e.Files = raw.Files
	if e.Files == nil {
		e.Files = []string{}
	}
	return nil
}

// Catalog is an ordered folder listing for one source.
type Catalog []CatalogEntry

// Validate checks that folder names are unique and that file names are unique
// within each folder.
func (c Catalog) Validate() error {
	folders := make(map[string]struct{}, len(c))
	for _, entry := range c {
		if _, dup := folders[entry.Folder]; dup {
			return fmt.Errorf("duplicate folder %q", entry.Folder)
		}
		folders[entry.Folder] = struct{}{}

		files := make(map[string]struct{}, len(entry.Files))
		for _, f := range entry.Files {
			if _, dup := files[f]; dup {
				return fmt.Errorf("duplicate file %q in folder %q", f, entry.Folder)
			}
			files[f] = struct{}{}
		}
	}
	return nil
}

// Paths returns every "<folder>/<file>" composite path in catalog order.
func (c Catalog) Paths() []string {
	var paths []string
	for _, entry := range c {
		for _, f := range entry.Files {
			paths = append(paths, JoinPath(entry.Folder, f))
		}
	}
	return paths
}

// FileCount returns the number of files across all folders.
func (c Catalog) FileCount() int {
	n := 0
	for _, entry := range c {
		n += len(entry.Files)
	}
	return n
}

// Contains reports whether the composite path is listed in the catalog.
func (c Catalog) Contains(p string) bool {
	folder, file := SplitPath(p)
	for _, entry := range c {
		if entry.Folder != folder {
			continue
		}
		for _, f := range entry.Files {
			if f == file {
				return true
			}
		}
	}
	return false
}

// JoinPath builds the composite path for a file in a folder. Files in the root
// folder have no folder prefix.
func JoinPath(folder, file string) string {
	if folder == "" || folder == RootFolder {
		return file
	}
	return strings.TrimSuffix(folder, "/") + "/" + file
}

// SplitPath is the inverse of JoinPath.
func SplitPath(p string) (folder, file string) {
	p = strings.TrimPrefix(p, "/")
	dir, file := path.Split(p)
	if dir == "" {
		return RootFolder, file
	}
	return strings.TrimSuffix(dir, "/"), file
}

// WorkflowID returns the workflow identifier for a composite path: the file name
// without its .json extension.
func WorkflowID(p string) string {
	_, file := SplitPath(p)
	return strings.TrimSuffix(file, ".json")
}
