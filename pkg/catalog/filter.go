package catalog

import (
	"strings"

	"github.com/workflowshelf/workflowshelf/pkg/models"
)

// ItemKind distinguishes the rendered item types.
type ItemKind int

const (
	KindFavorite ItemKind = iota
	KindFolder
)

// Item is one rendered entry of the panel: a favorite path or a folder block.
type Item struct {
	ID     string
	Kind   ItemKind
	Label  string
	Folder string
	Path   string   // favorites only
	Files  []string // folders only
}

// Materialize builds the rendered items for a catalog. Favorites come first,
// one item per stored path, when favoritesApply is set. Each folder's label is
// its name followed by its file names, one per line.
func Materialize(c models.Catalog, favorites []string, favoritesApply bool) []Item {
	var items []Item
	if favoritesApply {
		for _, p := range favorites {
			folder, _ := models.SplitPath(p)
			items = append(items, Item{
				ID:     "favorite:" + p,
				Kind:   KindFavorite,
				Label:  p,
				Folder: folder,
				Path:   p,
			})
		}
	}
	for _, entry := range c {
		label := entry.Folder
		if len(entry.Files) > 0 {
			label += "\n" + strings.Join(entry.Files, "\n")
		}
		items = append(items, Item{
			ID:     "folder:" + entry.Folder,
			Kind:   KindFolder,
			Label:  label,
			Folder: entry.Folder,
			Files:  entry.Files,
		})
	}
	return items
}

// ComputeVisibility reports, per item ID, whether the item's label contains
// keyword. Comparison is case-insensitive; an empty keyword shows everything.
func ComputeVisibility(items []Item, keyword string) map[string]bool {
	needle := strings.ToLower(keyword)
	visible := make(map[string]bool, len(items))
	for _, it := range items {
		visible[it.ID] = needle == "" || strings.Contains(strings.ToLower(it.Label), needle)
	}
	return visible
}
