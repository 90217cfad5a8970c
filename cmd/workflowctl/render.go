package main

import (
	"fmt"
	"io"

	"github.com/workflowshelf/workflowshelf/pkg/catalog"
	"github.com/workflowshelf/workflowshelf/pkg/panel"
)

// renderView prints the panel. Favorites come first, marked with "*", then
// one block per folder. With onlyVisible set, items filtered out by the
// keyword are skipped.
func renderView(w io.Writer, v panel.View, onlyVisible bool) {
	header := fmt.Sprintf("[%s]", v.Source)
	if v.Keyword != "" {
		header += fmt.Sprintf(" search %q", v.Keyword)
	}
	fmt.Fprintln(w, header)

	if v.Status != catalog.OK {
		fmt.Fprintf(w, "  %s\n", v.Message)
		if len(v.Items) == 0 {
			return
		}
	}

	items := v.Items
	if onlyVisible {
		items = v.VisibleItems()
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "  (no workflows)")
		return
	}

	for _, it := range items {
		switch it.Kind {
		case catalog.KindFavorite:
			fmt.Fprintf(w, "* %s\n", it.Path)
		case catalog.KindFolder:
			fmt.Fprintf(w, "%s\n", it.Folder)
			for _, f := range it.Files {
				fmt.Fprintf(w, "    %s\n", f)
			}
		}
	}
}
