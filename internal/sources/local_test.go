package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/workflowshelf/workflowshelf/pkg/models"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLocalList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "top.json", `{}`)
	writeFile(t, root, "portraits/b.json", `{}`)
	writeFile(t, root, "portraits/a.json", `{}`)
	writeFile(t, root, "portraits/notes.txt", `x`)
	writeFile(t, root, "empty/readme.md", `x`)
	writeFile(t, root, "video/upscale/x.JSON", `{}`)

	src, err := NewLocal(root)
	if err != nil {
		t.Fatal(err)
	}
	catalog, err := src.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := models.Catalog{
		{Folder: models.RootFolder, Files: []string{"top.json"}},
		{Folder: "portraits", Files: []string{"a.json", "b.json"}},
		{Folder: "video/upscale", Files: []string{"x.JSON"}},
	}
	if len(catalog) != len(want) {
		t.Fatalf("expected %d folders, got %+v", len(want), catalog)
	}
	for i := range want {
		if catalog[i].Folder != want[i].Folder {
			t.Errorf("folder %d = %q, want %q", i, catalog[i].Folder, want[i].Folder)
		}
		if len(catalog[i].Files) != len(want[i].Files) {
			t.Errorf("folder %q files = %v, want %v", catalog[i].Folder, catalog[i].Files, want[i].Files)
			continue
		}
		for j := range want[i].Files {
			if catalog[i].Files[j] != want[i].Files[j] {
				t.Errorf("folder %q file %d = %q, want %q", catalog[i].Folder, j, catalog[i].Files[j], want[i].Files[j])
			}
		}
	}
	if err := catalog.Validate(); err != nil {
		t.Errorf("catalog should validate: %v", err)
	}
}

func TestLocalListCreatesMissingDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workflows")
	src, err := NewLocal(root)
	if err != nil {
		t.Fatal(err)
	}
	catalog, err := src.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(catalog) != 0 {
		t.Errorf("expected empty catalog, got %+v", catalog)
	}
}

func TestLocalGet(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "portraits/a.json", `{"nodes":[1]}`)
	writeFile(t, root, "top.json", "\ufeff{\"nodes\":[]}")
	writeFile(t, root, "broken.json", `{"nodes":`)
	src, err := NewLocal(root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	doc, err := src.Get(ctx, "portraits/a.json")
	if err != nil || string(doc) != `{"nodes":[1]}` {
		t.Fatalf("Get = %s, %v", doc, err)
	}
	if _, err := src.Get(ctx, "/top.json"); err != nil {
		t.Errorf("root file with BOM: %v", err)
	}
	if _, err := src.Get(ctx, "portraits/missing.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := src.Get(ctx, "broken.json"); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("expected ErrInvalidDocument, got %v", err)
	}
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"A/x.json", "A/x.json", false},
		{"/A/x.json", "A/x.json", false},
		{`A\x.json`, "A/x.json", false},
		{"A/./x.json", "A/x.json", false},
		{"", "", true},
		{"/", "", true},
		{"../secret.json", "", true},
		{"A/../../x.json", "", true},
	}
	for _, tt := range tests {
		got, err := cleanPath(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("cleanPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("cleanPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
