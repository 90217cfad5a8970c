package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/workflowshelf/workflowshelf/pkg/client"
	"github.com/workflowshelf/workflowshelf/pkg/models"
)

type fakeAPI struct {
	endpoints client.Endpoints
	catalog   models.Catalog
	err       error
	calls     int
	tokens    []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{endpoints: client.DefaultEndpoints()}
}

func (f *fakeAPI) Endpoint(s models.Source) (client.Endpoint, error) {
	ep, ok := f.endpoints[s]
	if !ok {
		return client.Endpoint{}, fmt.Errorf("unknown source")
	}
	return ep, nil
}

func (f *fakeAPI) ListCatalog(_ context.Context, _ models.Source, token string) (models.Catalog, error) {
	f.calls++
	f.tokens = append(f.tokens, token)
	return f.catalog, f.err
}

func (f *fakeAPI) PurgeRemoteCache(_ context.Context, token string) error {
	f.calls++
	return f.err
}

func TestFetch_MemberWithoutSession(t *testing.T) {
	api := newFakeAPI()
	_, err := NewFetcher(api).Fetch(context.Background(), models.SourceMember, nil)
	if Classify(err) != Unauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if api.calls != 0 {
		t.Errorf("expected no network call, got %d", api.calls)
	}
}

func TestFetch_PassesToken(t *testing.T) {
	api := newFakeAPI()
	api.catalog = models.Catalog{{Folder: "A", Files: []string{"x.json"}}}
	s := &models.Session{Token: "tok"}

	c, err := NewFetcher(api).Fetch(context.Background(), models.SourceMember, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(c) != 1 || api.tokens[0] != "tok" {
		t.Errorf("unexpected result %v tokens=%v", c, api.tokens)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OK},
		{client.ErrNotImplemented, NotImplemented},
		{fmt.Errorf("list: %w", client.ErrNotImplemented), NotImplemented},
		{client.ErrUnauthorized, Unauthorized},
		{client.ErrUnauthenticated, Unauthorized},
		{&client.StatusError{Code: 500}, Failed},
		{errors.New("connection refused"), Failed},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestMaterialize(t *testing.T) {
	c := models.Catalog{
		{Folder: "A", Files: []string{"x.json", "y.json"}},
		{Folder: "B", Files: []string{}},
	}
	items := Materialize(c, []string{"A/x.json"}, true)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Kind != KindFavorite || items[0].Label != "A/x.json" || items[0].Folder != "A" {
		t.Errorf("unexpected favorite item %+v", items[0])
	}
	if items[1].Label != "A\nx.json\ny.json" {
		t.Errorf("unexpected folder label %q", items[1].Label)
	}
	if items[2].Label != "B" {
		t.Errorf("unexpected empty folder label %q", items[2].Label)
	}

	if items := Materialize(c, []string{"A/x.json"}, false); len(items) != 2 {
		t.Errorf("favorites should be omitted, got %d items", len(items))
	}
}

func TestComputeVisibility(t *testing.T) {
	c := models.Catalog{
		{Folder: "A", Files: []string{"x.json", "y.json"}},
		{Folder: "B", Files: []string{"z.json"}},
	}
	items := Materialize(c, nil, true)

	visible := ComputeVisibility(items, "x")
	if !visible["folder:A"] {
		t.Error("folder A should be visible: it lists x.json")
	}
	if visible["folder:B"] {
		t.Error("folder B should be hidden")
	}

	again := ComputeVisibility(items, "x")
	for id, v := range visible {
		if again[id] != v {
			t.Errorf("visibility of %s changed between runs", id)
		}
	}
}

func TestComputeVisibility_CaseAndEmpty(t *testing.T) {
	items := Materialize(models.Catalog{{Folder: "Portraits", Files: []string{"Face.json"}}}, []string{"Portraits/Face.json"}, true)

	for id, v := range ComputeVisibility(items, "") {
		if !v {
			t.Errorf("%s hidden with empty keyword", id)
		}
	}
	for id, v := range ComputeVisibility(items, "fACE") {
		if !v {
			t.Errorf("%s should match case-insensitively", id)
		}
	}
	for id, v := range ComputeVisibility(items, "landscape") {
		if v {
			t.Errorf("%s should be hidden", id)
		}
	}
}
