package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/workflowshelf/workflowshelf/pkg/client"
	"github.com/workflowshelf/workflowshelf/pkg/models"
)

type fakeAPI struct {
	docs  map[string]string
	calls int
}

func (f *fakeAPI) Endpoint(s models.Source) (client.Endpoint, error) {
	return client.DefaultEndpoints()[s], nil
}

func (f *fakeAPI) GetWorkflow(_ context.Context, _ models.Source, path, _ string) (json.RawMessage, error) {
	f.calls++
	doc, ok := f.docs[path]
	if !ok {
		return nil, client.ErrNotFound
	}
	return json.RawMessage(doc), nil
}

type recordingNotifier struct {
	infos, errs []string
	prompts     int
}

func (n *recordingNotifier) Info(msg string)  { n.infos = append(n.infos, msg) }
func (n *recordingNotifier) Error(msg string) { n.errs = append(n.errs, msg) }
func (n *recordingNotifier) PromptLogin()     { n.prompts++ }

type rejectingHost struct{}

func (rejectingHost) LoadGraphData(json.RawMessage) error { return errors.New("bad graph") }

func TestLoad_Success(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{"A/x.json": `{"nodes":[1]}`}}
	var out bytes.Buffer
	host := NewWriterHost(&out)
	n := &recordingNotifier{}

	doc, err := New(api, host, n).Load(context.Background(), models.SourceLocal, "A/x.json", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(doc) != `{"nodes":[1]}` || string(host.Last()) != `{"nodes":[1]}` {
		t.Errorf("document not handed to host: %s", host.Last())
	}
	if !strings.Contains(out.String(), `"nodes"`) {
		t.Errorf("expected indented document in output, got %q", out.String())
	}
	if len(n.infos) != 1 || !strings.Contains(n.infos[0], "A/x.json") {
		t.Errorf("expected success notice, got %v", n.infos)
	}
}

func TestLoad_FailureLeavesHostUntouched(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{}}
	host := NewWriterHost(&bytes.Buffer{})
	n := &recordingNotifier{}

	_, err := New(api, host, n).Load(context.Background(), models.SourceLocal, "A/missing.json", nil)
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if host.Last() != nil {
		t.Error("host should not have received a document")
	}
	if len(n.errs) != 1 {
		t.Errorf("expected one failure notice, got %v", n.errs)
	}
}

func TestLoad_MemberWithoutSession(t *testing.T) {
	api := &fakeAPI{}
	_, err := New(api, NewWriterHost(&bytes.Buffer{}), &recordingNotifier{}).
		Load(context.Background(), models.SourceMember, "A/x.json", nil)
	if !errors.Is(err, client.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if api.calls != 0 {
		t.Error("no request should have been made")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	api := &fakeAPI{}
	_, err := New(api, NewWriterHost(&bytes.Buffer{}), &recordingNotifier{}).
		Load(context.Background(), models.SourceLocal, "", nil)
	if !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
}

func TestLoad_HostRejects(t *testing.T) {
	api := &fakeAPI{docs: map[string]string{"x.json": `{}`}}
	n := &recordingNotifier{}
	if _, err := New(api, rejectingHost{}, n).Load(context.Background(), models.SourceLocal, "x.json", nil); err == nil {
		t.Fatal("expected error when host rejects the document")
	}
	if len(n.infos) != 0 || len(n.errs) != 1 {
		t.Errorf("unexpected notices infos=%v errs=%v", n.infos, n.errs)
	}
}
