// Package loader fetches workflow documents and hands them to the host graph
// editor.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/workflowshelf/workflowshelf/pkg/client"
	"github.com/workflowshelf/workflowshelf/pkg/logger"
	"github.com/workflowshelf/workflowshelf/pkg/models"
)

// ErrEmptyPath is returned when Load is called without a path.
var ErrEmptyPath = errors.New("workflow path is empty")

// GraphLoader is the host application's graph-loading entry point.
type GraphLoader interface {
	LoadGraphData(doc json.RawMessage) error
}

// Notifier shows short messages to the user.
type Notifier interface {
	Info(msg string)
	Error(msg string)
	PromptLogin()
}

// DocumentAPI is the subset of the HTTP client the loader needs.
type DocumentAPI interface {
	Endpoint(source models.Source) (client.Endpoint, error)
	GetWorkflow(ctx context.Context, source models.Source, path, token string) (json.RawMessage, error)
}

// Loader fetches a listed workflow and loads it into the host.
type Loader struct {
	api    DocumentAPI
	host   GraphLoader
	notify Notifier
}

// New creates a loader.
func New(api DocumentAPI, host GraphLoader, notify Notifier) *Loader {
	return &Loader{api: api, host: host, notify: notify}
}

// Load fetches the document at path from source and passes it to the host.
// The path shape is not checked; a bad path fails at the server. On failure
// the host is not called.
func (l *Loader) Load(ctx context.Context, source models.Source, path string, s *models.Session) (json.RawMessage, error) {
	doc, err := l.load(ctx, source, path, s)
	if err != nil {
		l.notify.Error(fmt.Sprintf("Failed to load %s: %v", path, err))
		return nil, err
	}
	l.notify.Info("Loaded " + path)
	return doc, nil
}

func (l *Loader) load(ctx context.Context, source models.Source, path string, s *models.Session) (json.RawMessage, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	var token string
	if s != nil {
		token = s.Token
	}
	ep, err := l.api.Endpoint(source)
	if err != nil {
		return nil, err
	}
	if ep.RequiresAuth && token == "" {
		return nil, client.ErrUnauthenticated
	}

	doc, err := l.api.GetWorkflow(ctx, source, path, token)
	if err != nil {
		return nil, err
	}
	if err := l.host.LoadGraphData(doc); err != nil {
		return nil, fmt.Errorf("host rejected workflow: %w", err)
	}
	logger.Debug("Loaded %s workflow %s (%d bytes)", source, path, len(doc))
	return doc, nil
}

// WriterHost is a GraphLoader that writes each loaded document, indented, to
// an io.Writer. It keeps the last document it accepted.
type WriterHost struct {
	mu   sync.Mutex
	w    io.Writer
	last json.RawMessage
}

// NewWriterHost creates a host writing to w.
func NewWriterHost(w io.Writer) *WriterHost {
	return &WriterHost{w: w}
}

// LoadGraphData implements GraphLoader.
func (h *WriterHost) LoadGraphData(doc json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.Write(buf.Bytes()); err != nil {
		return err
	}
	h.last = doc
	return nil
}

// Last returns the most recently loaded document.
func (h *WriterHost) Last() json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// LogNotifier reports through the client logger.
type LogNotifier struct{}

func (LogNotifier) Info(msg string)  { logger.Info("%s", msg) }
func (LogNotifier) Error(msg string) { logger.Error("%s", msg) }
func (LogNotifier) PromptLogin()     { logger.Error("Login required: run 'workflowctl login' first") }
