package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/workflowshelf/workflowshelf/internal/auth"
	"github.com/workflowshelf/workflowshelf/internal/logging"
	"github.com/workflowshelf/workflowshelf/internal/sources"
	"github.com/workflowshelf/workflowshelf/pkg/models"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// ─── Local ──────────────────────────────────────────────────────────────────

func (s *Server) handleLocalList(w http.ResponseWriter, r *http.Request) {
	s.serveCatalog(w, r, s.local)
}

func (s *Server) handleLocalWorkflow(w http.ResponseWriter, r *http.Request) {
	s.serveDocument(w, r, s.local.Get)
}

// ─── Cloud ──────────────────────────────────────────────────────────────────

func (s *Server) handleRemoteList(w http.ResponseWriter, r *http.Request) {
	if s.remote == nil {
		s.sendError(w, http.StatusNotFound, "Remote workflows not configured", "")
		return
	}
	s.serveCatalog(w, r, s.remote)
}

func (s *Server) handleRemoteWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.remote == nil {
		s.sendError(w, http.StatusNotFound, "Remote workflows not configured", "")
		return
	}
	s.serveDocument(w, r, s.remote.Get)
}

func (s *Server) handleRemotePurge(w http.ResponseWriter, r *http.Request) {
	if s.remote == nil {
		s.sendError(w, http.StatusNotFound, "Remote workflows not configured", "")
		return
	}
	if err := s.remote.Purge(r.Context()); err != nil {
		logging.Error("purge remote cache", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to clear cache", err.Error())
		return
	}
	s.broadcaster.CachePurged()
	s.sendJSON(w, http.StatusOK, protocol.PurgeResponse{
		Status:  "success",
		Message: "Workflow cache cleared",
	})
}

// ─── Member ─────────────────────────────────────────────────────────────────

func (s *Server) memberEnabled() bool {
	return s.opts.MemberCatalog && s.remote != nil
}

// handleMemberList returns the cloud catalog narrowed to the workflows the
// caller is entitled to.
func (s *Server) handleMemberList(w http.ResponseWriter, r *http.Request) {
	if !s.memberEnabled() {
		s.sendError(w, http.StatusNotFound, "Member workflows not available", "")
		return
	}
	user := auth.UserFromContext(r.Context())
	ents, err := s.auth.Entitlements(r.Context(), user)
	if err != nil {
		logging.Error("load entitlements", logging.String("user", user.ID), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to get authorization data", "")
		return
	}

	catalog, err := s.remote.List(r.Context())
	if err != nil {
		logging.Error("list member workflows", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to list workflows", err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, filterCatalog(catalog, s.entitlements.Authorized(ents)))
}

func (s *Server) handleMemberWorkflow(w http.ResponseWriter, r *http.Request) {
	if !s.memberEnabled() {
		s.sendError(w, http.StatusNotFound, "Member workflows not available", "")
		return
	}
	s.serveDocument(w, r, s.remote.GetMember)
}

// filterCatalog keeps the files whose workflow ID is in allowed. Folders left
// empty are dropped.
func filterCatalog(catalog models.Catalog, allowed map[string]protocol.Grant) models.Catalog {
	out := models.Catalog{}
	for _, entry := range catalog {
		var files []string
		for _, f := range entry.Files {
			if _, ok := allowed[models.WorkflowID(f)]; ok {
				files = append(files, f)
			}
		}
		if len(files) > 0 {
			out = append(out, models.CatalogEntry{Folder: entry.Folder, Files: files})
		}
	}
	return out
}

// ─── Shared ─────────────────────────────────────────────────────────────────

func (s *Server) serveCatalog(w http.ResponseWriter, r *http.Request, src sources.Source) {
	catalog, err := src.List(r.Context())
	if err != nil {
		logging.Error("list workflows", logging.String("source", src.Name()), logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "Failed to list workflows", err.Error())
		return
	}
	if catalog == nil {
		catalog = models.Catalog{}
	}
	s.sendJSON(w, http.StatusOK, catalog)
}

func (s *Server) serveDocument(w http.ResponseWriter, r *http.Request, get func(context.Context, string) (json.RawMessage, error)) {
	p := r.PathValue("path")
	doc, err := get(r.Context(), p)
	if err != nil {
		code, msg := documentError(err)
		if code == http.StatusInternalServerError {
			logging.Error("load workflow", logging.String("path", p), logging.Err(err))
		}
		s.sendError(w, code, msg, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func documentError(err error) (int, string) {
	switch {
	case errors.Is(err, sources.ErrNotFound):
		return http.StatusNotFound, "Workflow not found"
	case errors.Is(err, sources.ErrInvalidPath):
		return http.StatusBadRequest, "Invalid workflow path"
	case errors.Is(err, sources.ErrInvalidDocument):
		return http.StatusInternalServerError, "Invalid workflow file"
	default:
		return http.StatusInternalServerError, "Failed to load workflow"
	}
}
