// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/scheduler"
)

// cacheID extracts the {id} route param. chi routes on the raw path and
// leaves percent-escapes in place, so decode before the confinement check
// sees the value.
func cacheID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	return id
}

func (s *Server) handleListCache(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.retention.List(r.Context())
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, artifacts)
}

func (s *Server) handleDeleteCache(w http.ResponseWriter, r *http.Request) {
	id := cacheID(r)
	removed, err := s.retention.Delete(id)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	if !removed {
		writeError(w, r, http.StatusNotFound, scheduler.ErrorInfo{
			Kind:    scheduler.KindNotFound,
			Message: "no cached download " + id,
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// retentionRequest sets or clears the per-artifact override. days null
// clears it, falling back to the global default.
type retentionRequest struct {
	Days *int `json:"days"`
}

func (s *Server) handleUpdateRetention(w http.ResponseWriter, r *http.Request) {
	var req retentionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	eff, err := s.retention.Update(cacheID(r), req.Days)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, eff)
}

// handleCacheFile streams the artifact with range support so clients can
// seek. The path is confined to the downloads root before anything is
// opened.
func (s *Server) handleCacheFile(w http.ResponseWriter, r *http.Request) {
	id := cacheID(r)
	path, err := s.retention.ArtifactPath(id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, r, http.StatusNotFound, scheduler.ErrorInfo{
				Kind:    scheduler.KindNotFound,
				Message: "no cached download " + id,
			})
			return
		}
		writeOpError(w, r, err)
		return
	}

	f, err := os.Open(path) // #nosec G304 -- path confined by the retention store
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		writeOpError(w, r, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "cache.file_served").
		Str("artifact", id).
		Str("filename", filepath.Base(path)).
		Int64("size", info.Size()).
		Msg("serving artifact")

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
