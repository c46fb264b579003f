// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/strmforge/vodpull/internal/scheduler"
	"github.com/strmforge/vodpull/internal/settings"
	"github.com/strmforge/vodpull/internal/upstream"
	"github.com/strmforge/vodpull/internal/validate"
)

// startRequest names one item to download. mediaSourceId empty picks the
// item's default version; stream indexes are the upstream server's.
type startRequest struct {
	ServerID            string `json:"serverId"`
	ItemID              string `json:"itemId"`
	MediaSourceID       string `json:"mediaSourceId,omitempty"`
	Preset              string `json:"preset"`
	AudioStreamIndex    *int   `json:"audioStreamIndex,omitempty"`
	SubtitleStreamIndex *int   `json:"subtitleStreamIndex,omitempty"`
}

type batchStartRequest struct {
	Items []startRequest `json:"items"`
}

// batchStartResult reports one item of a batch: the started job's snapshot
// or the error that kept it out of the queue.
type batchStartResult struct {
	ItemID   string               `json:"itemId"`
	Progress *scheduler.Progress  `json:"progress,omitempty"`
	Error    *scheduler.ErrorInfo `json:"error,omitempty"`
}

type batchStartResponse struct {
	Results []batchStartResult `json:"results"`
	Started int                `json:"started"`
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}

	desc, err := s.resolveStart(r, req)
	if err != nil {
		writeOpError(w, r, err)
		return
	}

	p, err := s.queue.StartJob(desc)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req batchStartRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	if len(req.Items) == 0 {
		writeBadRequest(w, r, "items must not be empty")
		return
	}

	resp := batchStartResponse{Results: make([]batchStartResult, 0, len(req.Items))}
	for _, item := range req.Items {
		result := batchStartResult{ItemID: item.ItemID}

		desc, err := s.resolveStart(r, item)
		if err == nil {
			var p scheduler.Progress
			if p, err = s.queue.StartJob(desc); err == nil {
				result.Progress = &p
				resp.Started++
			}
		}
		if err != nil {
			info := scheduler.Classify(err)
			result.Error = &info
		}
		resp.Results = append(resp.Results, result)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// resolveStart turns a start request into a job descriptor: saved server,
// preset by name, item lookup, media source and stream selection, master
// playlist URL.
func (s *Server) resolveStart(r *http.Request, req startRequest) (scheduler.Descriptor, error) {
	v := validate.New()
	v.NotEmpty("serverId", req.ServerID)
	v.NotEmpty("itemId", req.ItemID)
	v.NotEmpty("preset", req.Preset)
	if err := v.Err(); err != nil {
		return scheduler.Descriptor{}, err
	}

	srv, ok := s.settings.ServerByID(req.ServerID)
	if !ok {
		return scheduler.Descriptor{}, scheduler.ErrorInfo{
			Kind:    scheduler.KindNotFound,
			Message: fmt.Sprintf("no saved server %q", req.ServerID),
		}
	}

	preset, ok := presetByName(s.settings.Presets(), req.Preset)
	if !ok {
		return scheduler.Descriptor{}, fmt.Errorf("%w: no preset named %q", settings.ErrInvalidPreset, req.Preset)
	}

	client, err := s.newUpstream(srv)
	if err != nil {
		return scheduler.Descriptor{}, scheduler.ErrorInfo{
			Kind:    scheduler.KindUpstreamError,
			Message: err.Error(),
		}
	}

	item, err := client.Item(r.Context(), req.ItemID)
	if err != nil {
		return scheduler.Descriptor{}, err
	}
	src, ok := item.Source(req.MediaSourceID)
	if !ok {
		return scheduler.Descriptor{}, fmt.Errorf("item %s: %w: %q", req.ItemID, upstream.ErrNoMediaSource, req.MediaSourceID)
	}

	audioIndex := -1
	if req.AudioStreamIndex != nil {
		audioIndex = *req.AudioStreamIndex
	}

	// An external subtitle track is fetched and muxed locally; an embedded
	// one is burned in by the upstream transcoder.
	burnIndex := -1
	var sub *scheduler.SubtitleSpec
	if req.SubtitleStreamIndex != nil {
		stream, ok := subtitleStream(src, *req.SubtitleStreamIndex)
		if !ok {
			return scheduler.Descriptor{}, scheduler.ErrorInfo{
				Kind:    scheduler.KindValidationFailed,
				Message: fmt.Sprintf("media source %s has no subtitle stream %d", src.ID, *req.SubtitleStreamIndex),
			}
		}
		if stream.IsExternal {
			sub = &scheduler.SubtitleSpec{
				StreamIndex: stream.Index,
				Language:    stream.Language,
				Codec:       stream.Codec,
				BaseURL:     srv.BaseURL,
				Token:       srv.Token,
			}
		} else {
			burnIndex = stream.Index
		}
	}

	master := client.MasterURL(upstream.PlaybackRequest{
		ItemID:              item.ID,
		MediaSourceID:       src.ID,
		Preset:              preset,
		AudioStreamIndex:    audioIndex,
		SubtitleStreamIndex: burnIndex,
	})

	duration := src.Runtime()
	if duration <= 0 {
		duration = item.Runtime()
	}

	return scheduler.Descriptor{
		ItemID:          item.ID,
		MediaSourceID:   src.ID,
		Title:           item.Name,
		Preset:          preset,
		PlaylistURL:     master,
		DurationSeconds: duration.Seconds(),
		Subtitle:        sub,
	}, nil
}

func presetByName(presets []settings.Preset, name string) (settings.Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return settings.Preset{}, false
}

func subtitleStream(src upstream.MediaSource, index int) (upstream.MediaStream, bool) {
	for _, stream := range src.SubtitleStreams() {
		if stream.Index == index {
			return stream, true
		}
	}
	return upstream.MediaStream{}, false
}

func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.queue.GetAll())
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	p, err := s.queue.GetProgress(chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	s.queue.Cancel(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveDownload(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.Remove(chi.URLParam(r, "id")); err != nil {
		writeOpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeDownload(w http.ResponseWriter, r *http.Request) {
	p, err := s.queue.ResumeFailed(chi.URLParam(r, "id"))
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handlePauseDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Pause(chi.URLParam(r, "id")); err != nil {
		writeOpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnpauseDownload(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Unpause(chi.URLParam(r, "id")); err != nil {
		writeOpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveToFront(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.MoveToFront(chi.URLParam(r, "id")); err != nil {
		writeOpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reorderRequest struct {
	Position int `json:"position"`
}

func (s *Server) handleReorderDownload(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	if err := s.queue.Reorder(chi.URLParam(r, "id"), req.Position); err != nil {
		writeOpError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cancelItemsRequest struct {
	ItemIDs []string `json:"itemIds"`
}

type cancelItemsResponse struct {
	Cancelled int `json:"cancelled"`
	Removed   int `json:"removed"`
}

func (s *Server) handleCancelItems(w http.ResponseWriter, r *http.Request) {
	var req cancelItemsRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	if len(req.ItemIDs) == 0 {
		writeBadRequest(w, r, "itemIds must not be empty")
		return
	}
	cancelled, removed := s.queue.CancelByItems(req.ItemIDs)
	writeJSON(w, r, http.StatusOK, cancelItemsResponse{Cancelled: cancelled, Removed: removed})
}
