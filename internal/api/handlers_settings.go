// SPDX-License-Identifier: MIT
package api

import (
	"net/http"

	"github.com/strmforge/vodpull/internal/settings"
)

// settingsView is the wire shape of the runtime settings. Saved servers are
// managed through /api/servers and never appear here, so a client can PUT the
// document it previously read without clobbering the server list.
type settingsView struct {
	MaxConcurrentDownloads int               `json:"maxConcurrentDownloads"`
	DownloadsDir           string            `json:"downloadsDir"`
	Presets                []settings.Preset `json:"presets"`
	DefaultRetentionDays   *int              `json:"defaultRetentionDays,omitempty"`
}

func viewOf(st settings.Settings) settingsView {
	return settingsView{
		MaxConcurrentDownloads: st.MaxConcurrentDownloads,
		DownloadsDir:           st.DownloadsDir,
		Presets:                st.Presets,
		DefaultRetentionDays:   st.DefaultRetentionDays,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, viewOf(s.settings.Get()))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsView
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}

	next := s.settings.Get()
	next.MaxConcurrentDownloads = req.MaxConcurrentDownloads
	next.DownloadsDir = req.DownloadsDir
	next.Presets = req.Presets
	next.DefaultRetentionDays = req.DefaultRetentionDays

	updated, err := s.settings.Update(next)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	s.logger.Info().
		Str("event", "api.settings_updated").
		Int("maxConcurrent", updated.MaxConcurrentDownloads).
		Int("presets", len(updated.Presets)).
		Msg("settings updated")
	writeJSON(w, r, http.StatusOK, viewOf(updated))
}

// serverView is a saved media server with its token elided. Tokens go in via
// PUT and never come back out.
type serverView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BaseURL  string `json:"baseURL"`
	HasToken bool   `json:"hasToken"`
}

type serversRequest struct {
	Servers []settings.Server `json:"servers"`
}

type serversResponse struct {
	Servers []serverView `json:"servers"`
}

func serverViews(servers []settings.Server) []serverView {
	views := make([]serverView, 0, len(servers))
	for _, srv := range servers {
		views = append(views, serverView{
			ID:       srv.ID,
			Name:     srv.Name,
			BaseURL:  srv.BaseURL,
			HasToken: srv.Token != "",
		})
	}
	return views
}

func (s *Server) handleGetServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, serversResponse{Servers: serverViews(s.settings.Servers())})
}

func (s *Server) handleUpdateServers(w http.ResponseWriter, r *http.Request) {
	var req serversRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, r, "invalid request body: "+err.Error())
		return
	}

	// An empty token on a known server id means "keep the stored one", so
	// clients can round-trip the masked GET response unchanged.
	for i := range req.Servers {
		if req.Servers[i].Token != "" {
			continue
		}
		if old, ok := s.settings.ServerByID(req.Servers[i].ID); ok {
			req.Servers[i].Token = old.Token
		}
	}

	next := s.settings.Get()
	next.SavedServers = req.Servers
	updated, err := s.settings.Update(next)
	if err != nil {
		writeOpError(w, r, err)
		return
	}
	s.logger.Info().
		Str("event", "api.servers_updated").
		Int("servers", len(updated.SavedServers)).
		Msg("saved servers updated")
	writeJSON(w, r, http.StatusOK, serversResponse{Servers: serverViews(updated.SavedServers)})
}
