// SPDX-License-Identifier: MIT

package api

import "net/http"

func (s *Server) handleQueueInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.queue.QueueInfo())
}

func (s *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]int{"paused": s.queue.PauseAllQueued()})
}

func (s *Server) handleResumeAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]int{"resumed": s.queue.ResumeAllPaused()})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]int{"cleared": s.queue.ClearCompleted()})
}
