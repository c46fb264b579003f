// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/strmforge/vodpull/internal/log"
	"github.com/strmforge/vodpull/internal/scheduler"
	"github.com/strmforge/vodpull/internal/validate"
)

// errorBody is the JSON error envelope of every non-2xx API response.
type errorBody struct {
	Error scheduler.ErrorInfo `json:"error"`
}

// writeJSON encodes v with the given status. Encoding failures are logged;
// by then the status line is already on the wire.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str("event", "api.encode_failed").Str("path", r.URL.Path).Msg("response encoding failed")
	}
}

// writeError emits the error envelope and logs server-side failures.
func writeError(w http.ResponseWriter, r *http.Request, status int, info scheduler.ErrorInfo) {
	if status >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Str("event", "api.error").
			Str("kind", string(info.Kind)).
			Str("path", r.URL.Path).
			Int("status", status).
			Msg(info.Message)
	}
	writeJSON(w, r, status, errorBody{Error: info})
}

// writeOpError classifies err into the {kind, message} taxonomy and maps
// the kind to an HTTP status.
func writeOpError(w http.ResponseWriter, r *http.Request, err error) {
	var verr validate.ValidationError
	if errors.As(err, &verr) {
		writeError(w, r, http.StatusBadRequest, scheduler.ErrorInfo{
			Kind:    scheduler.KindValidationFailed,
			Message: verr.Error(),
		})
		return
	}
	info := scheduler.Classify(err)
	writeError(w, r, statusFor(info.Kind), info)
}

// writeBadRequest reports a malformed request body or parameter.
func writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusBadRequest, scheduler.ErrorInfo{
		Kind:    scheduler.KindValidationFailed,
		Message: message,
	})
}

// statusFor maps an error kind onto its HTTP status. Upstream and
// transport kinds surface as 502 because the daemon failed as a client of
// the media server, not as a server.
func statusFor(kind scheduler.Kind) int {
	switch kind {
	case scheduler.KindNotFound, scheduler.KindNoMediaSource:
		return http.StatusNotFound
	case scheduler.KindWrongState, scheduler.KindNotRemovable:
		return http.StatusConflict
	case scheduler.KindInvalidPreset,
		scheduler.KindBadPosition,
		scheduler.KindBadRetention,
		scheduler.KindPathEscape,
		scheduler.KindValidationFailed:
		return http.StatusBadRequest
	case scheduler.KindUpstreamError,
		scheduler.KindNoMediaPlaylist,
		scheduler.KindUnexpectedContentType,
		scheduler.KindTimeout,
		scheduler.KindNetworkError,
		scheduler.KindEmptyResponse:
		return http.StatusBadGateway
	case scheduler.KindToolMissing:
		return http.StatusServiceUnavailable
	case scheduler.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody parses a JSON request body into v, rejecting unknown fields
// and trailing garbage.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing content")
	}
	return nil
}
