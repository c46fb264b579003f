// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strmforge/vodpull/internal/scheduler"
	"github.com/strmforge/vodpull/internal/settings"
)

func TestGetSettings_OmitsServers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	decodeJSON(t, rec, &raw)
	assert.NotContains(t, raw, "savedServers")
	assert.EqualValues(t, 3, raw["maxConcurrentDownloads"])

	var view settingsView
	decodeJSON(t, rec, &view)
	assert.Len(t, view.Presets, len(settings.DefaultPresets()))
}

func TestUpdateSettings_PreservesServers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view settingsView
	decodeJSON(t, rec, &view)

	view.MaxConcurrentDownloads = 5
	days := 14
	view.DefaultRetentionDays = &days

	rec = env.doJSON(t, http.MethodPut, "/api/settings", view)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var updated settingsView
	decodeJSON(t, rec, &updated)
	assert.Equal(t, 5, updated.MaxConcurrentDownloads)
	require.NotNil(t, updated.DefaultRetentionDays)
	assert.Equal(t, 14, *updated.DefaultRetentionDays)

	// round-tripping the masked settings view must not clobber servers
	servers := env.settings.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "srv-1", servers[0].ID)
	assert.Equal(t, "tok-1", servers[0].Token)
}

func TestUpdateSettings_Invalid(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPut, "/api/settings", map[string]any{
		"maxConcurrentDownloads": 99,
		"downloadsDir":           "",
		"presets":                []any{},
	})
	requireErrorKind(t, rec, http.StatusBadRequest, scheduler.KindValidationFailed)

	// the stored document is untouched
	assert.Equal(t, 3, env.settings.MaxConcurrent())
}

func TestGetServers_MasksTokens(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodGet, "/api/servers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.NotContains(t, rec.Body.String(), "tok-1")

	var resp serversResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Servers, 1)
	assert.Equal(t, "srv-1", resp.Servers[0].ID)
	assert.Equal(t, "http://media.example", resp.Servers[0].BaseURL)
	assert.True(t, resp.Servers[0].HasToken)
}

func TestUpdateServers_KeepsStoredTokenWhenBlank(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPut, "/api/servers", map[string]any{
		"servers": []map[string]any{
			{"id": "srv-1", "name": "Main Renamed", "baseURL": "http://media.example", "token": ""},
			{"id": "srv-2", "name": "Second", "baseURL": "http://other.example", "token": "tok-2"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var resp serversResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Servers, 2)
	assert.True(t, resp.Servers[0].HasToken, "blank token on a known id keeps the stored one")
	assert.True(t, resp.Servers[1].HasToken)
	assert.NotContains(t, rec.Body.String(), "tok-")

	srv, ok := env.settings.ServerByID("srv-1")
	require.True(t, ok)
	assert.Equal(t, "Main Renamed", srv.Name)
	assert.Equal(t, "tok-1", srv.Token)

	srv, ok = env.settings.ServerByID("srv-2")
	require.True(t, ok)
	assert.Equal(t, "tok-2", srv.Token)
}

func TestUpdateServers_RemovesAndValidates(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPut, "/api/servers", map[string]any{
		"servers": []any{},
	})
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Empty(t, env.settings.Servers())

	rec = env.doJSON(t, http.MethodPut, "/api/servers", map[string]any{
		"servers": []map[string]any{
			{"id": "srv-9", "name": "Broken", "baseURL": "not a url", "token": "x"},
		},
	})
	requireErrorKind(t, rec, http.StatusBadRequest, scheduler.KindValidationFailed)
}
