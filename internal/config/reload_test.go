// SPDX-License-Identifier: MIT
package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHolderWithFile(t *testing.T, content string) (*Holder, string) {
	t.Helper()
	path := writeConfigFile(t, "vodpull.yaml", content)
	cfg, err := Load(path)
	require.NoError(t, err)
	return NewHolder(cfg, path), path
}

func TestHolder_GetReturnsInitial(t *testing.T) {
	_, ddLine := dataDirLine(t)
	h, _ := newHolderWithFile(t, ddLine+"logLevel: warn\n")
	assert.Equal(t, "warn", h.Get().LogLevel)
}

func TestHolder_ReloadAppliesNewConfig(t *testing.T) {
	_, ddLine := dataDirLine(t)
	h, path := newHolderWithFile(t, ddLine+"logLevel: warn\n")

	updates := make(chan Config, 1)
	h.RegisterListener(updates)

	require.NoError(t, os.WriteFile(path, []byte(ddLine+"logLevel: debug\n"), 0o644))
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, "debug", h.Get().LogLevel)
	select {
	case cfg := <-updates:
		assert.Equal(t, "debug", cfg.LogLevel)
	default:
		t.Fatal("listener did not receive the new config")
	}
}

func TestHolder_ReloadKeepsOldOnInvalid(t *testing.T) {
	_, ddLine := dataDirLine(t)
	h, path := newHolderWithFile(t, ddLine+"logLevel: warn\n")

	updates := make(chan Config, 1)
	h.RegisterListener(updates)

	require.NoError(t, os.WriteFile(path, []byte(ddLine+"logLevel: loud\n"), 0o644))
	err := h.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logLevel")

	assert.Equal(t, "warn", h.Get().LogLevel, "rejected reload must not change the config")
	select {
	case <-updates:
		t.Fatal("listener notified despite rejected reload")
	default:
	}
}

func TestHolder_ReloadKeepsOldOnParseError(t *testing.T) {
	_, ddLine := dataDirLine(t)
	h, path := newHolderWithFile(t, ddLine+"apiRateLimit: 60\n")

	require.NoError(t, os.WriteFile(path, []byte(ddLine+"noSuchKey: 1\n"), 0o644))
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 60, h.Get().APIRateLimit)
}

func TestHolder_WatchReloadsOnWrite(t *testing.T) {
	_, ddLine := dataDirLine(t)
	h, path := newHolderWithFile(t, ddLine+"logLevel: warn\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte(ddLine+"logLevel: debug\n"), 0o644))

	require.Eventually(t, func() bool {
		return h.Get().LogLevel == "debug"
	}, 5*time.Second, 50*time.Millisecond, "watcher never applied the rewritten file")
}

func TestHolder_WatchDebouncesBursts(t *testing.T) {
	_, ddLine := dataDirLine(t)
	h, path := newHolderWithFile(t, ddLine+"apiRateLimit: 60\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.Watch(ctx))

	// A burst of writes, as editors produce; only the settled content
	// matters.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(ddLine+"apiRateLimit: 90\n"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return h.Get().APIRateLimit == 90
	}, 5*time.Second, 50*time.Millisecond)
}

func TestHolder_WatchWithoutPath(t *testing.T) {
	dataDir, _ := dataDirLine(t)
	t.Setenv(EnvDataDir, dataDir)
	cfg, err := Load("")
	require.NoError(t, err)

	h := NewHolder(cfg, "")
	require.NoError(t, h.Watch(context.Background()))
	h.Stop()
}
