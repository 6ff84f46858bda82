package main

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/proxywatch/pkg/api"
	"github.com/cuemby/proxywatch/pkg/config"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWatcher(t *testing.T) *watcher {
	t.Helper()
	cli = app{cfg: config.Default(), output: "json", prefs: &types.Preferences{}}
	w := newWatcher(false)
	t.Cleanup(w.close)
	return w
}

func TestWatcherReportsFailedSessions(t *testing.T) {
	w := testWatcher(t)
	h := w.stateHandler("logs/error")

	h(types.StateChange{From: types.StateConnecting, To: types.StateClosed, Err: errors.New("refused")})
	select {
	case src := <-w.failed:
		t.Fatalf("unexpected failure from %s", src)
	default:
	}

	h(types.StateChange{From: types.StateReconnecting, To: types.StateFailed, Attempt: 5})
	select {
	case src := <-w.failed:
		assert.Equal(t, "logs/error", src)
	case <-time.After(time.Second):
		t.Fatal("failure not reported")
	}
}

func TestWatcherListsRegisteredSessions(t *testing.T) {
	w := testWatcher(t)
	assert.Empty(t, w.list())

	w.register("a", func() api.SessionInfo {
		return api.SessionInfo{ID: "a", Channel: "logs/access", State: types.StateOpen}
	})
	w.register("b", func() api.SessionInfo {
		return api.SessionInfo{ID: "b", Channel: "mirror/shop.example.com", State: types.StateReconnecting}
	})

	got := w.list()
	require.Len(t, got, 2)
	channels := []string{got[0].Channel, got[1].Channel}
	assert.ElementsMatch(t, []string{"logs/access", "mirror/shop.example.com"}, channels)
}
