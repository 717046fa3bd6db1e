// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursesync/internal/logger"
)

const testDebounce = 20 * time.Millisecond

func newTestWatcher(t *testing.T) (*ConnectivityWatcher, chan bool) {
	t.Helper()

	signals := make(chan bool, 16)
	w := NewConnectivityWatcher(signals, testDebounce, logger.Nop())
	w.Start(context.Background())
	t.Cleanup(w.Stop)

	return w, signals
}

func waitForEdge(t *testing.T, w *ConnectivityWatcher) {
	t.Helper()
	select {
	case <-w.OnlineEdges():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for online edge")
	}
}

func requireNoEdge(t *testing.T, w *ConnectivityWatcher, within time.Duration) {
	t.Helper()
	select {
	case <-w.OnlineEdges():
		t.Fatal("unexpected online edge")
	case <-time.After(within):
	}
}

func TestConnectivityWatcher_StartsOffline(t *testing.T) {
	w, _ := newTestWatcher(t)
	assert.False(t, w.Online())
}

func TestConnectivityWatcher_StableOnlineSignalCommitsAndNotifies(t *testing.T) {
	w, signals := newTestWatcher(t)

	signals <- true
	waitForEdge(t, w)
	assert.True(t, w.Online())
}

func TestConnectivityWatcher_FlappingIsAbsorbed(t *testing.T) {
	w, signals := newTestWatcher(t)

	// Online blips shorter than the debounce window never commit.
	for range 3 {
		signals <- true
		time.Sleep(testDebounce / 4)
		signals <- false
		time.Sleep(testDebounce / 4)
	}

	requireNoEdge(t, w, 2*testDebounce)
	assert.False(t, w.Online())
}

func TestConnectivityWatcher_OfflineCommitWithoutEdge(t *testing.T) {
	w, signals := newTestWatcher(t)

	signals <- true
	waitForEdge(t, w)

	signals <- false
	require.Eventually(t, func() bool { return !w.Online() }, time.Second, 5*time.Millisecond)

	// Going offline must not produce an online edge.
	requireNoEdge(t, w, 2*testDebounce)
}

func TestConnectivityWatcher_EdgePerRecovery(t *testing.T) {
	w, signals := newTestWatcher(t)

	signals <- true
	waitForEdge(t, w)

	signals <- false
	require.Eventually(t, func() bool { return !w.Online() }, time.Second, 5*time.Millisecond)

	signals <- true
	waitForEdge(t, w)
	assert.True(t, w.Online())
}
