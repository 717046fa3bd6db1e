// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"sync"
	"time"

	"coursesync/internal/logger"
)

// ConnectivityWatcher turns a raw online/offline signal stream into a
// debounced connectivity state. Rapid flapping (cellular handover, lift
// rides) is absorbed: a state change is committed only after the raw
// signal has held steady for the debounce window. Offline→online commits
// are announced on the edge channel so the sync orchestrator can trigger
// a pass.
//
// The watcher starts offline; the first stable online signal produces an
// edge.
type ConnectivityWatcher struct {
	signals  <-chan bool
	debounce time.Duration
	logger   *logger.Logger

	mu     sync.RWMutex
	online bool

	edges chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConnectivityWatcher constructs a watcher consuming the given raw
// signal stream.
func NewConnectivityWatcher(signals <-chan bool, debounce time.Duration, log *logger.Logger) *ConnectivityWatcher {
	return &ConnectivityWatcher{
		signals:  signals,
		debounce: debounce,
		logger:   log,
		edges:    make(chan struct{}, 1),
	}
}

// Start launches the watcher goroutine. Stop releases it.
func (w *ConnectivityWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()

	w.logger.Info().
		Str("func", "ConnectivityWatcher.Start").
		Dur("debounce", w.debounce).
		Msg("connectivity watcher started")
}

// Stop terminates the watcher goroutine and waits for it to exit.
func (w *ConnectivityWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Online reports the current debounced connectivity state.
func (w *ConnectivityWatcher) Online() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.online
}

// OnlineEdges delivers one token per committed offline→online transition.
// The channel has capacity one: edges arriving while a previous token is
// unconsumed coalesce.
func (w *ConnectivityWatcher) OnlineEdges() <-chan struct{} {
	return w.edges
}

func (w *ConnectivityWatcher) run(ctx context.Context) {
	var (
		pending bool
		timerC  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-w.signals:
			if !ok {
				return
			}
			if raw == w.Online() {
				// Signal agrees with committed state: drop any pending flip.
				timerC = nil
				continue
			}
			if raw != pending || timerC == nil {
				pending = raw
				timerC = time.After(w.debounce)
			}

		case <-timerC:
			timerC = nil
			w.commit(ctx, pending)
		}
	}
}

func (w *ConnectivityWatcher) commit(ctx context.Context, online bool) {
	w.mu.Lock()
	was := w.online
	w.online = online
	w.mu.Unlock()

	if was == online {
		return
	}

	logger.FromContext(ctx).Info().
		Str("func", "ConnectivityWatcher.commit").
		Bool("online", online).
		Msg("connectivity state changed")

	if !was && online {
		select {
		case w.edges <- struct{}{}:
		default:
		}
	}
}
