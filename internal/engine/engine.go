// SPDX-License-Identifier: Apache-2.0

// Package engine exposes the synchronization engine to feature code as a
// single facade.
//
// It wires local storage, the bounded cache, the offline action queue, the
// download manager, the remote adapter, and the sync orchestrator into one
// process lifecycle: construct with New, start the background jobs with
// Run, and release everything with Close.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"coursesync/internal/adapter"
	"coursesync/internal/cache"
	"coursesync/internal/config"
	"coursesync/internal/download"
	"coursesync/internal/logger"
	"coursesync/internal/queue"
	"coursesync/internal/store"
	"coursesync/internal/syncer"
	"coursesync/models"
)

// connectivityDebounce is how long a raw connectivity reading must hold
// before the watcher commits it.
const connectivityDebounce = 2 * time.Second

// Engine is the offline-first synchronization engine facade.
type Engine struct {
	cfg *config.StructuredConfig

	storages  *store.Storages
	cache     *cache.Engine
	queue     *queue.Queue
	remote    adapter.RemoteStore
	downloads *download.Manager
	watcher   *adapter.ConnectivityWatcher
	syncer    *syncer.Orchestrator

	logger *logger.Logger
}

// New wires the engine from configuration. connectivity delivers raw
// online/offline readings from the platform; it may be nil on platforms
// without a reachability feed, in which case only the periodic job and
// explicit Sync calls trigger synchronization.
func New(ctx context.Context, cfg *config.StructuredConfig, connectivity <-chan bool, log *logger.Logger) (*Engine, error) {
	storages, err := store.NewStorages(ctx, cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	remote, err := adapter.NewHTTPRemoteStore(cfg.Sync, log)
	if err != nil {
		storages.Close()
		return nil, fmt.Errorf("build remote store: %w", err)
	}

	cacheEngine := cache.NewEngine(storages.Cache, cfg.Cache, log)
	actionQueue := queue.New(storages.Actions, cfg.Queue, log)
	downloads := download.NewManager(storages.Downloads, storages.Entities, cfg.Storage, cfg.Downloads, log)
	watcher := adapter.NewConnectivityWatcher(connectivity, connectivityDebounce, log)

	orchestrator := syncer.New(
		storages.Entities,
		storages.Cursors,
		actionQueue,
		remote,
		cacheEngine,
		downloads,
		cfg.Sync,
		cfg.Downloads.MaxAge,
		log,
	)

	return &Engine{
		cfg:       cfg,
		storages:  storages,
		cache:     cacheEngine,
		queue:     actionQueue,
		remote:    remote,
		downloads: downloads,
		watcher:   watcher,
		syncer:    orchestrator,
		logger:    log,
	}, nil
}

// Run starts the background jobs: the connectivity watcher and the sync
// orchestrator with its periodic ticker.
func (e *Engine) Run(ctx context.Context) {
	e.watcher.Start(ctx)
	e.syncer.Start(ctx, e.watcher.OnlineEdges())
	e.logger.Info().Str("func", "Run").Msg("engine started")
}

// Close stops the background jobs, waits for in-flight work to settle,
// and releases the local database.
func (e *Engine) Close() error {
	e.syncer.Stop()
	e.watcher.Stop()
	e.downloads.Close()
	if err := e.storages.Close(); err != nil {
		return fmt.Errorf("close local store: %w", err)
	}
	e.logger.Info().Str("func", "Close").Msg("engine stopped")
	return nil
}

// ── entity reads and local writes ────────────────────────────────────────────

// Get returns the record at key. The Dirty field of the result tells the
// caller whether the record carries unpushed local changes.
func (e *Engine) Get(ctx context.Context, key models.EntityKey) (models.Entity, error) {
	return e.storages.Entities.Get(ctx, key)
}

// List returns every readable record of the collection.
func (e *Engine) List(ctx context.Context, collection string) ([]models.Entity, error) {
	return e.storages.Entities.Scan(ctx, collection, nil)
}

// SaveLocal persists a locally edited record. The record is marked dirty
// until a sync pass confirms it against the remote store.
func (e *Engine) SaveLocal(ctx context.Context, entity models.Entity) error {
	entity.Dirty = true
	return e.storages.Entities.Put(ctx, entity)
}

// ── offline actions ──────────────────────────────────────────────────────────

// EnqueueAction records a mutation intent for later replay against the
// remote store and returns the assigned action ID. The write is durable
// immediately; the action is applied on the next sync pass.
func (e *Engine) EnqueueAction(ctx context.Context, action models.Action) (string, error) {
	return e.queue.Enqueue(ctx, action)
}

// AbandonedActions returns the actions that exhausted their retry budget
// and await manual resolution.
func (e *Engine) AbandonedActions(ctx context.Context) ([]models.Action, error) {
	return e.queue.Abandoned(ctx)
}

// ── cache ────────────────────────────────────────────────────────────────────

// Cached returns the cached payload for key, computing and storing it via
// loader on a miss. See cache.Engine.FetchOrCompute for TTL semantics.
func (e *Engine) Cached(ctx context.Context, key string, priority int, ttl time.Duration, loader cache.Loader) ([]byte, error) {
	return e.cache.FetchOrCompute(ctx, key, priority, ttl, loader)
}

// InvalidateCache removes every cache entry whose key starts with prefix.
func (e *Engine) InvalidateCache(ctx context.Context, keyPrefix string) error {
	return e.cache.Invalidate(ctx, keyPrefix)
}

// ── downloads ────────────────────────────────────────────────────────────────

// StartDownload begins (or attaches to) a transfer of the resource into
// the configured download directory and returns the task ID.
func (e *Engine) StartDownload(ctx context.Context, resourceKey, sourceURL, quality string) (string, error) {
	destination := filepath.Join(e.cfg.Storage.DownloadDir, filepath.FromSlash(resourceKey))
	return e.downloads.Start(ctx, resourceKey, sourceURL, destination, quality)
}

// PauseDownload pauses an active transfer, keeping its partial data.
func (e *Engine) PauseDownload(taskID string) error {
	return e.downloads.Pause(taskID)
}

// ResumeDownload restarts a paused or failed transfer.
func (e *Engine) ResumeDownload(ctx context.Context, taskID string) error {
	return e.downloads.Resume(ctx, taskID)
}

// CancelDownload stops the transfer and removes its partial data.
func (e *Engine) CancelDownload(taskID string) error {
	return e.downloads.Cancel(taskID)
}

// DownloadProgress returns a stream of progress snapshots for the task.
func (e *Engine) DownloadProgress(taskID string) (<-chan models.DownloadProgress, error) {
	return e.downloads.Progress(taskID)
}

// ListDownloads returns every registered download task.
func (e *Engine) ListDownloads(ctx context.Context) ([]models.DownloadTask, error) {
	return e.downloads.List(ctx)
}

// ── synchronization ──────────────────────────────────────────────────────────

// Sync requests an immediate sync pass. The call never blocks.
func (e *Engine) Sync() {
	e.syncer.Sync()
}

// SyncStatus returns a snapshot of the orchestrator state.
func (e *Engine) SyncStatus() models.SyncStatus {
	return e.syncer.Status()
}

// WatchSync returns a stream of orchestrator status snapshots.
func (e *Engine) WatchSync() <-chan models.SyncStatus {
	return e.syncer.Watch()
}

// Online reports the debounced connectivity state.
func (e *Engine) Online() bool {
	return e.watcher.Online()
}

// ── storage accounting ───────────────────────────────────────────────────────

// StorageInfo summarises the engine's on-device footprint.
func (e *Engine) StorageInfo(ctx context.Context) (models.StorageInfo, error) {
	var info models.StorageInfo

	downloadBytes, err := e.downloads.CompletedBytes(ctx)
	if err != nil {
		return info, fmt.Errorf("sum download bytes: %w", err)
	}
	tasks, err := e.downloads.List(ctx)
	if err != nil {
		return info, fmt.Errorf("list downloads: %w", err)
	}
	cacheStats, err := e.cache.Stats(ctx)
	if err != nil {
		return info, fmt.Errorf("cache stats: %w", err)
	}
	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		return info, fmt.Errorf("count pending actions: %w", err)
	}

	info.DownloadBytes = downloadBytes
	info.DownloadCount = len(tasks)
	info.CacheBytes = cacheStats.TotalSize
	info.CacheEntryCount = cacheStats.EntryCount
	info.PendingActions = pending
	return info, nil
}
