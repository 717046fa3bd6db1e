// SPDX-License-Identifier: Apache-2.0

// Package syncer runs the bidirectional synchronization loop between the
// local store and the remote backend: it drains the offline action queue,
// pulls per-collection record batches behind durable cursors, and performs
// periodic maintenance on the cache and the download registry.
//
// A single background goroutine serves all triggers (periodic ticker,
// offline-to-online connectivity edges, explicit Sync requests), so at
// most one pass is ever in flight.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coursesync/internal/adapter"
	"coursesync/internal/app"
	"coursesync/internal/config"
	"coursesync/internal/logger"
	"coursesync/internal/queue"
	"coursesync/internal/store"
	"coursesync/models"
)

const defaultInterval = 5 * time.Minute

// ActionDrainer replays queued offline actions against the remote store.
type ActionDrainer interface {
	Drain(ctx context.Context, applyFn queue.ApplyFunc) (models.DrainResult, error)
}

// CacheSweeper removes expired cache entries during maintenance.
type CacheSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// DownloadCleaner removes old completed downloads and their artifacts
// during maintenance.
type DownloadCleaner interface {
	CleanupCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Orchestrator coordinates push, pull, and maintenance into sync passes.
type Orchestrator struct {
	entities  store.EntityRepository
	cursors   store.CursorRepository
	actions   ActionDrainer
	remote    adapter.RemoteStore
	cache     CacheSweeper
	downloads DownloadCleaner

	collections    []string
	interval       time.Duration
	downloadMaxAge time.Duration

	logger *logger.Logger
	now    func() time.Time

	// requests carries explicit Sync triggers. Capacity one: a request
	// arriving while a pass runs is consumed by that pass, never queued
	// into a second one.
	requests chan struct{}

	jobMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stMu     sync.RWMutex
	status   models.SyncStatus
	watchers []chan models.SyncStatus
}

// New builds an orchestrator over the given collaborators. The cache
// sweeper and download cleaner may be nil, in which case the matching
// maintenance step is skipped.
func New(
	entities store.EntityRepository,
	cursors store.CursorRepository,
	actions ActionDrainer,
	remote adapter.RemoteStore,
	cacheSweeper CacheSweeper,
	downloadCleaner DownloadCleaner,
	cfg config.Sync,
	downloadMaxAge time.Duration,
	log *logger.Logger,
) *Orchestrator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Orchestrator{
		entities:       entities,
		cursors:        cursors,
		actions:        actions,
		remote:         remote,
		cache:          cacheSweeper,
		downloads:      downloadCleaner,
		collections:    cfg.Collections,
		interval:       interval,
		downloadMaxAge: downloadMaxAge,
		logger:         log,
		now:            time.Now,
		requests:       make(chan struct{}, 1),
		status:         models.SyncStatus{State: models.SyncIdle},
	}
}

// Start launches the background sync job. It replaces any previous job.
// edges, when non-nil, delivers offline-to-online connectivity
// notifications that trigger an immediate pass.
func (o *Orchestrator) Start(ctx context.Context, edges <-chan struct{}) {
	o.Stop()

	jobCtx, cancel := context.WithCancel(o.logger.WithContext(ctx))
	o.jobMu.Lock()
	o.cancel = cancel
	o.jobMu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		t := time.NewTicker(o.interval)
		defer t.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-t.C:
				o.runPass(jobCtx, "interval")
			case <-o.requests:
				o.runPass(jobCtx, "request")
			case _, ok := <-edges:
				if !ok {
					edges = nil
					continue
				}
				o.runPass(jobCtx, "online")
			}
		}
	}()
}

// Stop cancels the background job and waits for any running pass to
// return. Safe to call when no job is running.
func (o *Orchestrator) Stop() {
	o.jobMu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.jobMu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
}

// Sync requests an immediate pass. The call never blocks: a request
// arriving while a pass is already running is served by that pass.
func (o *Orchestrator) Sync() {
	select {
	case o.requests <- struct{}{}:
	default:
	}
}

// Status returns a snapshot of the orchestrator state.
func (o *Orchestrator) Status() models.SyncStatus {
	o.stMu.RLock()
	defer o.stMu.RUnlock()
	return o.status
}

// Watch returns a channel receiving status snapshots, primed with the
// current one. Slow receivers only ever lag by one snapshot: a newer
// status replaces the undelivered one.
func (o *Orchestrator) Watch() <-chan models.SyncStatus {
	ch := make(chan models.SyncStatus, 1)
	o.stMu.Lock()
	ch <- o.status
	o.watchers = append(o.watchers, ch)
	o.stMu.Unlock()
	return ch
}

// transition mutates the status under lock and fans the new snapshot out
// to every watcher.
func (o *Orchestrator) transition(mutate func(*models.SyncStatus)) {
	o.stMu.Lock()
	mutate(&o.status)
	st := o.status
	watchers := make([]chan models.SyncStatus, len(o.watchers))
	copy(watchers, o.watchers)
	o.stMu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// runPass executes one full sync pass: drain the action queue, pull every
// collection, then run maintenance. Stages are independent: a failed
// drain does not block the pull, and a failed pull for one collection
// does not block the others. The first error of the pass ends up in the
// status stream.
func (o *Orchestrator) runPass(ctx context.Context, trigger string) {
	log := logger.FromContext(ctx)
	start := o.now()
	o.transition(func(st *models.SyncStatus) {
		st.State = models.SyncSyncing
		st.LastStartedAt = start
	})
	log.Info().Str("func", "runPass").Str("trigger", trigger).Msg("sync pass started")

	var firstErr error
	record := func(stage string, err error) {
		log.Warn().Str("func", "runPass").Str("stage", stage).Err(err).Msg("sync stage failed")
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", stage, err)
		}
	}

	result, err := o.actions.Drain(ctx, o.remote.Push)
	if err != nil {
		record("drain", err)
	}
	abandoned := len(result.Abandoned)

	for _, collection := range o.collections {
		if err := ctx.Err(); err != nil {
			record("pull", err)
			break
		}
		if err := o.pullCollection(ctx, collection); err != nil {
			record("pull "+collection, err)
		}
	}

	if o.cache != nil {
		if n, err := o.cache.SweepExpired(ctx); err != nil {
			record("cache sweep", err)
		} else if n > 0 {
			log.Debug().Str("func", "runPass").Int64("swept", n).Msg("expired cache entries removed")
		}
	}
	if o.downloads != nil && o.downloadMaxAge > 0 {
		cutoff := o.now().Add(-o.downloadMaxAge)
		if n, err := o.downloads.CleanupCompletedBefore(ctx, cutoff); err != nil {
			record("download cleanup", err)
		} else if n > 0 {
			log.Debug().Str("func", "runPass").Int("removed", n).Msg("stale downloads cleaned up")
		}
	}

	finished := o.now()
	o.transition(func(st *models.SyncStatus) {
		st.LastFinishedAt = finished
		st.Abandoned += abandoned
		if firstErr != nil {
			st.State = models.SyncError
			st.LastError = firstErr.Error()
		} else {
			st.State = models.SyncIdle
			st.LastError = ""
		}
	})
	log.Info().Str("func", "runPass").
		Dur("elapsed", finished.Sub(start)).
		Bool("ok", firstErr == nil).
		Msg("sync pass finished")

	// A Sync request that arrived mid-pass has been served by this pass.
	select {
	case <-o.requests:
	default:
	}
}

// pullCollection pages authoritative records since the stored cursor and
// commits each page together with its new cursor. A failed page leaves
// the cursor where the last committed page put it, so the next pass
// resumes the same window.
func (o *Orchestrator) pullCollection(ctx context.Context, collection string) error {
	cursor, err := o.cursors.Get(ctx, collection)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	since := cursor.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := o.remote.Pull(ctx, collection, since)
		if err != nil {
			return err
		}
		if len(batch.Records) == 0 && (batch.NewCursor == "" || batch.NewCursor == since) {
			return nil
		}
		if err := o.commitBatch(ctx, collection, batch); err != nil {
			return err
		}
		if !batch.HasMore {
			return nil
		}
		if batch.NewCursor == "" || batch.NewCursor == since {
			// A server promising more pages without advancing the cursor
			// would replay the same window forever.
			logger.FromContext(ctx).Warn().
				Str("func", "pullCollection").
				Str("collection", collection).
				Str("cursor", since).
				Msg("remote reports more pages without advancing the cursor")
			return nil
		}
		since = batch.NewCursor
	}
}

// commitBatch writes one pulled page and its cursor in a single local
// transaction. Remote records win over concurrent local edits
// (last-writer-wins); each such overwrite is logged as a conflict.
func (o *Orchestrator) commitBatch(ctx context.Context, collection string, batch models.PullBatch) error {
	log := logger.FromContext(ctx)
	now := o.now()

	ops := make([]store.TxOp, 0, len(batch.Records)+1)
	for i := range batch.Records {
		rec := batch.Records[i]
		rec.Dirty = false
		rec.LastSyncedAt = now

		local, err := o.entities.Get(ctx, rec.Key)
		switch {
		case err == nil:
			if local.Dirty {
				log.Warn().Str("func", "commitBatch").
					Str("key", rec.Key.String()).
					Err(app.ErrConflict).
					Msg("remote update overwrites unpushed local change")
			}
			if rec.LocalPath == "" {
				rec.LocalPath = local.LocalPath
			}
		case errors.Is(err, app.ErrNotFound), errors.Is(err, app.ErrCorruptLocalState):
			// Fresh insert, or a quarantined row replaced by the
			// authoritative copy.
		default:
			return fmt.Errorf("read local record %s: %w", rec.Key, err)
		}

		ops = append(ops, store.TxOp{Kind: store.TxPut, Entity: &rec})
	}
	if batch.NewCursor != "" {
		ops = append(ops, store.TxOp{
			Kind: store.TxSetCursor,
			Cursor: &models.SyncCursor{
				Collection: collection,
				Cursor:     batch.NewCursor,
				UpdatedAt:  now,
			},
		})
	}

	if err := o.entities.Transact(ctx, ops); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	log.Debug().Str("func", "commitBatch").
		Str("collection", collection).
		Int("records", len(batch.Records)).
		Str("cursor", batch.NewCursor).
		Msg("pulled batch committed")
	return nil
}
