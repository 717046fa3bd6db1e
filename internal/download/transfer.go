// SPDX-License-Identifier: Apache-2.0

package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"coursesync/internal/app"
	"coursesync/models"
)

// stopReason tells the worker why its context was cancelled.
type stopReason int32

const (
	reasonNone stopReason = iota
	reasonPause
	reasonCancel
)

const (
	copyBufferSize = 32 * 1024

	// transferMaxRetries bounds in-flight retries of a transient failure
	// before the task is failed; backoff is fibonacci starting at
	// transferRetryBase.
	transferMaxRetries = 2
	transferRetryBase  = 500 * time.Millisecond
)

// transfer is one in-flight download worker.
type transfer struct {
	m    *Manager
	task models.DownloadTask

	ctx    context.Context
	cancel context.CancelFunc
	reason atomic.Int32

	subMu  sync.Mutex
	subs   []chan models.DownloadProgress
	closed bool

	lastEmit    time.Time
	lastPersist time.Time
}

func newTransfer(m *Manager, task models.DownloadTask) *transfer {
	ctx, cancel := context.WithCancel(m.rootCtx)
	return &transfer{
		m:      m,
		task:   task,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (tr *transfer) stop(reason stopReason) {
	tr.reason.CompareAndSwap(int32(reasonNone), int32(reason))
	tr.cancel()
}

func (tr *transfer) stopReason() stopReason {
	return stopReason(tr.reason.Load())
}

// run drives the task through one transfer lifetime: acquire a slot,
// stream, then settle into exactly one terminal (or paused) state.
// Persistence uses a non-cancellable context so the final state is
// recorded even when the worker was stopped.
func (tr *transfer) run() {
	defer tr.m.unregister(tr)
	defer tr.cancel()

	persistCtx := context.WithoutCancel(tr.ctx)
	log := tr.m.logger.With().
		Str("task_id", tr.task.ID).
		Str("resource_key", tr.task.ResourceKey).
		Logger()

	if err := tr.m.sem.Acquire(tr.ctx, 1); err != nil {
		tr.settleStopped(persistCtx)
		return
	}
	defer tr.m.sem.Release(1)

	tr.task.Status = models.DownloadDownloading
	tr.task.UpdatedAt = tr.m.now().UTC()
	if err := tr.m.tasks.Upsert(persistCtx, tr.task); err != nil {
		log.Err(err).Msg("failed to persist downloading state")
	}
	tr.publish(snapshotOf(tr.task), false)

	backoff := retry.WithMaxRetries(transferMaxRetries, retry.NewFibonacci(transferRetryBase))
	streamErr := retry.Do(tr.ctx, backoff, func(ctx context.Context) error {
		return tr.attempt(ctx)
	})

	switch {
	case streamErr == nil:
		tr.finalize(persistCtx, log)

	case tr.stopReason() == reasonPause || (tr.ctx.Err() != nil && tr.stopReason() == reasonNone):
		// Explicit pause, or manager shutdown: keep the partial data so
		// the next run continues where this one stopped.
		tr.task.Status = models.DownloadPaused
		tr.task.UpdatedAt = tr.m.now().UTC()
		if err := tr.m.tasks.Upsert(persistCtx, tr.task); err != nil {
			log.Err(err).Msg("failed to persist paused state")
		}
		log.Info().Int64("transferred", tr.task.TransferredBytes).Msg("download paused")
		tr.publish(snapshotOf(tr.task), true)

	case tr.stopReason() == reasonCancel:
		removePartFile(tr.task.LocalPath)
		tr.task.Status = models.DownloadCancelled
		tr.task.UpdatedAt = tr.m.now().UTC()
		if err := tr.m.tasks.Upsert(persistCtx, tr.task); err != nil {
			log.Err(err).Msg("failed to persist cancelled state")
		}
		log.Info().Msg("download cancelled, partial data removed")
		tr.publish(snapshotOf(tr.task), true)

	default:
		removePartFile(tr.task.LocalPath)
		tr.task.Status = models.DownloadFailed
		tr.task.LastError = streamErr.Error()
		tr.task.UpdatedAt = tr.m.now().UTC()
		if err := tr.m.tasks.Upsert(persistCtx, tr.task); err != nil {
			log.Err(err).Msg("failed to persist failed state")
		}
		log.Warn().Err(streamErr).Msg("download failed")
		tr.publish(snapshotOf(tr.task), true)
	}
}

// settleStopped records the state of a worker stopped before it ever
// acquired a transfer slot.
func (tr *transfer) settleStopped(persistCtx context.Context) {
	if tr.stopReason() == reasonCancel {
		removePartFile(tr.task.LocalPath)
		tr.task.Status = models.DownloadCancelled
	} else {
		tr.task.Status = models.DownloadPaused
	}
	tr.task.UpdatedAt = tr.m.now().UTC()
	if err := tr.m.tasks.Upsert(persistCtx, tr.task); err != nil {
		tr.m.logger.Err(err).
			Str("func", "transfer.settleStopped").
			Str("task_id", tr.task.ID).
			Msg("failed to persist stopped state")
	}
	tr.publish(snapshotOf(tr.task), true)
}

// attempt performs one streaming GET into the .part file, resuming from
// any bytes already there. Transient failures are wrapped retryable so
// the surrounding backoff loop re-enters with the partial data intact.
func (tr *transfer) attempt(ctx context.Context) error {
	partPath := partPathOf(tr.task.LocalPath)
	if err := os.MkdirAll(filepath.Dir(partPath), 0o755); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	req := tr.m.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if offset > 0 {
		req.SetHeader("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := req.Get(tr.task.SourceURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.RetryableError(fmt.Errorf("%w: %w", app.ErrTransientNetwork, err))
	}
	body := resp.RawBody()
	defer body.Close()

	code := resp.StatusCode()
	switch {
	case code == http.StatusPartialContent && offset > 0:
		// server honoured the range, append
	case code == http.StatusOK:
		// full body, restart from scratch
		offset = 0
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return retry.RetryableError(fmt.Errorf("%w: http %d", app.ErrTransientNetwork, code))
	default:
		return fmt.Errorf("http %d fetching %s", code, tr.task.ResourceKey)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return fmt.Errorf("open part file: %w", err)
	}
	defer file.Close()

	if length := resp.RawResponse.ContentLength; length > 0 {
		tr.task.TotalBytes = offset + length
	}
	tr.task.TransferredBytes = offset

	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("write part file: %w", writeErr)
			}
			tr.task.TransferredBytes += int64(n)
			tr.throttledProgress(ctx)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(fmt.Errorf("%w: read body: %w", app.ErrTransientNetwork, readErr))
		}
	}

	if tr.task.TotalBytes > 0 && tr.task.TransferredBytes != tr.task.TotalBytes {
		return fmt.Errorf("%w: got %d of %d bytes", ErrSizeMismatch, tr.task.TransferredBytes, tr.task.TotalBytes)
	}

	return file.Sync()
}

// finalize verifies and publishes a completed transfer: checksum the
// received file, move it into place, persist the terminal row, and mark
// the owning entity available offline.
func (tr *transfer) finalize(persistCtx context.Context, log zerolog.Logger) {
	partPath := partPathOf(tr.task.LocalPath)

	checksum, err := checksumFile(partPath)
	if err != nil {
		removePartFile(tr.task.LocalPath)
		tr.fail(persistCtx, log, fmt.Errorf("checksum received file: %w", err))
		return
	}

	if err = os.Rename(partPath, tr.task.LocalPath); err != nil {
		removePartFile(tr.task.LocalPath)
		tr.fail(persistCtx, log, fmt.Errorf("move artifact into place: %w", err))
		return
	}

	tr.task.Status = models.DownloadCompleted
	tr.task.Checksum = checksum
	tr.task.UpdatedAt = tr.m.now().UTC()
	if err = tr.m.tasks.Upsert(persistCtx, tr.task); err != nil {
		log.Err(err).Msg("failed to persist completed state")
	}

	if key, ok := entityKeyOf(tr.task.ResourceKey); ok {
		if err = tr.m.entities.SetLocalPath(persistCtx, key, tr.task.LocalPath); err != nil {
			if !errors.Is(err, app.ErrNotFound) {
				log.Err(err).Str("key", key.String()).Msg("failed to mark entity available offline")
			}
		}
	}

	log.Info().
		Int64("bytes", tr.task.TransferredBytes).
		Str("checksum", checksum).
		Msg("download completed")
	tr.publish(snapshotOf(tr.task), true)
}

// fail settles a transfer whose post-processing broke after the stream
// itself succeeded.
func (tr *transfer) fail(persistCtx context.Context, log zerolog.Logger, cause error) {
	tr.task.Status = models.DownloadFailed
	tr.task.LastError = cause.Error()
	tr.task.UpdatedAt = tr.m.now().UTC()
	if err := tr.m.tasks.Upsert(persistCtx, tr.task); err != nil {
		log.Err(err).Msg("failed to persist failed state")
	}
	log.Warn().Err(cause).Msg("download failed")
	tr.publish(snapshotOf(tr.task), true)
}

// throttledProgress emits and persists a progress snapshot at most once
// per configured interval.
func (tr *transfer) throttledProgress(ctx context.Context) {
	now := tr.m.now()
	if now.Sub(tr.lastEmit) < tr.m.progressInterval {
		return
	}
	tr.lastEmit = now

	tr.publish(snapshotOf(tr.task), false)
	if err := tr.m.tasks.UpdateProgress(context.WithoutCancel(ctx), tr.task.ID, tr.task.TransferredBytes, tr.task.TotalBytes); err != nil {
		tr.m.logger.Err(err).
			Str("func", "transfer.throttledProgress").
			Str("task_id", tr.task.ID).
			Msg("failed to persist progress")
	}
}

// subscribe registers a progress listener. The channel holds the latest
// snapshot; a slow consumer sees snapshots coalesce but always receives
// the terminal one.
func (tr *transfer) subscribe() <-chan models.DownloadProgress {
	tr.subMu.Lock()
	defer tr.subMu.Unlock()

	ch := make(chan models.DownloadProgress, 1)
	if tr.closed {
		ch <- snapshotOf(tr.task)
		close(ch)
		return ch
	}

	tr.subs = append(tr.subs, ch)
	return ch
}

// publish fans a snapshot out to all subscribers. The terminal snapshot
// replaces any stale buffered one and closes every channel; after it no
// further snapshots are emitted.
func (tr *transfer) publish(p models.DownloadProgress, terminal bool) {
	tr.subMu.Lock()
	defer tr.subMu.Unlock()

	if tr.closed {
		return
	}

	for _, ch := range tr.subs {
		select {
		case ch <- p:
		default:
			// replace the stale buffered snapshot
			select {
			case <-ch:
			default:
			}
			ch <- p
		}
	}

	if terminal {
		tr.closed = true
		for _, ch := range tr.subs {
			close(ch)
		}
		tr.subs = nil
	}
}

func partPathOf(localPath string) string {
	return localPath + ".part"
}

func removePartFile(localPath string) {
	_ = os.Remove(partPathOf(localPath))
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// checksumFile returns the hex SHA-256 of the file at path.
func checksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err = io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
