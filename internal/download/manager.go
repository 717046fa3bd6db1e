// SPDX-License-Identifier: Apache-2.0

// Package download manages large binary transfers (lesson videos, PDFs)
// with durable, resumable tasks.
//
// Every transfer is backed by a row in the downloads table, so an
// interrupted transfer survives a process restart and continues from the
// bytes already on disk. In-flight data accumulates in a ".part" file
// next to the destination and is renamed into place only on successful
// completion, so a destination path either holds a complete verified
// artifact or nothing.
package download

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"coursesync/internal/app"
	"coursesync/internal/config"
	"coursesync/internal/logger"
	"coursesync/internal/store"
	"coursesync/models"
)

// Manager schedules and supervises download tasks. At most one transfer
// is in flight per resource key; a second Start for the same key attaches
// to the running task instead of spawning a duplicate.
type Manager struct {
	tasks    store.DownloadRepository
	entities store.EntityRepository
	client   *resty.Client

	quota            int64
	progressInterval time.Duration
	sem              *semaphore.Weighted
	logger           *logger.Logger

	// now is swapped in tests.
	now func() time.Time

	mu         sync.Mutex
	active     map[string]*transfer // task ID → running transfer
	byResource map[string]string    // resource key → task ID

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs the download manager. The resty client carries no
// request timeout: transfers are long-lived and are bounded by context
// cancellation instead.
func NewManager(tasks store.DownloadRepository, entities store.EntityRepository, storageCfg config.Storage, cfg config.Downloads, log *logger.Logger) *Manager {
	rootCtx, cancel := context.WithCancel(context.Background())

	return &Manager{
		tasks:            tasks,
		entities:         entities,
		client:           resty.New(),
		quota:            storageCfg.QuotaBytes,
		progressInterval: cfg.ProgressInterval,
		sem:              semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:           log,
		now:              time.Now,
		active:           make(map[string]*transfer),
		byResource:       make(map[string]string),
		rootCtx:          rootCtx,
		cancel:           cancel,
	}
}

// Start registers a download task for resourceKey and begins transferring
// in the background, returning the task ID immediately. If a task for the
// same resource key is already in flight, its ID is returned instead of
// starting a second transfer; a settled persisted task (completed,
// failed, cancelled, or left over from a previous process) is requeued
// under its existing ID. The signed source URL is checked for expiry and
// the storage quota for headroom before any bytes move;
// app.ErrQuotaExceeded fails fast.
func (m *Manager) Start(ctx context.Context, resourceKey, sourceURL, destination, quality string) (string, error) {
	log := logger.FromContext(ctx)

	if err := checkSignedURL(sourceURL, m.now()); err != nil {
		return "", err
	}

	m.mu.Lock()
	if id, running := m.byResource[resourceKey]; running {
		m.mu.Unlock()
		log.Debug().
			Str("func", "Manager.Start").
			Str("resource_key", resourceKey).
			Str("task_id", id).
			Msg("attached to in-flight download")
		return id, nil
	}
	m.mu.Unlock()

	expected := m.headContentLength(ctx, sourceURL)
	if err := m.checkQuota(ctx, expected); err != nil {
		return "", err
	}

	// Re-check under the lock: a concurrent Start for the same key may
	// have registered while the HEAD request was in flight. The persisted
	// row lookup, the upsert, and the worker registration stay in one
	// critical section so the resource_key uniqueness constraint is never
	// raced.
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, running := m.byResource[resourceKey]; running {
		log.Debug().
			Str("func", "Manager.Start").
			Str("resource_key", resourceKey).
			Str("task_id", id).
			Msg("attached to in-flight download")
		return id, nil
	}

	now := m.now().UTC()
	task, err := m.tasks.GetByResourceKey(ctx, resourceKey)
	switch {
	case err == nil:
		task = requeuedTask(task, sourceURL, destination, quality, expected, now)
	case errors.Is(err, app.ErrNotFound):
		task = models.DownloadTask{
			ID:          uuid.NewString(),
			ResourceKey: resourceKey,
			SourceURL:   sourceURL,
			LocalPath:   destination,
			Quality:     quality,
			TotalBytes:  expected,
			Status:      models.DownloadQueued,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	default:
		return "", fmt.Errorf("look up download task: %w", err)
	}

	if err := m.tasks.Upsert(ctx, task); err != nil {
		return "", fmt.Errorf("register download task: %w", err)
	}

	m.launchLocked(task)

	log.Info().
		Str("func", "Manager.Start").
		Str("resource_key", resourceKey).
		Str("task_id", task.ID).
		Int64("expected_bytes", expected).
		Msg("download task started")

	return task.ID, nil
}

// requeuedTask resets a settled persisted task for a fresh Start under
// its existing ID. A paused or interrupted transfer keeps its partial
// data for range continuation; completed, failed, and cancelled tasks
// start over.
func requeuedTask(task models.DownloadTask, sourceURL, destination, quality string, expected int64, now time.Time) models.DownloadTask {
	if task.Status.Terminal() {
		removePartFile(task.LocalPath)
		task.TransferredBytes = 0
		task.Checksum = ""
	}

	task.SourceURL = sourceURL
	task.LocalPath = destination
	task.Quality = quality
	if expected > 0 {
		task.TotalBytes = expected
	}
	task.Status = models.DownloadQueued
	task.LastError = ""
	task.UpdatedAt = now
	return task
}

// Pause stops the task's transfer, keeping the partial data on disk. Only
// an in-flight task can be paused.
func (m *Manager) Pause(taskID string) error {
	m.mu.Lock()
	tr, running := m.active[taskID]
	m.mu.Unlock()

	if !running {
		return fmt.Errorf("%w: %s", ErrNotPausable, taskID)
	}

	tr.stop(reasonPause)
	return nil
}

// Cancel stops the task and removes its partial data. Cancelling an
// already terminal task is a no-op.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	tr, running := m.active[taskID]
	m.mu.Unlock()

	if running {
		tr.stop(reasonCancel)
		return nil
	}

	// Not in flight: flip the persisted row directly.
	ctx := m.rootCtx
	task, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	if task.Status.Terminal() {
		return nil
	}

	removePartFile(task.LocalPath)
	task.Status = models.DownloadCancelled
	task.UpdatedAt = m.now().UTC()
	return m.tasks.Upsert(ctx, task)
}

// Resume restarts a paused, failed, or cancelled task. A paused task
// continues from its partial data when the server supports range
// requests; failed and cancelled tasks start over.
func (m *Manager) Resume(ctx context.Context, taskID string) error {
	m.mu.Lock()
	_, running := m.active[taskID]
	m.mu.Unlock()
	if running {
		return nil
	}

	task, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	switch task.Status {
	case models.DownloadPaused:
		// keep the .part file
	case models.DownloadFailed, models.DownloadCancelled:
		removePartFile(task.LocalPath)
		task.TransferredBytes = 0
	default:
		return fmt.Errorf("%w: %s is %s", ErrNotResumable, taskID, task.Status)
	}

	if err = checkSignedURL(task.SourceURL, m.now()); err != nil {
		return err
	}

	task.Status = models.DownloadQueued
	task.LastError = ""
	task.UpdatedAt = m.now().UTC()
	if err = m.tasks.Upsert(ctx, task); err != nil {
		return fmt.Errorf("requeue download task: %w", err)
	}

	m.launch(task)
	return nil
}

// Progress subscribes to the task's progress stream. For an in-flight
// task the channel carries throttled snapshots and exactly one terminal
// snapshot, after which it is closed. For a task that is not in flight
// the channel delivers the persisted state once and closes.
func (m *Manager) Progress(taskID string) (<-chan models.DownloadProgress, error) {
	m.mu.Lock()
	tr, running := m.active[taskID]
	m.mu.Unlock()

	if running {
		return tr.subscribe(), nil
	}

	task, err := m.tasks.GetByID(m.rootCtx, taskID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	ch := make(chan models.DownloadProgress, 1)
	ch <- snapshotOf(task)
	close(ch)
	return ch, nil
}

// List returns every registered task, in flight or not.
func (m *Manager) List(ctx context.Context) ([]models.DownloadTask, error) {
	return m.tasks.List(ctx)
}

// CompletedBytes sums the on-disk size of completed downloads.
func (m *Manager) CompletedBytes(ctx context.Context) (int64, error) {
	return m.tasks.CompletedBytes(ctx)
}

// CleanupCompletedBefore removes completed tasks last touched before
// cutoff together with their on-disk artifacts. Called from sync
// maintenance.
func (m *Manager) CleanupCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := m.tasks.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	log := logger.FromContext(ctx)
	for _, task := range stale {
		if rmErr := removeFile(task.LocalPath); rmErr != nil {
			log.Warn().
				Str("func", "Manager.CleanupCompletedBefore").
				Str("task_id", task.ID).
				Str("path", task.LocalPath).
				Err(rmErr).
				Msg("failed to remove stale artifact")
		}
	}

	return len(stale), nil
}

// Close stops every in-flight transfer and waits for the workers to
// persist their paused state.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// launch registers and starts the worker for a queued task.
func (m *Manager) launch(task models.DownloadTask) {
	m.mu.Lock()
	m.launchLocked(task)
	m.mu.Unlock()
}

// launchLocked is launch for callers already holding m.mu.
func (m *Manager) launchLocked(task models.DownloadTask) {
	tr := newTransfer(m, task)
	m.active[task.ID] = tr
	m.byResource[task.ResourceKey] = task.ID

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		tr.run()
	}()
}

func (m *Manager) unregister(tr *transfer) {
	m.mu.Lock()
	delete(m.active, tr.task.ID)
	if m.byResource[tr.task.ResourceKey] == tr.task.ID {
		delete(m.byResource, tr.task.ResourceKey)
	}
	m.mu.Unlock()
}

// headContentLength asks the server for the artifact size. Zero means
// unknown; the transfer proceeds and learns the size from the GET.
func (m *Manager) headContentLength(ctx context.Context, sourceURL string) int64 {
	resp, err := m.client.R().SetContext(ctx).Head(sourceURL)
	if err != nil || resp.IsError() {
		return 0
	}

	length, err := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64)
	if err != nil || length < 0 {
		return 0
	}
	return length
}

// checkQuota fails fast when the expected artifact would not fit the
// configured byte budget. A zero quota disables the check, as does an
// unknown expected size.
func (m *Manager) checkQuota(ctx context.Context, expected int64) error {
	if m.quota <= 0 || expected <= 0 {
		return nil
	}

	used, err := m.tasks.CompletedBytes(ctx)
	if err != nil {
		return err
	}
	if used+expected > m.quota {
		return fmt.Errorf("%w: %d used + %d expected > %d quota", app.ErrQuotaExceeded, used, expected, m.quota)
	}
	return nil
}

func snapshotOf(task models.DownloadTask) models.DownloadProgress {
	return models.DownloadProgress{
		TaskID:           task.ID,
		TransferredBytes: task.TransferredBytes,
		TotalBytes:       task.TotalBytes,
		Status:           task.Status,
		Err:              task.LastError,
	}
}

// entityKeyOf maps a resource key ("collection/id[/variant]") onto the
// owning entity key.
func entityKeyOf(resourceKey string) (models.EntityKey, bool) {
	collection, rest, found := strings.Cut(resourceKey, "/")
	if !found || collection == "" || rest == "" {
		return models.EntityKey{}, false
	}

	id := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		id = rest[:i]
	}
	return models.EntityKey{Collection: collection, ID: id}, true
}
