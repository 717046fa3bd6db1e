// SPDX-License-Identifier: Apache-2.0

package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursesync/internal/app"
	"coursesync/internal/config"
	"coursesync/internal/logger"
	"coursesync/internal/store"
	"coursesync/models"
)

func newTestManager(t *testing.T, quota int64) (*Manager, *store.Storages, string) {
	t.Helper()

	dir := t.TempDir()
	storages, err := store.NewStorages(context.Background(), config.Storage{
		DBPath: filepath.Join(dir, "download-test.db"),
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { storages.Close() })

	m := NewManager(storages.Downloads, storages.Entities, config.Storage{
		DownloadDir: dir,
		QuotaBytes:  quota,
	}, config.Downloads{
		Concurrency:      2,
		ProgressInterval: 5 * time.Millisecond,
	}, logger.Nop())
	t.Cleanup(m.Close)

	return m, storages, dir
}

// serveBytes is a handler that serves content with optional range support.
func serveBytes(t *testing.T, content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.Helper()

		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}

		offset := 0
		if rng := r.Header.Get("Range"); rng != "" {
			_, err := fmt.Sscanf(rng, "bytes=%d-", &offset)
			require.NoError(t, err)
			w.Header().Set("Content-Length", strconv.Itoa(len(content)-offset))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		}
		_, _ = w.Write(content[offset:])
	}
}

// drain consumes the task's progress stream until it closes and returns
// every snapshot received.
func drain(t *testing.T, m *Manager, taskID string) []models.DownloadProgress {
	t.Helper()

	ch, err := m.Progress(taskID)
	require.NoError(t, err)

	var snapshots []models.DownloadProgress
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				return snapshots
			}
			snapshots = append(snapshots, p)
		case <-timeout:
			t.Fatal("progress stream never closed")
		}
	}
}

func expiredSignedURL(t *testing.T, base string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return base + "?token=" + token
}

// ── Completion ───────────────────────────────────────────────────────────

func TestManager_StartCompletesAndVerifies(t *testing.T) {
	content := []byte(strings.Repeat("course video data ", 1024))
	srv := httptest.NewServer(serveBytes(t, content))
	defer srv.Close()

	m, storages, dir := newTestManager(t, 0)
	ctx := context.Background()

	// The owning entity exists and must be marked available offline.
	require.NoError(t, storages.Entities.Put(ctx, models.Entity{
		Key:     models.EntityKey{Collection: models.CollectionLessons, ID: "l-1"},
		Payload: json.RawMessage(`{"title":"Lesson 1"}`),
	}))

	dest := filepath.Join(dir, "l-1.mp4")
	taskID, err := m.Start(ctx, "lessons/l-1/video", srv.URL+"/video", dest, "720p")
	require.NoError(t, err)

	snapshots := drain(t, m, taskID)
	require.NotEmpty(t, snapshots)
	final := snapshots[len(snapshots)-1]
	assert.Equal(t, models.DownloadCompleted, final.Status)
	assert.Equal(t, int64(len(content)), final.TransferredBytes)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err), "part file must be gone after completion")

	sum := sha256.Sum256(content)
	task, err := storages.Downloads.GetByID(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), task.Checksum)

	entity, err := storages.Entities.Get(ctx, models.EntityKey{Collection: models.CollectionLessons, ID: "l-1"})
	require.NoError(t, err)
	assert.Equal(t, dest, entity.LocalPath)
}

func TestManager_DuplicateStartAttaches(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Header().Set("Content-Length", "4")
		w.(http.Flusher).Flush()
		<-release
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()
	defer close(release)

	m, _, dir := newTestManager(t, 0)
	ctx := context.Background()

	first, err := m.Start(ctx, "lessons/l-1/video", srv.URL, filepath.Join(dir, "a.bin"), "hd")
	require.NoError(t, err)

	second, err := m.Start(ctx, "lessons/l-1/video", srv.URL, filepath.Join(dir, "a.bin"), "hd")
	require.NoError(t, err)
	assert.Equal(t, first, second, "second start for the same resource must attach")
}

func TestManager_ConcurrentStartsShareOneTask(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			// Slow HEAD keeps both callers past the in-memory dedupe
			// check at the same time.
			time.Sleep(20 * time.Millisecond)
			w.Header().Set("Content-Length", "4")
			return
		}
		w.Header().Set("Content-Length", "4")
		w.(http.Flusher).Flush()
		<-release
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()
	defer close(release)

	m, _, dir := newTestManager(t, 0)
	ctx := context.Background()

	type started struct {
		id  string
		err error
	}
	results := make(chan started, 2)
	for range 2 {
		go func() {
			id, err := m.Start(ctx, "lessons/l-1/video", srv.URL, filepath.Join(dir, "a.bin"), "hd")
			results <- started{id: id, err: err}
		}()
	}

	first := <-results
	second := <-results
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Equal(t, first.id, second.id, "concurrent starts for the same resource must share one task")
}

func TestManager_StartAfterCompletionRedownloads(t *testing.T) {
	content := []byte("first artifact version")
	srv := httptest.NewServer(serveBytes(t, content))
	defer srv.Close()

	m, _, dir := newTestManager(t, 0)
	ctx := context.Background()
	destination := filepath.Join(dir, "video.bin")

	first, err := m.Start(ctx, "lessons/l-1/video", srv.URL, destination, "hd")
	require.NoError(t, err)
	drain(t, m, first)

	task, err := m.tasks.GetByID(ctx, first)
	require.NoError(t, err)
	require.Equal(t, models.DownloadCompleted, task.Status)

	second, err := m.Start(ctx, "lessons/l-1/video", srv.URL, destination, "hd")
	require.NoError(t, err, "a completed resource must be downloadable again")
	assert.Equal(t, first, second, "the persisted task row is reused")

	snapshots := drain(t, m, second)
	require.NotEmpty(t, snapshots)
	assert.Equal(t, models.DownloadCompleted, snapshots[len(snapshots)-1].Status)

	got, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestManager_StartRequeuesPersistedFailedTask(t *testing.T) {
	content := []byte("recovered artifact")
	srv := httptest.NewServer(serveBytes(t, content))
	defer srv.Close()

	m, storages, dir := newTestManager(t, 0)
	ctx := context.Background()
	destination := filepath.Join(dir, "doc.pdf")

	// A failed row left behind by a previous process, partial data included.
	require.NoError(t, os.WriteFile(destination+".part", []byte("stale"), 0o644))
	now := time.Now().UTC()
	require.NoError(t, storages.Downloads.Upsert(ctx, models.DownloadTask{
		ID:               "task-restart",
		ResourceKey:      "lessons/l-2/pdf",
		SourceURL:        srv.URL,
		LocalPath:        destination,
		Quality:          "original",
		TransferredBytes: 5,
		Status:           models.DownloadFailed,
		LastError:        "http 500 fetching " + srv.URL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}))

	id, err := m.Start(ctx, "lessons/l-2/pdf", srv.URL, destination, "original")
	require.NoError(t, err)
	assert.Equal(t, "task-restart", id)

	snapshots := drain(t, m, id)
	require.NotEmpty(t, snapshots)
	assert.Equal(t, models.DownloadCompleted, snapshots[len(snapshots)-1].Status)

	got, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, content, got, "failed tasks start over from scratch")
}

// ── Cancel / Pause ───────────────────────────────────────────────────────

func TestManager_CancelRemovesPartialData(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write([]byte("partial chunk"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done() // held open until the client goes away
	}))
	defer srv.Close()

	m, storages, dir := newTestManager(t, 0)
	ctx := context.Background()

	dest := filepath.Join(dir, "cancelled.bin")
	taskID, err := m.Start(ctx, "lessons/l-9/video", srv.URL, dest, "720p")
	require.NoError(t, err)

	<-started
	require.NoError(t, m.Cancel(taskID))

	snapshots := drain(t, m, taskID)
	final := snapshots[len(snapshots)-1]
	assert.Equal(t, models.DownloadCancelled, final.Status)

	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "no destination file after cancel")
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err), "no partial file after cancel")

	task, err := storages.Downloads.GetByID(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.DownloadCancelled, task.Status)
}

func TestManager_PauseKeepsPartialData(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write([]byte("first bytes"))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	m, storages, dir := newTestManager(t, 0)
	ctx := context.Background()

	dest := filepath.Join(dir, "paused.bin")
	taskID, err := m.Start(ctx, "lessons/l-8/video", srv.URL, dest, "720p")
	require.NoError(t, err)

	<-started
	require.Eventually(t, func() bool {
		info, statErr := os.Stat(dest + ".part")
		return statErr == nil && info.Size() > 0
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Pause(taskID))
	drain(t, m, taskID)

	task, err := storages.Downloads.GetByID(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.DownloadPaused, task.Status)

	info, err := os.Stat(dest + ".part")
	require.NoError(t, err, "partial data must survive a pause")
	assert.Positive(t, info.Size())
}

func TestManager_PauseUnknownTask(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	assert.ErrorIs(t, m.Pause("nope"), ErrNotPausable)
}

// ── Resume ───────────────────────────────────────────────────────────────

func TestManager_ResumeContinuesFromPartialData(t *testing.T) {
	content := []byte(strings.Repeat("resumable payload ", 512))
	var sawRange atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			sawRange.Store(true)
		}
		serveBytes(t, content)(w, r)
	}))
	defer srv.Close()

	m, storages, dir := newTestManager(t, 0)
	ctx := context.Background()

	// Simulate a previously interrupted transfer: half the content is
	// already on disk and the task row is parked paused.
	dest := filepath.Join(dir, "resumed.bin")
	half := len(content) / 2
	require.NoError(t, os.WriteFile(dest+".part", content[:half], 0o644))

	task := models.DownloadTask{
		ID:               "task-resume",
		ResourceKey:      "lessons/l-7/video",
		SourceURL:        srv.URL,
		LocalPath:        dest,
		Quality:          "720p",
		TotalBytes:       int64(len(content)),
		TransferredBytes: int64(half),
		Status:           models.DownloadPaused,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, storages.Downloads.Upsert(ctx, task))

	require.NoError(t, m.Resume(ctx, task.ID))
	snapshots := drain(t, m, task.ID)
	final := snapshots[len(snapshots)-1]
	assert.Equal(t, models.DownloadCompleted, final.Status)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.True(t, sawRange.Load(), "resume must request the remaining range")
}

func TestManager_ResumeUnknownTask(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	assert.ErrorIs(t, m.Resume(context.Background(), "nope"), ErrUnknownTask)
}

// ── Fail-fast checks ─────────────────────────────────────────────────────

func TestManager_QuotaExceededFailsFast(t *testing.T) {
	content := make([]byte, 2048)
	srv := httptest.NewServer(serveBytes(t, content))
	defer srv.Close()

	m, _, dir := newTestManager(t, 1024)

	_, err := m.Start(context.Background(), "lessons/l-1/video", srv.URL, filepath.Join(dir, "big.bin"), "hd")
	assert.ErrorIs(t, err, app.ErrQuotaExceeded)
}

func TestManager_ExpiredSignedURLFailsFast(t *testing.T) {
	m, _, dir := newTestManager(t, 0)

	_, err := m.Start(context.Background(), "lessons/l-1/video",
		expiredSignedURL(t, "https://cdn.example.com/video"),
		filepath.Join(dir, "x.bin"), "hd")
	assert.ErrorIs(t, err, ErrURLExpired)
}

// ── Progress of settled tasks ────────────────────────────────────────────

func TestManager_ProgressOfSettledTask(t *testing.T) {
	m, storages, _ := newTestManager(t, 0)
	ctx := context.Background()

	task := models.DownloadTask{
		ID:               "done-task",
		ResourceKey:      "lessons/l-5/video",
		SourceURL:        "https://cdn.example.com/v",
		LocalPath:        "/tmp/v.mp4",
		TotalBytes:       100,
		TransferredBytes: 100,
		Status:           models.DownloadCompleted,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, storages.Downloads.Upsert(ctx, task))

	ch, err := m.Progress(task.ID)
	require.NoError(t, err)

	snapshot, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, models.DownloadCompleted, snapshot.Status)

	_, ok = <-ch
	assert.False(t, ok, "settled stream must close after one snapshot")
}

func TestManager_ProgressUnknownTask(t *testing.T) {
	m, _, _ := newTestManager(t, 0)
	_, err := m.Progress("nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

// ── Maintenance ──────────────────────────────────────────────────────────

func TestManager_CleanupCompletedBefore(t *testing.T) {
	m, storages, dir := newTestManager(t, 0)
	ctx := context.Background()

	artifact := filepath.Join(dir, "old.mp4")
	require.NoError(t, os.WriteFile(artifact, []byte("old video"), 0o644))

	now := time.Now().UTC()
	require.NoError(t, storages.Downloads.Upsert(ctx, models.DownloadTask{
		ID:          "old-task",
		ResourceKey: "lessons/l-3/video",
		SourceURL:   "https://cdn.example.com/v",
		LocalPath:   artifact,
		Status:      models.DownloadCompleted,
		CreatedAt:   now.Add(-72 * time.Hour),
		UpdatedAt:   now.Add(-72 * time.Hour),
	}))

	removed, err := m.CleanupCompletedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(artifact)
	assert.True(t, os.IsNotExist(err), "stale artifact must be deleted")
}
