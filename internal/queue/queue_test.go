// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursesync/internal/app"
	"coursesync/internal/config"
	"coursesync/internal/logger"
	"coursesync/internal/store"
	"coursesync/models"
)

func newTestQueue(t *testing.T, maxRetries int) (*Queue, *store.Storages) {
	t.Helper()

	storages, err := store.NewStorages(context.Background(), config.Storage{
		DBPath: filepath.Join(t.TempDir(), "queue-test.db"),
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { storages.Close() })

	q := New(storages.Actions, config.Queue{
		MaxRetries:       maxRetries,
		DrainConcurrency: 4,
	}, logger.Nop())

	return q, storages
}

func testContext() context.Context {
	l := zerolog.Nop()
	return l.WithContext(context.Background())
}

// recorder collects the order in which actions were applied.
type recorder struct {
	mu      sync.Mutex
	applied []string
}

func (r *recorder) apply(_ context.Context, action models.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, action.ID)
	return nil
}

func enqueueAt(t *testing.T, q *Queue, targetKey, id string, createdAt time.Time) models.Action {
	t.Helper()
	action := models.Action{
		ID:        id,
		Kind:      "progress.update",
		TargetKey: targetKey,
		Payload:   json.RawMessage(`{"position_sec":10}`),
		CreatedAt: createdAt,
	}
	_, err := q.Enqueue(testContext(), action)
	require.NoError(t, err)
	return action
}

// ── Enqueue ──────────────────────────────────────────────────────────────

func TestQueue_EnqueueAssignsIDAndPersists(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := testContext()

	id, err := q.Enqueue(ctx, models.Action{
		Kind:      "rating.set",
		TargetKey: "courses/c-1",
		Payload:   json.RawMessage(`{"stars":5}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// ── Drain ────────────────────────────────────────────────────────────────

func TestQueue_DrainEmptyQueueIsNoop(t *testing.T) {
	q, _ := newTestQueue(t, 3)

	called := false
	result, err := q.Drain(testContext(), func(context.Context, models.Action) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, result.Succeeded)
	assert.Empty(t, result.Abandoned)
	assert.False(t, called)
}

func TestQueue_DrainAppliesAndDeletes(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := testContext()

	base := time.Now().UTC().Truncate(time.Second)
	enqueueAt(t, q, "progress/l-1", "a-1", base)
	enqueueAt(t, q, "progress/l-2", "a-2", base.Add(time.Second))

	rec := &recorder{}
	result, err := q.Drain(ctx, rec.apply)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Empty(t, result.Abandoned)
	assert.Len(t, rec.applied, 2)

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQueue_DrainKeepsPerKeyFIFO(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := testContext()

	// Three conflicting updates against the same lesson must land in
	// creation order, whatever the drain concurrency.
	base := time.Now().UTC().Truncate(time.Second)
	for i := range 3 {
		enqueueAt(t, q, "progress/l-1", fmt.Sprintf("a-%d", i), base.Add(time.Duration(i)*time.Second))
	}

	rec := &recorder{}
	result, err := q.Drain(ctx, rec.apply)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, []string{"a-0", "a-1", "a-2"}, rec.applied)
}

func TestQueue_FailureBlocksRestOfGroup(t *testing.T) {
	q, storages := newTestQueue(t, 3)
	ctx := testContext()

	base := time.Now().UTC().Truncate(time.Second)
	enqueueAt(t, q, "progress/l-1", "first", base)
	enqueueAt(t, q, "progress/l-1", "second", base.Add(time.Second))

	rec := &recorder{}
	result, err := q.Drain(ctx, func(ctx context.Context, action models.Action) error {
		if action.ID == "first" {
			return app.ErrConflict
		}
		return rec.apply(ctx, action)
	})
	require.NoError(t, err)
	assert.Zero(t, result.Succeeded)
	assert.Empty(t, result.Abandoned)
	assert.Empty(t, rec.applied, "later action on the same key must wait for the failed one")

	pending, err := storages.Actions.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Contains(t, pending[0].LastError, "conflict")
	assert.Zero(t, pending[1].RetryCount)
}

func TestQueue_FailureInOneKeyDoesNotBlockOthers(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := testContext()

	base := time.Now().UTC().Truncate(time.Second)
	enqueueAt(t, q, "progress/l-1", "doomed", base)
	enqueueAt(t, q, "progress/l-2", "fine", base.Add(time.Second))

	result, err := q.Drain(ctx, func(_ context.Context, action models.Action) error {
		if action.ID == "doomed" {
			return app.ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
}

// ── Retry budget ─────────────────────────────────────────────────────────

func TestQueue_AbandonAfterRetryBudget(t *testing.T) {
	q, storages := newTestQueue(t, 1)
	ctx := testContext()

	base := time.Now().UTC().Truncate(time.Second)
	enqueueAt(t, q, "rating/c-1", "stubborn", base)
	enqueueAt(t, q, "rating/c-1", "queued-behind", base.Add(time.Second))

	failStubborn := func(_ context.Context, action models.Action) error {
		if action.ID == "stubborn" {
			return app.ErrConflict
		}
		return nil
	}

	// First drain: one failed attempt, still pending.
	result, err := q.Drain(ctx, failStubborn)
	require.NoError(t, err)
	assert.Empty(t, result.Abandoned)

	// Second drain: budget exhausted, action parked as abandoned; the
	// action behind it in the group becomes applicable.
	result, err = q.Drain(ctx, failStubborn)
	require.NoError(t, err)
	require.Len(t, result.Abandoned, 1)
	assert.Equal(t, "stubborn", result.Abandoned[0].ID)
	assert.Equal(t, 1, result.Succeeded)

	abandoned, err := storages.Actions.Abandoned(ctx)
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
	assert.Equal(t, "stubborn", abandoned[0].ID)
	assert.Equal(t, models.ActionAbandoned, abandoned[0].Status)

	count, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQueue_TransientErrorRetriedWithinPass(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := testContext()

	enqueueAt(t, q, "progress/l-1", "flaky", time.Now().UTC())

	var calls int
	result, err := q.Drain(ctx, func(context.Context, models.Action) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("push: %w", app.ErrTransientNetwork)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 2, calls, "transient failure must be retried inside the pass")
}

func TestQueue_NonTransientErrorNotRetriedWithinPass(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := testContext()

	enqueueAt(t, q, "progress/l-1", "conflicted", time.Now().UTC())

	var calls int
	_, err := q.Drain(ctx, func(context.Context, models.Action) error {
		calls++
		return app.ErrConflict
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
