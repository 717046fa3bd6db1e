// SPDX-License-Identifier: Apache-2.0

// Package queue is the offline action queue: locally recorded mutations
// that await application against the remote store.
//
// Actions targeting the same entity key are applied strictly in creation
// order; independent keys drain concurrently. An action that keeps
// failing is never silently dropped: after the retry budget runs out it
// is parked in the abandoned state for the caller to surface.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"coursesync/internal/app"
	"coursesync/internal/config"
	"coursesync/internal/logger"
	"coursesync/internal/store"
	"coursesync/models"
)

// retryBaseDelay is the first fibonacci backoff step between transient
// apply attempts inside a single drain pass.
const retryBaseDelay = 500 * time.Millisecond

// ApplyFunc applies one action against the remote store. Errors wrapping
// app.ErrTransientNetwork are retried; any other error counts as a failed
// attempt immediately.
type ApplyFunc func(ctx context.Context, action models.Action) error

// Queue is the offline action queue.
type Queue struct {
	actions     store.ActionRepository
	maxRetries  int
	concurrency int
	logger      *logger.Logger

	// now is swapped in tests.
	now func() time.Time
}

// New constructs the action queue over the given repository.
func New(actions store.ActionRepository, cfg config.Queue, log *logger.Logger) *Queue {
	return &Queue{
		actions:     actions,
		maxRetries:  cfg.MaxRetries,
		concurrency: cfg.DrainConcurrency,
		logger:      log,
		now:         time.Now,
	}
}

// Enqueue records the action and returns its assigned ID. Enqueueing
// never touches the network, so it succeeds offline.
func (q *Queue) Enqueue(ctx context.Context, action models.Action) (string, error) {
	log := logger.FromContext(ctx)

	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = q.now().UTC()
	}
	action.Status = models.ActionPending

	if err := q.actions.Insert(ctx, action); err != nil {
		return "", fmt.Errorf("enqueue action: %w", err)
	}

	log.Debug().
		Str("func", "Queue.Enqueue").
		Str("action_id", action.ID).
		Str("kind", action.Kind).
		Str("target_key", action.TargetKey).
		Msg("action enqueued")

	return action.ID, nil
}

// PendingCount returns the number of actions still awaiting application.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	return q.actions.PendingCount(ctx)
}

// Abandoned returns actions that exhausted their retry budget.
func (q *Queue) Abandoned(ctx context.Context) ([]models.Action, error) {
	return q.actions.Abandoned(ctx)
}

// Drain applies every pending action via applyFn. Actions are grouped by
// target key: groups run concurrently under the configured limit, actions
// inside a group run serially in creation order. A group stops at its
// first still-pending failure so later actions never overtake an earlier
// one. Draining an empty queue is a no-op.
func (q *Queue) Drain(ctx context.Context, applyFn ApplyFunc) (models.DrainResult, error) {
	log := logger.FromContext(ctx)

	pending, err := q.actions.Pending(ctx)
	if err != nil {
		return models.DrainResult{}, fmt.Errorf("list pending actions: %w", err)
	}
	if len(pending) == 0 {
		return models.DrainResult{}, nil
	}

	groups := groupByTargetKey(pending)

	var (
		mu     sync.Mutex
		result models.DrainResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)

	for _, group := range groups {
		g.Go(func() error {
			for _, action := range group {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				outcome, applyErr := q.applyOne(gctx, action, applyFn)
				if applyErr != nil {
					return applyErr
				}

				mu.Lock()
				switch outcome {
				case appliedOK:
					result.Succeeded++
				case appliedAbandoned:
					action.Status = models.ActionAbandoned
					result.Abandoned = append(result.Abandoned, action)
				}
				mu.Unlock()

				// A still-pending failure blocks the rest of the group
				// until the next drain, preserving per-key order.
				if outcome == appliedDeferred {
					break
				}
			}
			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		return result, waitErr
	}

	log.Info().
		Str("func", "Queue.Drain").
		Int("succeeded", result.Succeeded).
		Int("abandoned", len(result.Abandoned)).
		Msg("drain pass finished")

	return result, nil
}

type applyOutcome int

const (
	appliedOK applyOutcome = iota
	appliedDeferred
	appliedAbandoned
)

// applyOne drives a single action through one drain attempt, including
// the in-pass transient retries. The returned error is a storage or
// cancellation failure; apply failures are folded into the outcome.
func (q *Queue) applyOne(ctx context.Context, action models.Action, applyFn ApplyFunc) (applyOutcome, error) {
	log := logger.FromContext(ctx)

	backoff := retry.WithMaxRetries(uint64(q.maxRetries), retry.NewFibonacci(retryBaseDelay))
	applyErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := applyFn(ctx, action); err != nil {
			if errors.Is(err, app.ErrTransientNetwork) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})

	if applyErr == nil {
		if err := q.actions.Delete(ctx, action.ID); err != nil {
			return appliedOK, err
		}
		return appliedOK, nil
	}

	if ctx.Err() != nil {
		return appliedDeferred, ctx.Err()
	}

	attemptAt := q.now().UTC()
	if err := q.actions.MarkAttempt(ctx, action.ID, attemptAt, applyErr.Error()); err != nil {
		return appliedDeferred, err
	}

	log.Warn().
		Str("func", "Queue.applyOne").
		Str("action_id", action.ID).
		Str("target_key", action.TargetKey).
		Int("retry_count", action.RetryCount+1).
		Err(applyErr).
		Msg("action apply failed")

	if action.RetryCount+1 > q.maxRetries {
		if err := q.actions.Abandon(ctx, action.ID); err != nil {
			return appliedDeferred, err
		}
		log.Warn().
			Str("func", "Queue.applyOne").
			Str("action_id", action.ID).
			Err(fmt.Errorf("%w: %w", app.ErrAbandoned, applyErr)).
			Msg("retry budget exhausted")
		return appliedAbandoned, nil
	}

	return appliedDeferred, nil
}

// groupByTargetKey splits actions into per-key FIFO runs. Group order
// favors the highest-priority action each group carries, then the
// earliest creation time, so urgent independent work starts first when
// the concurrency limit bites.
func groupByTargetKey(actions []models.Action) [][]models.Action {
	byKey := make(map[string][]models.Action)
	order := make([]string, 0, len(actions))

	for _, action := range actions {
		if _, seen := byKey[action.TargetKey]; !seen {
			order = append(order, action.TargetKey)
		}
		byKey[action.TargetKey] = append(byKey[action.TargetKey], action)
	}

	groups := make([][]models.Action, 0, len(order))
	for _, key := range order {
		groups = append(groups, byKey[key])
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return maxPriority(groups[i]) > maxPriority(groups[j])
	})

	return groups
}

func maxPriority(group []models.Action) int {
	max := group[0].Priority
	for _, action := range group[1:] {
		if action.Priority > max {
			max = action.Priority
		}
	}
	return max
}
