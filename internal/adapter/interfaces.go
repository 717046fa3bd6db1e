// SPDX-License-Identifier: Apache-2.0

// Package adapter talks to the remote course platform over HTTP and
// watches device connectivity. It is the only package that knows the
// backend's wire shapes; everything above it works with models and the
// shared error taxonomy.
package adapter

import (
	"context"

	"coursesync/models"
)

// RemoteStore is the authoritative backend as seen by the sync
// orchestrator.
type RemoteStore interface {
	// Pull fetches one page of records for the collection changed since
	// sinceCursor. An empty sinceCursor requests the collection from the
	// beginning.
	Pull(ctx context.Context, collection, sinceCursor string) (models.PullBatch, error)

	// Push applies one locally recorded action against the backend.
	// Returned errors are already classified: app.ErrTransientNetwork is
	// retryable, app.ErrConflict means the remote won and the next pull
	// resolves it.
	Push(ctx context.Context, action models.Action) error
}
