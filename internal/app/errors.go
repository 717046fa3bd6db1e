// SPDX-License-Identifier: Apache-2.0

// Package app contains the shared error taxonomy of the coursesync engine.
//
// Components classify failures into these sentinel kinds so that callers
// can react by category (retry, fail fast, surface to the user) without
// inspecting message strings. Concrete errors wrap a sentinel via
// fmt.Errorf("%w: %w", ...) and are matched with errors.Is.
package app

import "errors"

var (
	// ErrTransientNetwork marks an I/O failure that is expected to succeed
	// on retry: connection resets, timeouts, 5xx responses. Components
	// retry these locally with bounded backoff before surfacing them.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrQuotaExceeded marks an operation refused because it would exceed
	// the configured storage quota. Fail-fast and user-visible; never
	// retried automatically.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrConflict marks a remote rejection caused by a concurrent write.
	// Resolved by last-writer-wins during the subsequent pull; logged,
	// not escalated.
	ErrConflict = errors.New("conflict")

	// ErrCorruptLocalState marks a local record that can no longer be
	// decoded. Fatal to the affected record only: it is quarantined and
	// re-pulled, the engine keeps running.
	ErrCorruptLocalState = errors.New("corrupt local state")

	// ErrAbandoned marks an offline action that exhausted its retry
	// budget. The action stays recorded for manual handling.
	ErrAbandoned = errors.New("action abandoned")

	// ErrNotFound marks a read of a record that does not exist locally.
	ErrNotFound = errors.New("not found")
)
