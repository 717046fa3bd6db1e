// SPDX-License-Identifier: Apache-2.0

package download

import "errors"

var (
	// ErrUnknownTask is returned for operations on a task ID the manager
	// has never registered.
	ErrUnknownTask = errors.New("unknown download task")

	// ErrURLExpired is returned when the signed source URL's token has
	// already expired, so the transfer would be rejected mid-flight.
	ErrURLExpired = errors.New("signed url expired")

	// ErrNotPausable is returned when Pause targets a task that is not
	// currently transferring.
	ErrNotPausable = errors.New("task not transferring")

	// ErrNotResumable is returned when Resume targets a task that is not
	// paused, failed, or cancelled.
	ErrNotResumable = errors.New("task not resumable")

	// ErrSizeMismatch is returned when the received byte count does not
	// match the server-announced length.
	ErrSizeMismatch = errors.New("transfer size mismatch")
)
