// SPDX-License-Identifier: Apache-2.0

package models

import (
	"encoding/json"
	"time"
)

// ActionStatus is the lifecycle state of a queued offline action.
type ActionStatus string

const (
	// ActionPending marks an action that still awaits successful
	// application against the remote store.
	ActionPending ActionStatus = "pending"

	// ActionAbandoned marks an action that exhausted its retry budget.
	// Abandoned actions stay in the table so an operator can inspect and
	// resolve them; they are never silently discarded.
	ActionAbandoned ActionStatus = "abandoned"
)

// Action is a recorded intent to mutate remote state, created locally
// (possibly while offline) and applied later by the sync orchestrator.
type Action struct {
	// ID is the client-generated UUID of the action.
	ID string `json:"id"`

	// Kind names the mutation, e.g. "progress.update" or "rating.set".
	// The remote adapter maps kinds onto backend endpoints.
	Kind string `json:"kind"`

	// TargetKey is the entity key the action mutates, in
	// "collection/id" form. Actions sharing a TargetKey are applied
	// strictly in creation order.
	TargetKey string `json:"target_key"`

	// Payload is the raw JSON body of the mutation.
	Payload json.RawMessage `json:"payload"`

	// Priority orders independent actions during drain; higher values are
	// applied first. Actions on the same TargetKey ignore priority and
	// keep creation order.
	Priority int `json:"priority"`

	// CreatedAt is the enqueue time, used for FIFO ordering per key.
	CreatedAt time.Time `json:"created_at"`

	// RetryCount is the number of failed apply attempts so far.
	RetryCount int `json:"retry_count"`

	// LastAttemptAt is the time of the most recent apply attempt.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// LastError is the message of the most recent apply failure.
	LastError string `json:"last_error,omitempty"`

	// Status is the lifecycle state of the action.
	Status ActionStatus `json:"status"`
}

// DrainResult reports the outcome of a queue drain pass.
type DrainResult struct {
	// Succeeded is the number of actions applied and deleted.
	Succeeded int `json:"succeeded"`

	// Abandoned lists actions that crossed the retry limit during this
	// pass and were moved to the abandoned state.
	Abandoned []Action `json:"abandoned,omitempty"`
}
