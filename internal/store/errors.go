// SPDX-License-Identifier: Apache-2.0

package store

import "errors"

// Sentinel errors reported by the store layer. Callers match them with
// errors.Is; concrete failures wrap them together with the driver error.
var (
	ErrExecutingQuery       = errors.New("error executing query")
	ErrScanningRow          = errors.New("error scanning row")
	ErrScanningRows         = errors.New("error scanning rows")
	ErrBeginningTransaction = errors.New("error beginning transaction")
	ErrCommitingTransaction = errors.New("error commiting transaction")
	ErrPreparingStatement   = errors.New("error preparing statement")
)
