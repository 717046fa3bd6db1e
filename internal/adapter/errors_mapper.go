// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"coursesync/internal/app"
)

// mapHTTPError folds a non-2xx response into the shared error taxonomy.
// Server-side failures and throttling are transient; conflict and quota
// rejections are terminal categories the caller reacts to directly.
func mapHTTPError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}

	body := strings.TrimSpace(string(resp.Body()))
	if body == "" {
		body = http.StatusText(code)
	}

	switch {
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", app.ErrConflict, body)
	case code == http.StatusInsufficientStorage:
		return fmt.Errorf("%w: %s", app.ErrQuotaExceeded, body)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", app.ErrNotFound, body)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: http %d: %s", app.ErrTransientNetwork, code, body)
	default:
		return fmt.Errorf("http %d: %s", code, body)
	}
}
