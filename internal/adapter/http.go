// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"coursesync/internal/app"
	"coursesync/internal/config"
	"coursesync/internal/logger"
	"coursesync/models"
)

type httpRemoteStore struct {
	client *resty.Client
	logger *logger.Logger
}

// NewHTTPRemoteStore constructs an HTTP/REST implementation of
// [RemoteStore]. It normalises and validates the base URL from
// cfg.RemoteBaseURL and configures the underlying client with the
// resolved base URL and request timeout.
//
// Returns an error if cfg.RemoteBaseURL is empty or cannot be parsed as
// a valid URL.
func NewHTTPRemoteStore(cfg config.Sync, logger *logger.Logger) (RemoteStore, error) {
	baseURL, err := normalizeBaseURL(cfg.RemoteBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote base url: %w", err)
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.RequestTimeout)

	return &httpRemoteStore{client: client, logger: logger}, nil
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty address")
	}

	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must include host and scheme")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// Pull implements [RemoteStore]. It GETs
// /api/sync/{collection}?cursor={sinceCursor} and decodes one page of
// records plus the advanced cursor. Transport-level failures (refused
// connections, timeouts) are classified transient.
func (h *httpRemoteStore) Pull(ctx context.Context, collection, sinceCursor string) (models.PullBatch, error) {
	log := logger.FromContext(ctx)

	var batch models.PullBatch
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParam("collection", collection).
		SetQueryParam("cursor", sinceCursor).
		SetResult(&batch).
		Get("/api/sync/{collection}")
	if err != nil {
		return models.PullBatch{}, fmt.Errorf("%w: pull %s: %w", app.ErrTransientNetwork, collection, err)
	}
	if err = mapHTTPError(resp); err != nil {
		return models.PullBatch{}, fmt.Errorf("pull %s: %w", collection, err)
	}

	log.Debug().
		Str("func", "httpRemoteStore.Pull").
		Str("collection", collection).
		Int("records", len(batch.Records)).
		Bool("has_more", batch.HasMore).
		Msg("pulled collection page")

	return batch, nil
}

// Push implements [RemoteStore]. It POSTs the action to /api/actions.
func (h *httpRemoteStore) Push(ctx context.Context, action models.Action) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(action).
		Post("/api/actions")
	if err != nil {
		return fmt.Errorf("%w: push action %s: %w", app.ErrTransientNetwork, action.ID, err)
	}
	if err = mapHTTPError(resp); err != nil {
		return fmt.Errorf("push action %s: %w", action.ID, err)
	}

	return nil
}
