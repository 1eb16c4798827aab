package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

type longPollCredentials struct {
	Key    string `json:"key"`
	Server string `json:"server"`
	TS     string `json:"ts"`
}

// LongPoll drains the Bots Long Poll server for one community. It lazily
// acquires credentials on the first poll and re-acquires them when the
// server reports they expired.
type LongPoll struct {
	client *Client
	wait   int
	log    *slog.Logger

	creds longPollCredentials
}

// NewLongPoll builds a long-poll event source on top of an API client.
func NewLongPoll(client *Client, waitSeconds int, log *slog.Logger) *LongPoll {
	if waitSeconds <= 0 {
		waitSeconds = 25
	}
	if log == nil {
		log = slog.Default()
	}

	return &LongPoll{
		client: client,
		wait:   waitSeconds,
		log:    log.With("component", "vk.longpoll"),
	}
}

// Poll blocks until the server releases the request (new events or its wait
// timeout) and returns zero or more events.
//
// Recoverable server hints are handled internally: failed=1 adopts the new
// ts, failed=2 and 3 refresh the credentials. Anything else is an error for
// the caller's reconnect path.
func (lp *LongPoll) Poll(ctx context.Context) ([]Event, error) {
	if lp.creds.Server == "" {
		creds, err := lp.client.longPollServer(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire long poll server: %w", err)
		}
		lp.creds = creds
		lp.log.Debug("Long poll credentials acquired", "server", creds.Server)
	}

	query := url.Values{}
	query.Set("act", "a_check")
	query.Set("key", lp.creds.Key)
	query.Set("ts", lp.creds.TS)
	query.Set("wait", strconv.Itoa(lp.wait))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lp.creds.Server+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build long poll request: %w", err)
	}

	resp, err := lp.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("long poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("long poll request: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		TS      string  `json:"ts"`
		Updates []Event `json:"updates"`
		Failed  int     `json:"failed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode long poll response: %w", err)
	}

	switch payload.Failed {
	case 0:
		lp.creds.TS = payload.TS
		return payload.Updates, nil
	case 1:
		// Event history is partially outdated; adopt the fresh ts and retry.
		lp.creds.TS = payload.TS
		lp.log.Debug("Long poll ts outdated, adopting new ts")
		return nil, nil
	case 2, 3:
		// Key expired or history lost; a full credential refresh is needed.
		lp.log.Info("Long poll credentials expired, refreshing", "failed", payload.Failed)
		lp.creds = longPollCredentials{}
		return nil, nil
	default:
		return nil, fmt.Errorf("long poll server failed with code %d", payload.Failed)
	}
}
