// Package vk implements the slice of the VK Bots API the bridge depends on:
// sending community messages, answering callback events, and the Bots Long
// Poll event source.
package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vkbridge/pkg/config"
)

const defaultBaseURL = "https://api.vk.com/method"

// APIError is a VK-level error returned inside an HTTP 200 response.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// Client calls VK API methods on behalf of one community.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	version    string
	groupID    int64
	log        *slog.Logger
}

// Option adjusts client construction, mainly for tests.
type Option func(*Client)

// WithBaseURL overrides the VK API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient validates VK configuration and constructs an API client.
func NewClient(cfg config.VKConfig, log *slog.Logger, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("vk.token is required")
	}
	if cfg.GroupID == 0 {
		return nil, errors.New("vk.group_id is required")
	}

	if log == nil {
		log = slog.Default()
	}

	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = config.DefaultAPIVersion
	}

	client := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		token:      token,
		version:    version,
		groupID:    cfg.GroupID,
		log:        log.With("component", "vk.client"),
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// GroupID returns the community this client acts for.
func (c *Client) GroupID() int64 {
	return c.groupID
}

// SendMessage delivers one text message to a user dialog.
//
// randomID is the caller-supplied idempotency id VK uses to deduplicate
// retried sends. A nil keyboard attaches no keyboard.
func (c *Client) SendMessage(ctx context.Context, userID int64, text string, randomID int64, keyboard *Keyboard) error {
	params := url.Values{}
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("peer_id", strconv.FormatInt(userID, 10))
	params.Set("random_id", strconv.FormatInt(randomID, 10))
	params.Set("message", text)

	if keyboard != nil {
		encoded, err := json.Marshal(keyboard)
		if err != nil {
			return fmt.Errorf("encode keyboard: %w", err)
		}
		params.Set("keyboard", string(encoded))
	}

	_, err := c.callMethod(ctx, "messages.send", params)
	return err
}

// AnswerCallback acknowledges one message_event interaction so the client UI
// clears its loading indicator. Empty data falls back to "{}".
func (c *Client) AnswerCallback(ctx context.Context, eventID string, userID, peerID int64, data string) error {
	if strings.TrimSpace(data) == "" {
		data = "{}"
	}

	params := url.Values{}
	params.Set("event_id", eventID)
	params.Set("user_id", strconv.FormatInt(userID, 10))
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	params.Set("event_data", data)

	_, err := c.callMethod(ctx, "messages.sendMessageEventAnswer", params)
	return err
}

// longPollServer requests fresh Bots Long Poll credentials for the group.
func (c *Client) longPollServer(ctx context.Context) (longPollCredentials, error) {
	params := url.Values{}
	params.Set("group_id", strconv.FormatInt(c.groupID, 10))

	response, err := c.callMethod(ctx, "groups.getLongPollServer", params)
	if err != nil {
		return longPollCredentials{}, err
	}

	var creds longPollCredentials
	if err := json.Unmarshal(response, &creds); err != nil {
		return longPollCredentials{}, fmt.Errorf("parse long poll server response: %w", err)
	}
	if creds.Server == "" || creds.Key == "" {
		return longPollCredentials{}, errors.New("long poll server response missing server or key")
	}

	return creds, nil
}

// callMethod posts one form-encoded API call and unwraps the response.
func (c *Client) callMethod(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	params.Set("access_token", c.token)
	params.Set("v", c.version)

	endpoint := c.baseURL + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: unexpected status %d", method, resp.StatusCode)
	}

	var payload struct {
		Response json.RawMessage `json:"response"`
		Error    *APIError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if payload.Error != nil {
		return nil, payload.Error
	}

	return payload.Response, nil
}
