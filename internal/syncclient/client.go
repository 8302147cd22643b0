// Package syncclient is the HTTP wire transport for the sync protocol.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// Default endpoint paths.
const (
	DefaultPushPath = "/v1/sync/push"
	DefaultPullPath = "/v1/sync/pull"
)

// Doer executes HTTP requests. The auth gateway satisfies this, attaching
// bearer tokens and handling the 401 refresh-and-retry.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client speaks the push/pull wire protocol against a sync server.
type Client struct {
	BaseURL  string
	DeviceID string
	HTTP     Doer
	PushPath string
	PullPath string
}

// New creates a sync transport using the given authenticated Doer.
func New(baseURL, deviceID string, doer Doer) *Client {
	return &Client{
		BaseURL:  baseURL,
		DeviceID: deviceID,
		HTTP:     doer,
		PushPath: DefaultPushPath,
		PullPath: DefaultPullPath,
	}
}

// OpInput is a single queued operation in a push request.
type OpInput struct {
	OpID            string          `json:"opId"`
	Entity          string          `json:"entity"`
	Action          string          `json:"action"`
	Payload         json.RawMessage `json:"payload"`
	ClientUpdatedAt time.Time       `json:"clientUpdatedAt"`
}

// PushRequest is the body for POST /v1/sync/push.
type PushRequest struct {
	DeviceID string    `json:"deviceId"`
	Ops      []OpInput `json:"ops"`
}

// ConflictInfo is a per-operation server-side rejection.
type ConflictInfo struct {
	OpID          string          `json:"opId"`
	Entity        string          `json:"entity"`
	EntityID      string          `json:"entityId"`
	Reason        string          `json:"reason"`
	ServerVersion int64           `json:"serverVersion"`
	ServerRecord  json.RawMessage `json:"serverRecord,omitempty"`
}

// PushResponse is the response to a push request.
type PushResponse struct {
	AppliedOpIDs  []string       `json:"appliedOpIds"`
	Conflicts     []ConflictInfo `json:"conflicts"`
	ServerVersion int64          `json:"serverVersion"`
}

// Change is one remote change in a pull response.
type Change struct {
	Version   int64           `json:"version"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entityId"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PullResponse is the response to a pull request.
type PullResponse struct {
	Changes     []Change `json:"changes"`
	NextVersion int64    `json:"nextVersion"`
	HasMore     bool     `json:"hasMore"`
}

// Push sends a batch of queued operations to the server.
func (c *Client) Push(ctx context.Context, ops []OpInput) (*PushResponse, error) {
	req := &PushRequest{DeviceID: c.DeviceID, Ops: ops}
	var resp PushResponse
	if err := c.do(ctx, http.MethodPost, c.PushPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches remote changes after the given cursor.
func (c *Client) Pull(ctx context.Context, since int64, limit int) (*PullResponse, error) {
	params := url.Values{}
	params.Set("since", strconv.FormatInt(since, 10))
	params.Set("limit", strconv.Itoa(limit))

	var resp PullResponse
	if err := c.do(ctx, http.MethodGet, c.PullPath+"?"+params.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// apiError is the standard error body from the server, wrapped in an
// "error" envelope on the wire.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorEnvelope struct {
	Error apiError `json:"error"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope apiErrorEnvelope
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Code != "" {
			apiErr := envelope.Error
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
			case http.StatusForbidden:
				return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
			default:
				return &apiErr
			}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
