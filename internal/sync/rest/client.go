// Package rest implements the remote store contract over HTTP/JSON.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/models"
)

// Config holds remote API connection configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements the remote store contract against the Delilog
// backend API. Every error it returns carries an AppError code so the
// orchestrator can classify the failure as retryable or permanent.
type Client struct {
	config     *Config
	httpClient *http.Client
}

// recordEnvelope is the wire shape of a record on the API.
type recordEnvelope struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	Payload    json.RawMessage `json:"payload"`
	UpdatedAt  int64           `json:"updated_at"`
	Deleted    bool            `json:"deleted,omitempty"`
}

// NewClient creates a Client.
func NewClient(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Insert creates a record remotely.
func (c *Client) Insert(ctx context.Context, entityType models.EntityType, payload json.RawMessage) (*models.RemoteRecord, error) {
	path := fmt.Sprintf("/v1/%s", entityType)
	body, err := json.Marshal(recordEnvelope{
		EntityType: string(entityType),
		Payload:    payload,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode record", err)
	}

	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, c.statusError("insert", resp)
	}
	return c.decodeRecord(resp.Body)
}

// Update overwrites the remote record.
func (c *Client) Update(ctx context.Context, serverID string, entityType models.EntityType, payload json.RawMessage) (*models.RemoteRecord, error) {
	path := fmt.Sprintf("/v1/%s/%s", entityType, serverID)
	body, err := json.Marshal(recordEnvelope{
		ID:         serverID,
		EntityType: string(entityType),
		Payload:    payload,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to encode record", err)
	}

	resp, err := c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("update", resp)
	}
	return c.decodeRecord(resp.Body)
}

// Delete removes the remote record. A record that is already gone
// counts as deleted.
func (c *Client) Delete(ctx context.Context, serverID string, entityType models.EntityType) error {
	path := fmt.Sprintf("/v1/%s/%s", entityType, serverID)

	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return c.statusError("delete", resp)
	}
}

// GetByID fetches the current remote copy.
func (c *Client) GetByID(ctx context.Context, serverID string, entityType models.EntityType) (*models.RemoteRecord, error) {
	path := fmt.Sprintf("/v1/%s/%s", entityType, serverID)

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.New(apperrors.ErrNotFound,
			fmt.Sprintf("remote record %s not found", serverID))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("get", resp)
	}
	return c.decodeRecord(resp.Body)
}

// QueryActiveSession asks the backend's session aggregate view for the
// open session of (user, vehicle). 404 means no open session.
func (c *Client) QueryActiveSession(ctx context.Context, userID, vehicleID string) (*models.WorkSession, error) {
	params := url.Values{}
	params.Set("user_id", userID)
	params.Set("vehicle_id", vehicleID)
	path := "/v1/sessions/active?" + params.Encode()

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.New(apperrors.ErrNoActiveSession,
			fmt.Sprintf("no active session for user %s", userID))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("active session", resp)
	}

	var sess models.WorkSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncFailed, "failed to parse remote response", err)
	}
	return &sess, nil
}

// Ping probes API reachability.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError("ping", resp)
	}
	return nil
}

// do builds and executes one authenticated request. Transport-level
// failures map to offline or timeout codes.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to build request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.ErrRemoteTimeout, "remote call timed out", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrNetworkOffline, "remote unreachable", err)
	}
	return resp, nil
}

// statusError maps an HTTP status to an error class: 429 and 5xx are
// retryable, other 4xx are rejections that retrying cannot fix.
func (c *Client) statusError(op string, resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s failed with status %d: %s", op, resp.StatusCode, string(excerpt))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.New(apperrors.ErrRemoteRateLimit, msg)
	case resp.StatusCode == http.StatusRequestTimeout:
		return apperrors.New(apperrors.ErrRemoteTimeout, msg)
	case resp.StatusCode >= 500:
		return apperrors.New(apperrors.ErrSyncFailed, msg)
	default:
		return apperrors.New(apperrors.ErrRemoteRejected, msg)
	}
}

// decodeRecord parses a record envelope from a response body.
func (c *Client) decodeRecord(body io.Reader) (*models.RemoteRecord, error) {
	var env recordEnvelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncFailed, "failed to parse remote response", err)
	}
	return &models.RemoteRecord{
		ServerID:   env.ID,
		EntityType: models.EntityType(env.EntityType),
		Payload:    env.Payload,
		UpdatedAt:  env.UpdatedAt,
		Deleted:    env.Deleted,
	}, nil
}
