// Package sync implements the client side of the synchronization protocol:
// an HTTP gateway client, the subscription channel, the optimistic cache and
// reconciler, and the polling fallback.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

const defaultRequestTimeout = 15 * time.Second

// Gateway is the mutation request path consumed by the cache. Mutations go
// over this path regardless of channel state.
type Gateway interface {
	CreateEquipment(ctx context.Context, req *models.CreateEquipmentRequest) (*models.Equipment, error)
	UpdateEquipment(ctx context.Context, id uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error)
	DeleteEquipment(ctx context.Context, id uuid.UUID, reason *string) (*models.ArchivedEquipment, error)
	RestoreEquipment(ctx context.Context, archivedID uuid.UUID) (*models.Equipment, error)
	ListEquipment(ctx context.Context, filter models.ListFilter) ([]*models.Equipment, error)
	ListArchived(ctx context.Context) ([]*models.ArchivedEquipment, error)
	Stats(ctx context.Context) (*models.StatsSnapshot, error)
}

// Client talks to the mutation gateway over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     logger.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient creates a gateway client for the given server base URL.
func NewClient(baseURL string, log logger.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     log.WithComponent("sync-client"),
	}
}

// SetToken installs the bearer token used on every subsequent request.
func (c *Client) SetToken(token string) { c.token = token }

// Token returns the current bearer token.
func (c *Client) Token() string { return c.token }

// Login exchanges a phone number and display name for a token and installs it.
func (c *Client) Login(ctx context.Context, phone, name string) (*models.LoginResponse, error) {
	var resp models.LoginResponse

	err := c.do(ctx, http.MethodPost, "/api/auth/login",
		models.LoginRequest{Phone: phone, Name: name}, &resp)
	if err != nil {
		return nil, err
	}

	c.token = resp.Token

	return &resp, nil
}

func (c *Client) CreateEquipment(ctx context.Context, req *models.CreateEquipmentRequest) (*models.Equipment, error) {
	var eq models.Equipment
	if err := c.do(ctx, http.MethodPost, "/api/equipment", req, &eq); err != nil {
		return nil, err
	}

	return &eq, nil
}

func (c *Client) UpdateEquipment(ctx context.Context, id uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
	var eq models.Equipment
	if err := c.do(ctx, http.MethodPut, "/api/equipment/"+id.String(), patch, &eq); err != nil {
		return nil, err
	}

	return &eq, nil
}

func (c *Client) DeleteEquipment(ctx context.Context, id uuid.UUID, reason *string) (*models.ArchivedEquipment, error) {
	var archived models.ArchivedEquipment

	err := c.do(ctx, http.MethodDelete, "/api/equipment/"+id.String(),
		models.DeleteEquipmentRequest{Reason: reason}, &archived)
	if err != nil {
		return nil, err
	}

	return &archived, nil
}

func (c *Client) RestoreEquipment(ctx context.Context, archivedID uuid.UUID) (*models.Equipment, error) {
	var eq models.Equipment

	err := c.do(ctx, http.MethodPost, "/api/equipment/deleted/"+archivedID.String()+"/restore", nil, &eq)
	if err != nil {
		return nil, err
	}

	return &eq, nil
}

func (c *Client) ListEquipment(ctx context.Context, filter models.ListFilter) ([]*models.Equipment, error) {
	q := url.Values{}

	if filter.Search != "" {
		q.Set("search", filter.Search)
	}

	if filter.Category != nil {
		q.Set("category", string(*filter.Category))
	}

	if filter.Status != nil {
		q.Set("status", string(*filter.Status))
	}

	if filter.Condition != nil {
		q.Set("condition", string(*filter.Condition))
	}

	path := "/api/equipment"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var items []*models.Equipment
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}

	return items, nil
}

func (c *Client) ListArchived(ctx context.Context) ([]*models.ArchivedEquipment, error) {
	var items []*models.ArchivedEquipment
	if err := c.do(ctx, http.MethodGet, "/api/equipment/deleted", nil, &items); err != nil {
		return nil, err
	}

	return items, nil
}

// History returns one record's audit trail, newest first.
func (c *Client) History(ctx context.Context, id uuid.UUID) ([]*models.HistoryEntry, error) {
	var items []*models.HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/api/equipment/history/"+id.String(), nil, &items); err != nil {
		return nil, err
	}

	return items, nil
}

// Activity returns the team's recent audit entries. A non-positive limit
// uses the server default.
func (c *Client) Activity(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	path := "/api/equipment/activity"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var items []*models.HistoryEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}

	return items, nil
}

func (c *Client) Stats(ctx context.Context) (*models.StatsSnapshot, error) {
	var stats models.StatsSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/equipment/stats", nil, &stats); err != nil {
		return nil, err
	}

	return &stats, nil
}

// do runs one request and decodes the envelope's data payload into out.
// Non-2xx responses are mapped back onto the domain error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer

	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		models.APIResponse

		Data json.RawMessage `json:"data,omitempty"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp.StatusCode, envelope.Message, envelope.Errors)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	return nil
}

func statusError(status int, message string, fields []models.FieldError) error {
	switch status {
	case http.StatusBadRequest:
		if len(fields) > 0 {
			return &models.ValidationError{Errors: fields}
		}

		return fmt.Errorf("%w: %s", models.ErrValidation, message)
	case http.StatusUnauthorized:
		return models.ErrUnauthorized
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusConflict:
		if message == models.ErrDuplicateBarcode.Error() {
			return models.ErrDuplicateBarcode
		}

		return models.ErrDuplicateSerial
	default:
		return fmt.Errorf("server error (%d): %s", status, message)
	}
}
