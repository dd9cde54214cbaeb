package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matthewbaird/schemacanvas/internal/metrics"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	maxErrorMessage = 512
)

// Config holds the backend client configuration.
type Config struct {
	BaseURL string        `validate:"required,url"`
	Token   string        // sent as a bearer token when set
	Timeout time.Duration `validate:"gte=0"`
}

// Client implements Gateway over the backend's JSON REST API.
type Client struct {
	base   string
	token  string
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		token:  cfg.Token,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("gateway"),
	}
}

var _ Gateway = (*Client)(nil)

// ── Paths ───────────────────────────────────────────────────────────────────

func (c *Client) modelsPath(projectID string) string {
	return fmt.Sprintf("%s/projects/%s/models/", c.base, url.PathEscape(projectID))
}

func (c *Client) modelPath(projectID, modelID string) string {
	return fmt.Sprintf("%s%s/", c.modelsPath(projectID), url.PathEscape(modelID))
}

func (c *Client) fieldsPath(projectID, modelID string) string {
	return c.modelPath(projectID, modelID) + "fields/"
}

func (c *Client) fieldPath(projectID, modelID, fieldID string) string {
	return fmt.Sprintf("%s%s/", c.fieldsPath(projectID, modelID), url.PathEscape(fieldID))
}

// ── Operations ──────────────────────────────────────────────────────────────

// ListModels returns the project's models with nested fields. Both a bare
// array and a paginated {"results": [...]} body are accepted.
func (c *Client) ListModels(ctx context.Context, projectID string) ([]types.Model, error) {
	body, err := c.do(ctx, OpListModels, http.MethodGet, c.modelsPath(projectID), nil)
	if err != nil {
		return nil, err
	}
	var models []types.Model
	if err := json.Unmarshal(body, &models); err == nil {
		return models, nil
	}
	var page struct {
		Results []types.Model `json:"results"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &SyncError{Op: OpListModels, Message: "decode response", Err: err}
	}
	return page.Results, nil
}

func (c *Client) CreateModel(ctx context.Context, projectID string, in types.ModelInput) (types.Model, error) {
	var m types.Model
	err := c.call(ctx, OpCreateModel, http.MethodPost, c.modelsPath(projectID), in, &m)
	return m, err
}

func (c *Client) UpdateModel(ctx context.Context, projectID, modelID string, patch types.ModelPatch) (types.Model, error) {
	var m types.Model
	err := c.call(ctx, OpUpdateModel, http.MethodPatch, c.modelPath(projectID, modelID), patch, &m)
	return m, err
}

func (c *Client) DeleteModel(ctx context.Context, projectID, modelID string) error {
	_, err := c.do(ctx, OpDeleteModel, http.MethodDelete, c.modelPath(projectID, modelID), nil)
	return err
}

func (c *Client) CreateField(ctx context.Context, projectID, modelID string, in types.FieldInput) (types.Field, error) {
	var f types.Field
	err := c.call(ctx, OpCreateField, http.MethodPost, c.fieldsPath(projectID, modelID), in, &f)
	return f, err
}

func (c *Client) UpdateField(ctx context.Context, projectID, modelID, fieldID string, patch types.FieldPatch) (types.Field, error) {
	var f types.Field
	err := c.call(ctx, OpUpdateField, http.MethodPatch, c.fieldPath(projectID, modelID, fieldID), patch, &f)
	return f, err
}

func (c *Client) DeleteField(ctx context.Context, projectID, modelID, fieldID string) error {
	_, err := c.do(ctx, OpDeleteField, http.MethodDelete, c.fieldPath(projectID, modelID, fieldID), nil)
	return err
}

// ── Transport ───────────────────────────────────────────────────────────────

func (c *Client) call(ctx context.Context, op, method, u string, in, out any) error {
	body, err := c.do(ctx, op, method, u, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &SyncError{Op: op, Message: "decode response", Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, u string, in any) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, &SyncError{Op: op, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, &SyncError{Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	duration := time.Since(start)
	metrics.GatewayRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues(op, "error").Inc()
		c.logger.Warn("backend request failed",
			zap.String("op", op), zap.String("method", method), zap.String("url", u), zap.Error(err))
		return nil, &SyncError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	metrics.GatewayRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, &SyncError{Op: op, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}
	if len(body) > MaxResponseSize {
		return nil, &SyncError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("response body too large (max %d bytes)", MaxResponseSize)}
	}

	c.logger.Debug("backend request",
		zap.String("op", op), zap.String("method", method), zap.String("url", u),
		zap.Int("status", resp.StatusCode), zap.Duration("duration", duration))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SyncError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage extracts a readable message from an error body: "detail" or
// "error" keys, else per-field validation lists, else the raw text.
func errorMessage(body []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			var s string
			if raw, ok := obj[key]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
				return s
			}
		}
		var parts []string
		for key, raw := range obj {
			var msgs []string
			if json.Unmarshal(raw, &msgs) == nil && len(msgs) > 0 {
				parts = append(parts, key+": "+strings.Join(msgs, " "))
			}
		}
		if len(parts) > 0 {
			sort.Strings(parts)
			return strings.Join(parts, "; ")
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}
