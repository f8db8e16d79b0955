// Package restapi implements the service.Service interface over the todo
// service's REST API.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/googleapi"

	"tasksync/internal/config"
	"tasksync/internal/service"
)

const (
	// APITimeout is the default timeout for API calls.
	APITimeout = 10 * time.Second

	userAgent = "tasksync-client"
)

// Client implements service.Service against /todos.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// New creates a client from the loaded configuration.
func New(cfg *config.Config) (*Client, error) {
	base := strings.TrimSpace(cfg.APIURL)
	if base == "" {
		return nil, fmt.Errorf("api_url is not configured")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid api_url: %w", err)
	}
	c := NewWithHTTPClient(base, http.DefaultClient)
	if cfg.Timeout > 0 {
		c.timeout = cfg.Timeout
	}
	c.log = cfg.Log()
	return c, nil
}

// NewWithHTTPClient creates a client with a custom HTTP client (for testing).
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: APITimeout,
		log:     slog.New(slog.DiscardHandler),
	}
}

// ListTasks returns tasks in server order (most recent first).
func (c *Client) ListTasks(ctx context.Context, status service.Status) ([]service.Task, error) {
	path := "/todos"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var tasks []service.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, wrapError("list tasks", err)
	}
	if tasks == nil {
		tasks = []service.Task{}
	}
	return tasks, nil
}

// GetTask returns a single task.
func (c *Client) GetTask(ctx context.Context, id int64) (service.Task, error) {
	var task service.Task
	if err := c.do(ctx, http.MethodGet, taskPath(id), nil, &task); err != nil {
		return service.Task{}, wrapError("get task", err)
	}
	return task, nil
}

// CreateTask creates a task and returns the server's record.
func (c *Client) CreateTask(ctx context.Context, in service.TaskInput) (service.Task, error) {
	var task service.Task
	if err := c.do(ctx, http.MethodPost, "/todos", in, &task); err != nil {
		return service.Task{}, wrapError("create task", err)
	}
	return task, nil
}

// UpdateStatus changes a task's status.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status service.Status) (service.Task, error) {
	body := struct {
		Status service.Status `json:"status"`
	}{Status: status}

	var task service.Task
	if err := c.do(ctx, http.MethodPut, taskPath(id), body, &task); err != nil {
		return service.Task{}, wrapError("update task", err)
	}
	return task, nil
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	if err := c.do(ctx, http.MethodDelete, taskPath(id), nil, nil); err != nil {
		return wrapError("delete task", err)
	}
	return nil
}

func taskPath(id int64) string {
	return "/todos/" + strconv.FormatInt(id, 10)
}

// do sends one request. body is JSON-encoded when non-nil; out is decoded
// from the response when non-nil and the server returned content.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.Debug("api request", "method", method, "path", path, "request_id", reqID)
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("api request failed", "method", method, "path", path, "request_id", reqID, "err", err)
		return err
	}
	defer resp.Body.Close()

	if err := googleapi.CheckResponse(resp); err != nil {
		c.log.Warn("api error response", "method", method, "path", path, "request_id", reqID, "status", resp.StatusCode)
		return err
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// wrapError folds every failure into service.ErrOperationFailed with a
// short reason.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: request timed out", service.ErrOperationFailed, op)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s: %w", service.ErrOperationFailed, op, context.Canceled)
	case errors.As(err, &gerr) && gerr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %w", service.ErrOperationFailed, op, service.ErrNotFound)
	case errors.As(err, &gerr):
		return fmt.Errorf("%w: %s: server returned %d: %s", service.ErrOperationFailed, op, gerr.Code, serverMessage(gerr))
	}
	return fmt.Errorf("%w: %s: %v", service.ErrOperationFailed, op, err)
}

// serverMessage extracts the human-readable part of an error response. The
// todo server answers with http.Error plain text, not a JSON error envelope.
func serverMessage(gerr *googleapi.Error) string {
	if msg := strings.TrimSpace(gerr.Message); msg != "" {
		return msg
	}
	msg := strings.TrimSpace(gerr.Body)
	if msg == "" {
		return http.StatusText(gerr.Code)
	}
	return msg
}
