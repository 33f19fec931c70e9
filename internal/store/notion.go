package store

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
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/calsync/internal/metrics"
)

const (
	defaultNotionBaseURL    = "https://api.notion.com"
	defaultNotionAPIVersion = "2022-06-28"
	defaultRequestTimeout   = 30 * time.Second
	defaultMinInterval      = 350 * time.Millisecond
	defaultRateLimitBackoff = 2 * time.Second
)

// NotionOptions configures a NotionClient. Zero values take defaults.
type NotionOptions struct {
	BaseURL          string
	Token            string
	APIVersion       string
	HTTPClient       *http.Client
	RequestTimeout   time.Duration
	MinInterval      time.Duration // enforced before every call
	RateLimitBackoff time.Duration // wait before the single retry after a 429
	Logger           *slog.Logger
}

// APIError is a non-2xx response from the workspace API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion %s %s: status=%d code=%s message=%s body=%s", e.Method, e.Path, e.Status, e.Code, e.Message, e.Body)
	}
	return fmt.Sprintf("notion %s %s: status=%d body=%s", e.Method, e.Path, e.Status, e.Body)
}

// Unwrap exposes ErrRateLimited for 429 responses.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return nil
}

// NotionClient implements Store over the Notion REST API. Calls are paced
// so that consecutive requests are at least MinInterval apart.
type NotionClient struct {
	baseURL          string
	token            string
	apiVersion       string
	client           *http.Client
	minInterval      time.Duration
	rateLimitBackoff time.Duration
	logger           *slog.Logger

	mu       sync.Mutex
	lastCall time.Time
}

// NewNotionClient creates a paced Notion client.
func NewNotionClient(opts NotionOptions) *NotionClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultNotionBaseURL
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultNotionAPIVersion
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	minInterval := opts.MinInterval
	if minInterval < 0 {
		minInterval = 0
	} else if minInterval == 0 {
		minInterval = defaultMinInterval
	}
	backoff := opts.RateLimitBackoff
	if backoff <= 0 {
		backoff = defaultRateLimitBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NotionClient{
		baseURL:          baseURL,
		token:            strings.TrimSpace(opts.Token),
		apiVersion:       apiVersion,
		client:           httpClient,
		minInterval:      minInterval,
		rateLimitBackoff: backoff,
		logger:           logger,
	}
}

// Query implements Store.
func (c *NotionClient) Query(ctx context.Context, databaseID string, req QueryRequest) (*QueryResult, error) {
	var out QueryResult
	path := "/v1/databases/" + url.PathEscape(databaseID) + "/query"
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type createPageRequest struct {
	Parent     parentRef  `json:"parent"`
	Properties Properties `json:"properties"`
}

type parentRef struct {
	DatabaseID string `json:"database_id"`
}

// CreatePage implements Store.
func (c *NotionClient) CreatePage(ctx context.Context, databaseID string, props Properties) (*Page, error) {
	var out Page
	body := createPageRequest{Parent: parentRef{DatabaseID: databaseID}, Properties: props}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePage implements Store.
func (c *NotionClient) UpdatePage(ctx context.Context, pageID string, req UpdateRequest) (*Page, error) {
	var out Page
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+url.PathEscape(pageID), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *NotionClient) do(ctx context.Context, method, path string, payload, out any) error {
	if c.token == "" {
		return fmt.Errorf("notion %s %s: token is empty", method, path)
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notion %s %s: marshalling request: %w", method, path, err)
	}

	for attempt := 0; ; attempt++ {
		if err := c.pace(ctx); err != nil {
			return err
		}
		metrics.Inc(metrics.StoreRequests)

		status, respBody, err := c.send(ctx, method, path, bodyBytes)
		if err != nil {
			return err
		}
		if status >= 200 && status <= 299 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("notion %s %s: decoding response: %w", method, path, err)
			}
			return nil
		}

		if status == http.StatusTooManyRequests && attempt == 0 {
			metrics.Inc(metrics.StoreRateLimited)
			c.logger.Warn("notion rate limited, retrying once", "method", method, "path", path, "backoff", c.rateLimitBackoff)
			if err := sleepContext(ctx, c.rateLimitBackoff); err != nil {
				return err
			}
			continue
		}

		return newAPIError(method, path, status, respBody)
	}
}

func (c *NotionClient) send(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("notion %s %s: creating request: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", c.apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("notion %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("notion %s %s: reading response: %w", method, path, err)
	}
	return resp.StatusCode, respBody, nil
}

// pace blocks until MinInterval has passed since the previous call.
func (c *NotionClient) pace(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastCall.IsZero() {
		if wait := c.minInterval - time.Since(c.lastCall); wait > 0 {
			if err := sleepContext(ctx, wait); err != nil {
				return err
			}
		}
	}
	c.lastCall = time.Now()
	return nil
}

func newAPIError(method, path string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Method: method,
		Path:   path,
		Status: status,
		Body:   strings.TrimSpace(string(body)),
	}
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		apiErr.Code = parsed.Code
		apiErr.Message = parsed.Message
	}
	return apiErr
}

// IsRateLimited reports whether err is a spent rate-limit retry.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
