package docstore

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
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ashureev/chatdesk/internal/domain"
	"github.com/ashureev/chatdesk/internal/metrics"
	"github.com/ashureev/chatdesk/internal/shared"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("docstore client closed")

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RPS limits outbound requests per second; zero disables throttling.
	RPS   float64
	Burst int
	Retry shared.RetryPolicy
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// HTTPClient talks to the document store over JSON/HTTP.
type HTTPClient struct {
	base    *url.URL
	token   string
	client  *http.Client
	limiter *rate.Limiter
	retry   shared.RetryPolicy
	search  singleflight.Group
	closed  atomic.Bool
	logger  *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client. It does not contact the store; call Ping
// to check connectivity.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse docstore url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("docstore url must be http or https, got %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = shared.DefaultRetryPolicy
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	return &HTTPClient{
		base:    base,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout, Transport: transport},
		limiter: limiter,
		retry:   retry,
		logger:  logger,
	}, nil
}

type entitiesResponse struct {
	Entities []domain.Entity `json:"entities"`
}

type ordersResponse struct {
	Orders []domain.Order `json:"orders"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SearchEntities implements Client. Concurrent searches for the same query
// share one request.
func (c *HTTPClient) SearchEntities(ctx context.Context, query string) ([]domain.Entity, error) {
	v, err, deduped := c.search.Do(query, func() (any, error) {
		var resp entitiesResponse
		path := "/entities?" + url.Values{"q": {query}}.Encode()
		if err := c.do(ctx, "search_entities", http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		return resp.Entities, nil
	})
	if err != nil {
		return nil, err
	}
	if deduped {
		c.logger.Debug("entity search shared", "query", query)
	}
	return v.([]domain.Entity), nil
}

// GetEntity implements Client.
func (c *HTTPClient) GetEntity(ctx context.Context, id string) (domain.Entity, error) {
	var e domain.Entity
	err := c.do(ctx, "get_entity", http.MethodGet, "/entities/"+url.PathEscape(id), nil, &e)
	return e, err
}

// RenameEntity implements Client. The store answers 304 when the title is
// unchanged.
func (c *HTTPClient) RenameEntity(ctx context.Context, id, title string) (UpdateResult, error) {
	const op = "rename_entity"
	title = strings.TrimSpace(title)
	if title == "" || len([]rune(title)) > MaxTitleLength {
		return UpdateResult{}, Errorf(op, KindValidation, "title must be 1..%d characters", MaxTitleLength)
	}
	var res UpdateResult
	err := c.do(ctx, op, http.MethodPatch, "/entities/"+url.PathEscape(id), map[string]string{"title": title}, &res)
	return res, err
}

// CreateOrders implements Client.
func (c *HTTPClient) CreateOrders(ctx context.Context, req domain.OrderRequest) ([]domain.Order, error) {
	const op = "create_orders"
	if err := ValidateOrderRequest(op, req); err != nil {
		return nil, err
	}
	var resp ordersResponse
	if err := c.do(ctx, op, http.MethodPost, "/orders", req, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// AddFiles implements Client.
func (c *HTTPClient) AddFiles(ctx context.Context, entityID string, count int) (domain.Order, error) {
	const op = "add_files"
	if err := ValidateFileCount(op, count); err != nil {
		return domain.Order{}, err
	}
	var o domain.Order
	path := "/entities/" + url.PathEscape(entityID) + "/files"
	err := c.do(ctx, op, http.MethodPost, path, map[string]int{"count": count}, &o)
	return o, err
}

// ListOrders implements Client.
func (c *HTTPClient) ListOrders(ctx context.Context, entityID string, category domain.Category) ([]domain.Order, error) {
	q := url.Values{"entity_id": {entityID}}
	if category != domain.CategoryNone {
		q.Set("category", string(category))
	}
	var resp ordersResponse
	if err := c.do(ctx, "list_orders", http.MethodGet, "/orders?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// CreateScheduleEntry implements Client.
func (c *HTTPClient) CreateScheduleEntry(ctx context.Context, entry domain.ScheduleEntry) (domain.ScheduleEntry, error) {
	const op = "create_schedule_entry"
	if err := ValidateScheduleEntry(op, entry, time.Now()); err != nil {
		return domain.ScheduleEntry{}, err
	}
	var out domain.ScheduleEntry
	err := c.do(ctx, op, http.MethodPost, "/schedule", entry, &out)
	return out, err
}

// CreateAccountingEntry implements Client.
func (c *HTTPClient) CreateAccountingEntry(ctx context.Context, entry domain.AccountingEntry) (domain.AccountingEntry, error) {
	const op = "create_accounting_entry"
	if err := ValidateAccountingEntry(op, entry); err != nil {
		return domain.AccountingEntry{}, err
	}
	var out domain.AccountingEntry
	err := c.do(ctx, op, http.MethodPost, "/accounting", entry, &out)
	return out, err
}

// Ping checks the store is reachable. It is not retried.
func (c *HTTPClient) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.once(ctx, "ping", http.MethodGet, "/health", nil, nil)
}

// Close releases idle connections. Later calls fail with ErrClosed.
func (c *HTTPClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.client.CloseIdleConnections()
	return nil
}

// do runs one logical request, retrying retryable failures with backoff.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	attempt := 0
	return shared.Retry(ctx, c.retry, op, IsRetryable, func(ctx context.Context) error {
		if attempt > 0 {
			metrics.RecordRemoteRetry(op)
		}
		attempt++
		return c.once(ctx, op, method, path, body, out)
	})
}

func (c *HTTPClient) once(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Kind: KindUnknown, Err: err}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Kind: KindValidation, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return &Error{Op: op, Kind: KindUnknown, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: kindForTransport(ctx, err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		// Only updates answer 304; leave out at its zero value.
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Kind: KindUnknown, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{
		Op:     op,
		Kind:   KindForStatus(resp.StatusCode),
		Status: resp.StatusCode,
		Err:    errors.New(msg),
	}
}
