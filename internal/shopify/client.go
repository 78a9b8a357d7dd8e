package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shopsight/backend/internal/metrics"
	"github.com/shopsight/backend/pkg/config"
	"github.com/shopsight/backend/pkg/retry"
)

// maxPageSize is the Admin API's hard cap on list page sizes.
const maxPageSize = 250

const locationFanOutLimit = 4

var (
	ErrRateLimited    = errors.New("shopify: rate limited")
	ErrRequestTimeout = errors.New("shopify: request timed out")
)

// StatusError is a non-retryable HTTP failure from the Admin API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shopify: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client talks to one store's Admin API. Rate-limit (429) responses and
// request timeouts are retried with doubling delays up to the configured
// attempt budget; every other HTTP failure propagates immediately.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
}

func NewClient(shopDomain, accessToken string, cfg config.ShopifyConfig, log *zap.Logger) *Client {
	baseURL := fmt.Sprintf("https://%s/admin/api/%s", shopDomain, cfg.APIVersion)
	return NewClientWithBaseURL(baseURL, accessToken, cfg, log)
}

// NewClientWithBaseURL skips the domain-to-URL derivation; tests and proxy
// deployments point it at an arbitrary host.
func NewClientWithBaseURL(baseURL, accessToken string, cfg config.ShopifyConfig, log *zap.Logger) *Client {
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 4
	}

	retryDelay := time.Duration(cfg.InitialRetryMS) * time.Millisecond
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		logger:      log,
	}
}

type OrderParams struct {
	Status       string
	Limit        int
	CreatedAtMin *time.Time
	CreatedAtMax *time.Time
}

func (c *Client) GetOrders(ctx context.Context, params OrderParams) ([]Order, error) {
	status := params.Status
	if status == "" {
		status = "any"
	}

	query := url.Values{}
	query.Set("status", status)
	query.Set("limit", strconv.Itoa(capLimit(params.Limit)))
	if params.CreatedAtMin != nil {
		query.Set("created_at_min", params.CreatedAtMin.Format(time.RFC3339))
	}
	if params.CreatedAtMax != nil {
		query.Set("created_at_max", params.CreatedAtMax.Format(time.RFC3339))
	}

	var payload struct {
		Orders []Order `json:"orders"`
	}
	if err := c.get(ctx, "orders", "/orders.json", query, &payload); err != nil {
		return nil, err
	}
	if payload.Orders == nil {
		return []Order{}, nil
	}
	return payload.Orders, nil
}

type ProductParams struct {
	ProductType string
	Vendor      string
	Limit       int
}

func (c *Client) GetProducts(ctx context.Context, params ProductParams) ([]Product, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(capLimit(params.Limit)))
	if params.ProductType != "" {
		query.Set("product_type", params.ProductType)
	}
	if params.Vendor != "" {
		query.Set("vendor", params.Vendor)
	}

	var payload struct {
		Products []Product `json:"products"`
	}
	if err := c.get(ctx, "products", "/products.json", query, &payload); err != nil {
		return nil, err
	}
	if payload.Products == nil {
		return []Product{}, nil
	}
	return payload.Products, nil
}

type CustomerParams struct {
	Limit        int
	CreatedAtMin *time.Time
	UpdatedAtMin *time.Time
}

func (c *Client) GetCustomers(ctx context.Context, params CustomerParams) ([]Customer, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(capLimit(params.Limit)))
	if params.CreatedAtMin != nil {
		query.Set("created_at_min", params.CreatedAtMin.Format(time.RFC3339))
	}
	if params.UpdatedAtMin != nil {
		query.Set("updated_at_min", params.UpdatedAtMin.Format(time.RFC3339))
	}

	var payload struct {
		Customers []Customer `json:"customers"`
	}
	if err := c.get(ctx, "customers", "/customers.json", query, &payload); err != nil {
		return nil, err
	}
	if payload.Customers == nil {
		return []Customer{}, nil
	}
	return payload.Customers, nil
}

// GetInventoryLevels is two-phase: resolve the store's locations, then fetch
// levels per location and concatenate them in location order. A failure to
// resolve locations aborts the whole fetch; so does any per-location failure
// once its own retry budget is spent.
func (c *Client) GetInventoryLevels(ctx context.Context) ([]InventoryLevel, error) {
	locations, err := c.getLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve locations: %w", err)
	}
	if len(locations) == 0 {
		return []InventoryLevel{}, nil
	}

	perLocation := make([][]InventoryLevel, len(locations))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(locationFanOutLimit)
	for i, location := range locations {
		i, location := i, location
		group.Go(func() error {
			levels, err := c.getInventoryForLocation(groupCtx, location.ID)
			if err != nil {
				return fmt.Errorf("inventory fetch for location %d: %w", location.ID, err)
			}
			perLocation[i] = levels
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	combined := []InventoryLevel{}
	for _, levels := range perLocation {
		combined = append(combined, levels...)
	}

	c.logger.Debug("inventory levels retrieved",
		zap.Int("locations", len(locations)),
		zap.Int("levels", len(combined)),
	)
	return combined, nil
}

func (c *Client) getLocations(ctx context.Context) ([]Location, error) {
	var payload struct {
		Locations []Location `json:"locations"`
	}
	if err := c.get(ctx, "locations", "/locations.json", nil, &payload); err != nil {
		return nil, err
	}
	if payload.Locations == nil {
		return []Location{}, nil
	}
	return payload.Locations, nil
}

func (c *Client) getInventoryForLocation(ctx context.Context, locationID int64) ([]InventoryLevel, error) {
	query := url.Values{}
	query.Set("location_ids", strconv.FormatInt(locationID, 10))
	query.Set("limit", strconv.Itoa(maxPageSize))

	var payload struct {
		InventoryLevels []InventoryLevel `json:"inventory_levels"`
	}
	if err := c.get(ctx, "inventory_levels", "/inventory_levels.json", query, &payload); err != nil {
		return nil, err
	}
	if payload.InventoryLevels == nil {
		return []InventoryLevel{}, nil
	}
	return payload.InventoryLevels, nil
}

// ExecuteQuery posts a structured query to the GraphQL endpoint. A non-empty
// errors list in the reply is a hard failure even with a 200 status.
func (c *Client) ExecuteQuery(ctx context.Context, query string) (map[string]any, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	var payload struct {
		Data   map[string]any `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := c.post(ctx, "graphql", "/graphql.json", body, &payload); err != nil {
		return nil, err
	}

	if len(payload.Errors) > 0 {
		messages := make([]string, len(payload.Errors))
		for i, e := range payload.Errors {
			messages[i] = e.Message
		}
		return nil, fmt.Errorf("query execution failed: %s", strings.Join(messages, "; "))
	}

	if payload.Data == nil {
		return map[string]any{}, nil
	}
	return payload.Data, nil
}

func (c *Client) get(ctx context.Context, resource, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, resource, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, resource, path string, body []byte, out any) error {
	return c.do(ctx, http.MethodPost, resource, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, resource, path string, query url.Values, body []byte, out any) error {
	cfg := retry.Config{
		MaxAttempts:     c.maxAttempts,
		InitialDelay:    c.retryDelay,
		MaxDelay:        c.retryDelay * 32,
		Multiplier:      2.0,
		RetryableErrors: []error{ErrRateLimited, ErrRequestTimeout},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.ShopifyRetries.WithLabelValues(resource).Inc()
		},
		Logger: c.logger,
	}

	return retry.Do(ctx, cfg, func() error {
		return c.doOnce(ctx, method, resource, path, query, body, out)
	})
}

func (c *Client) doOnce(ctx context.Context, method, resource, path string, query url.Values, body []byte, out any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			metrics.ShopifyRequests.WithLabelValues(resource, "timeout").Inc()
			return fmt.Errorf("%w: %v", ErrRequestTimeout, err)
		}
		metrics.ShopifyRequests.WithLabelValues(resource, "error").Inc()
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		metrics.ShopifyRequests.WithLabelValues(resource, "rate_limited").Inc()
		return fmt.Errorf("%w: %s", ErrRateLimited, resp.Status)
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metrics.ShopifyRequests.WithLabelValues(resource, "error").Inc()
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ShopifyRequests.WithLabelValues(resource, "error").Inc()
		return fmt.Errorf("failed to decode %s response: %w", resource, err)
	}

	metrics.ShopifyRequests.WithLabelValues(resource, "success").Inc()
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func capLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
