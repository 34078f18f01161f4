package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// EndpointInfo is the cached view of an endpoint's configuration,
// refreshed from the Store's /endpoint-info action.
type EndpointInfo struct {
	EndpointID   string        `json:"endpointId"`
	OwnerID      string        `json:"ownerId,omitempty"`
	IsEphemeral  bool          `json:"isEphemeral"`
	ExpiresAt    *int64        `json:"expiresAt"`
	MockResponse *MockResponse `json:"mockResponse"`
	Error        string        `json:"error,omitempty"`
	LastSync     time.Time     `json:"-"`
}

// MockResponse is the status/body/headers an endpoint returns synchronously.
type MockResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// QuotaResponse is returned by the Store's /quota action.
type QuotaResponse struct {
	Error            string `json:"error,omitempty"`
	OwnerID          string `json:"ownerId,omitempty"`
	Remaining        int64  `json:"remaining"`
	Limit            int64  `json:"limit"`
	PeriodEnd        *int64 `json:"periodEnd"`
	NeedsPeriodStart bool   `json:"needsPeriodStart"`
}

// CheckPeriodResponse is returned by the Store's /check-period action,
// which lazily activates a free owner's billing period on first capture.
type CheckPeriodResponse struct {
	Error      string `json:"error,omitempty"`
	Remaining  int64  `json:"remaining"`
	Limit      int64  `json:"limit"`
	PeriodEnd  *int64 `json:"periodEnd"`
	RetryAfter *int64 `json:"retryAfter"`
}

// CaptureResponse is returned by the Store's /capture-batch action.
type CaptureResponse struct {
	Success  bool   `json:"success,omitempty"`
	Error    string `json:"error,omitempty"`
	Inserted int    `json:"inserted"`
}

// BufferedRequest is a single request queued by the Receiver for the
// Store's /capture-batch action.
type BufferedRequest struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body,omitempty"`
	QueryParams map[string]string `json:"queryParams"`
	IP          string            `json:"ip"`
	ReceivedAt  int64             `json:"receivedAt"`
}

// StoreClient calls the Store's authenticated HTTP surface, with a
// shared circuit breaker guarding every outbound call.
type StoreClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	breaker    *circuitBreaker
}

// errCircuitOpen is returned when the breaker refuses a call outright.
var errCircuitOpen = fmt.Errorf("store circuit breaker open")

func NewStoreClient(baseURL, secret string) *StoreClient {
	return &StoreClient{
		baseURL: baseURL,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: HTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: newCircuitBreaker(CircuitFailThreshold, CircuitCooldown),
	}
}

func (c *StoreClient) do(ctx context.Context, method, path string, body any, out any) error {
	if !c.breaker.AllowRequest() {
		return errCircuitOpen
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("call store %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxStoreResponseSize))
	if err != nil {
		c.breaker.RecordFailure()
		return fmt.Errorf("read store response: %w", err)
	}

	// 429 carries a valid quota_exceeded body; everything else non-2xx is an error.
	if (resp.StatusCode < 200 || resp.StatusCode > 299) && resp.StatusCode != 429 {
		c.breaker.RecordFailure()
		return fmt.Errorf("store %s returned status %d: %s", path, resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			c.breaker.RecordFailure()
			return fmt.Errorf("parse store response: %w", err)
		}
	}

	c.breaker.RecordSuccess()
	return nil
}

func (c *StoreClient) FetchEndpointInfo(ctx context.Context, slug string) (*EndpointInfo, error) {
	var result EndpointInfo
	if err := c.do(ctx, http.MethodGet, "/endpoint-info?slug="+url.QueryEscape(slug), nil, &result); err != nil {
		return nil, err
	}
	result.LastSync = time.Now()
	return &result, nil
}

func (c *StoreClient) FetchQuota(ctx context.Context, slug string) (*QuotaResponse, error) {
	var result QuotaResponse
	if err := c.do(ctx, http.MethodGet, "/quota?slug="+url.QueryEscape(slug), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *StoreClient) CheckPeriod(ctx context.Context, ownerID string) (*CheckPeriodResponse, error) {
	var result CheckPeriodResponse
	body := map[string]string{"ownerId": ownerID}
	if err := c.do(ctx, http.MethodPost, "/check-period", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *StoreClient) CaptureBatch(ctx context.Context, slug string, requests []BufferedRequest) (*CaptureResponse, error) {
	var result CaptureResponse
	body := map[string]any{"slug": slug, "requests": requests}
	if err := c.do(ctx, http.MethodPost, "/capture-batch", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Breaker exposes the client's circuit breaker so QuotaCache can decide
// fail-open vs fail-closed without duplicating breaker state.
func (c *StoreClient) Breaker() *circuitBreaker { return c.breaker }
