package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SmartGR/shopify-bitrix/internal/metrics"
)

const (
	defaultExternalIDField = "UF_CRM_1763463761"
	defaultLoyaltyField    = "UF_CRM_1764326319407"
)

type ClientOptions struct {
	// BaseURL is the inbound-webhook base, token included, without a method
	// suffix (https://host/rest/<user>/<token>).
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger

	// ExternalIDField is the deal custom field holding the source order id,
	// the deduplication key for upserts.
	ExternalIDField string
	// LoyaltyField is the contact custom field holding the loyalty balance.
	LoyaltyField string
}

// Client wraps the CRM REST endpoints behind typed operations. Every call is
// a JSON POST to <base>/<method>.json with bounded retries on transient
// failures.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxRetries      int
	baseDelay       time.Duration
	maxDelay        time.Duration
	logger          *slog.Logger
	externalIDField string
	loyaltyField    string
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("bitrix base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	externalIDField := strings.TrimSpace(opts.ExternalIDField)
	if externalIDField == "" {
		externalIDField = defaultExternalIDField
	}
	loyaltyField := strings.TrimSpace(opts.LoyaltyField)
	if loyaltyField == "" {
		loyaltyField = defaultLoyaltyField
	}
	return &Client{
		baseURL:         baseURL,
		httpClient:      httpClient,
		maxRetries:      maxRetries,
		baseDelay:       baseDelay,
		maxDelay:        maxDelay,
		logger:          logger,
		externalIDField: externalIDField,
		loyaltyField:    loyaltyField,
	}, nil
}

// APIError is a rejection reported by the CRM itself, as opposed to a
// transport failure.
type APIError struct {
	Method      string
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitrix %s failed: code=%s description=%s", e.Method, e.Code, e.Description)
}

type envelope struct {
	Result           json.RawMessage `json:"result"`
	Next             int             `json:"next"`
	Total            int             `json:"total"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/" + method + ".json"
}

func (c *Client) call(ctx context.Context, method string, payload any) (*envelope, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := c.methodURL(method)

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			metrics.BitrixRequests.WithLabelValues(method, "error").Inc()
			return nil, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			metrics.BitrixRequests.WithLabelValues(method, "error").Inc()
			return nil, readErr
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal(respBody, &env); err != nil && resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			metrics.BitrixRequests.WithLabelValues(method, "error").Inc()
			return nil, fmt.Errorf("bitrix %s returned unparseable body: %w", method, err)
		}
		if env.Error != "" {
			metrics.BitrixRequests.WithLabelValues(method, "rejected").Inc()
			return nil, &APIError{Method: method, Code: env.Error, Description: env.ErrorDescription}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			metrics.BitrixRequests.WithLabelValues(method, "error").Inc()
			return nil, fmt.Errorf("bitrix %s failed: status=%d body=%s", method, resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		metrics.BitrixRequests.WithLabelValues(method, "ok").Inc()
		return &env, nil
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
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

// The CRM is inconsistent about id types: list endpoints return ids as
// strings, add endpoints as numbers.
func parseID(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	}
	return 0, fmt.Errorf("unparseable id: %s", string(raw))
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
