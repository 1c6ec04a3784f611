package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultAPIVersion = "2025-10"

type ClientOptions struct {
	Domain      string
	AccessToken string
	APIVersion  string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client talks to the storefront Admin API. It is read-only: the relay only
// fetches order and product metafields from Shopify.
type Client struct {
	domain      string
	accessToken string
	apiVersion  string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		domain:      strings.TrimSpace(opts.Domain),
		accessToken: strings.TrimSpace(opts.AccessToken),
		apiVersion:  apiVersion,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// PaymentMeta carries the payment-processor figures attached to an order as
// metafields, converted from cents to currency units.
type PaymentMeta struct {
	Interest   float64
	PaidAmount float64
}

type metafield struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
}

type metafieldsResponse struct {
	Metafields []metafield `json:"metafields"`
}

// OrderPaymentMeta fetches the pagarme metafields for an order. A missing
// access token or a fetch failure yields zero values, not an error, so a
// storefront without the payment-processor app degrades to the declared order
// total.
func (c *Client) OrderPaymentMeta(ctx context.Context, orderID int64) PaymentMeta {
	if c.accessToken == "" || c.domain == "" {
		return PaymentMeta{}
	}
	path := fmt.Sprintf("orders/%d/metafields.json", orderID)
	fields, err := c.fetchMetafields(ctx, path)
	if err != nil {
		c.logger.Warn("shopify metafields fetch failed", "order_id", orderID, "error", err)
		return PaymentMeta{}
	}
	var meta PaymentMeta
	for _, f := range fields {
		if f.Namespace != "pagarme" {
			continue
		}
		switch f.Key {
		case "interest_cents":
			meta.Interest = metafieldNumber(f.Value) / 100
		case "paid_amount_cents":
			meta.PaidAmount = metafieldNumber(f.Value) / 100
		}
	}
	return meta
}

// ProductClassID returns the course-class id attached to a product, or "" when
// the product has no enrollment metafield.
func (c *Client) ProductClassID(ctx context.Context, productID int64) (string, error) {
	if c.accessToken == "" || c.domain == "" {
		return "", nil
	}
	path := fmt.Sprintf("products/%d/metafields.json", productID)
	fields, err := c.fetchMetafields(ctx, path)
	if err != nil {
		return "", err
	}
	for _, f := range fields {
		if f.Namespace == "custom" && f.Key == "id_sala_eduvem" {
			return metafieldString(f.Value), nil
		}
	}
	return "", nil
}

func (c *Client) fetchMetafields(ctx context.Context, path string) ([]metafield, error) {
	url := fmt.Sprintf("https://%s/admin/api/%s/%s", c.domain, c.apiVersion, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("shopify metafields fetch failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed metafieldsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	return parsed.Metafields, nil
}

// Metafield values arrive either as JSON numbers or as quoted decimal strings
// depending on the metafield definition type.
func metafieldNumber(raw json.RawMessage) float64 {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v
		}
	}
	return 0
}

func metafieldString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
