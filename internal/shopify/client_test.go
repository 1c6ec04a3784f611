package shopify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

// rewriteTransport redirects the client's https admin-API calls to a local
// test server.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newMetafieldsClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	target, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse test url: %v", err)
	}
	return NewClient(ClientOptions{
		Domain:      "store.example.com",
		AccessToken: "token",
		HTTPClient:  &http.Client{Transport: rewriteTransport{target: target}},
	})
}

func metafieldsHandler(t *testing.T, wantPath string, fields []map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("unexpected path %q, want %q", r.URL.Path, wantPath)
		}
		if got := r.Header.Get("X-Shopify-Access-Token"); got != "token" {
			t.Errorf("missing access token header, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"metafields": fields})
	}
}

func TestOrderPaymentMetaConvertsCents(t *testing.T) {
	client := newMetafieldsClient(t, metafieldsHandler(t, "/admin/api/2025-10/orders/1001/metafields.json", []map[string]any{
		{"namespace": "pagarme", "key": "interest_cents", "value": 250},
		{"namespace": "pagarme", "key": "paid_amount_cents", "value": "17550"},
		{"namespace": "other", "key": "paid_amount_cents", "value": 99999},
	}))

	meta := client.OrderPaymentMeta(context.Background(), 1001)
	if meta.Interest != 2.50 {
		t.Errorf("interest = %v, want 2.50", meta.Interest)
	}
	if meta.PaidAmount != 175.50 {
		t.Errorf("paid amount = %v, want 175.50", meta.PaidAmount)
	}
}

func TestOrderPaymentMetaDegradesToZero(t *testing.T) {
	// No token configured: no request is made at all.
	bare := NewClient(ClientOptions{})
	if meta := bare.OrderPaymentMeta(context.Background(), 1001); meta != (PaymentMeta{}) {
		t.Errorf("tokenless client must return zero meta, got %+v", meta)
	}

	// Server failure: zero values, no error surfaced.
	failing := newMetafieldsClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if meta := failing.OrderPaymentMeta(context.Background(), 1001); meta != (PaymentMeta{}) {
		t.Errorf("fetch failure must return zero meta, got %+v", meta)
	}
}

func TestProductClassID(t *testing.T) {
	client := newMetafieldsClient(t, metafieldsHandler(t, "/admin/api/2025-10/products/55/metafields.json", []map[string]any{
		{"namespace": "custom", "key": "other", "value": "nope"},
		{"namespace": "custom", "key": "id_sala_eduvem", "value": " class-uuid-1 "},
	}))

	classID, err := client.ProductClassID(context.Background(), 55)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if classID != "class-uuid-1" {
		t.Errorf("class id = %q, want class-uuid-1", classID)
	}
}

func TestProductClassIDMissing(t *testing.T) {
	client := newMetafieldsClient(t, metafieldsHandler(t, "/admin/api/2025-10/products/55/metafields.json", nil))
	classID, err := client.ProductClassID(context.Background(), 55)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if classID != "" {
		t.Errorf("expected empty class id, got %q", classID)
	}
}

func TestMetafieldValueCoercion(t *testing.T) {
	if v := metafieldNumber(json.RawMessage(`1250`)); v != 1250 {
		t.Errorf("number literal = %v", v)
	}
	if v := metafieldNumber(json.RawMessage(`"1250.5"`)); v != 1250.5 {
		t.Errorf("quoted number = %v", v)
	}
	if v := metafieldNumber(json.RawMessage(`"abc"`)); v != 0 {
		t.Errorf("garbage = %v, want 0", v)
	}
	if v := metafieldString(json.RawMessage(`42`)); v != "42" {
		t.Errorf("numeric string coercion = %q", v)
	}
}
