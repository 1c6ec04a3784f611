package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeCRM emulates just enough of the Bitrix REST surface for the client
// tests: contact/deal storage with list filters, product rows, paginated
// users and deal-field metadata.
type fakeCRM struct {
	mu       sync.Mutex
	calls    []string
	contacts map[int64]map[string]any
	deals    map[int64]map[string]any
	rows     map[int64][]map[string]any
	users    []map[string]any
	pageSize int
	nextID   int64

	failures map[string]int // method -> remaining 500s before success
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		contacts: map[int64]map[string]any{},
		deals:    map[int64]map[string]any{},
		rows:     map[int64][]map[string]any{},
		pageSize: 50,
		nextID:   100,
		failures: map[string]int{},
	}
}

func (f *fakeCRM) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

func (f *fakeCRM) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path
		method = method[1 : len(method)-len(".json")]

		var payload map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&payload)
		}

		f.mu.Lock()
		f.calls = append(f.calls, method)
		if remaining := f.failures[method]; remaining > 0 {
			f.failures[method] = remaining - 1
			f.mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		defer f.mu.Unlock()

		writeResult := func(result any) {
			_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
		}

		switch method {
		case "crm.contact.list":
			writeResult(f.listMatches(f.contacts, payload))
		case "crm.deal.list":
			writeResult(f.listMatches(f.deals, payload))
		case "crm.contact.add":
			f.nextID++
			f.contacts[f.nextID] = asFields(payload)
			writeResult(f.nextID)
		case "crm.deal.add":
			f.nextID++
			f.deals[f.nextID] = asFields(payload)
			writeResult(f.nextID)
		case "crm.contact.update":
			id := asID(payload["id"])
			if existing, ok := f.contacts[id]; ok {
				for k, v := range asFields(payload) {
					existing[k] = v
				}
			}
			writeResult(true)
		case "crm.deal.update":
			id := asID(payload["id"])
			if existing, ok := f.deals[id]; ok {
				for k, v := range asFields(payload) {
					existing[k] = v
				}
			}
			writeResult(true)
		case "crm.deal.productrows.set":
			id := asID(payload["id"])
			rows, _ := payload["rows"].([]any)
			stored := make([]map[string]any, 0, len(rows))
			for _, row := range rows {
				if m, ok := row.(map[string]any); ok {
					stored = append(stored, m)
				}
			}
			f.rows[id] = stored
			writeResult(true)
		case "user.get":
			start := int(asFloat(payload["start"]))
			end := start + f.pageSize
			if end > len(f.users) {
				end = len(f.users)
			}
			resp := map[string]any{"result": f.users[start:end]}
			if end < len(f.users) {
				resp["next"] = end
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "crm.deal.fields":
			writeResult(map[string]any{
				"UF_CRM_STATE_LIVE": map[string]any{
					"type": "enumeration",
					"items": []map[string]any{
						{"ID": "601", "VALUE": "SP"},
						{"ID": "603", "VALUE": "RJ"},
					},
				},
				"TITLE": map[string]any{"type": "string"},
			})
		default:
			t.Errorf("unexpected CRM method %q", method)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

// listMatches applies the single-key equality filter the relay uses. EMAIL
// and PHONE filters match against the multifield values.
func (f *fakeCRM) listMatches(records map[int64]map[string]any, payload map[string]any) []map[string]string {
	filter, _ := payload["filter"].(map[string]any)
	var out []map[string]string
	for id, fields := range records {
		matched := true
		for key, want := range filter {
			if !fieldMatches(fields[key], want) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, map[string]string{"ID": fmt.Sprint(id)})
		}
	}
	return out
}

func fieldMatches(have, want any) bool {
	if have == nil {
		return false
	}
	if multi, ok := have.([]any); ok {
		for _, item := range multi {
			if m, ok := item.(map[string]any); ok && fmt.Sprint(m["VALUE"]) == fmt.Sprint(want) {
				return true
			}
		}
		return false
	}
	return fmt.Sprint(have) == fmt.Sprint(want)
}

func asFields(payload map[string]any) map[string]any {
	fields, _ := payload["fields"].(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}
	return fields
}

func asID(v any) int64 {
	return int64(asFloat(v))
}

func asFloat(v any) float64 {
	switch typed := v.(type) {
	case float64:
		return typed
	case string:
		var f float64
		_, _ = fmt.Sscan(typed, &f)
		return f
	default:
		return 0
	}
}

func newTestClient(t *testing.T, fake *fakeCRM) *Client {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	client, err := NewClient(ClientOptions{
		BaseURL:   server.URL,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	return client
}

func TestUpsertDealIdempotent(t *testing.T) {
	fake := newFakeCRM()
	client := newTestClient(t, fake)
	ctx := context.Background()

	first, err := client.UpsertDeal(ctx, "1001", map[string]any{"OPPORTUNITY": 150.00})
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	second, err := client.UpsertDeal(ctx, "1001", map[string]any{"OPPORTUNITY": 175.00})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	if first != second {
		t.Fatalf("replay must converge to one deal, got %d then %d", first, second)
	}
	if len(fake.deals) != 1 {
		t.Fatalf("expected exactly one deal, got %d", len(fake.deals))
	}
	if got := asFloat(fake.deals[first]["OPPORTUNITY"]); got != 175.00 {
		t.Fatalf("expected second call to update the amount, got %v", got)
	}
	if fake.callCount("crm.deal.add") != 1 {
		t.Fatalf("expected one create, got %d", fake.callCount("crm.deal.add"))
	}
	if fake.callCount("crm.deal.update") != 1 {
		t.Fatalf("expected one update, got %d", fake.callCount("crm.deal.update"))
	}
}

func TestContactIdentityPrecedence(t *testing.T) {
	fake := newFakeCRM()
	client := newTestClient(t, fake)
	ctx := context.Background()

	existing, err := client.UpsertContact(ctx, ContactProfile{
		FirstName: "Ana", LastName: "Souza", Email: "a@x.com",
	})
	if err != nil {
		t.Fatalf("seed contact failed: %v", err)
	}

	resolved, err := client.UpsertContact(ctx, ContactProfile{
		FirstName: "Ana", LastName: "Souza", Email: "a@x.com", Phone: "+551199999999",
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	if resolved != existing {
		t.Fatalf("expected the existing contact to resolve, got %d want %d", resolved, existing)
	}
	if len(fake.contacts) != 1 {
		t.Fatalf("expected no duplicate contact, got %d", len(fake.contacts))
	}
	if !fieldMatches(fake.contacts[existing]["PHONE"], "+551199999999") {
		t.Fatalf("expected phone to be attached additively, fields: %v", fake.contacts[existing])
	}
}

func TestFindContactFallsBackToPhone(t *testing.T) {
	fake := newFakeCRM()
	client := newTestClient(t, fake)
	ctx := context.Background()

	seeded, err := client.UpsertContact(ctx, ContactProfile{FirstName: "Ana", Phone: "+5511988887777"})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	id, err := client.FindContactByIdentity(ctx, "unknown@x.com", "+5511988887777")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if id != seeded {
		t.Fatalf("expected phone fallback to find %d, got %d", seeded, id)
	}
}

func TestUpsertContactPlaceholderNames(t *testing.T) {
	fake := newFakeCRM()
	client := newTestClient(t, fake)

	id, err := client.UpsertContact(context.Background(), ContactProfile{Email: "anon@x.com"})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	fields := fake.contacts[id]
	if fields["NAME"] != "Cliente" || fields["LAST_NAME"] != "Shopify" {
		t.Fatalf("expected placeholder names, got %v", fields)
	}
}

func TestSetProductRowsEmptyIsNoop(t *testing.T) {
	fake := newFakeCRM()
	client := newTestClient(t, fake)
	ctx := context.Background()

	if err := client.SetProductRows(ctx, 42, nil); err != nil {
		t.Fatalf("empty rows should be a no-op, got %v", err)
	}
	if err := client.SetProductRows(ctx, 0, []ProductRow{{Name: "x", Price: 1, Quantity: 1}}); err != nil {
		t.Fatalf("missing deal id should be a no-op, got %v", err)
	}
	if n := fake.callCount("crm.deal.productrows.set"); n != 0 {
		t.Fatalf("expected no productrows calls, got %d", n)
	}

	if err := client.SetProductRows(ctx, 42, []ProductRow{{Name: "Curso X", Price: 150, Quantity: 1}}); err != nil {
		t.Fatalf("set rows failed: %v", err)
	}
	if len(fake.rows[42]) != 1 {
		t.Fatalf("expected one stored row, got %v", fake.rows[42])
	}
}

func TestCallRetriesTransientFailures(t *testing.T) {
	fake := newFakeCRM()
	fake.failures["crm.deal.list"] = 2
	client := newTestClient(t, fake)

	id, err := client.FindDealByExternalID(context.Background(), "1001")
	if err != nil {
		t.Fatalf("expected retries to absorb transient 500s, got %v", err)
	}
	if id != 0 {
		t.Fatalf("expected no deal, got %d", id)
	}
	if n := fake.callCount("crm.deal.list"); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestCallSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":             "ERROR_CORE",
			"error_description": "invalid filter",
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	_, err = client.FindDealByExternalID(context.Background(), "1001")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != "ERROR_CORE" || apiErr.Description != "invalid filter" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(ClientOptions{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}
