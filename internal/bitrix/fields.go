package bitrix

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// EnumCache lazily fetches deal-field metadata so enumeration custom fields
// defined live in the CRM can be resolved without a hardcoded table. The
// whole field map is fetched at once and kept for the TTL; concurrent
// refreshes may repeat the fetch, which is fine.
type EnumCache struct {
	client *Client
	ttl    time.Duration

	mu        sync.Mutex
	fetchedAt time.Time
	options   map[string]map[string]string // field id -> upper(label) -> option id
}

func NewEnumCache(client *Client, ttl time.Duration) *EnumCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &EnumCache{client: client, ttl: ttl}
}

type fieldMeta struct {
	Type  string `json:"type"`
	Items []struct {
		ID    json.RawMessage `json:"ID"`
		Value string          `json:"VALUE"`
	} `json:"items"`
}

// OptionID resolves an enumeration option id from its label, case
// insensitively. A miss returns "" without error so callers can fall back to
// the static region table or omit the field.
func (e *EnumCache) OptionID(ctx context.Context, fieldID, label string) (string, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if fieldID == "" || label == "" {
		return "", nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.options == nil || time.Since(e.fetchedAt) > e.ttl {
		if err := e.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	return e.options[fieldID][label], nil
}

func (e *EnumCache) refreshLocked(ctx context.Context) error {
	env, err := e.client.call(ctx, "crm.deal.fields", nil)
	if err != nil {
		return err
	}
	var fields map[string]fieldMeta
	if err := json.Unmarshal(env.Result, &fields); err != nil {
		return err
	}
	options := map[string]map[string]string{}
	for fieldID, meta := range fields {
		if meta.Type != "enumeration" || len(meta.Items) == 0 {
			continue
		}
		byLabel := make(map[string]string, len(meta.Items))
		for _, item := range meta.Items {
			id, err := parseID(item.ID)
			if err != nil {
				continue
			}
			byLabel[strings.ToUpper(strings.TrimSpace(item.Value))] = formatID(id)
		}
		options[fieldID] = byLabel
	}
	e.options = options
	e.fetchedAt = time.Now()
	return nil
}
