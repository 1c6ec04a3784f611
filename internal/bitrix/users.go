package bitrix

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/SmartGR/shopify-bitrix/internal/cache"
)

const (
	userIndexCacheKey = "bitrix:users:index"
	// DefaultUserCacheTTL bounds how stale the user-directory snapshot may
	// get before the next lookup repopulates it.
	DefaultUserCacheTTL = 120 * time.Minute
)

// UserDirectory resolves CRM user ids from "First Last" display names. The
// whole directory is enumerated page by page and kept as one snapshot in the
// injected cache store; lookups normalize the name and hit the snapshot.
type UserDirectory struct {
	client *Client
	store  cache.Store
	ttl    time.Duration

	// Single-flight within this process; cross-process refresh races are
	// harmless, the snapshot write is last-writer-wins.
	mu sync.Mutex
}

func NewUserDirectory(client *Client, store cache.Store, ttl time.Duration) *UserDirectory {
	if ttl <= 0 {
		ttl = DefaultUserCacheTTL
	}
	return &UserDirectory{client: client, store: store, ttl: ttl}
}

type userRow struct {
	ID       json.RawMessage `json:"ID"`
	Name     string          `json:"NAME"`
	LastName string          `json:"LAST_NAME"`
}

// NormalizeDisplayName collapses whitespace and uppercases, matching how the
// index keys are built.
func NormalizeDisplayName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

// ResolveUserIDByName returns the CRM user id for a display name, or 0 when
// the name has no match. A cache miss or expired snapshot triggers a full
// repopulation before the lookup is retried once.
func (d *UserDirectory) ResolveUserIDByName(ctx context.Context, displayName string) (int64, error) {
	normalized := NormalizeDisplayName(displayName)
	if normalized == "" {
		return 0, nil
	}

	index, ok, err := d.loadIndex(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		if id, found := index[normalized]; found {
			return id, nil
		}
		return 0, nil
	}

	index, err = d.refresh(ctx)
	if err != nil {
		return 0, err
	}
	return index[normalized], nil
}

// Invalidate drops the snapshot so the next lookup refetches.
func (d *UserDirectory) Invalidate(ctx context.Context) error {
	return d.store.Delete(ctx, userIndexCacheKey)
}

func (d *UserDirectory) loadIndex(ctx context.Context) (map[string]int64, bool, error) {
	raw, ok, err := d.store.Get(ctx, userIndexCacheKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var index map[string]int64
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		// Corrupt snapshot, treat as a miss and rebuild.
		return nil, false, nil
	}
	return index, true, nil
}

func (d *UserDirectory) refresh(ctx context.Context) (map[string]int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Another goroutine may have refreshed while this one waited.
	if index, ok, err := d.loadIndex(ctx); err != nil {
		return nil, err
	} else if ok {
		return index, nil
	}

	index := map[string]int64{}
	start := 0
	for {
		env, err := d.client.call(ctx, "user.get", map[string]any{"start": start})
		if err != nil {
			return nil, err
		}
		var rows []userRow
		if err := json.Unmarshal(env.Result, &rows); err != nil {
			return nil, err
		}
		for _, row := range rows {
			name := NormalizeDisplayName(row.Name + " " + row.LastName)
			if name == "" {
				continue
			}
			id, err := parseID(row.ID)
			if err != nil {
				continue
			}
			index[name] = id
		}
		if env.Next == 0 {
			break
		}
		start = env.Next
	}

	encoded, err := json.Marshal(index)
	if err != nil {
		return nil, err
	}
	if err := d.store.Set(ctx, userIndexCacheKey, string(encoded), d.ttl); err != nil {
		return nil, err
	}
	d.client.logger.Info("user directory refreshed", "users", len(index))
	return index, nil
}
