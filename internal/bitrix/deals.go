package bitrix

import (
	"context"
	"strings"
)

type ProductRow struct {
	Name     string  `json:"PRODUCT_NAME"`
	Price    float64 `json:"PRICE"`
	Quantity float64 `json:"QUANTITY"`
}

// FindDealByExternalID looks up a deal by the dedup custom field holding the
// source order id. Returns 0 when no deal carries that id yet.
func (c *Client) FindDealByExternalID(ctx context.Context, externalID string) (int64, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return 0, nil
	}
	return c.findFirstID(ctx, "crm.deal.list", map[string]any{c.externalIDField: externalID})
}

// UpsertDeal enforces at-most-one deal per external order id: it looks the id
// up first and updates in place when found, creating otherwise. Replays of
// the same order event converge to one deal.
func (c *Client) UpsertDeal(ctx context.Context, externalID string, fields map[string]any) (int64, error) {
	id, err := c.FindDealByExternalID(ctx, externalID)
	if err != nil {
		return 0, err
	}
	// The dedup key rides along on both paths so a deal created before the
	// field existed becomes findable after the next update.
	withKey := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		withKey[k] = v
	}
	withKey[c.externalIDField] = externalID

	if id > 0 {
		if _, err := c.call(ctx, "crm.deal.update", map[string]any{
			"id":     id,
			"fields": withKey,
		}); err != nil {
			return 0, err
		}
		return id, nil
	}

	env, err := c.call(ctx, "crm.deal.add", map[string]any{
		"fields": withKey,
		"params": map[string]string{"REGISTER_SONET_EVENT": "Y"},
	})
	if err != nil {
		return 0, err
	}
	return parseID(env.Result)
}

// SetProductRows replaces the full line-item set on a deal. Empty rows or a
// missing deal id is a logged no-op: the CRM treats an empty-rows update as
// "delete everything".
func (c *Client) SetProductRows(ctx context.Context, dealID int64, rows []ProductRow) error {
	if dealID == 0 || len(rows) == 0 {
		c.logger.Debug("skipping product rows update", "deal_id", dealID, "rows", len(rows))
		return nil
	}
	_, err := c.call(ctx, "crm.deal.productrows.set", map[string]any{
		"id":   dealID,
		"rows": rows,
	})
	return err
}
