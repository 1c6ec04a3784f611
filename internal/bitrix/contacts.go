package bitrix

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// ContactProfile is the source-side view of a customer used to reconcile a
// CRM contact. Identity is email first, then phone; the CRM id is unknown
// until the contact exists.
type ContactProfile struct {
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Address    string
	City       string
	PostalCode string
	Province   string
}

type listRow struct {
	ID string `json:"ID"`
}

func (c *Client) findFirstID(ctx context.Context, method string, filter map[string]any) (int64, error) {
	env, err := c.call(ctx, method, map[string]any{
		"filter": filter,
		"select": []string{"ID"},
	})
	if err != nil {
		return 0, err
	}
	var rows []listRow
	if err := json.Unmarshal(env.Result, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return strconv.ParseInt(rows[0].ID, 10, 64)
}

// FindContactByIdentity returns the first contact matching the email, else
// the first matching the phone, else 0. It never disambiguates multiple
// matches.
func (c *Client) FindContactByIdentity(ctx context.Context, email, phone string) (int64, error) {
	email = strings.TrimSpace(email)
	phone = strings.TrimSpace(phone)
	if email != "" {
		id, err := c.findFirstID(ctx, "crm.contact.list", map[string]any{"EMAIL": email})
		if err != nil {
			return 0, err
		}
		if id > 0 {
			return id, nil
		}
	}
	if phone != "" {
		return c.findFirstID(ctx, "crm.contact.list", map[string]any{"PHONE": phone})
	}
	return 0, nil
}

func multiField(value, valueType string) []map[string]string {
	return []map[string]string{{"VALUE": value, "VALUE_TYPE": valueType}}
}

// UpsertContact reconciles a contact by identity. An existing contact gets
// its email/phone patched additively and keeps its id; otherwise a new
// contact is created with guaranteed non-empty name fields. Safe to call
// concurrently for the same identity from different correlation keys: a race
// can produce a duplicate contact, which is accepted.
func (c *Client) UpsertContact(ctx context.Context, p ContactProfile) (int64, error) {
	id, err := c.FindContactByIdentity(ctx, p.Email, p.Phone)
	if err != nil {
		return 0, err
	}
	if id > 0 {
		updateFields := map[string]any{}
		if p.Email != "" {
			updateFields["EMAIL"] = multiField(p.Email, "WORK")
		}
		if p.Phone != "" {
			updateFields["PHONE"] = multiField(p.Phone, "MOBILE")
		}
		if len(updateFields) > 0 {
			if _, err := c.call(ctx, "crm.contact.update", map[string]any{
				"id":     id,
				"fields": updateFields,
			}); err != nil {
				// The contact still resolves; a failed patch self-heals on
				// the next delivery.
				c.logger.Warn("contact update failed", "contact_id", id, "error", err)
			}
		}
		return id, nil
	}

	firstName := strings.TrimSpace(p.FirstName)
	if firstName == "" {
		firstName = "Cliente"
	}
	lastName := strings.TrimSpace(p.LastName)
	if lastName == "" {
		lastName = "Shopify"
	}
	fields := map[string]any{
		"NAME":      firstName,
		"LAST_NAME": lastName,
		"OPENED":    "Y",
		"TYPE_ID":   "CLIENT",
	}
	if p.Email != "" {
		fields["EMAIL"] = multiField(p.Email, "WORK")
	}
	if p.Phone != "" {
		fields["PHONE"] = multiField(p.Phone, "MOBILE")
	}
	if p.Address != "" {
		fields["ADDRESS"] = p.Address
	}
	if p.City != "" {
		fields["ADDRESS_CITY"] = p.City
	}
	if p.PostalCode != "" {
		fields["ADDRESS_POSTAL_CODE"] = p.PostalCode
	}
	if p.Province != "" {
		fields["ADDRESS_PROVINCE"] = p.Province
	}
	env, err := c.call(ctx, "crm.contact.add", map[string]any{"fields": fields})
	if err != nil {
		return 0, err
	}
	return parseID(env.Result)
}

// UpdateLoyaltyBalance patches the loyalty balance custom field on a contact.
// Errors propagate: there is no fallback identity to retry under.
func (c *Client) UpdateLoyaltyBalance(ctx context.Context, contactID int64, balance float64, expirationNote string) error {
	fields := map[string]any{
		c.loyaltyField: balance,
	}
	if note := strings.TrimSpace(expirationNote); note != "" {
		fields["COMMENTS"] = note
	}
	_, err := c.call(ctx, "crm.contact.update", map[string]any{
		"id":     contactID,
		"fields": fields,
	})
	return err
}
