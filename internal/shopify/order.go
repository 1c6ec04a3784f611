package shopify

import (
	"strconv"
	"strings"
)

// Order is the webhook payload shape for orders/* topics. Only the fields the
// relay reads are declared; everything else in the payload is ignored.
type Order struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	FinancialStatus   string          `json:"financial_status"`
	FulfillmentStatus string          `json:"fulfillment_status"`
	CancelledAt       string          `json:"cancelled_at"`
	TotalPrice        string          `json:"total_price"`
	Currency          string          `json:"currency"`
	Note              string          `json:"note"`
	Phone             string          `json:"phone"`
	Customer          Customer        `json:"customer"`
	BillingAddress    *Address        `json:"billing_address"`
	ShippingAddress   *Address        `json:"shipping_address"`
	LineItems         []LineItem      `json:"line_items"`
	NoteAttributes    []NoteAttribute `json:"note_attributes"`
}

type Customer struct {
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone"`
	Note           string   `json:"note"`
	DefaultAddress *Address `json:"default_address"`
}

type Address struct {
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	Province     string `json:"province"`
	ProvinceCode string `json:"province_code"`
	Zip          string `json:"zip"`
	CountryCode  string `json:"country_code"`
	Phone        string `json:"phone"`
}

type LineItem struct {
	Title     string `json:"title"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
	ProductID int64  `json:"product_id"`
}

type NoteAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ExternalID is the stable source order identifier the relay keys on.
func (o Order) ExternalID() string {
	if o.ID != 0 {
		return strconv.FormatInt(o.ID, 10)
	}
	return strings.TrimPrefix(strings.TrimSpace(o.Name), "#")
}

// Total parses the declared order total. Shopify sends monetary values as
// decimal strings.
func (o Order) Total() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(o.TotalPrice), 64)
	if err != nil {
		return 0
	}
	return v
}

// NoteAttributeValue returns the value of the first note attribute whose name
// matches case-insensitively, or "".
func (o Order) NoteAttributeValue(name string) string {
	for _, attr := range o.NoteAttributes {
		if strings.EqualFold(strings.TrimSpace(attr.Name), name) {
			return strings.TrimSpace(attr.Value)
		}
	}
	return ""
}

// DisplayName returns a human-readable order reference, preferring the
// storefront name ("#1001") over the numeric id.
func (o Order) DisplayName() string {
	if name := strings.TrimSpace(o.Name); name != "" {
		return name
	}
	return o.ExternalID()
}
