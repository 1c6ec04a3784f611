package mapper

import (
	"fmt"
	"strings"

	"github.com/SmartGR/shopify-bitrix/internal/shopify"
)

// Resolved carries values looked up before building the deal payload: the
// reconciled contact, payment-processor figures and the seller's CRM user id.
type Resolved struct {
	ContactID    int64
	PaidAmount   float64
	Interest     float64
	SellerName   string
	SellerUserID int64
	RegionID     string
}

// MapStage maps an order's financial status onto a pipeline stage.
// paid/partially_paid win the deal, refunded/voided lose it, anything else
// stays in the entry stage. A cancellation signal counts as lost, except that
// by default it does not demote an already-won order.
func (m *Mapping) MapStage(order shopify.Order) string {
	fs := strings.ToLower(strings.TrimSpace(order.FinancialStatus))
	stage := m.StageNew
	switch fs {
	case "paid", "partially_paid":
		stage = m.StageWon
	case "refunded", "voided":
		stage = m.StageLost
	}
	if order.CancelledAt != "" {
		if stage != m.StageWon || m.CancellationOverridesWon {
			stage = m.StageLost
		}
	}
	return stage
}

// ResolveRegionID normalizes a region code and looks it up in the option
// table. A miss returns "" so the field is omitted from the payload.
func (m *Mapping) ResolveRegionID(addr *shopify.Address) string {
	if addr == nil {
		return ""
	}
	code := addr.ProvinceCode
	if code == "" {
		code = addr.Province
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	return m.RegionMap[code]
}

// Opportunity applies the monetary precedence rule: a payment-processor
// reported paid amount wins only when it is strictly positive, otherwise the
// order's declared total stands.
func Opportunity(order shopify.Order, paidAmount float64) float64 {
	if paidAmount > 0 {
		return paidAmount
	}
	return order.Total()
}

// BuildDealFields assembles the deal payload. Pure: the same order and
// resolved context always produce the same field set, which is what keeps the
// deal upsert idempotent under webhook redelivery.
func (m *Mapping) BuildDealFields(order shopify.Order, rc Resolved) map[string]any {
	fields := map[string]any{
		"TITLE":           "Pedido Shopify " + order.DisplayName(),
		"CATEGORY_ID":     m.CategoryID,
		"STAGE_ID":        m.MapStage(order),
		"OPPORTUNITY":     Opportunity(order, rc.PaidAmount),
		"CURRENCY_ID":     currencyOrDefault(order.Currency),
		"COMMENTS":        commentsBlock(order),
		m.FieldExternalID: order.ExternalID(),
	}
	if rc.ContactID > 0 {
		fields["CONTACT_ID"] = rc.ContactID
	}
	addr := DealAddress(order)
	if addr != nil && addr.City != "" {
		fields[m.FieldCity] = addr.City
	}
	if rc.RegionID != "" {
		fields[m.FieldState] = rc.RegionID
	}
	if rc.SellerName != "" {
		fields[m.FieldSeller] = rc.SellerName
	}
	if rc.SellerUserID > 0 {
		fields["ASSIGNED_BY_ID"] = rc.SellerUserID
	}
	if rc.Interest > 0 {
		fields[m.FieldInterestPaid] = rc.Interest
	}
	if code := TrackingCode(order.Note); code != "" {
		fields[m.FieldTrackingCode] = code
	}
	return fields
}

func currencyOrDefault(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "BRL"
	}
	return currency
}

func commentsBlock(order shopify.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pedido Shopify %s\n", order.DisplayName())
	fmt.Fprintf(&b, "Status financeiro: %s\n", order.FinancialStatus)
	if order.FulfillmentStatus != "" {
		fmt.Fprintf(&b, "Status de entrega: %s\n", order.FulfillmentStatus)
	}
	for _, item := range order.LineItems {
		fmt.Fprintf(&b, "- %dx %s (%s)\n", item.Quantity, itemTitle(item), item.Price)
	}
	if note := strings.TrimSpace(order.Note); note != "" {
		fmt.Fprintf(&b, "Observação: %s\n", note)
	}
	return strings.TrimRight(b.String(), "\n")
}

func itemTitle(item shopify.LineItem) string {
	if item.Title != "" {
		return item.Title
	}
	if item.Name != "" {
		return item.Name
	}
	return "Produto Shopify"
}
