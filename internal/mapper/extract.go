package mapper

import (
	"strings"

	"github.com/SmartGR/shopify-bitrix/internal/shopify"
)

// The storefront scatters near-synonymous fields across the payload (a phone
// can live in one of five places). Each scavenge is an explicit ordered list
// of extractors applied until one yields a non-empty value, so the precedence
// is testable on its own.

type extractor func(shopify.Order) string

func firstNonEmpty(order shopify.Order, extractors []extractor) string {
	for _, ex := range extractors {
		if v := strings.TrimSpace(ex(order)); v != "" {
			return v
		}
	}
	return ""
}

var phoneExtractors = []extractor{
	func(o shopify.Order) string { return o.Customer.Phone },
	func(o shopify.Order) string { return addressPhone(o.Customer.DefaultAddress) },
	func(o shopify.Order) string { return addressPhone(o.ShippingAddress) },
	func(o shopify.Order) string { return addressPhone(o.BillingAddress) },
	func(o shopify.Order) string { return o.Phone },
}

var documentExtractors = []extractor{
	func(o shopify.Order) string { return o.NoteAttributeValue("cpf") },
	func(o shopify.Order) string { return o.NoteAttributeValue("document") },
	func(o shopify.Order) string { return o.Customer.Note },
}

var sellerExtractors = []extractor{
	func(o shopify.Order) string { return o.NoteAttributeValue("vendedor") },
	func(o shopify.Order) string { return o.NoteAttributeValue("seller") },
}

func addressPhone(addr *shopify.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Phone
}

// Phone returns the order's best phone number.
func Phone(order shopify.Order) string {
	return firstNonEmpty(order, phoneExtractors)
}

// Document returns the customer's document number as found in the payload,
// unnormalized.
func Document(order shopify.Order) string {
	return firstNonEmpty(order, documentExtractors)
}

// SellerName returns the affiliate/seller tag attached by the storefront.
func SellerName(order shopify.Order) string {
	return firstNonEmpty(order, sellerExtractors)
}

// DealAddress picks the address mirrored onto the deal: shipping first, then
// billing, then the customer's default address.
func DealAddress(order shopify.Order) *shopify.Address {
	switch {
	case order.ShippingAddress != nil:
		return order.ShippingAddress
	case order.BillingAddress != nil:
		return order.BillingAddress
	default:
		return order.Customer.DefaultAddress
	}
}

// TrackingCode extracts a carrier tracking code embedded in the order note as
// a "rastreio: <code>" line.
func TrackingCode(note string) string {
	for _, line := range strings.Split(note, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "rastreio:") {
			return strings.TrimSpace(line[len("rastreio:"):])
		}
	}
	return ""
}
