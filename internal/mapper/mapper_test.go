package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmartGR/shopify-bitrix/internal/shopify"
)

func TestMapStageTotality(t *testing.T) {
	m := Defaults()
	tests := []struct {
		status string
		want   string
	}{
		{"paid", m.StageWon},
		{"partially_paid", m.StageWon},
		{"PAID", m.StageWon},
		{"refunded", m.StageLost},
		{"voided", m.StageLost},
		{"pending", m.StageNew},
		{"authorized", m.StageNew},
		{"", m.StageNew},
		{"garbage-status", m.StageNew},
	}
	for _, tt := range tests {
		got := m.MapStage(shopify.Order{FinancialStatus: tt.status})
		assert.Equal(t, tt.want, got, "financial_status=%q", tt.status)
	}
}

func TestMapStageCancellation(t *testing.T) {
	m := Defaults()

	got := m.MapStage(shopify.Order{FinancialStatus: "pending", CancelledAt: "2026-08-01T10:00:00Z"})
	assert.Equal(t, m.StageLost, got, "cancelled unpaid order should be lost")

	got = m.MapStage(shopify.Order{FinancialStatus: "paid", CancelledAt: "2026-08-01T10:00:00Z"})
	assert.Equal(t, m.StageWon, got, "cancellation must not demote a won order by default")

	m.CancellationOverridesWon = true
	got = m.MapStage(shopify.Order{FinancialStatus: "paid", CancelledAt: "2026-08-01T10:00:00Z"})
	assert.Equal(t, m.StageLost, got, "policy flag flips the tie-break")
}

func TestResolveRegionID(t *testing.T) {
	m := Defaults()

	assert.Equal(t, "471", m.ResolveRegionID(&shopify.Address{ProvinceCode: "SP"}))
	assert.Equal(t, "459", m.ResolveRegionID(&shopify.Address{ProvinceCode: " rj "}))
	assert.Equal(t, "447", m.ResolveRegionID(&shopify.Address{Province: "MG"}))
	assert.Equal(t, "", m.ResolveRegionID(&shopify.Address{ProvinceCode: "ZZ"}))
	assert.Equal(t, "", m.ResolveRegionID(nil))
}

func TestOpportunityPrecedence(t *testing.T) {
	order := shopify.Order{TotalPrice: "150.00"}

	assert.Equal(t, 175.50, Opportunity(order, 175.50), "positive paid amount wins")
	assert.Equal(t, 150.00, Opportunity(order, 0), "zero paid amount falls back to the total")
	assert.Equal(t, 150.00, Opportunity(order, -1), "negative paid amount falls back to the total")
}

func sampleOrder() shopify.Order {
	return shopify.Order{
		ID:              1001,
		Name:            "#1001",
		FinancialStatus: "paid",
		TotalPrice:      "150.00",
		Currency:        "BRL",
		Customer: shopify.Customer{
			FirstName: "Ana",
			LastName:  "Souza",
			Email:     "ana@example.com",
		},
		ShippingAddress: &shopify.Address{
			Address1:     "Rua A, 10",
			City:         "São Paulo",
			ProvinceCode: "SP",
			Zip:          "01000-000",
		},
		LineItems: []shopify.LineItem{
			{Title: "Curso X", Quantity: 1, Price: "150.00", ProductID: 77},
		},
	}
}

func TestBuildDealFieldsDeterministic(t *testing.T) {
	m := Defaults()
	order := sampleOrder()
	rc := Resolved{ContactID: 9, PaidAmount: 155.25, Interest: 5.25, SellerName: "Joao Lima", SellerUserID: 3, RegionID: "471"}

	first := m.BuildDealFields(order, rc)
	second := m.BuildDealFields(order, rc)
	require.Equal(t, first, second, "same input must produce the same field set")

	assert.Equal(t, "Pedido Shopify #1001", first["TITLE"])
	assert.Equal(t, m.StageWon, first["STAGE_ID"])
	assert.Equal(t, 7, first["CATEGORY_ID"])
	assert.Equal(t, 155.25, first["OPPORTUNITY"])
	assert.Equal(t, "BRL", first["CURRENCY_ID"])
	assert.Equal(t, "1001", first[m.FieldExternalID])
	assert.Equal(t, int64(9), first["CONTACT_ID"])
	assert.Equal(t, "São Paulo", first[m.FieldCity])
	assert.Equal(t, "471", first[m.FieldState])
	assert.Equal(t, "Joao Lima", first[m.FieldSeller])
	assert.Equal(t, int64(3), first["ASSIGNED_BY_ID"])
	assert.Equal(t, 5.25, first[m.FieldInterestPaid])
}

func TestBuildDealFieldsOmitsUnresolved(t *testing.T) {
	m := Defaults()
	order := sampleOrder()
	order.ShippingAddress.ProvinceCode = "ZZ"

	fields := m.BuildDealFields(order, Resolved{})

	assert.NotContains(t, fields, m.FieldState, "unknown region code omits the field")
	assert.NotContains(t, fields, "CONTACT_ID")
	assert.NotContains(t, fields, "ASSIGNED_BY_ID")
	assert.NotContains(t, fields, m.FieldSeller)
	assert.NotContains(t, fields, m.FieldInterestPaid)
	assert.Equal(t, 150.00, fields["OPPORTUNITY"])
}

func TestPhonePrecedence(t *testing.T) {
	order := shopify.Order{
		Phone: "+55 11 5555-0000",
		Customer: shopify.Customer{
			DefaultAddress: &shopify.Address{Phone: "+55 11 4444-0000"},
		},
		BillingAddress:  &shopify.Address{Phone: "+55 11 3333-0000"},
		ShippingAddress: &shopify.Address{Phone: "+55 11 2222-0000"},
	}

	assert.Equal(t, "+55 11 4444-0000", Phone(order), "default address beats shipping/billing/order")

	order.Customer.Phone = "+55 11 99999-0000"
	assert.Equal(t, "+55 11 99999-0000", Phone(order), "customer phone wins when present")

	assert.Equal(t, "", Phone(shopify.Order{}))
}

func TestSellerAndDocumentExtraction(t *testing.T) {
	order := shopify.Order{
		NoteAttributes: []shopify.NoteAttribute{
			{Name: "Vendedor", Value: " Joao Lima "},
			{Name: "cpf", Value: "123.456.789-00"},
		},
	}
	assert.Equal(t, "Joao Lima", SellerName(order))
	assert.Equal(t, "123.456.789-00", Document(order))
	assert.Equal(t, "", SellerName(shopify.Order{}))
}

func TestTrackingCode(t *testing.T) {
	assert.Equal(t, "BR123456789", TrackingCode("Entrega expressa\nRastreio: BR123456789"))
	assert.Equal(t, "BR123456789", TrackingCode("RASTREIO:BR123456789"))
	assert.Equal(t, "", TrackingCode("sem codigo"))
	assert.Equal(t, "", TrackingCode(""))
}

func TestDealAddressPreference(t *testing.T) {
	shipping := &shopify.Address{City: "Campinas"}
	billing := &shopify.Address{City: "Santos"}
	fallback := &shopify.Address{City: "Recife"}

	order := shopify.Order{ShippingAddress: shipping, BillingAddress: billing}
	assert.Same(t, shipping, DealAddress(order))

	order.ShippingAddress = nil
	assert.Same(t, billing, DealAddress(order))

	order.BillingAddress = nil
	order.Customer.DefaultAddress = fallback
	assert.Same(t, fallback, DealAddress(order))

	assert.Nil(t, DealAddress(shopify.Order{}))
}
