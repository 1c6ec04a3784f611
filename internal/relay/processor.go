// Package relay turns one storefront event into the CRM calls that mirror
// it: contact reconciliation, deal upsert, product rows, enrollment.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/SmartGR/shopify-bitrix/internal/bitrix"
	"github.com/SmartGR/shopify-bitrix/internal/eduvem"
	"github.com/SmartGR/shopify-bitrix/internal/journal"
	"github.com/SmartGR/shopify-bitrix/internal/mapper"
	"github.com/SmartGR/shopify-bitrix/internal/metrics"
	"github.com/SmartGR/shopify-bitrix/internal/shopify"
)

// Directory is the CRM surface the processor reconciles against.
type Directory interface {
	UpsertContact(ctx context.Context, p bitrix.ContactProfile) (int64, error)
	FindContactByIdentity(ctx context.Context, email, phone string) (int64, error)
	UpsertDeal(ctx context.Context, externalID string, fields map[string]any) (int64, error)
	SetProductRows(ctx context.Context, dealID int64, rows []bitrix.ProductRow) error
	UpdateLoyaltyBalance(ctx context.Context, contactID int64, balance float64, expirationNote string) error
}

type NameResolver interface {
	ResolveUserIDByName(ctx context.Context, displayName string) (int64, error)
}

type EnumResolver interface {
	OptionID(ctx context.Context, fieldID, label string) (string, error)
}

// Source is the storefront read side: payment figures and product metadata.
type Source interface {
	OrderPaymentMeta(ctx context.Context, orderID int64) shopify.PaymentMeta
	ProductClassID(ctx context.Context, productID int64) (string, error)
}

type Enroller interface {
	Enroll(ctx context.Context, e eduvem.Enrollment) error
}

type Options struct {
	Directory Directory
	Users     NameResolver
	Enums     EnumResolver
	Source    Source
	Enroller  Enroller
	Mapping   *mapper.Table
	Journal   *journal.Journal
	Logger    *slog.Logger
	// CallTimeout bounds each remote call so a hung upstream stalls one
	// chain for a bounded time instead of forever.
	CallTimeout time.Duration
}

type Processor struct {
	directory   Directory
	users       NameResolver
	enums       EnumResolver
	source      Source
	enroller    Enroller
	mapping     *mapper.Table
	journal     *journal.Journal
	logger      *slog.Logger
	callTimeout time.Duration
}

func NewProcessor(opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Processor{
		directory:   opts.Directory,
		users:       opts.Users,
		enums:       opts.Enums,
		source:      opts.Source,
		enroller:    opts.Enroller,
		mapping:     opts.Mapping,
		journal:     opts.Journal,
		logger:      logger,
		callTimeout: callTimeout,
	}
}

func (p *Processor) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.callTimeout)
}

// ProcessOrder relays one order event. Runs inside the sequencer, so two
// deliveries for the same order never interleave. Failures are returned for
// the sequencer to log; partial completion self-heals on redelivery because
// contact and deal upserts are idempotent re-entry points.
func (p *Processor) ProcessOrder(ctx context.Context, entry journal.Entry, order shopify.Order) error {
	m := p.mapping.Current()
	logger := p.logger.With("order", order.DisplayName(), "delivery_id", entry.ID)

	meta := p.paymentMeta(ctx, order)

	contactID, err := p.upsertContact(ctx, order)
	if err != nil {
		// The deal can still be upserted without a contact linkage; the
		// linkage lands on the next delivery.
		logger.Warn("contact reconciliation failed", "error", err)
	}

	rc := mapper.Resolved{
		ContactID:  contactID,
		PaidAmount: meta.PaidAmount,
		Interest:   meta.Interest,
		SellerName: mapper.SellerName(order),
		RegionID:   p.regionID(ctx, m, order),
	}
	if rc.SellerName != "" && p.users != nil {
		callCtx, cancel := p.withCallTimeout(ctx)
		sellerID, err := p.users.ResolveUserIDByName(callCtx, rc.SellerName)
		cancel()
		if err != nil {
			logger.Warn("seller lookup failed", "seller", rc.SellerName, "error", err)
		} else if sellerID == 0 {
			logger.Warn("seller not found in CRM", "seller", rc.SellerName)
		}
		rc.SellerUserID = sellerID
	}

	fields := m.BuildDealFields(order, rc)
	callCtx, cancel := p.withCallTimeout(ctx)
	dealID, err := p.directory.UpsertDeal(callCtx, order.ExternalID(), fields)
	cancel()
	if err != nil {
		p.fail(ctx, entry, fmt.Errorf("deal upsert: %w", err))
		return fmt.Errorf("deal upsert: %w", err)
	}

	callCtx, cancel = p.withCallTimeout(ctx)
	err = p.directory.SetProductRows(callCtx, dealID, productRows(order))
	cancel()
	if err != nil {
		logger.Warn("product rows update failed", "deal_id", dealID, "error", err)
	}

	p.enroll(ctx, logger, order)

	metrics.DeliveriesProcessed.WithLabelValues("ok").Inc()
	p.journal.Complete(ctx, entry, journal.StatusCompleted, fmt.Sprintf("deal %d", dealID))
	logger.Info("order relayed", "deal_id", dealID, "contact_id", contactID)
	return nil
}

func (p *Processor) fail(ctx context.Context, entry journal.Entry, err error) {
	metrics.DeliveriesProcessed.WithLabelValues("failed").Inc()
	p.journal.Complete(ctx, entry, journal.StatusFailed, err.Error())
}

func (p *Processor) paymentMeta(ctx context.Context, order shopify.Order) shopify.PaymentMeta {
	if p.source == nil {
		return shopify.PaymentMeta{}
	}
	callCtx, cancel := p.withCallTimeout(ctx)
	defer cancel()
	return p.source.OrderPaymentMeta(callCtx, order.ID)
}

func (p *Processor) upsertContact(ctx context.Context, order shopify.Order) (int64, error) {
	profile := bitrix.ContactProfile{
		FirstName: order.Customer.FirstName,
		LastName:  order.Customer.LastName,
		Email:     strings.TrimSpace(order.Customer.Email),
		Phone:     mapper.Phone(order),
	}
	if addr := mapper.DealAddress(order); addr != nil {
		profile.Address = strings.TrimSpace(addr.Address1 + " " + addr.Address2)
		profile.City = addr.City
		profile.PostalCode = addr.Zip
		profile.Province = addr.ProvinceCode
	}
	callCtx, cancel := p.withCallTimeout(ctx)
	defer cancel()
	return p.directory.UpsertContact(callCtx, profile)
}

// regionID prefers the static table; when the code is absent there and a
// live enumeration resolver is wired, it falls back to the CRM's own field
// metadata. A miss either way omits the field.
func (p *Processor) regionID(ctx context.Context, m *mapper.Mapping, order shopify.Order) string {
	addr := mapper.DealAddress(order)
	if id := m.ResolveRegionID(addr); id != "" {
		return id
	}
	if p.enums == nil || addr == nil {
		return ""
	}
	code := addr.ProvinceCode
	if code == "" {
		code = addr.Province
	}
	callCtx, cancel := p.withCallTimeout(ctx)
	defer cancel()
	id, err := p.enums.OptionID(callCtx, m.FieldState, code)
	if err != nil {
		p.logger.Warn("region option lookup failed", "code", code, "error", err)
		return ""
	}
	return id
}

func (p *Processor) enroll(ctx context.Context, logger *slog.Logger, order shopify.Order) {
	if p.enroller == nil || p.source == nil {
		return
	}
	if !paidStatus(order.FinancialStatus) {
		return
	}
	email := strings.TrimSpace(order.Customer.Email)
	if email == "" {
		logger.Warn("skipping enrollment, order has no customer email")
		return
	}
	fullName := strings.TrimSpace(order.Customer.FirstName + " " + order.Customer.LastName)
	document := mapper.Document(order)

	for _, item := range order.LineItems {
		if item.ProductID == 0 {
			continue
		}
		callCtx, cancel := p.withCallTimeout(ctx)
		classID, err := p.source.ProductClassID(callCtx, item.ProductID)
		cancel()
		if err != nil {
			logger.Warn("product class lookup failed", "product_id", item.ProductID, "error", err)
			continue
		}
		if classID == "" {
			continue
		}
		callCtx, cancel = p.withCallTimeout(ctx)
		err = p.enroller.Enroll(callCtx, eduvem.Enrollment{
			CourseClassUUID: classID,
			FullName:        fullName,
			Email:           email,
			Document:        document,
		})
		cancel()
		if err != nil {
			logger.Warn("enrollment failed", "product_id", item.ProductID, "error", err)
		}
	}
}

func paidStatus(financialStatus string) bool {
	switch strings.ToLower(strings.TrimSpace(financialStatus)) {
	case "paid", "partially_paid":
		return true
	default:
		return false
	}
}

func productRows(order shopify.Order) []bitrix.ProductRow {
	rows := make([]bitrix.ProductRow, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		price, _ := strconv.ParseFloat(strings.TrimSpace(item.Price), 64)
		quantity := float64(item.Quantity)
		if quantity == 0 {
			quantity = 1
		}
		name := item.Title
		if name == "" {
			name = item.Name
		}
		if name == "" {
			name = "Produto Shopify"
		}
		rows = append(rows, bitrix.ProductRow{Name: name, Price: price, Quantity: quantity})
	}
	return rows
}

// LoyaltyEvent is the simpler event type: a balance change for a known
// customer, processed synchronously in the handler.
type LoyaltyEvent struct {
	Email          string  `json:"email"`
	Balance        float64 `json:"balance"`
	ExpirationNote string  `json:"expiration_note"`
}

// ProcessLoyalty patches the loyalty balance on the contact resolved by
// email. A missing email or unknown contact short-circuits with a warning;
// there is nothing to retry under.
func (p *Processor) ProcessLoyalty(ctx context.Context, ev LoyaltyEvent) error {
	email := strings.TrimSpace(ev.Email)
	if email == "" {
		p.logger.Warn("loyalty event without email, skipping")
		return nil
	}
	callCtx, cancel := p.withCallTimeout(ctx)
	contactID, err := p.directory.FindContactByIdentity(callCtx, email, "")
	cancel()
	if err != nil {
		return fmt.Errorf("loyalty contact lookup: %w", err)
	}
	if contactID == 0 {
		p.logger.Warn("loyalty event for unknown contact, skipping", "email", email)
		return nil
	}
	callCtx, cancel = p.withCallTimeout(ctx)
	defer cancel()
	if err := p.directory.UpdateLoyaltyBalance(callCtx, contactID, ev.Balance, ev.ExpirationNote); err != nil {
		return fmt.Errorf("loyalty balance update: %w", err)
	}
	p.logger.Info("loyalty balance updated", "contact_id", contactID, "balance", ev.Balance)
	return nil
}
