package jurisdiction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	money "github.com/rezonia/einvoicing/internal/decimal"
	"github.com/rezonia/einvoicing/internal/fiscal"
	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/model"
)

// Hooks are the country-specific steps of the Base template
type Hooks struct {
	// ValidateCountrySpecific checks rules the generic set does not cover
	ValidateCountrySpecific func(inv *model.EInvoice) *model.ValidationResult
	// Render produces the document of a valid invoice
	Render func(inv *model.EInvoice) (*model.Document, error)
	// Route picks the channel the invoice is submitted to
	Route func(inv *model.EInvoice) gateway.Channel
}

// Config configures a Base
type Config struct {
	Country model.Country
	Fiscal  *fiscal.Table
	Gateway *gateway.Gateway
	// Channels are the channels Route can return, used to poll statuses
	Channels []gateway.Channel
	Logger   *zerolog.Logger
}

// Base implements Strategy on top of Hooks. Country strategies embed it.
type Base struct {
	country  model.Country
	fiscal   fiscal.CountryFiscalConfig
	table    *fiscal.Table
	gateway  *gateway.Gateway
	channels map[string]gateway.Channel
	hooks    Hooks
	logger   zerolog.Logger
}

// NewBase creates the template for one country
func NewBase(cfg Config, hooks Hooks) (*Base, error) {
	if !cfg.Country.Valid() {
		return nil, model.NewUnsupportedJurisdictionError(string(cfg.Country))
	}
	if hooks.Render == nil || hooks.Route == nil {
		return nil, fmt.Errorf("%s: render and route hooks are required", cfg.Country)
	}
	if cfg.Fiscal == nil {
		cfg.Fiscal = fiscal.Default()
	}
	if cfg.Gateway == nil {
		cfg.Gateway = gateway.New(gateway.Config{})
	}

	fc, err := cfg.Fiscal.Config(string(cfg.Country))
	if err != nil {
		return nil, err
	}

	b := &Base{
		country:  cfg.Country,
		fiscal:   fc,
		table:    cfg.Fiscal,
		gateway:  cfg.Gateway,
		channels: make(map[string]gateway.Channel, len(cfg.Channels)),
		hooks:    hooks,
		logger:   logger.WithComponent("jurisdiction").With().Str("country", string(cfg.Country)).Logger(),
	}
	if cfg.Logger != nil {
		b.logger = *cfg.Logger
	}
	for _, ch := range cfg.Channels {
		if ch != nil {
			b.channels[ch.Name()] = ch
		}
	}
	return b, nil
}

// Country returns the jurisdiction served
func (b *Base) Country() model.Country {
	return b.country
}

// FiscalConfig returns the country's reference data
func (b *Base) FiscalConfig() fiscal.CountryFiscalConfig {
	fc, _ := b.table.Config(string(b.country))
	return fc
}

// Gateway returns the submission gateway
func (b *Base) Gateway() *gateway.Gateway {
	return b.gateway
}

// Validate runs the generic checks, then the country's own
func (b *Base) Validate(inv *model.EInvoice) *model.ValidationResult {
	res := b.validateGeneric(inv)
	if b.hooks.ValidateCountrySpecific != nil {
		res.Merge(b.hooks.ValidateCountrySpecific(inv))
	}
	return res
}

// GenerateDocument renders a valid invoice; invalid invoices produce no document
func (b *Base) GenerateDocument(inv *model.EInvoice) (*model.Document, error) {
	if res := b.Validate(inv); !res.Valid {
		return nil, res.Err()
	}
	return b.render(inv)
}

func (b *Base) render(inv *model.EInvoice) (*model.Document, error) {
	doc, err := b.hooks.Render(inv)
	if err != nil {
		return nil, fmt.Errorf("generate %s document: %w", b.country, err)
	}
	return doc, nil
}

// Send validates, generates and submits the invoice through the routed channel
func (b *Base) Send(ctx context.Context, inv *model.EInvoice, opts ...SendOption) model.SendResult {
	o := sendOptions{tenant: inv.TenantID()}
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.WithInvoice(b.logger, inv.ID(), string(b.country))

	res := b.Validate(inv)
	if !res.Valid {
		log.Warn().Strs("errors", res.Messages).Msg("invoice failed validation")
		out := model.FailedSend(inv.ID(), res.Err())
		out.Status = inv.Status()
		return out
	}
	inv.Lifecycle().CompareAndSwap(model.StatusDraft, model.StatusValidated, "validated")

	doc, err := b.render(inv)
	if err != nil {
		log.Error().Err(err).Msg("document generation failed")
		out := model.FailedSend(inv.ID(), err)
		out.ErrorCode = model.ErrCodeGeneration
		out.Status = inv.Status()
		return out
	}
	inv.Lifecycle().CompareAndSwap(model.StatusValidated, model.StatusGenerated, "document generated")

	ch := b.hooks.Route(inv)
	if ch == nil {
		return model.FailedSend(inv.ID(), model.NewTransportError(model.TransportMisconfigured, "",
			fmt.Sprintf("no channel configured for %s", b.country), nil))
	}

	return b.gateway.Send(ctx, gateway.SendRequest{
		Country:  b.country,
		Invoice:  inv,
		Document: doc,
		Hash:     Hash(doc),
		Channel:  ch,
		Resend:   o.resend,
		TenantID: o.tenant,
	})
}

// GetStatus polls the channel that acknowledged the invoice, falling back to the ledger
func (b *Base) GetStatus(ctx context.Context, invoiceID string) (model.Status, error) {
	var ch gateway.Channel
	rec, err := b.gateway.Store().Get(ctx, invoiceID)
	switch {
	case err == nil:
		ch = b.channels[rec.Channel]
	case !errors.Is(err, model.ErrNotFound):
		return "", err
	}
	return b.gateway.Status(ctx, invoiceID, ch)
}

func (b *Base) validateGeneric(inv *model.EInvoice) *model.ValidationResult {
	res := model.NewValidationResult()

	if inv.IssueDate().IsZero() {
		res.AddError(model.NewValidationError("issueDate", nil, "required", "issue date is required"))
	}
	seen := make(map[string]bool)
	for _, field := range append(genericRequired, b.fiscal.RequiredFields...) {
		if seen[field] {
			continue
		}
		seen[field] = true
		get, ok := fieldValues[field]
		if !ok {
			continue
		}
		if strings.TrimSpace(get(inv)) == "" {
			res.AddError(model.NewValidationError(field, nil, "required", field+" is required"))
		}
	}
	if len(inv.Lines()) == 0 {
		res.AddError(model.NewValidationError("lines", nil, "required", "at least one line is required"))
	}

	if cur := inv.Currency(); cur != "" && !strings.EqualFold(cur, b.fiscal.Currency) {
		res.AddWarning(fmt.Sprintf("currency %s differs from %s currency %s", cur, b.country, b.fiscal.Currency))
	}

	if id := inv.Seller().TaxID; strings.TrimSpace(id) != "" {
		b.checkFiscalID(res, "seller", id)
	}
	buyer := inv.Buyer()
	if strings.TrimSpace(buyer.TaxID) != "" && strings.EqualFold(buyer.Address.Country, string(b.country)) {
		b.checkFiscalID(res, "buyer", buyer.TaxID)
	}

	for i, line := range inv.Lines() {
		ok, err := b.table.IsAllowedRate(string(b.country), line.TaxRate)
		if err == nil && !ok {
			res.AddError(model.NewLineValidationError(i, "taxRate", money.FormatRate(line.TaxRate), "tax_rate_not_allowed",
				fmt.Sprintf("%s rate %s%% is not allowed in %s", b.fiscal.TaxName, money.FormatRate(line.TaxRate), b.country)))
		}
	}

	computed := model.ComputeTotals(inv.Lines())
	totals := inv.Totals()
	if !money.Reconciles(totals.Subtotal, computed.Subtotal) ||
		!money.Reconciles(totals.TaxAmount, computed.TaxAmount) ||
		!money.Reconciles(totals.Total, totals.Subtotal.Add(totals.TaxAmount)) {
		res.AddError(model.NewValidationError("total", totals.Total.StringFixed(2), "reconciliation",
			"totals do not reconcile with the invoice lines"))
	}

	return res
}

func (b *Base) checkFiscalID(res *model.ValidationResult, party, id string) {
	ok, err := b.table.ValidateFiscalID(id, string(b.country))
	if err != nil || ok {
		return
	}
	res.AddError(model.NewValidationError(party+".taxId", id, "fiscal_id_format",
		fmt.Sprintf("%s VAT number (%s) does not match the %s format", party, b.fiscal.FiscalIDName, b.country)))
}

var genericRequired = []string{
	"number",
	"currency",
	"seller.name",
	"seller.taxId",
	"seller.address.country",
	"buyer.name",
}

var fieldValues = map[string]func(*model.EInvoice) string{
	"number":                    func(e *model.EInvoice) string { return e.Number() },
	"currency":                  func(e *model.EInvoice) string { return e.Currency() },
	"seller.name":               func(e *model.EInvoice) string { return e.Seller().Name },
	"seller.taxId":              func(e *model.EInvoice) string { return e.Seller().TaxID },
	"seller.address.street":     func(e *model.EInvoice) string { return e.Seller().Address.Street },
	"seller.address.city":       func(e *model.EInvoice) string { return e.Seller().Address.City },
	"seller.address.postalCode": func(e *model.EInvoice) string { return e.Seller().Address.PostalCode },
	"seller.address.country":    func(e *model.EInvoice) string { return e.Seller().Address.Country },
	"buyer.name":                func(e *model.EInvoice) string { return e.Buyer().Name },
	"buyer.taxId":               func(e *model.EInvoice) string { return e.Buyer().TaxID },
	"buyer.address.city":        func(e *model.EInvoice) string { return e.Buyer().Address.City },
	"buyer.address.postalCode":  func(e *model.EInvoice) string { return e.Buyer().Address.PostalCode },
}
