// Package spain implements Verifactu reporting through the AEAT SII web
// service.
package spain

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	money "github.com/rezonia/einvoicing/internal/decimal"
	"github.com/rezonia/einvoicing/internal/fiscal"
	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/jurisdiction"
	"github.com/rezonia/einvoicing/internal/model"
)

const maxNumberLength = 60

// SIIName is the file name of generated SII documents
const SIIName = "sii.xml"

// Signer signs the SOAP envelope before submission
type Signer interface {
	Sign(xml []byte) ([]byte, error)
}

// Strategy is the Spanish jurisdiction
type Strategy struct {
	*jurisdiction.Base

	table   *fiscal.Table
	channel gateway.Channel
	signer  Signer
	now     func() time.Time
}

type options struct {
	channel gateway.Channel
	signer  Signer
	fiscal  *fiscal.Table
	logger  *zerolog.Logger
	now     func() time.Time
}

// Option configures the Spanish strategy
type Option func(*options)

// WithChannel sets the AEAT channel
func WithChannel(ch gateway.Channel) Option {
	return func(o *options) { o.channel = ch }
}

// WithSigner signs generated envelopes
func WithSigner(s Signer) Option {
	return func(o *options) { o.signer = s }
}

// WithFiscal sets the fiscal reference table
func WithFiscal(t *fiscal.Table) Option {
	return func(o *options) { o.fiscal = t }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// WithClock sets the clock used for the issue date check
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates the Spanish strategy submitting through gw
func New(gw *gateway.Gateway, opts ...Option) (*Strategy, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fiscal == nil {
		o.fiscal = fiscal.Default()
	}
	if o.channel == nil {
		o.channel = NewAEATChannel(AEATConfig{Logger: o.logger})
	}

	s := &Strategy{
		table:   o.fiscal,
		channel: o.channel,
		signer:  o.signer,
		now:     o.now,
	}
	base, err := jurisdiction.NewBase(jurisdiction.Config{
		Country:  model.CountrySpain,
		Fiscal:   o.fiscal,
		Gateway:  gw,
		Channels: []gateway.Channel{o.channel},
		Logger:   o.logger,
	}, jurisdiction.Hooks{
		ValidateCountrySpecific: s.validateCountrySpecific,
		Render:                  s.render,
		Route:                   func(*model.EInvoice) gateway.Channel { return s.channel },
	})
	if err != nil {
		return nil, err
	}
	s.Base = base
	return s, nil
}

func (s *Strategy) validateCountrySpecific(inv *model.EInvoice) *model.ValidationResult {
	res := model.NewValidationResult()

	// identifiers failing the generic pattern are already reported
	seller := inv.Seller()
	if s.patternMatches(seller.TaxID) && !ValidNIF(seller.TaxID) {
		res.AddError(model.NewValidationError("seller.taxId", seller.TaxID, "nif_format",
			"seller NIF/NIE/CIF control character is wrong"))
	}
	buyer := inv.Buyer()
	buyerCountry := strings.ToUpper(buyer.Address.Country)
	if buyer.TaxID != "" && (buyerCountry == "" || buyerCountry == string(model.CountrySpain)) &&
		s.patternMatches(buyer.TaxID) && !ValidNIF(buyer.TaxID) {
		res.AddError(model.NewValidationError("buyer.taxId", buyer.TaxID, "nif_format",
			"buyer NIF/NIE/CIF control character is wrong"))
	}

	if n := len([]rune(inv.Number())); n > maxNumberLength {
		res.AddError(model.NewValidationError("number", inv.Number(), "invoice_number_length",
			fmt.Sprintf("invoice number exceeds %d characters", maxNumberLength)))
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	if inv.IssueDate().UTC().After(today.Add(24*time.Hour - time.Nanosecond)) {
		res.AddError(model.NewValidationError("issueDate", inv.IssueDate().Format("2006-01-02"), "issue_date_future",
			"issue date is in the future"))
	}

	typ := InvoiceType(inv)
	if !invoiceTypes[typ] {
		res.AddError(model.NewValidationError("countryConfig.spain.invoiceType", typ, "invoice_type",
			"invoice type must be F1, F2, F3 or R1 to R5"))
	}

	docType := inv.DocumentType()
	corrective := IsRectification(typ) || docType == model.DocumentTypeCreditNote || docType == model.DocumentTypeCorrected
	if !corrective && !money.IsPositive(inv.Total()) {
		res.AddError(model.NewValidationError("total", inv.Total().String(), "total_not_positive",
			"invoice total must be greater than zero"))
	}

	if IsRectification(typ) {
		if inv.Corrects() == nil {
			res.AddError(model.NewValidationError("corrects", nil, "rectification_reference",
				"rectifying invoices must reference the invoice they correct"))
		}
		if docType != model.DocumentTypeCorrected && docType != model.DocumentTypeCreditNote {
			res.AddError(model.NewValidationError("documentType", string(docType), "rectification_reference",
				"rectifying invoices must be corrected invoices or credit notes"))
		}
	}

	if inv.Buyer().Email == "" {
		res.AddWarning("including the buyer email is recommended")
	}
	return res
}

func (s *Strategy) patternMatches(id string) bool {
	if id == "" {
		return false
	}
	ok, err := s.table.ValidateFiscalID(id, string(model.CountrySpain))
	return err == nil && ok
}

func (s *Strategy) render(inv *model.EInvoice) (*model.Document, error) {
	xml, err := BuildSII(inv)
	if err != nil {
		return nil, err
	}
	if s.signer != nil {
		if xml, err = s.signer.Sign(xml); err != nil {
			return nil, fmt.Errorf("sign SII envelope: %w", err)
		}
	}
	return &model.Document{
		Country:   model.CountrySpain,
		Format:    model.FormatXML,
		MediaType: "text/xml",
		FileName:  SIIName,
		Content:   xml,
		XML:       xml,
	}, nil
}

var _ jurisdiction.Strategy = (*Strategy)(nil)
