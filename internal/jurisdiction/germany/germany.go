// Package germany implements ZUGFeRD for business buyers and XRechnung for
// public buyers addressed by a Leitweg-ID.
package germany

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/cii"
	"github.com/rezonia/einvoicing/internal/fiscal"
	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/hybrid"
	"github.com/rezonia/einvoicing/internal/jurisdiction"
	"github.com/rezonia/einvoicing/internal/model"
	"github.com/rezonia/einvoicing/internal/transport"
)

// PEPPOL billing process required by XRechnung
const billingProcess = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"

var (
	leitwegPattern = regexp.MustCompile(`^[0-9-]+$`)
	plzPattern     = regexp.MustCompile(`^[0-9]{5}$`)
)

// ValidLeitwegID reports whether id looks like a Leitweg-ID
func ValidLeitwegID(id string) bool {
	return len(id) >= 10 && leitwegPattern.MatchString(id)
}

// Strategy is the German jurisdiction
type Strategy struct {
	*jurisdiction.Base

	profile   model.Profile
	basePDF   []byte
	embedder  *hybrid.Embedder
	xrechnung gateway.Channel
	direct    gateway.Channel
}

type options struct {
	profile   model.Profile
	basePDF   []byte
	embedder  *hybrid.Embedder
	xrechnung gateway.Channel
	direct    gateway.Channel
	fiscal    *fiscal.Table
	logger    *zerolog.Logger
}

// Option configures the German strategy
type Option func(*options)

// WithProfile sets the B2B profile used when the invoice does not name one
func WithProfile(p model.Profile) Option {
	return func(o *options) { o.profile = p }
}

// WithBasePDF makes B2B documents ZUGFeRD hybrids built on pdf
func WithBasePDF(pdf []byte) Option {
	return func(o *options) { o.basePDF = pdf }
}

// WithXRechnung sets the B2G channel
func WithXRechnung(ch gateway.Channel) Option {
	return func(o *options) { o.xrechnung = ch }
}

// WithDirect sets the B2B channel
func WithDirect(ch gateway.Channel) Option {
	return func(o *options) { o.direct = ch }
}

// WithFiscal sets the fiscal reference table
func WithFiscal(t *fiscal.Table) Option {
	return func(o *options) { o.fiscal = t }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// New creates the German strategy submitting through gw
func New(gw *gateway.Gateway, opts ...Option) (*Strategy, error) {
	o := options{profile: model.ProfileEN16931}
	for _, opt := range opts {
		opt(&o)
	}
	if o.xrechnung == nil {
		o.xrechnung = NewXRechnungChannel(XRechnungConfig{})
	}
	if o.direct == nil {
		o.direct = transport.NewDirectChannel(model.CountryGermany, nil)
	}
	if o.basePDF != nil && o.embedder == nil {
		o.embedder = hybrid.NewEmbedder()
	}

	s := &Strategy{
		profile:   o.profile,
		basePDF:   o.basePDF,
		embedder:  o.embedder,
		xrechnung: o.xrechnung,
		direct:    o.direct,
	}
	base, err := jurisdiction.NewBase(jurisdiction.Config{
		Country:  model.CountryGermany,
		Fiscal:   o.fiscal,
		Gateway:  gw,
		Channels: []gateway.Channel{o.xrechnung, o.direct},
		Logger:   o.logger,
	}, jurisdiction.Hooks{
		ValidateCountrySpecific: s.validateCountrySpecific,
		Render:                  s.render,
		Route:                   s.route,
	})
	if err != nil {
		return nil, err
	}
	s.Base = base
	return s, nil
}

// ProfileFor returns XRECHNUNG for public buyers, else the configured profile
func (s *Strategy) ProfileFor(inv *model.EInvoice) model.Profile {
	cfg := inv.CountryConfig().Germany
	if cfg.B2G() {
		return model.ProfileXRechnung
	}
	if cfg != nil && cfg.Profile != "" {
		return cfg.Profile
	}
	return s.profile
}

func (s *Strategy) validateCountrySpecific(inv *model.EInvoice) *model.ValidationResult {
	res := model.NewValidationResult()

	seller := inv.Seller()
	if strings.EqualFold(seller.Address.Country, "DE") && seller.Address.PostalCode != "" &&
		!plzPattern.MatchString(seller.Address.PostalCode) {
		res.AddError(model.NewValidationError("seller.address.postalCode", seller.Address.PostalCode, "postal_code_format",
			"German postal codes (PLZ) have 5 digits"))
	}

	cfg := inv.CountryConfig().Germany
	if cfg == nil {
		return res
	}
	if cfg.Profile != "" && !cfg.Profile.Valid() {
		res.AddError(model.NewValidationError("countryConfig.germany.profile", string(cfg.Profile), "profile_not_supported",
			"unknown profile"))
	}
	if cfg.LeitwegID != "" && !ValidLeitwegID(cfg.LeitwegID) {
		res.AddError(model.NewValidationError("countryConfig.germany.leitwegId", cfg.LeitwegID, "leitweg_id_format",
			"Leitweg-ID must be digits and dashes, at least 10 characters"))
	}
	if cfg.B2G() && inv.BankAccount() == "" {
		res.AddWarning("XRechnung invoices usually carry the payee IBAN")
	}
	return res
}

func (s *Strategy) render(inv *model.EInvoice) (*model.Document, error) {
	cfg := inv.CountryConfig().Germany
	profile := s.ProfileFor(inv)

	opts := cii.Options{
		Profile:          profile,
		PaymentMeansCode: "30",
	}
	if inv.BankAccount() != "" {
		// SEPA credit transfer
		opts.PaymentMeansCode = "58"
	}
	if cfg != nil {
		opts.BuyerReference = cfg.BuyerReference
	}
	if cfg.B2G() {
		opts.BuyerReference = cfg.LeitwegID
		opts.BusinessProcess = billingProcess
	}

	xml, err := cii.Build(inv, opts)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		Country:   model.CountryGermany,
		Profile:   profile,
		Format:    model.FormatXML,
		MediaType: "application/xml",
		FileName:  hybrid.FacturXName,
		Content:   xml,
		XML:       xml,
	}
	if cfg.B2G() {
		doc.FileName = hybrid.XRechnungName
		return doc, nil
	}
	if s.basePDF == nil {
		return doc, nil
	}

	pdf, err := s.embedder.Embed(s.basePDF, xml, hybrid.FacturXName)
	if err != nil {
		return nil, err
	}
	doc.Format = model.FormatPDF
	doc.MediaType = "application/pdf"
	doc.FileName = inv.Number() + ".pdf"
	doc.Content = pdf
	return doc, nil
}

func (s *Strategy) route(inv *model.EInvoice) gateway.Channel {
	if inv.CountryConfig().Germany.B2G() {
		return s.xrechnung
	}
	return s.direct
}

var _ jurisdiction.Strategy = (*Strategy)(nil)
