// Package france implements Factur-X invoicing with Chorus Pro routing for
// public buyers.
package france

import (
	"fmt"
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

var (
	siretPattern      = regexp.MustCompile(`^[0-9]{14}$`)
	postalCodePattern = regexp.MustCompile(`^[0-9]{5}$`)
)

// maximum length of a Chorus Pro engagement number
const maxEngagementLength = 50

// Strategy is the French jurisdiction
type Strategy struct {
	*jurisdiction.Base

	profile  model.Profile
	basePDF  []byte
	embedder *hybrid.Embedder
	chorus   gateway.Channel
	direct   gateway.Channel
}

type options struct {
	profile  model.Profile
	basePDF  []byte
	embedder *hybrid.Embedder
	chorus   gateway.Channel
	direct   gateway.Channel
	fiscal   *fiscal.Table
	logger   *zerolog.Logger
}

// Option configures the French strategy
type Option func(*options)

// WithProfile sets the profile used when the invoice does not name one
func WithProfile(p model.Profile) Option {
	return func(o *options) { o.profile = p }
}

// WithBasePDF makes documents hybrid PDF/A-3 files built on pdf
func WithBasePDF(pdf []byte) Option {
	return func(o *options) { o.basePDF = pdf }
}

// WithEmbedder sets the hybrid PDF embedder
func WithEmbedder(e *hybrid.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithChorus sets the B2G channel
func WithChorus(ch gateway.Channel) Option {
	return func(o *options) { o.chorus = ch }
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

// New creates the French strategy submitting through gw
func New(gw *gateway.Gateway, opts ...Option) (*Strategy, error) {
	o := options{profile: model.ProfileEN16931}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.profile.Valid() || o.profile == model.ProfileXRechnung {
		return nil, fmt.Errorf("profile %q is not a Factur-X profile", o.profile)
	}
	if o.chorus == nil {
		o.chorus = NewChorusChannel(ChorusConfig{})
	}
	if o.direct == nil {
		o.direct = transport.NewDirectChannel(model.CountryFrance, nil)
	}
	if o.basePDF != nil && o.embedder == nil {
		o.embedder = hybrid.NewEmbedder()
	}

	s := &Strategy{
		profile:  o.profile,
		basePDF:  o.basePDF,
		embedder: o.embedder,
		chorus:   o.chorus,
		direct:   o.direct,
	}
	base, err := jurisdiction.NewBase(jurisdiction.Config{
		Country:  model.CountryFrance,
		Fiscal:   o.fiscal,
		Gateway:  gw,
		Channels: []gateway.Channel{o.chorus, o.direct},
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

// ProfileFor returns the profile an invoice is rendered with
func (s *Strategy) ProfileFor(inv *model.EInvoice) model.Profile {
	if cfg := inv.CountryConfig().France; cfg != nil && cfg.Profile != "" {
		return cfg.Profile
	}
	return s.profile
}

func (s *Strategy) validateCountrySpecific(inv *model.EInvoice) *model.ValidationResult {
	res := model.NewValidationResult()
	cfg := inv.CountryConfig().France
	profile := s.ProfileFor(inv)

	if !profile.Valid() || profile == model.ProfileXRechnung {
		res.AddError(model.NewValidationError("countryConfig.france.profile", string(profile), "profile_not_supported",
			"profile is not a Factur-X profile"))
	}

	seller := inv.Seller()
	if strings.EqualFold(seller.Address.Country, "FR") && seller.Address.PostalCode != "" &&
		!postalCodePattern.MatchString(seller.Address.PostalCode) {
		res.AddError(model.NewValidationError("seller.address.postalCode", seller.Address.PostalCode, "postal_code_format",
			"French postal codes have 5 digits"))
	}

	if iban := inv.BankAccount(); iban != "" {
		code := PaymentMeansCode(inv.PaymentMethod())
		if (code == PaymentCreditTransfer || code == "58") && !ValidIBAN(iban) {
			res.AddError(model.NewValidationError("bankAccount", iban, "iban_format", "bank account is not a valid IBAN"))
		}
	}

	if cfg == nil {
		return res
	}
	if cfg.SIRET != "" && !siretPattern.MatchString(cfg.SIRET) {
		res.AddError(model.NewValidationError("countryConfig.france.siret", cfg.SIRET, "siret_format",
			"SIRET must be exactly 14 digits"))
	}
	if len([]rune(cfg.EngagementNumber)) > maxEngagementLength {
		res.AddError(model.NewValidationError("countryConfig.france.engagementNumber", cfg.EngagementNumber,
			"engagement_number_length", fmt.Sprintf("engagement number exceeds %d characters", maxEngagementLength)))
	}

	if cfg.B2G() {
		if strings.TrimSpace(cfg.ServiceCode) == "" {
			res.AddError(model.NewValidationError("countryConfig.france.serviceCode", nil, "b2g_service_code",
				"Chorus Pro invoices to public buyers require a service code"))
		}
		if cfg.SIRET == "" {
			res.AddError(model.NewValidationError("countryConfig.france.siret", nil, "b2g_siret",
				"Chorus Pro invoices to public buyers require the seller SIRET"))
		}
		if profile == model.ProfileMinimum {
			res.AddError(model.NewValidationError("countryConfig.france.profile", string(profile), "b2g_profile",
				"the MINIMUM profile is not accepted by Chorus Pro"))
		}
	}
	return res
}

func (s *Strategy) render(inv *model.EInvoice) (*model.Document, error) {
	profile := s.ProfileFor(inv)
	opts := cii.Options{
		Profile:          profile,
		PaymentMeansCode: PaymentMeansCode(inv.PaymentMethod()),
		Category: func(l model.InvoiceLine) model.TaxCategory {
			return Category(l.TaxRate, l.TaxContext)
		},
	}
	if cfg := inv.CountryConfig().France; cfg != nil {
		opts.BuyerReference = cfg.ServiceCode
		opts.OrderReference = cfg.EngagementNumber
		if cfg.SIRET != "" {
			opts.SellerLegalID = cfg.SIRET
			opts.SellerLegalIDScheme = "0002"
		}
		if cfg.B2G() {
			opts.BusinessProcess = "A1"
		}
	}

	xml, err := cii.Build(inv, opts)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		Country:   model.CountryFrance,
		Profile:   profile,
		Format:    model.FormatXML,
		MediaType: "application/xml",
		FileName:  hybrid.FacturXName,
		Content:   xml,
		XML:       xml,
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
	if inv.CountryConfig().France.B2G() {
		return s.chorus
	}
	return s.direct
}

var _ jurisdiction.Strategy = (*Strategy)(nil)
