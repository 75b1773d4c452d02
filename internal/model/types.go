package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Country is a jurisdiction with a registered strategy
type Country string

const (
	CountryFrance  Country = "FR"
	CountryGermany Country = "DE"
	CountrySpain   Country = "ES"
)

// Countries lists every jurisdiction with a strategy, in registration order
func Countries() []Country {
	return []Country{CountryFrance, CountryGermany, CountrySpain}
}

// ParseCountry parses an ISO 3166-1 alpha-2 code into a supported Country
func ParseCountry(code string) (Country, error) {
	c := Country(strings.ToUpper(strings.TrimSpace(code)))
	if !c.Valid() {
		return "", NewUnsupportedJurisdictionError(code)
	}
	return c, nil
}

// Valid reports whether c is one of the supported jurisdictions
func (c Country) Valid() bool {
	switch c {
	case CountryFrance, CountryGermany, CountrySpain:
		return true
	}
	return false
}

func (c Country) String() string {
	return string(c)
}

// DocumentType is the UNTDID 1001 kind of document
type DocumentType string

const (
	DocumentTypeInvoice    DocumentType = "invoice"
	DocumentTypeCreditNote DocumentType = "credit_note"
	DocumentTypeCorrected  DocumentType = "corrected_invoice"
	DocumentTypeProforma   DocumentType = "proforma"
	DocumentTypeSelfBilled DocumentType = "self_billed"
)

var documentTypeCodes = map[DocumentType]string{
	DocumentTypeInvoice:    "380",
	DocumentTypeCreditNote: "381",
	DocumentTypeCorrected:  "384",
	DocumentTypeProforma:   "386",
	DocumentTypeSelfBilled: "389",
}

// Valid reports whether t is a known document type
func (t DocumentType) Valid() bool {
	_, ok := documentTypeCodes[t]
	return ok
}

// UNTDIDCode returns the UNTDID 1001 code (380, 381, ...)
func (t DocumentType) UNTDIDCode() string {
	return documentTypeCodes[t]
}

func (t DocumentType) String() string {
	return string(t)
}

// UnmarshalText rejects unknown document types
func (t *DocumentType) UnmarshalText(text []byte) error {
	v := DocumentType(text)
	if v == "" {
		*t = DocumentTypeInvoice
		return nil
	}
	if !v.Valid() {
		return fmt.Errorf("unknown document type %q", string(text))
	}
	*t = v
	return nil
}

// Profile is a CII conformance level
type Profile string

const (
	ProfileMinimum   Profile = "MINIMUM"
	ProfileBasicWL   Profile = "BASIC_WL"
	ProfileBasic     Profile = "BASIC"
	ProfileEN16931   Profile = "EN16931"
	ProfileExtended  Profile = "EXTENDED"
	ProfileXRechnung Profile = "XRECHNUNG"
)

var profileGuidelines = map[Profile]string{
	ProfileMinimum:   "urn:factur-x.eu:1p0:minimum",
	ProfileBasicWL:   "urn:factur-x.eu:1p0:basicwl",
	ProfileBasic:     "urn:factur-x.eu:1p0:basic",
	ProfileEN16931:   "urn:cen.eu:en16931:2017",
	ProfileExtended:  "urn:factur-x.eu:1p0:extended",
	ProfileXRechnung: "urn:cen.eu:en16931:2017#compliant#urn:xoev-de:kosit:standard:xrechnung_2.3",
}

// Valid reports whether p is a known profile
func (p Profile) Valid() bool {
	_, ok := profileGuidelines[p]
	return ok
}

// GuidelineID returns the URN embedded in ExchangedDocumentContext
func (p Profile) GuidelineID() string {
	return profileGuidelines[p]
}

// HasLines reports whether documents of this profile carry line items
func (p Profile) HasLines() bool {
	return p != ProfileMinimum && p != ProfileBasicWL
}

func (p Profile) String() string {
	return string(p)
}

// UnmarshalText rejects unknown profiles
func (p *Profile) UnmarshalText(text []byte) error {
	v := Profile(strings.ToUpper(string(text)))
	if v == "" {
		*p = ""
		return nil
	}
	if !v.Valid() {
		return fmt.Errorf("unknown profile %q", string(text))
	}
	*p = v
	return nil
}

// TaxContext describes the transaction a line belongs to, independent of its rate
type TaxContext string

const (
	TaxContextDomestic       TaxContext = "domestic"
	TaxContextReverseCharge  TaxContext = "reverse_charge"
	TaxContextIntraCommunity TaxContext = "intra_community"
	TaxContextExport         TaxContext = "export"
	TaxContextExempt         TaxContext = "exempt"
	TaxContextOutOfScope     TaxContext = "out_of_scope"
)

// Valid reports whether c is a known tax context
func (c TaxContext) Valid() bool {
	switch c {
	case TaxContextDomestic, TaxContextReverseCharge, TaxContextIntraCommunity,
		TaxContextExport, TaxContextExempt, TaxContextOutOfScope:
		return true
	}
	return false
}

// ZeroRated reports whether lines in this context must carry a 0% rate
func (c TaxContext) ZeroRated() bool {
	return c != TaxContextDomestic
}

// Category maps a context and rate to the UNCL 5305 category. Domestic lines
// are S for any positive rate and Z at 0%; the rate itself tells standard,
// intermediate and reduced apart.
func (c TaxContext) Category(rate decimal.Decimal) TaxCategory {
	switch c {
	case TaxContextReverseCharge:
		return TaxCategoryReverseCharge
	case TaxContextIntraCommunity:
		return TaxCategoryIntraCommunity
	case TaxContextExport:
		return TaxCategoryExport
	case TaxContextExempt:
		return TaxCategoryExempt
	case TaxContextOutOfScope:
		return TaxCategoryOutOfScope
	}
	if rate.IsPositive() {
		return TaxCategoryStandard
	}
	return TaxCategoryZero
}

// UnmarshalText rejects unknown contexts; empty means domestic
func (c *TaxContext) UnmarshalText(text []byte) error {
	v := TaxContext(text)
	if v == "" {
		*c = TaxContextDomestic
		return nil
	}
	if !v.Valid() {
		return fmt.Errorf("unknown tax context %q", string(text))
	}
	*c = v
	return nil
}

// TaxCategory is a UNCL 5305 duty/tax category code
type TaxCategory string

const (
	TaxCategoryStandard       TaxCategory = "S"
	TaxCategoryZero           TaxCategory = "Z"
	TaxCategoryExempt         TaxCategory = "E"
	TaxCategoryReverseCharge  TaxCategory = "AE"
	TaxCategoryIntraCommunity TaxCategory = "K"
	TaxCategoryExport         TaxCategory = "G"
	TaxCategoryOutOfScope     TaxCategory = "O"
)

func (c TaxCategory) String() string {
	return string(c)
}

// ExemptionReason returns the VATEX code and text required for non-taxed categories
func (c TaxCategory) ExemptionReason() (code, text string) {
	switch c {
	case TaxCategoryExempt:
		return "VATEX-EU-132", "Exempt based on article 132 of Council Directive 2006/112/EC"
	case TaxCategoryReverseCharge:
		return "VATEX-EU-AE", "Reverse charge"
	case TaxCategoryIntraCommunity:
		return "VATEX-EU-IC", "Intra-Community supply"
	case TaxCategoryExport:
		return "VATEX-EU-G", "Export outside the EU"
	case TaxCategoryOutOfScope:
		return "VATEX-EU-O", "Not subject to VAT"
	}
	return "", ""
}
