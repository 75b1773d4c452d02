package xml

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strings"
	"time"

	"github.com/rezonia/einvoicing/internal/model"
)

// CII XML structures (UN/CEFACT Cross Industry Invoice, as used by
// Factur-X, ZUGFeRD and XRechnung)
type ciiInvoice struct {
	XMLName     xml.Name       `xml:"CrossIndustryInvoice"`
	Context     ciiContext     `xml:"ExchangedDocumentContext"`
	Document    ciiDocument    `xml:"ExchangedDocument"`
	Transaction ciiTransaction `xml:"SupplyChainTradeTransaction"`
	Signature   *struct{}      `xml:"Signature"`
}

type ciiContext struct {
	GuidelineID string `xml:"GuidelineSpecifiedDocumentContextParameter>ID"`
}

type ciiDocument struct {
	ID        string `xml:"ID"`
	TypeCode  string `xml:"TypeCode"`
	IssueDate string `xml:"IssueDateTime>DateTimeString"`
}

type ciiTransaction struct {
	Lines      []struct{}    `xml:"IncludedSupplyChainTradeLineItem"`
	Agreement  ciiAgreement  `xml:"ApplicableHeaderTradeAgreement"`
	Settlement ciiSettlement `xml:"ApplicableHeaderTradeSettlement"`
}

type ciiAgreement struct {
	Seller ciiParty `xml:"SellerTradeParty"`
	Buyer  ciiParty `xml:"BuyerTradeParty"`
}

type ciiParty struct {
	Name    string   `xml:"Name"`
	Country string   `xml:"PostalTradeAddress>CountryID"`
	TaxIDs  []string `xml:"SpecifiedTaxRegistration>ID"`
}

type ciiSettlement struct {
	Currency   string       `xml:"InvoiceCurrencyCode"`
	Taxes      []ciiTax     `xml:"ApplicableTradeTax"`
	Summation  ciiSummation `xml:"SpecifiedTradeSettlementHeaderMonetarySummation"`
	References []string     `xml:"InvoiceReferencedDocument>IssuerAssignedID"`
}

type ciiTax struct {
	Calculated string `xml:"CalculatedAmount"`
	Basis      string `xml:"BasisAmount"`
	Category   string `xml:"CategoryCode"`
	Rate       string `xml:"RateApplicablePercent"`
}

type ciiSummation struct {
	TaxBasisTotal string `xml:"TaxBasisTotalAmount"`
	TaxTotal      string `xml:"TaxTotalAmount"`
	GrandTotal    string `xml:"GrandTotalAmount"`
}

// CIIAdapter parses CII documents of every supported profile
type CIIAdapter struct{}

// NewCIIAdapter creates a new CII adapter
func NewCIIAdapter() *CIIAdapter {
	return &CIIAdapter{}
}

// Format returns the document syntax handled
func (a *CIIAdapter) Format() string {
	return FormatCII
}

// CanParse checks for a CrossIndustryInvoice root
func (a *CIIAdapter) CanParse(content []byte) bool {
	return bytes.Contains(content, []byte("CrossIndustryInvoice"))
}

// Parse parses CII XML into a ParsedInvoice
func (a *CIIAdapter) Parse(ctx context.Context, r io.Reader) (*ParsedInvoice, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, model.NewParseError(FormatCII, "content", "failed to read content", err)
	}

	var doc ciiInvoice
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, model.NewParseError(FormatCII, "xml", "failed to parse XML", err)
	}
	if doc.Document.ID == "" {
		return nil, model.NewParseError(FormatCII, "ExchangedDocument/ID", "invoice number is missing", nil)
	}

	return a.convert(&doc)
}

func (a *CIIAdapter) convert(doc *ciiInvoice) (*ParsedInvoice, error) {
	inv := &ParsedInvoice{
		Format:     FormatCII,
		Number:     strings.TrimSpace(doc.Document.ID),
		TypeCode:   strings.TrimSpace(doc.Document.TypeCode),
		Guideline:  strings.TrimSpace(doc.Context.GuidelineID),
		Currency:   strings.TrimSpace(doc.Transaction.Settlement.Currency),
		Seller:     doc.Transaction.Agreement.Seller.parsed(),
		Buyer:      doc.Transaction.Agreement.Buyer.parsed(),
		Lines:      len(doc.Transaction.Lines),
		References: doc.Transaction.Settlement.References,
		Signed:     doc.Signature != nil,
	}

	if raw := strings.TrimSpace(doc.Document.IssueDate); raw != "" {
		issued, err := time.Parse("20060102", raw)
		if err != nil {
			return nil, model.NewParseError(FormatCII, "IssueDateTime", "invalid date format", err)
		}
		inv.IssueDate = issued
	}

	sum := doc.Transaction.Settlement.Summation
	inv.Subtotal = parseAmount(strings.TrimSpace(sum.TaxBasisTotal))
	inv.TaxAmount = parseAmount(strings.TrimSpace(sum.TaxTotal))
	inv.Total = parseAmount(strings.TrimSpace(sum.GrandTotal))

	for _, t := range doc.Transaction.Settlement.Taxes {
		inv.Taxes = append(inv.Taxes, ParsedTax{
			Category: strings.TrimSpace(t.Category),
			Rate:     parseAmount(strings.TrimSpace(t.Rate)),
			Basis:    parseAmount(strings.TrimSpace(t.Basis)),
			Amount:   parseAmount(strings.TrimSpace(t.Calculated)),
		})
	}
	return inv, nil
}

func (p ciiParty) parsed() ParsedParty {
	out := ParsedParty{
		Name:    strings.TrimSpace(p.Name),
		Country: strings.TrimSpace(p.Country),
	}
	if len(p.TaxIDs) > 0 {
		out.TaxID = strings.TrimSpace(p.TaxIDs[0])
	}
	return out
}
