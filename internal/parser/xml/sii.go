package xml

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/einvoicing/internal/model"
)

// SII XML structures (AEAT Suministro Inmediato de Información, issued
// invoices book), either bare or wrapped in a SOAP envelope
type siiEnvelope struct {
	XMLName   xml.Name  `xml:"Envelope"`
	Supply    siiSupply `xml:"Body>SuministroLRFacturasEmitidas"`
	Signature *struct{} `xml:"Signature"`
}

type siiSupply struct {
	Holder    siiHolder `xml:"Cabecera>Titular"`
	Record    siiRecord `xml:"RegistroLRFacturasEmitidas"`
	Signature *struct{} `xml:"Signature"`
}

type siiHolder struct {
	Name string `xml:"NombreRazon"`
	NIF  string `xml:"NIF"`
}

type siiRecord struct {
	ID     siiInvoiceID `xml:"IDFactura"`
	Issued siiIssued    `xml:"FacturaExpedida"`
}

type siiInvoiceID struct {
	IssuerNIF string `xml:"IDEmisorFactura>NIF"`
	Number    string `xml:"NumSerieFacturaEmisor"`
	IssueDate string `xml:"FechaExpedicionFacturaEmisor"`
}

type siiIssued struct {
	Type         string         `xml:"TipoFactura"`
	Rectified    []siiInvoiceID `xml:"FacturasRectificadas>IDFacturaRectificada"`
	Total        string         `xml:"ImporteTotal"`
	Counterparty siiCounterpart `xml:"Contraparte"`
	Breakdown    siiBreakdown   `xml:"TipoDesglose>DesgloseFactura"`
}

type siiCounterpart struct {
	Name    string `xml:"NombreRazon"`
	NIF     string `xml:"NIF"`
	Country string `xml:"IDOtro>CodigoPais"`
	OtherID string `xml:"IDOtro>ID"`
}

type siiBreakdown struct {
	Exempt     []siiExempt `xml:"Sujeta>Exenta>DetalleExenta"`
	NonExempt  string      `xml:"Sujeta>NoExenta>TipoNoExenta"`
	Taxed      []siiTaxed  `xml:"Sujeta>NoExenta>DesgloseIVA>DetalleIVA"`
	NotSubject string      `xml:"NoSujeta>ImportePorArticulos7_14_Otros"`
}

type siiExempt struct {
	Cause string `xml:"CausaExencion"`
	Basis string `xml:"BaseImponible"`
}

type siiTaxed struct {
	Rate   string `xml:"TipoImpositivo"`
	Basis  string `xml:"BaseImponible"`
	Amount string `xml:"CuotaRepercutida"`
}

var siiExemptCategories = map[string]string{
	"E1": string(model.TaxCategoryExempt),
	"E2": string(model.TaxCategoryExport),
	"E5": string(model.TaxCategoryIntraCommunity),
}

// SIIAdapter parses AEAT SII issued-invoice submissions
type SIIAdapter struct{}

// NewSIIAdapter creates a new SII adapter
func NewSIIAdapter() *SIIAdapter {
	return &SIIAdapter{}
}

// Format returns the document syntax handled
func (a *SIIAdapter) Format() string {
	return FormatSII
}

// CanParse checks for an issued-invoices supply element
func (a *SIIAdapter) CanParse(content []byte) bool {
	return bytes.Contains(content, []byte("SuministroLRFacturasEmitidas"))
}

// Parse parses SII XML into a ParsedInvoice
func (a *SIIAdapter) Parse(ctx context.Context, r io.Reader) (*ParsedInvoice, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, model.NewParseError(FormatSII, "content", "failed to read content", err)
	}

	var supply siiSupply
	var env siiEnvelope
	if err := xml.Unmarshal(content, &env); err == nil {
		supply = env.Supply
		if env.Signature != nil {
			supply.Signature = env.Signature
		}
	} else if err := xml.Unmarshal(content, &supply); err != nil {
		return nil, model.NewParseError(FormatSII, "xml", "failed to parse XML", err)
	}

	if supply.Record.ID.Number == "" {
		return nil, model.NewParseError(FormatSII, "IDFactura/NumSerieFacturaEmisor", "invoice number is missing", nil)
	}
	return a.convert(&supply)
}

func (a *SIIAdapter) convert(s *siiSupply) (*ParsedInvoice, error) {
	issued := s.Record.Issued
	inv := &ParsedInvoice{
		Format:   FormatSII,
		Number:   strings.TrimSpace(s.Record.ID.Number),
		TypeCode: strings.TrimSpace(issued.Type),
		Currency: "EUR",
		Seller: ParsedParty{
			Name:    strings.TrimSpace(s.Holder.Name),
			TaxID:   strings.TrimSpace(s.Record.ID.IssuerNIF),
			Country: string(model.CountrySpain),
		},
		Buyer:  issued.Counterparty.parsed(),
		Total:  parseAmount(strings.TrimSpace(issued.Total)),
		Signed: s.Signature != nil,
	}

	issueDate, err := parseSIIDate(s.Record.ID.IssueDate)
	if err != nil {
		return nil, model.NewParseError(FormatSII, "FechaExpedicionFacturaEmisor", "invalid date format", err)
	}
	inv.IssueDate = issueDate

	for _, ref := range issued.Rectified {
		inv.References = append(inv.References, strings.TrimSpace(ref.Number))
	}

	b := issued.Breakdown
	taxedCategory := string(model.TaxCategoryStandard)
	if strings.TrimSpace(b.NonExempt) == "S2" {
		taxedCategory = string(model.TaxCategoryReverseCharge)
	}
	for _, t := range b.Taxed {
		inv.Taxes = append(inv.Taxes, ParsedTax{
			Category: taxedCategory,
			Rate:     parseAmount(strings.TrimSpace(t.Rate)),
			Basis:    parseAmount(strings.TrimSpace(t.Basis)),
			Amount:   parseAmount(strings.TrimSpace(t.Amount)),
		})
	}
	for _, e := range b.Exempt {
		category, ok := siiExemptCategories[strings.TrimSpace(e.Cause)]
		if !ok {
			category = string(model.TaxCategoryExempt)
		}
		inv.Taxes = append(inv.Taxes, ParsedTax{
			Category: category,
			Rate:     decimal.Zero,
			Basis:    parseAmount(strings.TrimSpace(e.Basis)),
			Amount:   decimal.Zero,
		})
	}
	if ns := strings.TrimSpace(b.NotSubject); ns != "" {
		inv.Taxes = append(inv.Taxes, ParsedTax{
			Category: string(model.TaxCategoryOutOfScope),
			Rate:     decimal.Zero,
			Basis:    parseAmount(ns),
			Amount:   decimal.Zero,
		})
	}

	inv.Subtotal = decimal.Zero
	inv.TaxAmount = decimal.Zero
	for _, t := range inv.Taxes {
		inv.Subtotal = inv.Subtotal.Add(t.Basis)
		inv.TaxAmount = inv.TaxAmount.Add(t.Amount)
	}
	return inv, nil
}

func (c siiCounterpart) parsed() ParsedParty {
	out := ParsedParty{Name: strings.TrimSpace(c.Name)}
	switch {
	case c.NIF != "":
		out.TaxID = strings.TrimSpace(c.NIF)
		out.Country = string(model.CountrySpain)
	case c.OtherID != "":
		out.TaxID = strings.TrimSpace(c.OtherID)
		out.Country = strings.TrimSpace(c.Country)
	}
	return out
}

func parseSIIDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("02-01-2006", raw)
}
