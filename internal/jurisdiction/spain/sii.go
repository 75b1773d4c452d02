package spain

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/rezonia/einvoicing/internal/cii"
	money "github.com/rezonia/einvoicing/internal/decimal"
	"github.com/rezonia/einvoicing/internal/model"
)

// SII namespaces
const (
	NamespaceSOAP = "http://schemas.xmlsoap.org/soap/envelope/"
	NamespaceLR   = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/ssii/fact/ws/SuministroLR.xsd"
	NamespaceSII  = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/ssii/fact/ws/SuministroInformacion.xsd"
)

const (
	siiVersion    = "1.1"
	siiDateFormat = "02-01-2006"
	// A0 registers new invoices
	communicationType = "A0"
	// 01 is the general regime
	defaultRegime = "01"
	// differences based rectification
	rectificationByDifferences = "I"
	maxDescription             = 500
)

// Invoice types accepted by the SII
var invoiceTypes = map[string]bool{
	"F1": true, "F2": true, "F3": true,
	"R1": true, "R2": true, "R3": true, "R4": true, "R5": true,
}

// IsRectification reports whether t is one of the R* invoice types
func IsRectification(t string) bool {
	return strings.HasPrefix(t, "R")
}

// InvoiceType returns the SII type of inv: the configured one, R1 for
// corrections, else F1
func InvoiceType(inv *model.EInvoice) string {
	if cfg := inv.CountryConfig().Spain; cfg != nil && cfg.InvoiceType != "" {
		return strings.ToUpper(cfg.InvoiceType)
	}
	if inv.Corrects() != nil {
		return "R1"
	}
	return "F1"
}

// exemption causes by category
var exemptionCauses = map[model.TaxCategory]string{
	model.TaxCategoryExempt:         "E1",
	model.TaxCategoryExport:         "E2",
	model.TaxCategoryIntraCommunity: "E5",
}

// BuildSII renders inv as a SuministroLRFacturasEmitidas SOAP envelope
func BuildSII(inv *model.EInvoice) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", NamespaceSOAP)
	env.CreateAttr("xmlns:siiLR", NamespaceLR)
	env.CreateAttr("xmlns:sii", NamespaceSII)
	env.CreateElement("soapenv:Header")

	supply := env.CreateElement("soapenv:Body").CreateElement("siiLR:SuministroLRFacturasEmitidas")
	seller := inv.Seller()
	sellerNIF := NormalizeNIF(seller.TaxID)

	header := supply.CreateElement("sii:Cabecera")
	text(header, "sii:IDVersionSii", siiVersion)
	holder := header.CreateElement("sii:Titular")
	text(holder, "sii:NombreRazon", seller.Name)
	text(holder, "sii:NIF", sellerNIF)
	text(header, "sii:TipoComunicacion", communicationType)

	reg := supply.CreateElement("siiLR:RegistroLRFacturasEmitidas")
	period := reg.CreateElement("sii:PeriodoLiquidacion")
	text(period, "sii:Ejercicio", fmt.Sprintf("%d", inv.IssueDate().Year()))
	text(period, "sii:Periodo", fmt.Sprintf("%02d", int(inv.IssueDate().Month())))

	id := reg.CreateElement("siiLR:IDFactura")
	text(id.CreateElement("sii:IDEmisorFactura"), "sii:NIF", sellerNIF)
	text(id, "sii:NumSerieFacturaEmisor", inv.Number())
	text(id, "sii:FechaExpedicionFacturaEmisor", inv.IssueDate().Format(siiDateFormat))

	issued := reg.CreateElement("siiLR:FacturaExpedida")
	typ := InvoiceType(inv)
	text(issued, "sii:TipoFactura", typ)
	if IsRectification(typ) {
		text(issued, "sii:TipoRectificativa", rectificationByDifferences)
		if ref := inv.Corrects(); ref != nil {
			rect := issued.CreateElement("sii:FacturasRectificadas").CreateElement("sii:IDFacturaRectificada")
			text(rect, "sii:NumSerieFacturaEmisor", ref.InvoiceNumber)
			text(rect, "sii:FechaExpedicionFacturaEmisor", ref.IssueDate.Format(siiDateFormat))
		}
	}

	cfg := inv.CountryConfig().Spain
	regime := defaultRegime
	if cfg != nil && cfg.SpecialRegime != "" {
		regime = cfg.SpecialRegime
	}
	text(issued, "sii:ClaveRegimenEspecialOTrascendencia", regime)
	text(issued, "sii:ImporteTotal", money.Format(inv.Total()))
	text(issued, "sii:DescripcionOperacion", description(inv))
	counterpart(issued, inv.Buyer())
	breakdown(issued.CreateElement("sii:TipoDesglose").CreateElement("sii:DesgloseFactura"), inv.Lines())

	doc.Indent(2)
	return doc.WriteToBytes()
}

func description(inv *model.EInvoice) string {
	d := ""
	if cfg := inv.CountryConfig().Spain; cfg != nil {
		d = cfg.OperationDescription
	}
	if d == "" {
		d = inv.Notes()
	}
	if d == "" {
		if lines := inv.Lines(); len(lines) > 0 {
			d = lines[0].Description
		}
	}
	if r := []rune(d); len(r) > maxDescription {
		d = string(r[:maxDescription])
	}
	return d
}

// counterpart identifies the buyer by NIF, or by foreign ID when not Spanish
func counterpart(parent *etree.Element, buyer model.Party) {
	if buyer.TaxID == "" {
		return
	}
	cp := parent.CreateElement("sii:Contraparte")
	text(cp, "sii:NombreRazon", buyer.Name)

	country := strings.ToUpper(buyer.Address.Country)
	if country == "" || country == string(model.CountrySpain) {
		text(cp, "sii:NIF", NormalizeNIF(buyer.TaxID))
		return
	}
	other := cp.CreateElement("sii:IDOtro")
	text(other, "sii:CodigoPais", country)
	// 02 is a VAT identification number
	text(other, "sii:IDType", "02")
	text(other, "sii:ID", strings.ToUpper(strings.TrimSpace(buyer.TaxID)))
}

func breakdown(parent *etree.Element, lines []model.InvoiceLine) {
	groups := cii.TaxBreakdown(lines, func(l model.InvoiceLine) model.TaxCategory {
		return l.TaxContext.Category(l.TaxRate)
	})

	var taxed, reverse, exempt, outOfScope []cii.TaxGroup
	for _, g := range groups {
		switch g.Category {
		case model.TaxCategoryStandard, model.TaxCategoryZero:
			taxed = append(taxed, g)
		case model.TaxCategoryReverseCharge:
			reverse = append(reverse, g)
		case model.TaxCategoryOutOfScope:
			outOfScope = append(outOfScope, g)
		default:
			exempt = append(exempt, g)
		}
	}

	if len(taxed)+len(reverse)+len(exempt) > 0 {
		subject := parent.CreateElement("sii:Sujeta")
		if len(exempt) > 0 {
			ex := subject.CreateElement("sii:Exenta")
			for _, g := range exempt {
				d := ex.CreateElement("sii:DetalleExenta")
				text(d, "sii:CausaExencion", exemptionCauses[g.Category])
				text(d, "sii:BaseImponible", money.Format(g.Basis))
			}
		}
		if len(taxed)+len(reverse) > 0 {
			nonExempt := subject.CreateElement("sii:NoExenta")
			text(nonExempt, "sii:TipoNoExenta", nonExemptType(len(taxed) > 0, len(reverse) > 0))
			vat := nonExempt.CreateElement("sii:DesgloseIVA")
			for _, g := range append(taxed, reverse...) {
				d := vat.CreateElement("sii:DetalleIVA")
				text(d, "sii:TipoImpositivo", money.FormatRate(g.Rate))
				text(d, "sii:BaseImponible", money.Format(g.Basis))
				text(d, "sii:CuotaRepercutida", money.Format(g.TaxAmount))
			}
		}
	}

	if len(outOfScope) > 0 {
		total := money.Zero
		for _, g := range outOfScope {
			total = total.Add(g.Basis)
		}
		text(parent.CreateElement("sii:NoSujeta"), "sii:ImportePorArticulos7_14_Otros", money.Format(total))
	}
}

// S1 ordinary, S2 reverse charge, S3 both
func nonExemptType(ordinary, reverse bool) string {
	switch {
	case ordinary && reverse:
		return "S3"
	case reverse:
		return "S2"
	}
	return "S1"
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}
